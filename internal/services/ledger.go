package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/AnshRaj112/persona-guard/internal/config"
	"github.com/AnshRaj112/persona-guard/internal/metrics"
	"github.com/AnshRaj112/persona-guard/internal/models"
	"go.uber.org/zap"
)

// ViolationStore persists violation records. Implementations must return
// models.ErrViolationNotFound from ResolveViolation for unknown ids.
type ViolationStore interface {
	InsertViolation(ctx context.Context, v *models.ViolationRecord) error
	CountViolations(ctx context.Context, userID string) (int, error)
	RecentViolations(ctx context.Context, userID string, limit int) ([]models.ViolationRecord, error)
	ListViolations(ctx context.Context, filter models.ViolationFilter, page models.Page) ([]models.ViolationRecord, int64, error)
	ViolationStats(ctx context.Context, since time.Time) (models.ViolationStats, error)
	ResolveViolation(ctx context.Context, id, adminID string, at time.Time) error
}

// ViolationCounter is the one ledger query the state machine depends on.
type ViolationCounter interface {
	CountForUser(ctx context.Context, userID string) (int, error)
}

// Ledger is the append-only record of detected violations.
type Ledger struct {
	store  ViolationStore
	cfg    config.LedgerConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewLedger(store ViolationStore, cfg config.LedgerConfig, logger *zap.Logger) *Ledger {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 1000
	}
	if cfg.DefaultHistoryLimit <= 0 {
		cfg.DefaultHistoryLimit = 20
	}
	if cfg.MaxHistoryLimit < cfg.DefaultHistoryLimit {
		cfg.MaxHistoryLimit = cfg.DefaultHistoryLimit
	}
	return &Ledger{
		store:  store,
		cfg:    cfg,
		logger: logger.Named("ledger"),
		now:    time.Now,
	}
}

// Record validates v, fills in the derived fields and persists it. Every call
// writes a new record; callers record each offending message once.
func (l *Ledger) Record(ctx context.Context, v models.ViolationRecord) (models.ViolationRecord, error) {
	v.UserID = strings.TrimSpace(v.UserID)
	v.DetectedWord = strings.TrimSpace(v.DetectedWord)
	v.Reason = strings.TrimSpace(v.Reason)

	if err := validateViolation(v); err != nil {
		return models.ViolationRecord{}, err
	}

	if v.ViolationType != models.ViolationTypeModerationFlag {
		v.ModerationCategories = nil
	}

	// Severity reads the whole message; only the stored copy is truncated.
	switch {
	case v.SeverityLevel == 0:
		v.SeverityLevel = SeverityFor(v.MessageContent, categoryNames(v.ModerationCategories))
	case v.SeverityLevel < models.SeverityLow:
		v.SeverityLevel = models.SeverityLow
	case v.SeverityLevel > models.SeverityHigh:
		v.SeverityLevel = models.SeverityHigh
	}
	v.MessageContent = truncateRunes(v.MessageContent, l.cfg.MaxMessageLength)

	v.Timestamp = l.now().UTC()
	v.IsResolved = false
	v.ResolvedBy = ""
	v.ResolvedAt = nil

	if err := l.store.InsertViolation(ctx, &v); err != nil {
		return models.ViolationRecord{}, fmt.Errorf("failed to record violation: %w", err)
	}

	metrics.ViolationsRecorded.WithLabelValues(string(v.ViolationType), strconv.Itoa(v.SeverityLevel)).Inc()
	l.logger.Info("Violation recorded",
		zap.String("userID", v.UserID),
		zap.String("type", string(v.ViolationType)),
		zap.Int("severity", v.SeverityLevel))

	return v, nil
}

func validateViolation(v models.ViolationRecord) error {
	switch {
	case v.UserID == "":
		return fmt.Errorf("%w: user id is required", models.ErrInvalidViolation)
	case !v.ViolationType.Valid():
		return fmt.Errorf("%w: unknown violation type %q", models.ErrInvalidViolation, v.ViolationType)
	case v.ViolationType == models.ViolationTypeBlockedWord && v.DetectedWord == "":
		return fmt.Errorf("%w: detected word is required for blocked_word", models.ErrInvalidViolation)
	case v.ViolationType != models.ViolationTypeBlockedWord && v.DetectedWord != "":
		return fmt.Errorf("%w: detected word is only valid for blocked_word", models.ErrInvalidViolation)
	case v.Reason == "":
		return fmt.Errorf("%w: reason is required", models.ErrInvalidViolation)
	}
	return nil
}

// CountForUser returns the number of violations ever recorded for userID.
func (l *Ledger) CountForUser(ctx context.Context, userID string) (int, error) {
	count, err := l.store.CountViolations(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count violations: %w", err)
	}
	return count, nil
}

// RecentHistory returns the newest records first. limit <= 0 means the
// configured default; larger values are clamped.
func (l *Ledger) RecentHistory(ctx context.Context, userID string, limit int) ([]models.ViolationRecord, error) {
	records, err := l.store.RecentViolations(ctx, userID, l.clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to load violation history: %w", err)
	}
	return records, nil
}

// List returns one page of records matching filter and the total match count.
func (l *Ledger) List(ctx context.Context, filter models.ViolationFilter, page models.Page) ([]models.ViolationRecord, int64, error) {
	if page.Skip < 0 {
		page.Skip = 0
	}
	page.Limit = l.clampLimit(page.Limit)

	records, total, err := l.store.ListViolations(ctx, filter, page)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list violations: %w", err)
	}
	return records, total, nil
}

// AggregateStats summarises the records of the last window.
func (l *Ledger) AggregateStats(ctx context.Context, window time.Duration) (models.ViolationStats, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	since := l.now().UTC().Add(-window)

	stats, err := l.store.ViolationStats(ctx, since)
	if err != nil {
		return models.ViolationStats{}, fmt.Errorf("failed to aggregate violations: %w", err)
	}
	stats.Since = since
	if stats.ByType == nil {
		stats.ByType = map[models.ViolationType]int{}
	}
	return stats, nil
}

// MarkResolved sets the admin annotation on one record. Nothing else about
// the record changes.
func (l *Ledger) MarkResolved(ctx context.Context, recordID, adminID string) error {
	if strings.TrimSpace(adminID) == "" {
		return models.ErrAdminRequired
	}
	if err := l.store.ResolveViolation(ctx, recordID, adminID, l.now().UTC()); err != nil {
		return fmt.Errorf("failed to resolve violation %s: %w", recordID, err)
	}
	l.logger.Info("Violation resolved",
		zap.String("violationID", recordID),
		zap.String("adminID", adminID))
	return nil
}

func (l *Ledger) clampLimit(limit int) int {
	if limit <= 0 {
		return l.cfg.DefaultHistoryLimit
	}
	return min(limit, l.cfg.MaxHistoryLimit)
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func categoryNames(scores map[string]float64) []string {
	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	return names
}
