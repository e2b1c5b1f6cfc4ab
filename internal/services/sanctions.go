package services

import (
	"context"
	"fmt"
	"time"

	"github.com/AnshRaj112/persona-guard/internal/config"
	"github.com/AnshRaj112/persona-guard/internal/metrics"
	"github.com/AnshRaj112/persona-guard/internal/models"
	"go.uber.org/zap"
)

// SanctionStore reads and writes the enforcement columns of the user
// aggregate. GetSanctionState returns models.ErrUserNotFound for unknown users.
type SanctionStore interface {
	GetSanctionState(ctx context.Context, userID string) (models.UserSanctionState, error)
	// UpdateSanctionState writes update only if the stored revision still
	// equals expectedRevision, and bumps the revision. It reports whether
	// the write happened.
	UpdateSanctionState(ctx context.Context, userID string, expectedRevision int64, update models.SanctionUpdate) (bool, error)
	// ExpireSuspension demotes a suspended user whose suspension ended at or
	// before now back to active. It reports whether a row changed.
	ExpireSuspension(ctx context.Context, userID string, now time.Time) (bool, error)
}

// maxApplyAttempts bounds re-evaluation after lost compare-and-set writes.
const maxApplyAttempts = 3

type tier struct {
	threshold int
	action    models.SanctionAction
	status    models.AccountStatus
	duration  time.Duration
}

// SanctionEngine turns the ledger count into an enforcement tier.
type SanctionEngine struct {
	store   SanctionStore
	counter ViolationCounter
	locker  UserLocker
	alerter AdminAlerter
	tiers   []tier // ascending threshold
	exact   bool
	// resetCountOnLift makes Lift record the current count as the baseline.
	resetCountOnLift bool
	lockWait         time.Duration
	logger           *zap.Logger
	now              func() time.Time
}

func NewSanctionEngine(cfg config.SanctionsConfig, store SanctionStore, counter ViolationCounter, locker UserLocker, alerter AdminAlerter, logger *zap.Logger) *SanctionEngine {
	lockWait := cfg.LockWait
	if lockWait <= 0 {
		lockWait = 5 * time.Second
	}
	return &SanctionEngine{
		store:   store,
		counter: counter,
		locker:  locker,
		alerter: alerter,
		tiers: []tier{
			{cfg.WarnThreshold, models.ActionWarning, models.StatusWarned, 0},
			{cfg.ChatSuspensionThreshold, models.ActionChatSuspension, models.StatusChatSuspended, cfg.ChatSuspensionDuration},
			{cfg.AccountSuspensionThreshold, models.ActionAccountSuspension, models.StatusAccountSuspended, cfg.AccountSuspensionDuration},
			{cfg.BanThreshold, models.ActionBan, models.StatusBanned, 0},
		},
		exact:            cfg.ExactTierMatching,
		resetCountOnLift: cfg.ResetCountOnLift,
		lockWait:         lockWait,
		logger:           logger.Named("sanctions"),
		now:              time.Now,
	}
}

// lockUser acquires the per-user lock, waiting at most lockWait.
func (e *SanctionEngine) lockUser(ctx context.Context, userID string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, e.lockWait)
	defer cancel()
	return e.locker.Lock(lockCtx, userID)
}

// Apply re-evaluates userID against the current ledger count and persists
// the resulting tier. Calling it again without a new violation is a no-op.
func (e *SanctionEngine) Apply(ctx context.Context, userID string) (models.SanctionResult, error) {
	unlock, err := e.lockUser(ctx, userID)
	if err != nil {
		return models.SanctionResult{}, err
	}
	defer unlock()

	for attempt := 1; attempt <= maxApplyAttempts; attempt++ {
		state, err := e.store.GetSanctionState(ctx, userID)
		if err != nil {
			return models.SanctionResult{}, fmt.Errorf("failed to load sanction state: %w", err)
		}

		count, err := e.counter.CountForUser(ctx, userID)
		if err != nil {
			return models.SanctionResult{}, err
		}

		if count == state.ViolationCount {
			metrics.SanctionActions.WithLabelValues(string(models.ActionNone)).Inc()
			return models.SanctionResult{
				Action:            models.ActionNone,
				Message:           "No new violations since the last evaluation.",
				ViolationCount:    count,
				AccountStatus:     state.AccountStatus,
				SuspensionEndDate: state.SuspensionEndDate,
			}, nil
		}

		now := e.now().UTC()
		result, update := e.evaluate(state, count, now)

		ok, err := e.store.UpdateSanctionState(ctx, userID, state.Revision, update)
		if err != nil {
			return models.SanctionResult{}, fmt.Errorf("failed to persist sanction state: %w", err)
		}
		if !ok {
			metrics.SanctionConflicts.Inc()
			e.logger.Warn("Sanction state changed during evaluation, retrying",
				zap.String("userID", userID),
				zap.Int("attempt", attempt))
			continue
		}

		metrics.SanctionActions.WithLabelValues(string(result.Action)).Inc()
		if len(result.SkippedTiers) > 0 {
			e.logger.Warn("Violation count jumped past sanction tiers",
				zap.String("userID", userID),
				zap.Int("previousCount", state.ViolationCount),
				zap.Int("count", count),
				zap.Any("skipped", result.SkippedTiers))
		}
		e.logger.Info("Sanction applied",
			zap.String("userID", userID),
			zap.String("action", string(result.Action)),
			zap.String("status", string(result.AccountStatus)),
			zap.Int("violationCount", count))

		e.notify(ctx, userID, result)
		return result, nil
	}

	return models.SanctionResult{}, fmt.Errorf("%w: user %s", models.ErrSanctionConflict, userID)
}

// evaluate computes the transition for a new ledger count. It is pure.
func (e *SanctionEngine) evaluate(state models.UserSanctionState, count int, now time.Time) (models.SanctionResult, models.SanctionUpdate) {
	effective := max(count-state.CountBaseline, 0)
	previous := max(state.ViolationCount-state.CountBaseline, 0)

	update := models.UpdateFrom(state)
	update.ViolationCount = count
	update.LastViolationDate = &now

	target, ok := e.tierFor(effective)
	if ok && e.inForce(state, now) && state.AccountStatus.Rank() > target.status.Rank() {
		// A stricter sanction is still running; never downgrade it.
		ok = false
	}

	result := models.SanctionResult{
		Action:         models.ActionRecordOnly,
		ViolationCount: count,
	}

	if !ok {
		result.AccountStatus = update.AccountStatus
		result.SuspensionEndDate = update.SuspensionEndDate
		result.Message = fmt.Sprintf("Violation recorded. You have %d violation(s) on record.", count)
		return result, update
	}

	result.Action = target.action
	result.SkippedTiers = e.skippedTiers(previous, target)

	update.AccountStatus = target.status
	switch target.action {
	case models.ActionWarning:
		update.WarningCount++
		update.SuspensionEndDate = nil
		result.Message = fmt.Sprintf("Warning: you have %d violations. Further violations will lead to suspension.", count)
	case models.ActionChatSuspension, models.ActionAccountSuspension:
		end := now.Add(target.duration)
		update.SuspensionEndDate = &end
		result.Message = fmt.Sprintf("%s for %s after %d violations.", suspensionLabel(target.status), formatDuration(target.duration), count)
	case models.ActionBan:
		reason := fmt.Sprintf("Automatic ban after %d policy violations", count)
		update.BanReason = &reason
		update.SuspensionEndDate = nil
		result.Message = "Your account has been permanently banned for repeated policy violations."
	}

	result.AccountStatus = update.AccountStatus
	result.SuspensionEndDate = update.SuspensionEndDate
	return result, update
}

// tierFor picks the enforcement tier for an effective count. By default the
// highest tier whose threshold is reached wins, so a count that jumps past a
// threshold still lands on the right tier. In exact mode the middle tiers
// only fire on their exact count.
func (e *SanctionEngine) tierFor(count int) (tier, bool) {
	ban := e.tiers[len(e.tiers)-1]
	if count >= ban.threshold {
		return ban, true
	}
	for i := len(e.tiers) - 2; i >= 0; i-- {
		t := e.tiers[i]
		if e.exact {
			if count == t.threshold {
				return t, true
			}
			continue
		}
		if count >= t.threshold {
			return t, true
		}
	}
	return tier{}, false
}

// skippedTiers lists tiers whose threshold was crossed without ever being
// applied because the count moved past them in one step.
func (e *SanctionEngine) skippedTiers(previous int, target tier) []models.SanctionAction {
	var skipped []models.SanctionAction
	for _, t := range e.tiers {
		if t.threshold > previous && t.threshold < target.threshold {
			skipped = append(skipped, t.action)
		}
	}
	return skipped
}

// inForce reports whether the stored status is still restricting the user.
func (e *SanctionEngine) inForce(state models.UserSanctionState, now time.Time) bool {
	switch {
	case state.AccountStatus == models.StatusBanned, state.AccountStatus == models.StatusWarned:
		return true
	case state.AccountStatus.Suspended():
		return state.SuspensionEndDate != nil && state.SuspensionEndDate.After(now)
	default:
		return false
	}
}

func (e *SanctionEngine) notify(ctx context.Context, userID string, result models.SanctionResult) {
	var kind models.NotificationKind
	switch result.Action {
	case models.ActionWarning:
		kind = models.NotifyWarning
	case models.ActionChatSuspension:
		kind = models.NotifyChatSuspension
	case models.ActionAccountSuspension:
		kind = models.NotifyAccountSuspension
	case models.ActionBan:
		kind = models.NotifyBan
	default:
		return
	}
	if e.alerter == nil {
		return
	}

	payload := map[string]interface{}{
		"violation_count": result.ViolationCount,
		"account_status":  string(result.AccountStatus),
	}
	if result.SuspensionEndDate != nil {
		payload["suspension_end_date"] = result.SuspensionEndDate.Format(time.RFC3339)
	}
	if len(result.SkippedTiers) > 0 {
		payload["skipped_tiers"] = result.SkippedTiers
	}
	e.alerter.NotifyAdmins(ctx, kind, userID, payload)
}

func suspensionLabel(status models.AccountStatus) string {
	if status == models.StatusAccountSuspended {
		return "Your account has been suspended"
	}
	return "Your chat access has been suspended"
}

func formatDuration(d time.Duration) string {
	switch {
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		days := int(d / (24 * time.Hour))
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	case d >= time.Hour:
		hours := int(d.Round(time.Hour) / time.Hour)
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	default:
		minutes := max(int(d.Round(time.Minute)/time.Minute), 1)
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
}
