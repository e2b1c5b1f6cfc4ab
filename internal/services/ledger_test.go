package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/AnshRaj112/persona-guard/internal/config"
	"github.com/AnshRaj112/persona-guard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLedger(store ViolationStore, cfg config.LedgerConfig) *Ledger {
	l := NewLedger(store, cfg, zap.NewNop())
	l.now = fixedClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return l
}

func TestLedgerRecordValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		v    models.ViolationRecord
	}{
		{name: "missing user", v: models.ViolationRecord{ViolationType: models.ViolationTypeModerationFlag, Reason: "x"}},
		{name: "unknown type", v: models.ViolationRecord{UserID: "u1", ViolationType: "spam", Reason: "x"}},
		{name: "blocked word without word", v: models.ViolationRecord{UserID: "u1", ViolationType: models.ViolationTypeBlockedWord, Reason: "x"}},
		{name: "word on moderation flag", v: models.ViolationRecord{UserID: "u1", ViolationType: models.ViolationTypeModerationFlag, DetectedWord: "x", Reason: "x"}},
		{name: "missing reason", v: models.ViolationRecord{UserID: "u1", ViolationType: models.ViolationTypeModerationFlag, Reason: "  "}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := &memoryViolations{}
			_, err := newTestLedger(store, testLedgerConfig()).Record(context.Background(), tt.v)
			assert.ErrorIs(t, err, models.ErrInvalidViolation)
			assert.Empty(t, store.records)
		})
	}
}

func TestLedgerRecordFillsDerivedFields(t *testing.T) {
	t.Parallel()

	store := &memoryViolations{}
	l := newTestLedger(store, config.LedgerConfig{MaxMessageLength: 5})
	resolvedAt := time.Now()

	got, err := l.Record(context.Background(), models.ViolationRecord{
		UserID:               " u1 ",
		ViolationType:        models.ViolationTypeBlockedWord,
		DetectedWord:         "badword",
		Reason:               "blocked",
		MessageContent:       "héllo wörld",
		ModerationCategories: map[string]float64{"hate": 0.9},
		IsResolved:           true,
		ResolvedBy:           "admin",
		ResolvedAt:           &resolvedAt,
	})
	require.NoError(t, err)

	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "héllo", got.MessageContent, "truncated by runes, not bytes")
	assert.Nil(t, got.ModerationCategories, "categories only belong to moderation flags")
	assert.Equal(t, models.SeverityLow, got.SeverityLevel)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), got.Timestamp)
	assert.False(t, got.IsResolved)
	assert.Empty(t, got.ResolvedBy)
	assert.Nil(t, got.ResolvedAt)
	assert.False(t, got.ID.IsZero())
	require.Len(t, store.records, 1)
}

func TestLedgerSeverity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		severity int
		content  string
		scores   map[string]float64
		want     int
	}{
		{name: "derived from categories", content: "hello", scores: map[string]float64{"violence": 0.9}, want: models.SeverityHigh},
		{name: "derived from content", content: "buy heroin", scores: map[string]float64{"illicit": 0.9}, want: models.SeverityMedium},
		{name: "explicit kept", severity: 2, content: "kill", want: models.SeverityMedium},
		{name: "clamped high", severity: 9, content: "hello", want: models.SeverityHigh},
		{name: "clamped low", severity: -4, content: "hello", want: models.SeverityLow},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := newTestLedger(&memoryViolations{}, testLedgerConfig()).Record(context.Background(), models.ViolationRecord{
				UserID:               "u1",
				ViolationType:        models.ViolationTypeModerationFlag,
				Reason:               "flagged",
				SeverityLevel:        tt.severity,
				MessageContent:       tt.content,
				ModerationCategories: tt.scores,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.SeverityLevel)
		})
	}
}

func TestLedgerSeverityReadsBeyondStoredLength(t *testing.T) {
	t.Parallel()

	cfg := testLedgerConfig()
	cfg.MaxMessageLength = 20
	store := &memoryViolations{}

	content := strings.Repeat("lorem ipsum ", 10) + "and then I will kill you"
	got, err := newTestLedger(store, cfg).Record(context.Background(), models.ViolationRecord{
		UserID:         "u1",
		ViolationType:  models.ViolationTypeModerationFlag,
		Reason:         "flagged",
		MessageContent: content,
	})
	require.NoError(t, err)

	assert.Equal(t, models.SeverityHigh, got.SeverityLevel)
	assert.Equal(t, []rune(content)[:20], []rune(got.MessageContent))
}

func TestLedgerRecordStoreError(t *testing.T) {
	t.Parallel()

	store := &memoryViolations{err: errors.New("mongo down")}
	_, err := newTestLedger(store, testLedgerConfig()).Record(context.Background(), models.ViolationRecord{
		UserID:        "u1",
		ViolationType: models.ViolationTypeModerationFlag,
		Reason:        "flagged",
	})
	assert.ErrorContains(t, err, "mongo down")
}

func TestLedgerCountAndHistory(t *testing.T) {
	t.Parallel()

	store := &memoryViolations{}
	store.add("u1", 3)
	store.add("u2", 150)
	l := newTestLedger(store, testLedgerConfig())
	ctx := context.Background()

	count, err := l.CountForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	history, err := l.RecentHistory(ctx, "u2", 0)
	require.NoError(t, err)
	assert.Len(t, history, 20, "default limit")

	history, err = l.RecentHistory(ctx, "u2", 500)
	require.NoError(t, err)
	assert.Len(t, history, 100, "clamped to max")
}

func TestLedgerListClampsPage(t *testing.T) {
	t.Parallel()

	store := &memoryViolations{}
	store.add("u1", 30)
	l := newTestLedger(store, testLedgerConfig())

	records, total, err := l.List(context.Background(), models.ViolationFilter{UserID: "u1"}, models.Page{Skip: -3})
	require.NoError(t, err)
	assert.EqualValues(t, 30, total)
	assert.Len(t, records, 20)
}

func TestLedgerAggregateStats(t *testing.T) {
	t.Parallel()

	store := &memoryViolations{}
	l := newTestLedger(store, testLedgerConfig())
	ctx := context.Background()

	for _, v := range []models.ViolationRecord{
		{UserID: "u1", ViolationType: models.ViolationTypeBlockedWord, DetectedWord: "x", Reason: "r"},
		{UserID: "u1", ViolationType: models.ViolationTypeModerationFlag, Reason: "r", SeverityLevel: 3},
		{UserID: "u2", ViolationType: models.ViolationTypeModerationFlag, Reason: "r", SeverityLevel: 2},
	} {
		_, err := l.Record(ctx, v)
		require.NoError(t, err)
	}

	stats, err := l.AggregateStats(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), stats.Since)
	assert.Equal(t, 3, stats.TotalCount)
	assert.Equal(t, 2, stats.UniqueUserCount)
	assert.Equal(t, 1, stats.ByType[models.ViolationTypeBlockedWord])
	assert.Equal(t, 2, stats.ByType[models.ViolationTypeModerationFlag])
	assert.InDelta(t, 2.0, stats.AvgSeverity, 1e-9)
}

func TestLedgerMarkResolved(t *testing.T) {
	t.Parallel()

	store := &memoryViolations{}
	l := newTestLedger(store, testLedgerConfig())
	ctx := context.Background()

	rec, err := l.Record(ctx, models.ViolationRecord{UserID: "u1", ViolationType: models.ViolationTypeModerationFlag, Reason: "r"})
	require.NoError(t, err)

	assert.ErrorIs(t, l.MarkResolved(ctx, rec.ID.Hex(), " "), models.ErrAdminRequired)
	assert.ErrorIs(t, l.MarkResolved(ctx, "000000000000000000000000", "admin-1"), models.ErrViolationNotFound)

	require.NoError(t, l.MarkResolved(ctx, rec.ID.Hex(), "admin-1"))
	stored := store.records[0]
	assert.True(t, stored.IsResolved)
	assert.Equal(t, "admin-1", stored.ResolvedBy)
	assert.Equal(t, rec.Reason, stored.Reason)
	assert.Equal(t, rec.SeverityLevel, stored.SeverityLevel)
}

func TestTruncateRunes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc", truncateRunes("abc", 10))
	assert.Equal(t, "日本", truncateRunes("日本語", 2))
	assert.Equal(t, strings.Repeat("a", 3), truncateRunes("aaaaa", 3))
	assert.Equal(t, "abc", truncateRunes("abc", 0))
}
