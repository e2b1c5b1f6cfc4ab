package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/AnshRaj112/persona-guard/internal/metrics"
	"github.com/AnshRaj112/persona-guard/internal/models"
	"go.uber.org/zap"
)

// Permission reasons.
const (
	ReasonBanned           = "banned"
	ReasonAccountSuspended = "account_suspended"
	ReasonChatSuspended    = "chat_suspended"
	ReasonUnavailable      = "unavailable"
)

// PermissionGate decides whether a user may send a chat turn. Expired
// suspensions are cleared lazily here; nothing runs on a timer.
type PermissionGate struct {
	store  SanctionStore
	logger *zap.Logger
	now    func() time.Time
}

func NewPermissionGate(store SanctionStore, logger *zap.Logger) *PermissionGate {
	return &PermissionGate{
		store:  store,
		logger: logger.Named("permission"),
		now:    time.Now,
	}
}

// CheckPermission loads the user's state and evaluates it. A store failure
// denies the turn and returns the error; a banned user must never slip
// through because the database hiccupped.
func (g *PermissionGate) CheckPermission(ctx context.Context, userID string) (models.PermissionResult, error) {
	state, err := g.store.GetSanctionState(ctx, userID)
	if err != nil {
		g.record(models.PermissionResult{Reason: ReasonUnavailable})
		return models.PermissionResult{
			Allowed: false,
			Reason:  ReasonUnavailable,
			Message: "Chat is temporarily unavailable. Please try again shortly.",
		}, fmt.Errorf("failed to load sanction state: %w", err)
	}
	result := g.Evaluate(ctx, state)
	return result, nil
}

// Evaluate applies the gate rules to an already loaded state.
func (g *PermissionGate) Evaluate(ctx context.Context, state models.UserSanctionState) models.PermissionResult {
	now := g.now().UTC()
	var result models.PermissionResult

	switch {
	case state.AccountStatus == models.StatusBanned:
		result = models.PermissionResult{
			Reason:  ReasonBanned,
			Message: "Your account has been permanently banned.",
		}
	case state.AccountStatus.Suspended() && state.SuspensionEndDate != nil && state.SuspensionEndDate.After(now):
		remaining := state.SuspensionEndDate.Sub(now)
		reason, label := ReasonChatSuspended, "Your chat access is suspended"
		if state.AccountStatus == models.StatusAccountSuspended {
			reason, label = ReasonAccountSuspended, "Your account is suspended"
		}
		result = models.PermissionResult{
			Reason:     reason,
			Message:    fmt.Sprintf("%s. Try again in %s.", label, formatDuration(remaining)),
			RetryAfter: remaining,
		}
	case state.AccountStatus.Suspended():
		g.expire(ctx, state.UserID, now)
		result = models.PermissionResult{Allowed: true}
	case state.AccountStatus == models.StatusWarned:
		result = models.PermissionResult{
			Allowed: true,
			Message: "Reminder: your account has a warning. Further violations will lead to suspension.",
		}
	default:
		result = models.PermissionResult{Allowed: true}
	}

	g.record(result)
	return result
}

// expire demotes an expired suspension. The write is conditional, so two
// concurrent checks both succeed. A failed write is only logged: the
// suspension is over either way.
func (g *PermissionGate) expire(ctx context.Context, userID string, now time.Time) {
	changed, err := g.store.ExpireSuspension(ctx, userID, now)
	if err != nil {
		g.logger.Error("Failed to persist suspension expiry",
			zap.String("userID", userID),
			zap.Error(err))
		return
	}
	if changed {
		g.logger.Info("Suspension expired", zap.String("userID", userID))
	}
}

func (g *PermissionGate) record(result models.PermissionResult) {
	reason := result.Reason
	if reason == "" {
		reason = "ok"
	}
	metrics.PermissionDecisions.WithLabelValues(strconv.FormatBool(result.Allowed), reason).Inc()
}
