package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/AnshRaj112/persona-guard/internal/models"
	"go.uber.org/zap"
)

// Lift restores userID to active. The violation count is left alone so the
// mirror never drifts from the ledger; with resetCountOnLift the current
// count becomes the new escalation baseline instead.
func (e *SanctionEngine) Lift(ctx context.Context, userID, adminID string) (models.LiftResult, error) {
	if strings.TrimSpace(adminID) == "" {
		return models.LiftResult{}, models.ErrAdminRequired
	}

	unlock, err := e.lockUser(ctx, userID)
	if err != nil {
		return models.LiftResult{}, err
	}
	defer unlock()

	for attempt := 1; attempt <= maxApplyAttempts; attempt++ {
		state, err := e.store.GetSanctionState(ctx, userID)
		if err != nil {
			return models.LiftResult{}, fmt.Errorf("failed to load sanction state: %w", err)
		}

		update := models.UpdateFrom(state)
		update.AccountStatus = models.StatusActive
		update.SuspensionEndDate = nil
		update.BanReason = nil
		if e.resetCountOnLift {
			update.CountBaseline = state.ViolationCount
		}

		ok, err := e.store.UpdateSanctionState(ctx, userID, state.Revision, update)
		if err != nil {
			return models.LiftResult{}, fmt.Errorf("failed to persist lift: %w", err)
		}
		if !ok {
			e.logger.Warn("Sanction state changed during lift, retrying",
				zap.String("userID", userID),
				zap.Int("attempt", attempt))
			continue
		}

		e.logger.Info("Sanction lifted",
			zap.String("userID", userID),
			zap.String("adminID", adminID),
			zap.String("previousStatus", string(state.AccountStatus)),
			zap.Int("violationCount", state.ViolationCount))

		if e.alerter != nil {
			e.alerter.NotifyAdmins(ctx, models.NotifySanctionLifted, userID, map[string]interface{}{
				"lifted_by":       adminID,
				"previous_status": string(state.AccountStatus),
				"violation_count": state.ViolationCount,
				"lifted_at":       e.now().UTC().Format(time.RFC3339),
			})
		}

		return models.LiftResult{
			PreviousStatus: state.AccountStatus,
			AccountStatus:  models.StatusActive,
			ViolationCount: state.ViolationCount,
			LiftedBy:       adminID,
		}, nil
	}

	return models.LiftResult{}, fmt.Errorf("%w: user %s", models.ErrSanctionConflict, userID)
}

// State returns the stored sanction state for the admin console.
func (e *SanctionEngine) State(ctx context.Context, userID string) (models.UserSanctionState, error) {
	state, err := e.store.GetSanctionState(ctx, userID)
	if err != nil {
		return models.UserSanctionState{}, fmt.Errorf("failed to load sanction state: %w", err)
	}
	return state, nil
}
