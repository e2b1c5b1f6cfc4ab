package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/AnshRaj112/persona-guard/internal/models"
)

// SanctionStore keeps the enforcement columns of the users table.
type SanctionStore struct {
	db *sql.DB
}

func NewSanctionStore(db *sql.DB) *SanctionStore {
	return &SanctionStore{db: db}
}

const selectSanctionState = `SELECT id, account_status, violation_count, warning_count, count_baseline,
	last_violation_date, suspension_end_date, ban_reason, sanction_revision
	FROM users WHERE id = $1`

func (s *SanctionStore) GetSanctionState(ctx context.Context, userID string) (models.UserSanctionState, error) {
	var (
		state         models.UserSanctionState
		status        string
		lastViolation sql.NullTime
		suspensionEnd sql.NullTime
		banReason     sql.NullString
	)

	err := s.db.QueryRowContext(ctx, selectSanctionState, userID).Scan(
		&state.UserID,
		&status,
		&state.ViolationCount,
		&state.WarningCount,
		&state.CountBaseline,
		&lastViolation,
		&suspensionEnd,
		&banReason,
		&state.Revision,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserSanctionState{}, fmt.Errorf("%w: %s", models.ErrUserNotFound, userID)
	}
	if err != nil {
		return models.UserSanctionState{}, err
	}

	state.AccountStatus = models.AccountStatus(status)
	state.LastViolationDate = nullTimePtr(lastViolation)
	state.SuspensionEndDate = nullTimePtr(suspensionEnd)
	if banReason.Valid {
		reason := banReason.String
		state.BanReason = &reason
	}
	return state, nil
}

const updateSanctionState = `UPDATE users SET
	account_status = $1,
	violation_count = $2,
	warning_count = $3,
	count_baseline = $4,
	last_violation_date = $5,
	suspension_end_date = $6,
	ban_reason = $7,
	sanction_revision = sanction_revision + 1
	WHERE id = $8 AND sanction_revision = $9`

// UpdateSanctionState is a compare-and-set on sanction_revision. A false
// result with a nil error means another writer got there first.
func (s *SanctionStore) UpdateSanctionState(ctx context.Context, userID string, expectedRevision int64, u models.SanctionUpdate) (bool, error) {
	res, err := s.db.ExecContext(ctx, updateSanctionState,
		string(u.AccountStatus),
		u.ViolationCount,
		u.WarningCount,
		u.CountBaseline,
		timeArg(u.LastViolationDate),
		timeArg(u.SuspensionEndDate),
		stringArg(u.BanReason),
		userID,
		expectedRevision,
	)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

const expireSuspension = `UPDATE users SET
	account_status = 'active',
	suspension_end_date = NULL,
	sanction_revision = sanction_revision + 1
	WHERE id = $1
	AND account_status IN ('chat_suspended', 'account_suspended')
	AND (suspension_end_date IS NULL OR suspension_end_date <= $2)`

// ExpireSuspension only touches rows that are still suspended and expired,
// so concurrent callers and a concurrent escalation are both safe.
func (s *SanctionStore) ExpireSuspension(ctx context.Context, userID string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, expireSuspension, userID, now)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func timeArg(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func stringArg(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
