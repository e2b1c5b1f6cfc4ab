package database

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/AnshRaj112/persona-guard/internal/models"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sanctionColumns = []string{
	"id", "account_status", "violation_count", "warning_count", "count_baseline",
	"last_violation_date", "suspension_end_date", "ban_reason", "sanction_revision",
}

func newMockStore(t *testing.T) (*SanctionStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewSanctionStore(db), mock
}

func TestGetSanctionState(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	last := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := last.Add(24 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta(selectSanctionState)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(sanctionColumns).
			AddRow("u1", "chat_suspended", 6, 1, 0, last, end, nil, int64(4)))

	state, err := store.GetSanctionState(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, "u1", state.UserID)
	assert.Equal(t, models.StatusChatSuspended, state.AccountStatus)
	assert.Equal(t, 6, state.ViolationCount)
	assert.Equal(t, 1, state.WarningCount)
	require.NotNil(t, state.LastViolationDate)
	assert.Equal(t, last, *state.LastViolationDate)
	require.NotNil(t, state.SuspensionEndDate)
	assert.Equal(t, end, *state.SuspensionEndDate)
	assert.Nil(t, state.BanReason)
	assert.EqualValues(t, 4, state.Revision)
}

func TestGetSanctionStateUnknownUser(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(selectSanctionState)).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(sanctionColumns))

	_, err := store.GetSanctionState(context.Background(), "ghost")
	assert.ErrorIs(t, err, models.ErrUserNotFound)
}

func TestUpdateSanctionStateCompareAndSet(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reason := "Automatic ban after 8 policy violations"
	update := models.SanctionUpdate{
		AccountStatus:     models.StatusBanned,
		ViolationCount:    8,
		WarningCount:      1,
		LastViolationDate: &now,
		BanReason:         &reason,
	}

	tests := []struct {
		name string
		rows int64
		want bool
	}{
		{name: "won", rows: 1, want: true},
		{name: "lost", rows: 0, want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store, mock := newMockStore(t)
			mock.ExpectExec(regexp.QuoteMeta(updateSanctionState)).
				WithArgs("banned", 8, 1, 0, now, nil, reason, "u1", int64(3)).
				WillReturnResult(sqlmock.NewResult(0, tt.rows))

			ok, err := store.UpdateSanctionState(context.Background(), "u1", 3, update)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestExpireSuspension(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(expireSuspension)).
		WithArgs("u1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(expireSuspension)).
		WithArgs("u1", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := store.ExpireSuspension(context.Background(), "u1", now)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.ExpireSuspension(context.Background(), "u1", now)
	require.NoError(t, err)
	assert.False(t, changed, "a second concurrent expiry is a no-op")
}
