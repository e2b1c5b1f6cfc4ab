package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/AnshRaj112/persona-guard/internal/models"
	"github.com/google/uuid"
)

type fakeSessions map[string]uuid.UUID

func (f fakeSessions) Resolve(_ context.Context, token string) (uuid.UUID, bool, error) {
	id, ok := f[token]
	return id, ok, nil
}

type fakePipeline struct {
	mu         sync.Mutex
	permission models.PermissionResult
	permErr    error
	process    func(models.ChatMessage) (models.ChatOutcome, error)
	messages   []models.ChatMessage
}

func (f *fakePipeline) CheckPermission(_ context.Context, _ string) (models.PermissionResult, error) {
	return f.permission, f.permErr
}

func (f *fakePipeline) ProcessMessage(_ context.Context, msg models.ChatMessage) (models.ChatOutcome, error) {
	f.mu.Lock()
	f.messages = append(f.messages, msg)
	f.mu.Unlock()
	return f.process(msg)
}

func (f *fakePipeline) received() []models.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ChatMessage(nil), f.messages...)
}

type fakeLedger struct {
	filter     models.ViolationFilter
	page       models.Page
	records    []models.ViolationRecord
	total      int64
	window     time.Duration
	resolvedID string
	resolvedBy string
	historyFor string
	err        error
}

func (f *fakeLedger) List(_ context.Context, filter models.ViolationFilter, page models.Page) ([]models.ViolationRecord, int64, error) {
	f.filter, f.page = filter, page
	return f.records, f.total, f.err
}

func (f *fakeLedger) RecentHistory(_ context.Context, userID string, _ int) ([]models.ViolationRecord, error) {
	f.historyFor = userID
	return f.records, f.err
}

func (f *fakeLedger) AggregateStats(_ context.Context, window time.Duration) (models.ViolationStats, error) {
	f.window = window
	return models.ViolationStats{TotalCount: 3, ByType: map[models.ViolationType]int{models.ViolationTypeBlockedWord: 3}}, f.err
}

func (f *fakeLedger) MarkResolved(_ context.Context, recordID, adminID string) error {
	f.resolvedID, f.resolvedBy = recordID, adminID
	return f.err
}

type fakeSanctions struct {
	state   models.UserSanctionState
	liftBy  string
	liftFor string
	err     error
}

func (f *fakeSanctions) State(_ context.Context, userID string) (models.UserSanctionState, error) {
	f.state.UserID = userID
	return f.state, f.err
}

func (f *fakeSanctions) Lift(_ context.Context, userID, adminID string) (models.LiftResult, error) {
	f.liftFor, f.liftBy = userID, adminID
	if f.err != nil {
		return models.LiftResult{}, f.err
	}
	return models.LiftResult{
		PreviousStatus: f.state.AccountStatus,
		AccountStatus:  models.StatusActive,
		ViolationCount: f.state.ViolationCount,
		LiftedBy:       adminID,
	}, nil
}
