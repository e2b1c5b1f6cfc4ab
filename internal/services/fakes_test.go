package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AnshRaj112/persona-guard/internal/config"
	"github.com/AnshRaj112/persona-guard/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// memoryViolations is an in-memory ViolationStore.
type memoryViolations struct {
	mu      sync.Mutex
	records []models.ViolationRecord
	err     error
}

func (m *memoryViolations) InsertViolation(_ context.Context, v *models.ViolationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if v.ID.IsZero() {
		v.ID = primitive.NewObjectID()
	}
	m.records = append(m.records, *v)
	return nil
}

func (m *memoryViolations) CountViolations(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	n := 0
	for _, r := range m.records {
		if r.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (m *memoryViolations) RecentViolations(_ context.Context, userID string, limit int) ([]models.ViolationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ViolationRecord
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		if m.records[i].UserID == userID {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

func (m *memoryViolations) ListViolations(_ context.Context, filter models.ViolationFilter, page models.Page) ([]models.ViolationRecord, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []models.ViolationRecord
	for _, r := range m.records {
		if filter.UserID != "" && r.UserID != filter.UserID {
			continue
		}
		if filter.Type != "" && r.ViolationType != filter.Type {
			continue
		}
		matched = append(matched, r)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Timestamp.After(matched[j].Timestamp) })
	total := int64(len(matched))
	if page.Skip >= len(matched) {
		return []models.ViolationRecord{}, total, nil
	}
	matched = matched[page.Skip:]
	if len(matched) > page.Limit {
		matched = matched[:page.Limit]
	}
	return matched, total, nil
}

func (m *memoryViolations) ViolationStats(_ context.Context, since time.Time) (models.ViolationStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := models.ViolationStats{ByType: map[models.ViolationType]int{}}
	users := map[string]struct{}{}
	sum := 0
	for _, r := range m.records {
		if r.Timestamp.Before(since) {
			continue
		}
		stats.ByType[r.ViolationType]++
		stats.TotalCount++
		users[r.UserID] = struct{}{}
		sum += r.SeverityLevel
	}
	stats.UniqueUserCount = len(users)
	if stats.TotalCount > 0 {
		stats.AvgSeverity = float64(sum) / float64(stats.TotalCount)
	}
	return stats, nil
}

func (m *memoryViolations) ResolveViolation(_ context.Context, id, adminID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID.Hex() == id {
			m.records[i].IsResolved = true
			m.records[i].ResolvedBy = adminID
			m.records[i].ResolvedAt = &at
			return nil
		}
	}
	return models.ErrViolationNotFound
}

// add appends n bare records for userID without going through a Ledger.
func (m *memoryViolations) add(userID string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.records = append(m.records, models.ViolationRecord{
			ID:            primitive.NewObjectID(),
			UserID:        userID,
			ViolationType: models.ViolationTypeModerationFlag,
			Reason:        "test",
			SeverityLevel: models.SeverityLow,
			Timestamp:     time.Now().UTC(),
		})
	}
}

// memorySanctions is an in-memory SanctionStore with revision CAS.
type memorySanctions struct {
	mu      sync.Mutex
	users   map[string]models.UserSanctionState
	getErr  error
	expErr  error
	writes  int
	expired int
	// conflicts makes the next n updates lose their compare-and-set.
	conflicts int
}

func newMemorySanctions(ids ...string) *memorySanctions {
	s := &memorySanctions{users: map[string]models.UserSanctionState{}}
	for _, id := range ids {
		s.users[id] = models.UserSanctionState{UserID: id, AccountStatus: models.StatusActive}
	}
	return s
}

func (s *memorySanctions) GetSanctionState(_ context.Context, userID string) (models.UserSanctionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return models.UserSanctionState{}, s.getErr
	}
	state, ok := s.users[userID]
	if !ok {
		return models.UserSanctionState{}, fmt.Errorf("%w: %s", models.ErrUserNotFound, userID)
	}
	return state, nil
}

func (s *memorySanctions) UpdateSanctionState(_ context.Context, userID string, expectedRevision int64, u models.SanctionUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.users[userID]
	if !ok {
		return false, nil
	}
	if s.conflicts > 0 {
		s.conflicts--
		state.Revision++
		s.users[userID] = state
		return false, nil
	}
	if state.Revision != expectedRevision {
		return false, nil
	}
	s.writes++
	s.users[userID] = models.UserSanctionState{
		UserID:            userID,
		AccountStatus:     u.AccountStatus,
		ViolationCount:    u.ViolationCount,
		WarningCount:      u.WarningCount,
		CountBaseline:     u.CountBaseline,
		LastViolationDate: u.LastViolationDate,
		SuspensionEndDate: u.SuspensionEndDate,
		BanReason:         u.BanReason,
		Revision:          state.Revision + 1,
	}
	return true, nil
}

func (s *memorySanctions) ExpireSuspension(_ context.Context, userID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expErr != nil {
		return false, s.expErr
	}
	state, ok := s.users[userID]
	if !ok || !state.AccountStatus.Suspended() {
		return false, nil
	}
	if state.SuspensionEndDate != nil && state.SuspensionEndDate.After(now) {
		return false, nil
	}
	state.AccountStatus = models.StatusActive
	state.SuspensionEndDate = nil
	state.Revision++
	s.users[userID] = state
	s.expired++
	return true, nil
}

func (s *memorySanctions) set(state models.UserSanctionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[state.UserID] = state
}

func (s *memorySanctions) get(userID string) models.UserSanctionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[userID]
}

type sentNotification struct {
	kind    models.NotificationKind
	userID  string
	payload map[string]interface{}
}

// recordingAlerter captures notifications synchronously.
type recordingAlerter struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (r *recordingAlerter) NotifyAdmins(_ context.Context, kind models.NotificationKind, userID string, payload map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentNotification{kind: kind, userID: userID, payload: payload})
}

func (r *recordingAlerter) kinds() []models.NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.NotificationKind, len(r.sent))
	for i, n := range r.sent {
		out[i] = n.kind
	}
	return out
}

// stubClassifier returns canned verdicts or an error.
type stubClassifier struct {
	mu      sync.Mutex
	calls   int
	batches [][]string
	fn      func(texts []string) ([]ClassifierVerdict, error)
}

func (c *stubClassifier) Classify(_ context.Context, texts []string) ([]ClassifierVerdict, error) {
	c.mu.Lock()
	c.calls++
	c.batches = append(c.batches, append([]string(nil), texts...))
	c.mu.Unlock()
	return c.fn(texts)
}

func (c *stubClassifier) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func testSanctionsConfig() config.SanctionsConfig {
	return config.SanctionsConfig{
		WarnThreshold:              5,
		ChatSuspensionThreshold:    6,
		AccountSuspensionThreshold: 7,
		BanThreshold:               8,
		ChatSuspensionDuration:     24 * time.Hour,
		AccountSuspensionDuration:  7 * 24 * time.Hour,
		LockWait:                   time.Second,
	}
}

func testLedgerConfig() config.LedgerConfig {
	return config.LedgerConfig{MaxMessageLength: 1000, DefaultHistoryLimit: 20, MaxHistoryLimit: 100}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
