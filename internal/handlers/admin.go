package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/AnshRaj112/persona-guard/internal/middleware"
	"github.com/AnshRaj112/persona-guard/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ViolationLedger is the ledger surface the admin console uses.
type ViolationLedger interface {
	List(ctx context.Context, filter models.ViolationFilter, page models.Page) ([]models.ViolationRecord, int64, error)
	RecentHistory(ctx context.Context, userID string, limit int) ([]models.ViolationRecord, error)
	AggregateStats(ctx context.Context, window time.Duration) (models.ViolationStats, error)
	MarkResolved(ctx context.Context, recordID, adminID string) error
}

// SanctionAdmin is the sanction surface the admin console uses.
type SanctionAdmin interface {
	State(ctx context.Context, userID string) (models.UserSanctionState, error)
	Lift(ctx context.Context, userID, adminID string) (models.LiftResult, error)
}

// AdminHandler serves the moderation console.
type AdminHandler struct {
	ledger    ViolationLedger
	sanctions SanctionAdmin
	logger    *zap.Logger
}

func NewAdminHandler(ledger ViolationLedger, sanctions SanctionAdmin, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		ledger:    ledger,
		sanctions: sanctions,
		logger:    logger.Named("admin_handler"),
	}
}

// GetViolations lists violations, newest first.
// Query params:
//
//	user_id  (optional)
//	type     (optional: blocked_word, moderation_flag)
//	resolved (optional: true, false)
//	since    (optional RFC3339 timestamp)
//	skip     (optional, default 0)
//	limit    (optional, default 20, max 100)
func (h *AdminHandler) GetViolations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter models.ViolationFilter
	filter.UserID = strings.TrimSpace(q.Get("user_id"))
	if t := q.Get("type"); t != "" {
		filter.Type = models.ViolationType(t)
		if !filter.Type.Valid() {
			writeError(w, http.StatusBadRequest, "Invalid violation type")
			return
		}
	}
	if res := q.Get("resolved"); res != "" {
		resolved, err := strconv.ParseBool(res)
		if err != nil {
			writeError(w, http.StatusBadRequest, "resolved must be true or false")
			return
		}
		filter.Resolved = &resolved
	}
	if s := q.Get("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC3339 timestamp")
			return
		}
		filter.Since = since
	}

	page := models.Page{
		Skip:  queryInt(q.Get("skip"), 0),
		Limit: queryInt(q.Get("limit"), 0),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	violations, total, err := h.ledger.List(ctx, filter, page)
	if err != nil {
		h.logger.Error("Failed to list violations", zap.Error(err))
		writeError(w, statusFor(err), "Failed to fetch violations")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"violations": violations,
		"count":      len(violations),
		"total":      total,
	})
}

// GetViolationStats summarises the ledger. Query param window is a Go
// duration (default 24h).
func (h *AdminHandler) GetViolationStats(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "window must be a positive duration such as 24h")
			return
		}
		window = parsed
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	stats, err := h.ledger.AggregateStats(ctx, window)
	if err != nil {
		h.logger.Error("Failed to aggregate violations", zap.Error(err))
		writeError(w, statusFor(err), "Failed to fetch violation stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"stats":   stats,
	})
}

// ResolveViolation annotates one record as reviewed.
func (h *AdminHandler) ResolveViolation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	adminID := middleware.AdminID(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.ledger.MarkResolved(ctx, id, adminID); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("Failed to resolve violation", zap.String("violationID", id), zap.Error(err))
		}
		writeError(w, status, "Failed to resolve violation")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Violation resolved successfully",
	})
}

// GetUserViolations returns a user's most recent violations.
func (h *AdminHandler) GetUserViolations(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	violations, err := h.ledger.RecentHistory(ctx, userID, queryInt(r.URL.Query().Get("limit"), 0))
	if err != nil {
		h.logger.Error("Failed to load violation history", zap.String("userID", userID), zap.Error(err))
		writeError(w, statusFor(err), "Failed to fetch violation history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"violations": violations,
		"count":      len(violations),
	})
}

// GetUserSanction returns a user's enforcement state.
func (h *AdminHandler) GetUserSanction(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	state, err := h.sanctions.State(r.Context(), userID)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("Failed to load sanction state", zap.String("userID", userID), zap.Error(err))
		}
		writeError(w, status, "Failed to fetch sanction state")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"sanction": state,
	})
}

// LiftSanction restores a user to active.
func (h *AdminHandler) LiftSanction(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	adminID := middleware.AdminID(r.Context())

	result, err := h.sanctions.Lift(r.Context(), userID, adminID)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("Failed to lift sanction", zap.String("userID", userID), zap.Error(err))
		}
		writeError(w, status, "Failed to lift sanction")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Sanction lifted successfully",
		"result":  result,
	})
}

func userIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return "", false
	}
	return id.String(), true
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
