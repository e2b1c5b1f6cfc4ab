package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/AnshRaj112/persona-guard/internal/models"
	"github.com/AnshRaj112/persona-guard/pkg/clientip"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChatPipeline is the enforcement pipeline the chat endpoints call.
type ChatPipeline interface {
	CheckPermission(ctx context.Context, userID string) (models.PermissionResult, error)
	ProcessMessage(ctx context.Context, msg models.ChatMessage) (models.ChatOutcome, error)
}

// SessionLookup resolves a session token to a user id.
type SessionLookup interface {
	Resolve(ctx context.Context, sessionToken string) (uuid.UUID, bool, error)
}

// ChatHandler serves the chat endpoints.
type ChatHandler struct {
	pipeline   ChatPipeline
	sessions   SessionLookup
	trustProxy bool
	logger     *zap.Logger
}

func NewChatHandler(pipeline ChatPipeline, sessions SessionLookup, trustProxy bool, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		pipeline:   pipeline,
		sessions:   sessions,
		trustProxy: trustProxy,
		logger:     logger.Named("chat_handler"),
	}
}

// SendMessageRequest is the body of POST /api/chat/messages.
type SendMessageRequest struct {
	PersonaID string `json:"persona_id"`
	Text      string `json:"text"`
}

// SendMessageResponse reports whether the message may go to the persona.
type SendMessageResponse struct {
	Success bool               `json:"success"`
	Message string             `json:"message,omitempty"`
	Outcome models.ChatOutcome `json:"outcome"`
}

// authenticate resolves the caller from the bearer token, or from the token
// query parameter for browser WebSocket clients.
func (h *ChatHandler) authenticate(r *http.Request) (string, int, string) {
	token := extractBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return "", http.StatusUnauthorized, "missing session token"
	}

	userID, ok, err := h.sessions.Resolve(r.Context(), token)
	if err != nil {
		h.logger.Error("Failed to resolve session", zap.Error(err))
		return "", http.StatusUnauthorized, "invalid session token"
	}
	if !ok {
		return "", http.StatusUnauthorized, "invalid session token"
	}
	return userID.String(), 0, ""
}

// SendMessage runs one message through the enforcement pipeline.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, status, message := h.authenticate(r)
	if status != 0 {
		writeError(w, status, message)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	outcome, err := h.pipeline.ProcessMessage(ctx, models.ChatMessage{
		UserID:    userID,
		PersonaID: req.PersonaID,
		Text:      req.Text,
		IPAddress: clientip.FromRequest(r, h.trustProxy),
		UserAgent: r.UserAgent(),
		SentAt:    time.Now().UTC(),
	})
	if err != nil {
		h.logger.Error("Chat pipeline failed",
			zap.String("userID", userID),
			zap.Error(err))
		writeError(w, statusFor(err), "Failed to process message")
		return
	}

	writeJSON(w, outcomeStatus(outcome), SendMessageResponse{
		Success: outcome.Delivered,
		Message: outcomeMessage(outcome),
		Outcome: outcome,
	})
}

// Permission reports whether the caller may chat right now.
func (h *ChatHandler) Permission(w http.ResponseWriter, r *http.Request) {
	userID, status, message := h.authenticate(r)
	if status != 0 {
		writeError(w, status, message)
		return
	}

	result, err := h.pipeline.CheckPermission(r.Context(), userID)
	if err != nil {
		h.logger.Error("Permission check failed",
			zap.String("userID", userID),
			zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"success":    false,
			"message":    result.Message,
			"permission": result,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"permission": result,
	})
}

// outcomeStatus is 200 for delivered messages, 403 when the sender is not
// allowed to chat and 422 when the message itself was rejected.
func outcomeStatus(o models.ChatOutcome) int {
	switch {
	case o.Delivered:
		return http.StatusOK
	case o.Violation == nil:
		return http.StatusForbidden
	default:
		return http.StatusUnprocessableEntity
	}
}

func outcomeMessage(o models.ChatOutcome) string {
	switch {
	case o.Sanction != nil && o.Sanction.Message != "":
		return o.Sanction.Message
	case o.Moderation != nil && o.Moderation.Message != "":
		return o.Moderation.Message
	default:
		return o.Permission.Message
	}
}
