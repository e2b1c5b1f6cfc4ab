package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/AnshRaj112/persona-guard/internal/models"
	"github.com/AnshRaj112/persona-guard/pkg/clientip"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var chatUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS for WebSocket is handled at the HTTP layer already.
		return true
	},
}

// ChatClientMessage represents messages coming from the frontend over WebSocket.
type ChatClientMessage struct {
	Type      string `json:"type"` // "message", "ping"
	PersonaID string `json:"persona_id,omitempty"`
	Text      string `json:"text,omitempty"`
}

// ChatServerEvent is sent back for every client message.
type ChatServerEvent struct {
	Type    string              `json:"type"` // "outcome", "denied", "error", "pong"
	Message string              `json:"message,omitempty"`
	Outcome *models.ChatOutcome `json:"outcome,omitempty"`
}

// ChatWebSocket runs the enforcement pipeline for every message on a
// persona chat connection. The permission gate runs before the upgrade and
// again for each message, so a sanction issued mid-session takes effect on
// the next turn. Bans and suspensions close the connection.
func (h *ChatHandler) ChatWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, status, message := h.authenticate(r)
	if status != 0 {
		http.Error(w, message, status)
		return
	}

	permission, err := h.pipeline.CheckPermission(r.Context(), userID)
	if err != nil || !permission.Allowed {
		msg := permission.Message
		if msg == "" {
			msg = "chat is not available"
		}
		http.Error(w, msg, http.StatusForbidden)
		return
	}

	conn, err := chatUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ip := clientip.FromRequest(r, h.trustProxy)
	userAgent := r.UserAgent()
	personaID := r.URL.Query().Get("persona_id")

	conn.SetReadLimit(64 * 1024)
	_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))

		var msg ChatClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = conn.WriteJSON(ChatServerEvent{Type: "error", Message: "invalid message"})
			continue
		}

		switch msg.Type {
		case "ping":
			_ = conn.WriteJSON(ChatServerEvent{Type: "pong"})
			continue
		case "message":
		default:
			_ = conn.WriteJSON(ChatServerEvent{Type: "error", Message: "unknown message type"})
			continue
		}

		if strings.TrimSpace(msg.PersonaID) == "" {
			msg.PersonaID = personaID
		}

		ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
		outcome, err := h.pipeline.ProcessMessage(ctx, models.ChatMessage{
			UserID:    userID,
			PersonaID: msg.PersonaID,
			Text:      msg.Text,
			IPAddress: ip,
			UserAgent: userAgent,
			SentAt:    time.Now().UTC(),
		})
		cancel()

		if err != nil {
			h.logger.Error("Chat pipeline failed",
				zap.String("userID", userID),
				zap.Error(err))
			_ = conn.WriteJSON(ChatServerEvent{Type: "error", Message: "failed to process message"})
			if !outcome.Permission.Allowed {
				return
			}
			continue
		}

		eventType := "outcome"
		if !outcome.Permission.Allowed {
			eventType = "denied"
		}
		if err := conn.WriteJSON(ChatServerEvent{
			Type:    eventType,
			Message: outcomeMessage(outcome),
			Outcome: &outcome,
		}); err != nil {
			return
		}

		if !outcome.Permission.Allowed {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, outcome.Permission.Reason))
			return
		}
	}
}
