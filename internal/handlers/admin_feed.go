package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/AnshRaj112/persona-guard/internal/middleware"
	"github.com/AnshRaj112/persona-guard/internal/models"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	feedWriteWait    = 10 * time.Second
	feedPingInterval = 30 * time.Second
)

// NotificationFeed is the live admin notification stream.
type NotificationFeed interface {
	Subscribe() (<-chan models.AdminNotification, func())
	Recent(ctx context.Context, limit int) ([]models.AdminNotification, error)
}

// TicketIssuer hands out single-use tickets for the notification stream.
type TicketIssuer interface {
	Issue(ctx context.Context, adminID string) (string, time.Time, error)
}

// AdminFeedHandler serves enforcement notifications to the admin console.
type AdminFeedHandler struct {
	feed    NotificationFeed
	tickets TicketIssuer
	logger  *zap.Logger
}

func NewAdminFeedHandler(feed NotificationFeed, tickets TicketIssuer, logger *zap.Logger) *AdminFeedHandler {
	return &AdminFeedHandler{feed: feed, tickets: tickets, logger: logger.Named("admin_feed_handler")}
}

// IssueTicket returns a ticket the console passes as ?ticket= when it opens
// the notification stream from a browser.
func (h *AdminFeedHandler) IssueTicket(w http.ResponseWriter, r *http.Request) {
	adminID := middleware.AdminID(r.Context())

	ticket, expiresAt, err := h.tickets.Issue(r.Context(), adminID)
	if err != nil {
		h.logger.Error("Failed to issue stream ticket", zap.String("adminID", adminID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to issue stream ticket")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"ticket":     ticket,
		"expires_at": expiresAt,
	})
}

// Recent returns stored notifications, newest first.
// Query params:
//
//	limit (optional, default 50)
func (h *AdminFeedHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r.URL.Query().Get("limit"), 50)

	notifications, err := h.feed.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to load recent notifications", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load notifications")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"notifications": notifications,
		"count":         len(notifications),
	})
}

// Stream pushes every new notification to the connected console.
func (h *AdminFeedHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := chatUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, unsubscribe := h.feed.Subscribe()
	defer unsubscribe()

	// The console never sends anything; reading only detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(feedPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case n := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteJSON(n); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteWait)); err != nil {
				return
			}
		}
	}
}
