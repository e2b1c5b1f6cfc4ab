package routes

import (
	"net/http"

	"github.com/AnshRaj112/persona-guard/internal/handlers"
	"github.com/AnshRaj112/persona-guard/internal/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Deps are the handlers and settings the router needs.
type Deps struct {
	Chat         *handlers.ChatHandler
	Admin        *handlers.AdminHandler
	Feed         *handlers.AdminFeedHandler
	Tickets      middleware.TicketRedeemer
	AdminKeyHash string
	Logger       *zap.Logger
}

func SetupRoutes(r chi.Router, d Deps) {
	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Chat routes
	r.Post("/api/chat/messages", d.Chat.SendMessage)
	r.Get("/api/chat/permission", d.Chat.Permission)
	r.Get("/ws/chat", d.Chat.ChatWebSocket)

	// Admin routes
	r.Route("/api/admin", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(d.AdminKeyHash, d.Logger))

			r.Get("/violations", d.Admin.GetViolations)
			r.Get("/violations/stats", d.Admin.GetViolationStats)
			r.Put("/violations/{id}/resolve", d.Admin.ResolveViolation)
			r.Get("/users/{userID}/violations", d.Admin.GetUserViolations)
			r.Get("/users/{userID}/sanction", d.Admin.GetUserSanction)
			r.Post("/users/{userID}/lift", d.Admin.LiftSanction)

			if d.Feed != nil {
				r.Get("/notifications", d.Feed.Recent)
				r.Post("/notifications/ticket", d.Feed.IssueTicket)
			}
		})

		// Browsers cannot send the admin headers on a WebSocket upgrade, so
		// the stream is opened with a ticket from /notifications/ticket.
		if d.Feed != nil && d.Tickets != nil {
			r.With(middleware.RequireStreamTicket(d.Tickets, d.Logger)).
				Get("/notifications/ws", d.Feed.Stream)
		}
	})
}
