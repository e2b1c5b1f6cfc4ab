package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS allows the chat frontend and admin console origins. Preflight
// requests are answered here and never reach the handlers.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", AdminKeyHeader, AdminIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
