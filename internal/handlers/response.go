package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/AnshRaj112/persona-guard/internal/models"
	"github.com/goccy/go-json"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"message": message,
	})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrUserNotFound), errors.Is(err, models.ErrViolationNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidViolation), errors.Is(err, models.ErrAdminRequired):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrSanctionConflict), errors.Is(err, models.ErrLockTimeout):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func extractBearerToken(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
