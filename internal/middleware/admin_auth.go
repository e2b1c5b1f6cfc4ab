package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/AnshRaj112/persona-guard/pkg/utils"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	AdminKeyHeader = "X-Admin-Key"
	AdminIDHeader  = "X-Admin-ID"

	maxAdminKeyLength = 256
)

// Argon2 verifications of keys that are not already known are limited so
// anonymous callers cannot queue up expensive hashing.
var (
	adminVerifyRate  = rate.Every(500 * time.Millisecond)
	adminVerifyBurst = 5
)

var errAdminVerifyThrottled = errors.New("admin key verification throttled")

// adminKeyVerifier remembers the digest of the last key that verified, so a
// known key is checked with one SHA-256 instead of a full Argon2 run.
type adminKeyVerifier struct {
	hash    string
	limiter *rate.Limiter

	mu    sync.RWMutex
	known []byte
}

func newAdminKeyVerifier(hash string, limit rate.Limit, burst int) *adminKeyVerifier {
	return &adminKeyVerifier{hash: hash, limiter: rate.NewLimiter(limit, burst)}
}

func (v *adminKeyVerifier) verify(key string) (bool, error) {
	digest := sha256.Sum256([]byte(key))

	v.mu.RLock()
	known := v.known
	v.mu.RUnlock()
	if known != nil && subtle.ConstantTimeCompare(known, digest[:]) == 1 {
		return true, nil
	}

	if !v.limiter.Allow() {
		return false, errAdminVerifyThrottled
	}
	ok, err := utils.VerifyAdminKey(key, v.hash)
	if err != nil || !ok {
		return false, err
	}

	v.mu.Lock()
	v.known = digest[:]
	v.mu.Unlock()
	return true, nil
}

type adminIDKey struct{}

// AdminID returns the admin id stored by RequireAdmin.
func AdminID(ctx context.Context) string {
	id, _ := ctx.Value(adminIDKey{}).(string)
	return id
}

// WithAdminID stores an admin id on ctx.
func WithAdminID(ctx context.Context, adminID string) context.Context {
	return context.WithValue(ctx, adminIDKey{}, adminID)
}

// RequireAdmin checks X-Admin-Key against the configured Argon2id hash and
// requires X-Admin-ID, which is recorded on resolutions and lifts. With no
// hash configured every admin request is refused.
func RequireAdmin(keyHash string, logger *zap.Logger) func(http.Handler) http.Handler {
	return requireAdmin(keyHash, newAdminKeyVerifier(keyHash, adminVerifyRate, adminVerifyBurst), logger)
}

func requireAdmin(keyHash string, verifier *adminKeyVerifier, logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logger.Named("admin_auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(AdminKeyHeader)
			adminID := strings.TrimSpace(r.Header.Get(AdminIDHeader))

			if keyHash == "" || key == "" {
				denyAdmin(w, http.StatusUnauthorized, "Admin key is required")
				return
			}
			if len(key) > maxAdminKeyLength {
				denyAdmin(w, http.StatusUnauthorized, "Invalid admin key")
				return
			}

			ok, err := verifier.verify(key)
			if errors.Is(err, errAdminVerifyThrottled) {
				logger.Warn("Throttled admin key verification", zap.String("path", r.URL.Path))
				w.Header().Set("Retry-After", "1")
				denyAdmin(w, http.StatusTooManyRequests, "Too many admin authentication attempts")
				return
			}
			if err != nil {
				logger.Error("Admin key hash is invalid", zap.Error(err))
				denyAdmin(w, http.StatusInternalServerError, "Admin authentication is misconfigured")
				return
			}
			if !ok {
				logger.Warn("Rejected admin request", zap.String("path", r.URL.Path))
				denyAdmin(w, http.StatusUnauthorized, "Invalid admin key")
				return
			}
			if adminID == "" {
				denyAdmin(w, http.StatusBadRequest, "X-Admin-ID header is required")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAdminID(r.Context(), adminID)))
		})
	}
}

func denyAdmin(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"message": message,
	})
}

// TicketRedeemer consumes single-use admin stream tickets.
type TicketRedeemer interface {
	Redeem(ctx context.Context, ticket string) (adminID string, ok bool, err error)
}

// RequireStreamTicket authenticates a WebSocket upgrade with the ticket query
// parameter issued to an already authenticated admin.
func RequireStreamTicket(tickets TicketRedeemer, logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logger.Named("admin_auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ticket := strings.TrimSpace(r.URL.Query().Get("ticket"))
			if ticket == "" {
				denyAdmin(w, http.StatusUnauthorized, "Stream ticket is required")
				return
			}

			adminID, ok, err := tickets.Redeem(r.Context(), ticket)
			if err != nil {
				logger.Error("Failed to redeem stream ticket", zap.Error(err))
				denyAdmin(w, http.StatusInternalServerError, "Failed to verify stream ticket")
				return
			}
			if !ok {
				denyAdmin(w, http.StatusUnauthorized, "Invalid or expired stream ticket")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAdminID(r.Context(), adminID)))
		})
	}
}
