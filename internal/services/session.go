package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// SessionKeyPrefix is the Redis key prefix for sessions
	SessionKeyPrefix = "session:"
)

// SessionResolver maps session tokens to user ids. Sessions are issued by the
// account service; this side only reads them.
type SessionResolver struct {
	client *redis.Client
}

func NewSessionResolver(client *redis.Client) *SessionResolver {
	return &SessionResolver{client: client}
}

// Resolve checks if a session token is valid and returns the user ID.
// An unknown token is not an error.
func (s *SessionResolver) Resolve(ctx context.Context, sessionToken string) (uuid.UUID, bool, error) {
	if sessionToken == "" {
		return uuid.Nil, false, nil
	}

	userIDStr, err := s.client.Get(ctx, SessionKeyPrefix+sessionToken).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}

	userID, err := uuid.Parse(strings.TrimSpace(userIDStr))
	if err != nil {
		return uuid.Nil, false, err
	}
	return userID, true, nil
}
