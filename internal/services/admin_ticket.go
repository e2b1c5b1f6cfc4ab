package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const streamTicketPrefix = "admin:stream_ticket:"

// StreamTickets issues single-use tickets that let a browser open the admin
// notification stream. Browsers cannot set the admin headers on a WebSocket
// upgrade, so an authenticated console trades them for a ticket first.
type StreamTickets struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewStreamTickets(client *redis.Client, ttl time.Duration) *StreamTickets {
	return &StreamTickets{client: client, ttl: ttl, now: time.Now}
}

// Issue stores a ticket for adminID and returns it with its expiry.
func (s *StreamTickets) Issue(ctx context.Context, adminID string) (string, time.Time, error) {
	ticket := uuid.NewString()
	if err := s.client.Set(ctx, streamTicketPrefix+ticket, adminID, s.ttl).Err(); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to issue stream ticket: %w", err)
	}
	return ticket, s.now().Add(s.ttl).UTC(), nil
}

// Redeem consumes ticket and returns the admin it was issued to. An unknown,
// expired or already used ticket is not an error.
func (s *StreamTickets) Redeem(ctx context.Context, ticket string) (string, bool, error) {
	if ticket == "" {
		return "", false, nil
	}
	adminID, err := s.client.GetDel(ctx, streamTicketPrefix+ticket).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return adminID, true, nil
}
