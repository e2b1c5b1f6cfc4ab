package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AnshRaj112/persona-guard/internal/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	recentNotificationsSuffix = ":recent"
	recentNotificationsMax    = 50
	recentNotificationsTTL    = 24 * time.Hour
	feedBufferSize            = 16
)

func recentNotificationsKey(channel string) string {
	return channel + recentNotificationsSuffix
}

// AdminFeed relays admin notifications published on Redis to the admin
// console sockets connected to this instance.
type AdminFeed struct {
	client      *redis.Client
	channel     string
	logger      *zap.Logger
	mu          sync.RWMutex
	subscribers map[chan models.AdminNotification]struct{}
}

func NewAdminFeed(client *redis.Client, channel string, logger *zap.Logger) *AdminFeed {
	if channel == "" {
		channel = "admin:notifications"
	}
	return &AdminFeed{
		client:      client,
		channel:     channel,
		logger:      logger.Named("admin_feed"),
		subscribers: make(map[chan models.AdminNotification]struct{}),
	}
}

// Subscribe registers a listener. A listener that falls behind loses
// notifications instead of stalling the feed.
func (f *AdminFeed) Subscribe() (<-chan models.AdminNotification, func()) {
	ch := make(chan models.AdminNotification, feedBufferSize)

	f.mu.Lock()
	f.subscribers[ch] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subscribers, ch)
			f.mu.Unlock()
		})
	}
}

func (f *AdminFeed) broadcast(n models.AdminNotification) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for ch := range f.subscribers {
		select {
		case ch <- n:
		default:
			f.logger.Warn("Admin feed listener is behind, dropping notification",
				zap.String("kind", string(n.Kind)))
		}
	}
}

// Recent returns up to limit stored notifications, newest first.
func (f *AdminFeed) Recent(ctx context.Context, limit int) ([]models.AdminNotification, error) {
	if limit <= 0 || limit > recentNotificationsMax {
		limit = recentNotificationsMax
	}

	raw, err := f.client.LRange(ctx, recentNotificationsKey(f.channel), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load recent notifications: %w", err)
	}

	out := make([]models.AdminNotification, 0, len(raw))
	for _, item := range raw {
		var n models.AdminNotification
		if err := json.Unmarshal([]byte(item), &n); err != nil {
			f.logger.Warn("Skipping unreadable stored notification", zap.Error(err))
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// Run listens on the notification channel until ctx ends, resubscribing
// with backoff after a dropped connection.
func (f *AdminFeed) Run(ctx context.Context) {
	policy := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(time.Second),
		backoff.WithMaxInterval(30*time.Second),
		backoff.WithMaxElapsedTime(0),
	)

	for {
		err := f.listen(ctx, policy.Reset)
		if ctx.Err() != nil {
			return
		}

		wait := policy.NextBackOff()
		f.logger.Warn("Admin feed subscription lost, retrying",
			zap.Duration("in", wait),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (f *AdminFeed) listen(ctx context.Context, onSubscribed func()) error {
	pubsub := f.client.Subscribe(ctx, f.channel)
	defer pubsub.Close()

	// ReceiveMessage blocks on the socket and ignores ctx; closing the
	// subscription is what unblocks it on shutdown.
	stop := context.AfterFunc(ctx, func() { _ = pubsub.Close() })
	defer stop()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	onSubscribed()
	f.logger.Info("Admin feed subscribed", zap.String("channel", f.channel))

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			return err
		}

		var n models.AdminNotification
		if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
			f.logger.Warn("Failed to decode admin notification", zap.Error(err))
			continue
		}
		f.broadcast(n)
	}
}
