package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/AnshRaj112/persona-guard/internal/config"
	"github.com/AnshRaj112/persona-guard/internal/metrics"
	"github.com/AnshRaj112/persona-guard/internal/models"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Notifier delivers one admin notification to one destination.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n models.AdminNotification) error
}

// AdminAlerter is what the enforcement services need from notifications.
type AdminAlerter interface {
	NotifyAdmins(ctx context.Context, kind models.NotificationKind, userID string, payload map[string]interface{})
}

// Deduper reports whether key is seen for the first time within ttl.
type Deduper interface {
	FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// AdminNotifier fans notifications out to every configured Notifier in the
// background. Delivery errors are logged and dropped.
type AdminNotifier struct {
	notifiers []Notifier
	dedup     Deduper
	dedupTTL  time.Duration
	timeout   time.Duration
	outage    *rate.Limiter
	logger    *zap.Logger
	wg        sync.WaitGroup
	now       func() time.Time
}

func NewAdminNotifier(cfg config.NotificationsConfig, dedup Deduper, logger *zap.Logger, notifiers ...Notifier) *AdminNotifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	interval := cfg.OutageInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &AdminNotifier{
		notifiers: notifiers,
		dedup:     dedup,
		dedupTTL:  cfg.DedupTTL,
		timeout:   timeout,
		outage:    rate.NewLimiter(rate.Every(interval), 1),
		logger:    logger.Named("notifier"),
		now:       time.Now,
	}
}

// NotifyAdmins returns immediately; delivery happens on its own goroutine
// with its own timeout, detached from ctx cancellation.
func (a *AdminNotifier) NotifyAdmins(ctx context.Context, kind models.NotificationKind, userID string, payload map[string]interface{}) {
	if a == nil || len(a.notifiers) == 0 {
		return
	}

	n := models.AdminNotification{
		ID:        uuid.NewString(),
		Kind:      kind,
		UserID:    userID,
		Payload:   payload,
		CreatedAt: a.now().UTC(),
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()

		if key, ok := dedupKey(n); ok && a.dedup != nil {
			first, err := a.dedup.FirstSeen(ctx, key, a.dedupTTL)
			if err != nil {
				a.logger.Warn("Notification dedup check failed, sending anyway",
					zap.String("key", key),
					zap.Error(err))
			} else if !first {
				a.logger.Debug("Duplicate notification suppressed", zap.String("key", key))
				return
			}
		}

		for _, notifier := range a.notifiers {
			if err := notifier.Notify(ctx, n); err != nil {
				metrics.NotificationFailures.WithLabelValues(notifier.Name()).Inc()
				a.logger.Error("Failed to deliver admin notification",
					zap.String("notifier", notifier.Name()),
					zap.String("kind", string(n.Kind)),
					zap.String("userID", n.UserID),
					zap.Error(err))
			}
		}
	}()
}

// NotifyOutage reports a classifier outage, at most once per interval.
func (a *AdminNotifier) NotifyOutage(ctx context.Context, cause error) {
	if a == nil || !a.outage.Allow() {
		return
	}
	a.NotifyAdmins(ctx, models.NotifyModerationOutage, "", map[string]interface{}{
		"error": cause.Error(),
	})
}

// Wait blocks until every pending delivery has finished.
func (a *AdminNotifier) Wait() {
	a.wg.Wait()
}

// dedupKey identifies one enforcement transition: the same user reaching the
// same tier at the same count is notified once.
func dedupKey(n models.AdminNotification) (string, bool) {
	switch n.Kind {
	case models.NotifyWarning, models.NotifyChatSuspension, models.NotifyAccountSuspension, models.NotifyBan:
		return fmt.Sprintf("%s:%s:%v", n.Kind, n.UserID, n.Payload["violation_count"]), true
	default:
		return "", false
	}
}

// DedupKeyPrefix is the Redis key prefix for notification dedup markers.
const DedupKeyPrefix = "notify:dedup:"

// RedisDeduper stores dedup markers with SET NX so every instance shares them.
type RedisDeduper struct {
	client *redis.Client
}

func NewRedisDeduper(client *redis.Client) *RedisDeduper {
	return &RedisDeduper{client: client}
}

func (d *RedisDeduper) FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return d.client.SetNX(ctx, DedupKeyPrefix+key, 1, ttl).Result()
}

// MemoryDeduper is an in-process Deduper.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]time.Time), now: time.Now}
}

func (d *MemoryDeduper) FirstSeen(_ context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, expires := range d.seen {
		if !expires.IsZero() && now.After(expires) {
			delete(d.seen, k)
		}
	}

	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}
	d.seen[key] = expires
	return true, nil
}

// RedisNotifier publishes notifications on the admin pub/sub channel and
// keeps the most recent ones in a list for consoles that connect later.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = "admin:notifications"
	}
	return &RedisNotifier{client: client, channel: channel}
}

func (r *RedisNotifier) Name() string { return "redis" }

func (r *RedisNotifier) Notify(ctx context.Context, n models.AdminNotification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	key := recentNotificationsKey(r.channel)
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, r.channel, data)
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, recentNotificationsMax-1)
		pipe.Expire(ctx, key, recentNotificationsTTL)
		return nil
	})
	return err
}

// WebhookNotifier POSTs notifications as JSON.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: timeout}}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

func (w *WebhookNotifier) Notify(ctx context.Context, n models.AdminNotification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
