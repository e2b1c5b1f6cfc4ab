package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/AnshRaj112/persona-guard/internal/config"
	"github.com/AnshRaj112/persona-guard/internal/metrics"
	"github.com/AnshRaj112/persona-guard/internal/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

var ErrClassifierMismatch = errors.New("classifier returned a different number of verdicts")

// OutageReporter is told when the external classifier could not be used.
type OutageReporter interface {
	NotifyOutage(ctx context.Context, cause error)
}

// Gateway wraps the external classifier. It never returns an error: when the
// classifier is unavailable the verdict fails open and is marked Degraded.
// Local keyword rules run on every verdict and can only add categories.
type Gateway struct {
	classifier    Classifier
	rules         []CategoryRule
	breaker       *gobreaker.CircuitBreaker[[]ClassifierVerdict]
	outage        OutageReporter
	logger        *zap.Logger
	timeout       time.Duration
	maxRetries    uint64
	retryInterval time.Duration
	batchSize     int
	maxConcurrent int
}

// NewGateway creates a moderation gateway. classifier may be nil, in which
// case only the local rules are evaluated.
func NewGateway(cfg config.ModerationConfig, classifier Classifier, rules []CategoryRule, outage OutageReporter, logger *zap.Logger) *Gateway {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	logger = logger.Named("moderation")

	settings := gobreaker.Settings{
		Name:        "moderation",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(_ string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Classifier circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Gateway{
		classifier:    classifier,
		rules:         rules,
		breaker:       gobreaker.NewCircuitBreaker[[]ClassifierVerdict](settings),
		outage:        outage,
		logger:        logger,
		timeout:       timeout,
		maxRetries:    cfg.MaxRetries,
		retryInterval: 200 * time.Millisecond,
		batchSize:     batchSize,
		maxConcurrent: maxConcurrent,
	}
}

// Classify moderates a single text.
func (g *Gateway) Classify(ctx context.Context, text string) models.ModerationResult {
	return g.ClassifyBatch(ctx, []string{text})[0]
}

// ClassifyBatch moderates texts in chunks, classifying up to maxConcurrent
// chunks at once. The result at index i always belongs to texts[i]; a chunk
// whose call fails degrades every text in it.
func (g *Gateway) ClassifyBatch(ctx context.Context, texts []string) []models.ModerationResult {
	results := make([]models.ModerationResult, len(texts))

	pending := make([]int, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = models.SafeResult()
			metrics.ModerationRequests.WithLabelValues("safe").Inc()
			continue
		}
		pending = append(pending, i)
	}

	p := pool.New().WithMaxGoroutines(g.maxConcurrent)
	for start := 0; start < len(pending); start += g.batchSize {
		chunk := pending[start:min(start+g.batchSize, len(pending))]
		p.Go(func() {
			batch := make([]string, len(chunk))
			for j, i := range chunk {
				batch[j] = texts[i]
			}

			verdicts, err := g.callClassifier(ctx, batch)
			if err != nil {
				g.logger.Warn("Classifier unavailable, failing open",
					zap.Error(err),
					zap.Int("texts", len(batch)))
				if g.outage != nil {
					g.outage.NotifyOutage(ctx, err)
				}
			}

			for j, i := range chunk {
				var result models.ModerationResult
				switch {
				case err != nil:
					result = models.SafeResult()
					result.Degraded = true
				case verdicts == nil:
					result = models.SafeResult()
				default:
					result = resultFromVerdict(verdicts[j])
				}
				results[i] = g.applyLocalRules(texts[i], result)
				metrics.ModerationRequests.WithLabelValues(outcomeLabel(results[i])).Inc()
			}
		})
	}
	p.Wait()

	return results
}

// callClassifier runs one classifier request under the timeout, retrying
// transient errors through the circuit breaker. A nil classifier yields nil
// verdicts and no error.
func (g *Gateway) callClassifier(ctx context.Context, texts []string) (verdicts []ClassifierVerdict, err error) {
	if g.classifier == nil {
		return nil, nil
	}

	defer func() {
		if r := recover(); r != nil {
			verdicts, err = nil, fmt.Errorf("classifier panicked: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		metrics.ModerationLatency.Observe(time.Since(start).Seconds())
	}()

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(g.retryInterval),
			backoff.WithMaxInterval(2*time.Second),
		), g.maxRetries),
		ctx,
	)

	err = backoff.Retry(func() error {
		v, err := g.breaker.Execute(func() ([]ClassifierVerdict, error) {
			return g.classifier.Classify(ctx, texts)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			return err
		}
		if len(v) != len(texts) {
			return backoff.Permanent(fmt.Errorf("%w: got %d, want %d", ErrClassifierMismatch, len(v), len(texts)))
		}
		verdicts = v
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}
	return verdicts, nil
}

func resultFromVerdict(v ClassifierVerdict) models.ModerationResult {
	result := models.SafeResult()
	if len(v.Categories) > 0 {
		result.Categories = append(result.Categories, v.Categories...)
	}
	for k, score := range v.Scores {
		result.Scores[k] = score
	}
	if v.Flagged {
		result.Flagged = true
		result.Safe = false
	}
	return result
}

// applyLocalRules adds every local category found in text. It never clears a
// flag set by the classifier.
func (g *Gateway) applyLocalRules(text string, result models.ModerationResult) models.ModerationResult {
	var cleaned string
	if len(g.rules) > 0 {
		cleaned = CleanText(text)
	}
	for _, rule := range g.rules {
		matched := rule.Words.Match(cleaned)
		if len(matched) == 0 {
			continue
		}
		for _, m := range matched {
			if !slices.Contains(result.LocalMatches, m) {
				result.LocalMatches = append(result.LocalMatches, m)
			}
		}
		if !slices.Contains(result.Categories, rule.Category) {
			result.Categories = append(result.Categories, rule.Category)
			metrics.LocalRuleHits.WithLabelValues(rule.Category).Inc()
		}
		if result.Scores[rule.Category] < 1 {
			result.Scores[rule.Category] = 1
		}
		result.Flagged = true
		result.Safe = false
	}

	if result.Flagged && result.Message == "" && len(result.Categories) > 0 {
		result.Message = "Your message was flagged for: " + strings.Join(result.Categories, ", ")
	}
	return result
}

func outcomeLabel(r models.ModerationResult) string {
	switch {
	case r.Flagged:
		return "flagged"
	case r.Degraded:
		return "fail_open"
	default:
		return "safe"
	}
}
