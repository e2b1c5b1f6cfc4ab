package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AnshRaj112/persona-guard/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingOutage struct {
	mu    sync.Mutex
	calls int
	last  error
}

func (o *countingOutage) NotifyOutage(_ context.Context, cause error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	o.last = cause
}

func newTestGateway(cfg config.ModerationConfig, classifier Classifier, rules []CategoryRule, outage OutageReporter) *Gateway {
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	if cfg.BreakerTimeout == 0 {
		cfg.BreakerTimeout = time.Minute
	}
	g := NewGateway(cfg, classifier, rules, outage, zap.NewNop())
	g.retryInterval = time.Millisecond
	return g
}

func flagWhen(substr string, category string) func([]string) ([]ClassifierVerdict, error) {
	return func(texts []string) ([]ClassifierVerdict, error) {
		out := make([]ClassifierVerdict, len(texts))
		for i, text := range texts {
			out[i] = ClassifierVerdict{Scores: map[string]float64{category: 0.01}}
			if strings.Contains(text, substr) {
				out[i] = ClassifierVerdict{
					Flagged:    true,
					Categories: []string{category},
					Scores:     map[string]float64{category: 0.97},
				}
			}
		}
		return out, nil
	}
}

func TestGatewayFailsOpenOnClassifierError(t *testing.T) {
	t.Parallel()

	classifier := &stubClassifier{fn: func([]string) ([]ClassifierVerdict, error) {
		return nil, errors.New("connection refused")
	}}
	outage := &countingOutage{}
	g := newTestGateway(config.ModerationConfig{MaxRetries: 1}, classifier, nil, outage)

	result := g.Classify(context.Background(), "hello there")

	assert.True(t, result.Safe)
	assert.False(t, result.Flagged)
	assert.True(t, result.Degraded)
	assert.Equal(t, 2, classifier.callCount(), "one retry after the first failure")
	assert.Equal(t, 1, outage.calls)
	assert.ErrorContains(t, outage.last, "connection refused")
}

func TestGatewayRecoversFromClassifierPanic(t *testing.T) {
	t.Parallel()

	classifier := &stubClassifier{fn: func([]string) ([]ClassifierVerdict, error) {
		panic("boom")
	}}
	g := newTestGateway(config.ModerationConfig{}, classifier, nil, nil)

	var result = g.Classify(context.Background(), "hello")
	assert.True(t, result.Safe)
	assert.True(t, result.Degraded)
}

func TestGatewayRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	flag := flagWhen("insult", "harassment")
	var failed bool
	classifier := &stubClassifier{}
	classifier.fn = func(texts []string) ([]ClassifierVerdict, error) {
		if !failed {
			failed = true
			return nil, errors.New("503")
		}
		return flag(texts)
	}
	g := newTestGateway(config.ModerationConfig{MaxRetries: 2}, classifier, nil, nil)

	result := g.Classify(context.Background(), "an insult")

	assert.True(t, result.Flagged)
	assert.False(t, result.Degraded)
	assert.Equal(t, []string{"harassment"}, result.Categories)
	assert.InDelta(t, 0.97, result.Scores["harassment"], 1e-9)
	assert.Equal(t, 2, classifier.callCount())
}

func TestGatewayVerdictCountMismatchIsNotRetried(t *testing.T) {
	t.Parallel()

	classifier := &stubClassifier{fn: func([]string) ([]ClassifierVerdict, error) {
		return []ClassifierVerdict{}, nil
	}}
	g := newTestGateway(config.ModerationConfig{MaxRetries: 3}, classifier, nil, nil)

	result := g.Classify(context.Background(), "hello")

	assert.True(t, result.Degraded)
	assert.Equal(t, 1, classifier.callCount())
}

func TestGatewayBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	classifier := &stubClassifier{fn: func([]string) ([]ClassifierVerdict, error) {
		return nil, errors.New("timeout")
	}}
	g := newTestGateway(config.ModerationConfig{BreakerFailures: 2}, classifier, nil, nil)

	for i := 0; i < 4; i++ {
		result := g.Classify(context.Background(), "hello")
		require.True(t, result.Degraded)
	}
	assert.Equal(t, 2, classifier.callCount(), "open breaker short-circuits later calls")
}

func TestGatewayBatchPreservesOrder(t *testing.T) {
	t.Parallel()

	classifier := &stubClassifier{fn: flagWhen("bad", "harassment")}
	g := newTestGateway(config.ModerationConfig{BatchSize: 2, MaxConcurrent: 3}, classifier, nil, nil)

	texts := []string{"good", "bad one", "", "fine", "bad two", "ok", "bad three"}
	results := g.ClassifyBatch(context.Background(), texts)

	require.Len(t, results, len(texts))
	for i, text := range texts {
		assert.Equal(t, strings.Contains(text, "bad"), results[i].Flagged, "text %d %q", i, text)
	}
	assert.True(t, results[2].Safe)

	classifier.mu.Lock()
	defer classifier.mu.Unlock()
	assert.Len(t, classifier.batches, 3, "six non-empty texts in chunks of two")
	for _, batch := range classifier.batches {
		assert.LessOrEqual(t, len(batch), 2)
		assert.NotContains(t, batch, "")
	}
}

func TestGatewayEmptyTextSkipsClassifier(t *testing.T) {
	t.Parallel()

	classifier := &stubClassifier{fn: flagWhen("x", "harassment")}
	g := newTestGateway(config.ModerationConfig{}, classifier, nil, nil)

	result := g.Classify(context.Background(), "   ")

	assert.True(t, result.Safe)
	assert.False(t, result.Degraded)
	assert.Zero(t, classifier.callCount())
}

func TestGatewayLocalRulesOnlyStrengthen(t *testing.T) {
	t.Parallel()

	classifier := &stubClassifier{fn: flagWhen("insult", "harassment")}
	g := newTestGateway(config.ModerationConfig{}, classifier, DefaultCategoryRules(), nil)

	threat := g.Classify(context.Background(), "I will kill you")
	assert.True(t, threat.Flagged)
	assert.False(t, threat.Safe)
	assert.Equal(t, []string{"violence"}, threat.Categories)
	assert.Equal(t, 1.0, threat.Scores["violence"])
	assert.Equal(t, "Your message was flagged for: violence", threat.Message)
	assert.Equal(t, []string{"i will kill you", "kill you"}, threat.LocalMatches)

	insult := g.Classify(context.Background(), "an insult")
	assert.True(t, insult.Flagged, "local rules never clear a classifier flag")
	assert.Equal(t, []string{"harassment"}, insult.Categories)
	assert.Equal(t, "Your message was flagged for: harassment", insult.Message)
}

func TestGatewayLocalRulesIgnoreLookalikeWords(t *testing.T) {
	t.Parallel()

	g := newTestGateway(config.ModerationConfig{}, nil, DefaultCategoryRules(), nil)

	for _, text := range []string{
		"I shot you an email yesterday",
		"good luck with the photo shoot",
		"took a few shots at the range of colours",
	} {
		result := g.Classify(context.Background(), text)
		assert.False(t, result.Flagged, text)
		assert.Empty(t, result.LocalMatches, text)
	}
}

func TestGatewayLocalRulesApplyWhenDegraded(t *testing.T) {
	t.Parallel()

	classifier := &stubClassifier{fn: func([]string) ([]ClassifierVerdict, error) {
		return nil, errors.New("down")
	}}
	g := newTestGateway(config.ModerationConfig{}, classifier, DefaultCategoryRules(), nil)

	result := g.Classify(context.Background(), "i want to die")

	assert.True(t, result.Degraded)
	assert.True(t, result.Flagged)
	assert.Contains(t, result.Categories, "self-harm")
}

func TestGatewayWithoutClassifierIsNotDegraded(t *testing.T) {
	t.Parallel()

	g := newTestGateway(config.ModerationConfig{}, nil, DefaultCategoryRules(), nil)

	safe := g.Classify(context.Background(), "tell me a story about dragons")
	assert.True(t, safe.Safe)
	assert.False(t, safe.Degraded)

	flagged := g.Classify(context.Background(), "I want to end my life")
	assert.True(t, flagged.Flagged)
	assert.Equal(t, []string{"self-harm"}, flagged.Categories)
}
