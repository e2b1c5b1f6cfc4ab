package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
)

// ClassifierVerdict is the provider's answer for one input, before any
// local rules are applied.
type ClassifierVerdict struct {
	Flagged    bool
	Categories []string
	Scores     map[string]float64
}

// Classifier is the external content classification dependency.
type Classifier interface {
	Classify(ctx context.Context, texts []string) ([]ClassifierVerdict, error)
}

var ErrClassifierResponse = errors.New("classifier returned an unexpected response")

// HTTPClassifier talks to an OpenAI-compatible moderation endpoint.
type HTTPClassifier struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

func NewHTTPClassifier(endpoint, apiKey, model string, timeout time.Duration) *HTTPClassifier {
	return &HTTPClassifier{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}
}

type moderationRequest struct {
	Model string   `json:"model,omitempty"`
	Input []string `json:"input"`
}

type moderationResponse struct {
	Results []struct {
		Flagged        bool               `json:"flagged"`
		Categories     map[string]bool    `json:"categories"`
		CategoryScores map[string]float64 `json:"category_scores"`
	} `json:"results"`
}

// Classify sends every text in one request. Client errors (4xx) are
// returned as permanent so the gateway does not retry them.
func (c *HTTPClassifier) Classify(ctx context.Context, texts []string) ([]ClassifierVerdict, error) {
	body, err := json.Marshal(moderationRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to encode moderation request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build moderation request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("moderation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := fmt.Errorf("%w: status %d: %s", ErrClassifierResponse, resp.StatusCode, bytes.TrimSpace(snippet))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(statusErr)
		}
		return nil, statusErr
	}

	var decoded moderationResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClassifierResponse, err)
	}
	if len(decoded.Results) != len(texts) {
		return nil, fmt.Errorf("%w: %d results for %d inputs", ErrClassifierResponse, len(decoded.Results), len(texts))
	}

	verdicts := make([]ClassifierVerdict, len(decoded.Results))
	for i, r := range decoded.Results {
		categories := make([]string, 0, len(r.Categories))
		for name, hit := range r.Categories {
			if hit {
				categories = append(categories, name)
			}
		}
		sort.Strings(categories)

		scores := r.CategoryScores
		if scores == nil {
			scores = map[string]float64{}
		}
		verdicts[i] = ClassifierVerdict{
			Flagged:    r.Flagged || len(categories) > 0,
			Categories: categories,
			Scores:     scores,
		}
	}
	return verdicts, nil
}
