package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"limix_backend/config"
	"limix_backend/logger"
)

type predictRequest struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

type predictResponse struct {
	Probabilities []float64 `json:"probabilities"`
}

// HTTPScorer calls a model server over HTTP. POST <endpoint>/predict takes
// {"shape": [...], "data": [...]} and answers {"probabilities": [...]}.
type HTTPScorer struct {
	endpoint string
	client   *resty.Client
}

// NewHTTPScorer creates a scorer for the model server at endpoint
func NewHTTPScorer(endpoint string, timeout time.Duration) *HTTPScorer {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &HTTPScorer{endpoint: strings.TrimRight(endpoint, "/"), client: client}
}

// Score implements Scorer
func (s *HTTPScorer) Score(ctx context.Context, input Tensor) ([]float64, error) {
	url := s.endpoint + "/predict"
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(predictRequest{Shape: input.Shape[:], Data: input.Data}).
		Post(url)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", url, err)
	}
	if resp.StatusCode() >= 400 {
		return nil, fmt.Errorf("model server returned %s: %s", resp.Status(), strings.TrimSpace(string(resp.Body())))
	}

	var result predictResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("failed to parse model server response: %w", err)
	}
	return result.Probabilities, nil
}

// Ping checks that the model server is up
func (s *HTTPScorer) Ping(ctx context.Context) error {
	url := s.endpoint + "/health"
	resp, err := s.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return fmt.Errorf("model server unreachable at %s: %w", url, err)
	}
	if resp.StatusCode() >= 400 {
		return fmt.Errorf("model server at %s is not healthy: %s", url, resp.Status())
	}
	return nil
}

// HTTPLoader returns a loader that connects to the configured model server
func HTTPLoader(cfg config.HealthConfig) Loader {
	return func(ctx context.Context) (Scorer, error) {
		if cfg.ScorerEndpoint == "" {
			return nil, errors.New("health.scorer_endpoint is not configured")
		}
		s := NewHTTPScorer(cfg.ScorerEndpoint, cfg.ScorerTimeout)
		if err := s.Ping(ctx); err != nil {
			return nil, err
		}
		logger.Printf("🧠 Fish health model ready at %s\n", s.endpoint)
		return s, nil
	}
}
