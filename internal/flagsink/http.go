package flagsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/laylaymen/kriptobot-sub001/internal/planner"
	"golang.org/x/sync/semaphore"
)

// Config holds HTTP sink configuration
type Config struct {
	URL            string
	Timeout        time.Duration
	MaxConcurrency int64
	RetryCount     int
	RetryDelay     time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig(sinkURL string) Config {
	return Config{
		URL:            sinkURL,
		Timeout:        10 * time.Second,
		MaxConcurrency: 10,
		RetryCount:     1,
		RetryDelay:     100 * time.Millisecond,
	}
}

// HTTPSink posts enforce/rollback requests to the flag-serving system
type HTTPSink struct {
	config Config
	client *http.Client
	sem    *semaphore.Weighted
}

// NewHTTPSink creates an HTTP sink
func NewHTTPSink(config Config) *HTTPSink {
	return &HTTPSink{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		sem: semaphore.NewWeighted(config.MaxConcurrency),
	}
}

// enforceRequest is the wire format sent to the flag system
type enforceRequest struct {
	ExperimentID  string             `json:"experimentId"`
	PolicyVersion int                `json:"policyVersion"`
	Weights       map[string]float64 `json:"weights"`
	Basis         string             `json:"basis"`
	RampDelta     float64            `json:"rampDelta"`
	CooldownUntil time.Time          `json:"cooldownUntil"`
	Tag           string             `json:"tag"`
	Reason        string             `json:"reason,omitempty"`
}

// Enforce implements the Sink interface. Retries are bounded; the caller's
// context caps the total time.
func (s *HTTPSink) Enforce(ctx context.Context, plan *planner.Plan) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("semaphore acquire: %w", err)
	}
	defer s.sem.Release(1)

	path := "/v1/enforce"
	if plan.Tag == planner.TagRollback {
		path = "/v1/rollback"
	}

	body, err := json.Marshal(enforceRequest{
		ExperimentID:  plan.ExperimentID,
		PolicyVersion: plan.PolicyVersion,
		Weights:       plan.Weights,
		Basis:         plan.Basis,
		RampDelta:     plan.RampDelta,
		CooldownUntil: plan.CooldownUntil,
		Tag:           plan.Tag,
		Reason:        plan.Reason,
	})
	if err != nil {
		return fmt.Errorf("marshal enforce request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= s.config.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.config.RetryDelay):
			case <-ctx.Done():
				return fmt.Errorf("enforce canceled: %w", ctx.Err())
			}
		}

		if err := s.post(ctx, path, body); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	return fmt.Errorf("enforce failed after %d attempts: %w", s.config.RetryCount+1, lastErr)
}

// post performs a single request against the flag system
func (s *HTTPSink) post(ctx context.Context, path string, body []byte) error {
	url := strings.TrimSuffix(s.config.URL, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("http status %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}
