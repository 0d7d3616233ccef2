// Package steward provides the client for the scoring service that turns a
// finished call into credits and level progression.
package steward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// defaultTimeout bounds a single scoring request.
const defaultTimeout = 10 * time.Second

// Report describes a finished call submitted for scoring.
type Report struct {
	// SessionID identifies the call being scored.
	SessionID string `json:"session_id"`

	// DurationSeconds is the total call duration.
	DurationSeconds float64 `json:"duration_seconds"`

	// LiveSeconds is the portion of the call handled by a live operator.
	LiveSeconds float64 `json:"live_seconds"`

	// Multiplier is the XP multiplier in effect (5 while an operator is live).
	Multiplier int `json:"multiplier"`

	// Persona is the persona that handled the automated portion.
	Persona string `json:"persona,omitempty"`
}

// Score is the scoring outcome returned by the service.
type Score struct {
	CreditsEarned float64 `json:"credits_earned"`
	NewLevel      int     `json:"new_level"`
	Mode          string  `json:"mode"`
}

// Scorer scores a finished call. Implementations must respect ctx.
type Scorer interface {
	LogCall(ctx context.Context, report Report) (Score, error)
}

// Client is an HTTP [Scorer] backed by the steward service.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option customises a [Client].
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Useful in tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a steward client for the service at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// LogCall submits the call report to POST {base}/api/log_call and returns the
// resulting score.
func (c *Client) LogCall(ctx context.Context, report Report) (Score, error) {
	body, err := json.Marshal(report)
	if err != nil {
		return Score{}, fmt.Errorf("steward: encode report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/log_call", bytes.NewReader(body))
	if err != nil {
		return Score{}, fmt.Errorf("steward: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Score{}, fmt.Errorf("steward: log call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Score{}, fmt.Errorf("steward: log call: unexpected status %d", resp.StatusCode)
	}

	var score Score
	if err := json.NewDecoder(resp.Body).Decode(&score); err != nil {
		return Score{}, fmt.Errorf("steward: decode score: %w", err)
	}
	return score, nil
}

// Noop is a [Scorer] used when no steward service is configured. It returns a
// zeroed score so sessions still complete cleanly.
type Noop struct{}

// LogCall returns a zero score in automated mode.
func (Noop) LogCall(_ context.Context, report Report) (Score, error) {
	mode := "auto"
	if report.LiveSeconds > 0 {
		mode = "live"
	}
	return Score{Mode: mode}, nil
}
