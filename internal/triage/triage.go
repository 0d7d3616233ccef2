// Package triage provides the client for the foreman service that routes an
// incoming caller to a persona before the session starts.
package triage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultTimeout = 10 * time.Second

// Request describes an incoming caller to be routed.
type Request struct {
	// CallerID identifies the caller, when known.
	CallerID string `json:"caller_id,omitempty"`

	// Intent is a free-text summary of what the caller wants.
	Intent string `json:"intent,omitempty"`
}

// Decision is the routing outcome for a caller.
type Decision struct {
	// Persona is the persona ID that should take the call.
	Persona string `json:"persona"`

	// Priority orders the call in the operator queue. Higher is sooner.
	Priority int `json:"priority"`

	// Reason is a human-readable explanation of the routing choice.
	Reason string `json:"reason,omitempty"`
}

// Router routes an incoming caller to a persona.
type Router interface {
	Triage(ctx context.Context, req Request) (Decision, error)
}

// Client is an HTTP [Router] backed by the foreman service.
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

// NewClient creates a triage client for the service at baseURL.
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

// Triage submits the caller to POST {base}/triage and returns the routing
// decision.
func (c *Client) Triage(ctx context.Context, treq Request) (Decision, error) {
	body, err := json.Marshal(treq)
	if err != nil {
		return Decision{}, fmt.Errorf("triage: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/triage", bytes.NewReader(body))
	if err != nil {
		return Decision{}, fmt.Errorf("triage: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Decision{}, fmt.Errorf("triage: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Decision{}, fmt.Errorf("triage: unexpected status %d", resp.StatusCode)
	}

	var dec Decision
	if err := json.NewDecoder(resp.Body).Decode(&dec); err != nil {
		return Decision{}, fmt.Errorf("triage: decode decision: %w", err)
	}
	return dec, nil
}

// Static is a [Router] that always routes to a fixed persona. Used when no
// foreman service is configured.
type Static struct {
	// Persona is the persona every caller is routed to.
	Persona string
}

// Triage returns the fixed persona with default priority.
func (s Static) Triage(_ context.Context, _ Request) (Decision, error) {
	return Decision{Persona: s.Persona, Reason: "triage disabled"}, nil
}
