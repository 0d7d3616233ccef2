// Package httpactor provides a persona.Responder backed by a remote actor
// service over HTTP.
package httpactor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mytimedojo/bridge/pkg/persona"
)

const defaultTimeout = 15 * time.Second

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Client implements persona.Responder against the actor service's /respond
// endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for the actor service at baseURL
// (e.g., "http://actor:8000").
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("httpactor: baseURL must not be empty")
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// respondRequest is the actor service request body.
type respondRequest struct {
	Transcript string `json:"transcript"`
	Persona    string `json:"persona"`
}

// respondResponse is the actor service response body.
type respondResponse struct {
	Response string `json:"response"`
}

// Respond implements persona.Responder.
func (c *Client) Respond(ctx context.Context, transcript []string, profile persona.Profile) (string, error) {
	body, err := json.Marshal(respondRequest{
		Transcript: strings.Join(transcript, "\n"),
		Persona:    profile.ID,
	})
	if err != nil {
		return "", fmt.Errorf("httpactor: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/respond", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("httpactor: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("httpactor: respond: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("httpactor: respond: unexpected status %d: %s", resp.StatusCode, snippet)
	}

	var out respondResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("httpactor: decode response: %w", err)
	}
	return out.Response, nil
}
