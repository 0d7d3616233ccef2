// Package mock provides a test double for the persona.Responder interface.
package mock

import (
	"context"
	"sync"

	"github.com/mytimedojo/bridge/pkg/persona"
)

// RespondCall records a single invocation of Respond.
type RespondCall struct {
	// Transcript is a copy of the transcript passed to Respond.
	Transcript []string
	// Profile is the persona profile passed to Respond.
	Profile persona.Profile
}

// Responder is a mock implementation of persona.Responder.
type Responder struct {
	mu sync.Mutex

	// Response is returned by Respond.
	Response string

	// Err, if non-nil, is returned instead of Response.
	Err error

	// Calls records every invocation in order.
	Calls []RespondCall
}

// Respond implements persona.Responder.
func (r *Responder) Respond(_ context.Context, transcript []string, profile persona.Profile) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]string, len(transcript))
	copy(cp, transcript)
	r.Calls = append(r.Calls, RespondCall{Transcript: cp, Profile: profile})
	if r.Err != nil {
		return "", r.Err
	}
	return r.Response, nil
}
