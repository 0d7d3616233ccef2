// Package persona defines the Responder interface for persona-driven
// response engines.
//
// A responder is an opaque text source: given the conversation so far and an
// active persona profile, it returns the next utterance the agent should
// speak. The bridge never interprets the text — it hands it straight to the
// synthesis backend.
//
// Implementations must be safe for concurrent use.
package persona

import "context"

// Profile describes one synthetic caller persona.
type Profile struct {
	// ID is the persona identifier used on the wire (e.g., "hazel").
	ID string

	// Name is the display name.
	Name string

	// SystemPrompt steers the response engine while this persona is active.
	SystemPrompt string

	// VoiceID selects the synthesis voice for this persona.
	VoiceID string

	// Greeting is spoken when an engagement starts with no transcript.
	Greeting string
}

// Responder produces the next utterance for a conversation.
type Responder interface {
	// Respond returns what the persona says next given the transcript
	// history, most recent line last. Implementations should respect ctx
	// cancellation; responses are worthless once the session has moved on.
	Respond(ctx context.Context, transcript []string, profile Profile) (string, error)
}
