// Package synth defines the Provider interface for voice synthesis backends.
//
// A synthesis provider wraps a speech service (e.g., ElevenLabs) and presents
// a uniform streaming interface: one utterance in, an ordered sequence of
// opaque binary audio frames out. The bridge server forwards those frames to
// the connected client verbatim; it never inspects or transcodes them.
//
// Implementations must be safe for concurrent use.
package synth

import "context"

// Provider is the abstraction over any voice synthesis backend.
type Provider interface {
	// Stream synthesises text with the given voice and returns a channel of
	// raw audio chunks in playback order. The channel is closed when the
	// utterance is fully synthesised or when ctx is cancelled — cancellation
	// is how the caller cuts a stream short on barge-in.
	//
	// voiceID may be empty to use the provider default. A non-nil error is
	// returned only if the stream cannot be started; mid-stream failures are
	// signalled by closing the channel early, and callers should check
	// ctx.Err() to distinguish cancellation.
	Stream(ctx context.Context, text, voiceID string) (<-chan []byte, error)

	// Synthesize renders the complete audio clip for text in one call.
	// Primarily for the one-shot REST path; Stream is preferred for calls.
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}
