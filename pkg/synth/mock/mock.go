// Package mock provides a test double for the synth.Provider interface.
//
// Use Provider to feed controlled audio chunks to consumers and to verify
// which text and voice were requested.
package mock

import (
	"bytes"
	"context"
	"sync"
)

// StreamCall records a single invocation of Stream or Synthesize.
type StreamCall struct {
	// Text is the utterance passed to the provider.
	Text string
	// VoiceID is the requested voice.
	VoiceID string
}

// Provider is a mock implementation of synth.Provider.
type Provider struct {
	mu sync.Mutex

	// Chunks is the sequence of audio byte slices emitted by Stream.
	Chunks [][]byte

	// Err, if non-nil, is returned by Stream and Synthesize.
	Err error

	// Calls records every invocation in order.
	Calls []StreamCall
}

// Stream returns a channel pre-loaded with Chunks. It honours ctx
// cancellation between chunks, closing the channel early.
func (p *Provider) Stream(ctx context.Context, text, voiceID string) (<-chan []byte, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, StreamCall{Text: text, VoiceID: voiceID})
	chunks := p.Chunks
	err := p.Err
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Synthesize concatenates Chunks.
func (p *Provider) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	ch, err := p.Stream(ctx, text, voiceID)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	for c := range ch {
		buf.Write(c)
	}
	return buf.Bytes(), nil
}

// CallCount returns how many synthesis requests were made.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
