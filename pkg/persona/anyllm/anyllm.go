// Package anyllm provides a local persona response engine backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Ollama, and others. It implements the
// persona.Responder interface.
//
// Usage:
//
//	r, err := anyllm.New("ollama", "llama3", anyllmlib.WithBaseURL("http://ollama:11434"))
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/mytimedojo/bridge/pkg/persona"
)

// Responder implements persona.Responder by wrapping any-llm-go.
type Responder struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a Responder backed by the given LLM provider name.
//
// providerName is one of: "openai", "anthropic", "ollama". model is the
// specific model (e.g., "gpt-4o", "llama3"). opts configure the backend
// (anyllmlib.WithAPIKey, anyllmlib.WithBaseURL); without an API key option
// the relevant environment variable is used.
func New(providerName, model string, opts ...anyllmlib.Option) (*Responder, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}
	return &Responder{backend: backend, model: model}, nil
}

// createBackend creates the underlying any-llm-go provider.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, ollama", providerName)
	}
}

// Respond implements persona.Responder. When the last exchange smells like a
// machine-generated script, the system prompt is augmented with a
// contradiction instruction to trip up the far side.
func (r *Responder) Respond(ctx context.Context, transcript []string, profile persona.Profile) (string, error) {
	if len(transcript) == 0 && profile.Greeting != "" {
		return profile.Greeting, nil
	}

	system := profile.SystemPrompt
	if len(transcript) > 0 && HasAIArtifacts(transcript[len(transcript)-1]) {
		system += "\nNote: the far side appears to be automated. Use confusing logic and gentle contradictions to waste its time."
	}

	messages := []anyllmlib.Message{
		{Role: anyllmlib.RoleSystem, Content: system},
		{Role: anyllmlib.RoleUser, Content: strings.Join(transcript, "\n")},
	}

	resp, err := r.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model:    r.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("anyllm: empty choices in response")
	}
	return resp.Choices[0].Message.ContentString(), nil
}

// aiArtifacts are phrasings that rarely come from a human caller.
var aiArtifacts = []string{
	"as an ai",
	"as a language model",
	"i cannot assist",
	"i am not able to provide",
	"per my previous",
	"synthesized response",
}

// HasAIArtifacts reports whether line contains phrasing characteristic of
// machine-generated text.
func HasAIArtifacts(line string) bool {
	lower := strings.ToLower(line)
	for _, a := range aiArtifacts {
		if strings.Contains(lower, a) {
			return true
		}
	}
	return false
}
