// Package personastore provides persistent storage and management for persona
// definitions. A [Definition] is the full declarative configuration for an
// automated voice persona — system prompt, greeting, voice, and guard rails —
// and can be loaded from YAML config files, stored in a PostgreSQL database,
// or both.
//
// The primary abstraction is the [Store] interface, which offers CRUD and list
// operations. The reference implementation [PostgresStore] stores definitions
// in a single persona_definitions table using JSONB columns for structured
// sub-fields. [MemStore] is an in-memory implementation for tests and
// single-node deployments without a database.
//
// The conversion helper [ToProfile] bridges between the storage representation
// and the runtime [persona.Profile] used by the session layer.
package personastore

import (
	"errors"
	"fmt"
	"time"

	"github.com/mytimedojo/bridge/pkg/persona"
)

// Definition is the full declarative configuration for a voice persona.
// It can be loaded from YAML config files, stored in a database, or both.
type Definition struct {
	// ID is the unique identifier for this persona definition.
	ID string `yaml:"id" json:"id"`

	// Name is the persona's display name (e.g., "Sensei Marcus").
	Name string `yaml:"name" json:"name"`

	// SystemPrompt is the full instruction text injected into the LLM for
	// every response this persona generates.
	SystemPrompt string `yaml:"system_prompt" json:"system_prompt"`

	// Greeting is the line spoken when a session starts with an empty
	// transcript.
	Greeting string `yaml:"greeting" json:"greeting"`

	// Voice configures the synthesis voice used for this persona.
	Voice VoiceConfig `yaml:"voice" json:"voice"`

	// Specialties lists topic domains this persona handles. Triage uses them
	// to route callers.
	Specialties []string `yaml:"specialties" json:"specialties"`

	// GuardRails are hard constraints on the persona's responses.
	GuardRails []string `yaml:"guard_rails" json:"guard_rails"`

	// Attributes holds arbitrary key-value metadata for the persona.
	Attributes map[string]any `yaml:"attributes" json:"attributes"`

	// CreatedAt is the time the definition was first persisted.
	CreatedAt time.Time `json:"created_at" yaml:"-"`

	// UpdatedAt is the time the definition was last modified.
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// VoiceConfig describes the synthesis voice configuration for a persona.
type VoiceConfig struct {
	// Provider identifies which synthesis provider to use (e.g., "elevenlabs").
	Provider string `yaml:"provider" json:"provider"`

	// VoiceID is the provider-specific voice identifier.
	VoiceID string `yaml:"voice_id" json:"voice_id"`
}

// Validate checks the Definition for logical consistency. It returns a joined
// error describing every violation found, or nil if the definition is valid.
func (d *Definition) Validate() error {
	var errs []error

	if d.Name == "" {
		errs = append(errs, fmt.Errorf("personastore: name must not be empty"))
	}
	if d.SystemPrompt == "" {
		errs = append(errs, fmt.Errorf("personastore: system_prompt must not be empty"))
	}

	return errors.Join(errs...)
}

// ToProfile converts a [Definition] into a runtime [persona.Profile] used by
// the session layer.
func ToProfile(def *Definition) persona.Profile {
	return persona.Profile{
		ID:           def.ID,
		Name:         def.Name,
		SystemPrompt: def.SystemPrompt,
		VoiceID:      def.Voice.VoiceID,
		Greeting:     def.Greeting,
	}
}
