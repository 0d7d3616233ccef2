package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidSynthesisProviders lists the synthesis backends the server can construct.
var ValidSynthesisProviders = []string{"elevenlabs", "mock"}

// ValidActorProviders lists the LLM backends usable in local actor mode.
var ValidActorProviders = []string{"ollama", "openai", "anthropic"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	if cfg.Synthesis.Provider != "" && !slices.Contains(ValidSynthesisProviders, cfg.Synthesis.Provider) {
		slog.Warn("unknown synthesis provider — may be a typo or third-party provider",
			"name", cfg.Synthesis.Provider,
			"known", ValidSynthesisProviders,
		)
	}
	if cfg.Synthesis.Provider == "elevenlabs" && cfg.Synthesis.APIKey == "" {
		errs = append(errs, errors.New("synthesis.api_key is required for the elevenlabs provider"))
	}
	if cfg.Synthesis.Provider == "" {
		slog.Warn("synthesis.provider is empty; voice output will be unavailable")
	}

	if cfg.Actor.Mode != "" && !cfg.Actor.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("actor.mode %q is invalid; valid values: http, local", cfg.Actor.Mode))
	}
	switch cfg.Actor.Mode {
	case ActorModeHTTP:
		if cfg.Actor.BaseURL == "" {
			errs = append(errs, errors.New("actor.base_url is required when actor.mode is http"))
		}
	case ActorModeLocal:
		if cfg.Actor.Provider == "" {
			errs = append(errs, errors.New("actor.provider is required when actor.mode is local"))
		} else if !slices.Contains(ValidActorProviders, cfg.Actor.Provider) {
			slog.Warn("unknown actor provider — may be a typo or third-party backend",
				"name", cfg.Actor.Provider,
				"known", ValidActorProviders,
			)
		}
		if cfg.Actor.Model == "" {
			errs = append(errs, errors.New("actor.model is required when actor.mode is local"))
		}
	}

	if cfg.Steward.BaseURL == "" {
		slog.Warn("steward.base_url is empty; sessions will be scored with zeroed credits")
	}

	if cfg.Personas.YAMLPath == "" && cfg.Personas.PostgresDSN == "" {
		slog.Warn("no persona source configured; only the built-in default persona will be available")
	}

	return errors.Join(errs...)
}
