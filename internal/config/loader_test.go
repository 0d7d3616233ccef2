package config_test

import (
	"strings"
	"testing"

	"github.com/mytimedojo/bridge/internal/config"
)

func TestValidate_HTTPActorRequiresBaseURL(t *testing.T) {
	t.Parallel()
	yaml := `
actor:
  mode: http
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for http actor without base_url, got nil")
	}
	if !strings.Contains(err.Error(), "actor.base_url") {
		t.Errorf("error should mention actor.base_url, got: %v", err)
	}
}

func TestValidate_LocalActorRequiresProviderAndModel(t *testing.T) {
	t.Parallel()
	yaml := `
actor:
  mode: local
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for local actor without provider/model, got nil")
	}
	if !strings.Contains(err.Error(), "actor.provider") {
		t.Errorf("error should mention actor.provider, got: %v", err)
	}
	if !strings.Contains(err.Error(), "actor.model") {
		t.Errorf("error should mention actor.model, got: %v", err)
	}
}

func TestValidate_ElevenLabsRequiresAPIKey(t *testing.T) {
	t.Parallel()
	yaml := `
synthesis:
  provider: elevenlabs
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for elevenlabs without api_key, got nil")
	}
	if !strings.Contains(err.Error(), "synthesis.api_key") {
		t.Errorf("error should mention synthesis.api_key, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_TLSRequiresBothFiles(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  tls:
    cert_file: /etc/dojo/cert.pem
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for tls without key_file, got nil")
	}
	if !strings.Contains(err.Error(), "key_file") {
		t.Errorf("error should mention key_file, got: %v", err)
	}
}

func TestValidate_CompleteConfigIsValid(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8800"
  log_level: info
synthesis:
  provider: elevenlabs
  api_key: sk-test
  voice_id: voice-1
actor:
  mode: local
  provider: ollama
  model: "llama3.1:8b"
steward:
  base_url: http://localhost:8801
triage:
  base_url: http://localhost:8802
personas:
  yaml_path: personas.yaml
  default: sensei
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8800" {
		t.Errorf("listen_addr = %q, want :8800", cfg.Server.ListenAddr)
	}
	if cfg.Personas.Default != "sensei" {
		t.Errorf("personas.default = %q, want sensei", cfg.Personas.Default)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
actor:
  mode: http
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
	if !strings.Contains(errStr, "actor.base_url") {
		t.Errorf("error should mention actor.base_url, got: %v", err)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8800"
bogus_section:
  foo: bar
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown top-level field, got nil")
	}
}
