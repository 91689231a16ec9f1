package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	for _, k := range []string{EnvPort, EnvStatusBackend, EnvGeminiAPIKey, EnvLLMAPIKey, EnvConfigFile} {
		t.Setenv(k, "")
	}

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != DefaultPort {
		t.Errorf("Port() = %d, want %d", cfg.Port(), DefaultPort)
	}
	if cfg.StatusBackend() != "memory" {
		t.Errorf("StatusBackend() = %q, want memory", cfg.StatusBackend())
	}
	if cfg.LLMEnabled() {
		t.Error("LLMEnabled() = true without an API key")
	}
	if cfg.LLMTimeout() != 15*time.Second {
		t.Errorf("LLMTimeout() = %v, want 15s", cfg.LLMTimeout())
	}
	if got := cfg.SupportedFormats(); len(got) != 5 || got[0] != "mp4" {
		t.Errorf("SupportedFormats() = %v", got)
	}
}

func TestNew_GeminiKeyEnablesLLM(t *testing.T) {
	t.Setenv(EnvGeminiAPIKey, "gem-key")
	t.Setenv(EnvLLMAPIKey, "")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.LLMEnabled() || cfg.LLMAPIKey() != "gem-key" {
		t.Errorf("LLMAPIKey() = %q, want gem-key", cfg.LLMAPIKey())
	}

	t.Setenv(EnvLLMAPIKey, "explicit")
	cfg, err = New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLMAPIKey() != "explicit" {
		t.Errorf("LLMAPIKey() = %q, want explicit", cfg.LLMAPIKey())
	}
}

func TestNew_InvalidPort(t *testing.T) {
	t.Setenv(EnvPort, "70000")
	if _, err := New(); err == nil {
		t.Fatal("expected error for out-of-range port")
	}

	t.Setenv(EnvPort, "abc")
	if _, err := New(); err == nil {
		t.Fatal("expected error for non-numeric port")
	}
}

func TestNew_RedisRequiresAddr(t *testing.T) {
	t.Setenv(EnvStatusBackend, "redis")
	t.Setenv(EnvRedisAddr, "")
	if _, err := New(); err == nil {
		t.Fatal("expected error for redis backend without address")
	}
}

func TestNew_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filmy.yaml")
	content := `
port: 9100
status_backend: sqlite
encode:
  preset: ultrafast
  crf: 30
encode_timeout: 5m
supported_formats: "mp4, .MOV"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfigFile, path)
	t.Setenv(EnvPort, "")
	t.Setenv(EnvStatusBackend, "")
	t.Setenv(EnvCRF, "18")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9100 {
		t.Errorf("Port() = %d, want 9100", cfg.Port())
	}
	if cfg.StatusBackend() != "sqlite" {
		t.Errorf("StatusBackend() = %q, want sqlite", cfg.StatusBackend())
	}
	enc := cfg.Encode()
	if enc.Preset != "ultrafast" {
		t.Errorf("Encode().Preset = %q, want ultrafast", enc.Preset)
	}
	if enc.CRF != 18 {
		t.Errorf("Encode().CRF = %d, want 18 (env overrides file)", enc.CRF)
	}
	if cfg.EncodeTimeout() != 5*time.Minute {
		t.Errorf("EncodeTimeout() = %v, want 5m", cfg.EncodeTimeout())
	}
	formats := cfg.SupportedFormats()
	if len(formats) != 2 || formats[1] != "mov" {
		t.Errorf("SupportedFormats() = %v, want [mp4 mov]", formats)
	}
}

func TestNew_MissingFile(t *testing.T) {
	t.Setenv(EnvConfigFile, filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := New(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestNew_CORSOrigins(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	t.Setenv(EnvCORSOrigins, "")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cfg.CORSOrigins(); len(got) != 1 || got[0] != "*" {
		t.Errorf("CORSOrigins() = %v, want [*]", got)
	}

	t.Setenv(EnvCORSOrigins, " http://localhost:5500/ ,https://filmy.example.com")
	cfg, err = New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"http://localhost:5500", "https://filmy.example.com"}
	got := cfg.CORSOrigins()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("CORSOrigins() = %v, want %v", got, want)
	}
}
