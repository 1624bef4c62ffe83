package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Synthesis.Model != "tts-1" {
		t.Fatalf("expected default model, got %q", cfg.Synthesis.Model)
	}
	if cfg.Synthesis.ChunkLimit != 4096 {
		t.Fatalf("expected default chunk limit, got %d", cfg.Synthesis.ChunkLimit)
	}
	if cfg.Client.StandardRPM != 50 || cfg.Client.HDRPM != 3 {
		t.Fatalf("expected default rate limits, got %d/%d", cfg.Client.StandardRPM, cfg.Client.HDRPM)
	}
	if cfg.Pricing.BlockChars != 1000 {
		t.Fatalf("expected default block size, got %d", cfg.Pricing.BlockChars)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chanter.yaml")
	doc := `
synthesis:
  model: tts-1-hd
  voice: nova
  format: flac
client:
  max_attempts: 5
history:
  path: ""
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Synthesis.Model != "tts-1-hd" || cfg.Synthesis.Voice != "nova" || cfg.Synthesis.Format != "flac" {
		t.Fatalf("expected file overrides, got %+v", cfg.Synthesis)
	}
	if cfg.Client.MaxAttempts != 5 {
		t.Fatalf("expected max_attempts 5, got %d", cfg.Client.MaxAttempts)
	}
	if cfg.History.Path != "" {
		t.Fatalf("expected history disabled, got %q", cfg.History.Path)
	}
	if cfg.Client.BaseURL == "" {
		t.Fatal("expected untouched defaults to survive file load")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHANTER_SYNTHESIS_MODEL", "tts-1-hd")
	t.Setenv("CHANTER_SYNTHESIS_VOICE", "onyx")
	t.Setenv("CHANTER_SYNTHESIS_SPEED", "1.5")
	t.Setenv("CHANTER_SYNTHESIS_CHUNK_LIMIT", "2048")
	t.Setenv("CHANTER_SYNTHESIS_RETAIN_CHUNKS", "true")
	t.Setenv("CHANTER_CLIENT_BASE_URL", "http://localhost:9999/v1")
	t.Setenv("CHANTER_CLIENT_RETRY_DELAY_MS", "100")
	t.Setenv("CHANTER_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("CHANTER_BUS_ENABLED", "true")
	t.Setenv("CHANTER_HISTORY_MAX_JOBS", "42")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Synthesis.Model != "tts-1-hd" || cfg.Synthesis.Voice != "onyx" {
		t.Fatalf("expected synthesis overrides, got %+v", cfg.Synthesis)
	}
	if cfg.Synthesis.Speed != 1.5 {
		t.Fatalf("expected speed override, got %v", cfg.Synthesis.Speed)
	}
	if cfg.Synthesis.ChunkLimit != 2048 || !cfg.Synthesis.RetainChunks {
		t.Fatalf("expected chunk overrides, got %+v", cfg.Synthesis)
	}
	if cfg.Client.BaseURL != "http://localhost:9999/v1" || cfg.Client.RetryDelayMS != 100 {
		t.Fatalf("expected client overrides, got %+v", cfg.Client)
	}
	if len(cfg.Bus.Servers) != 2 || !cfg.Bus.Enabled {
		t.Fatalf("expected bus overrides, got %+v", cfg.Bus)
	}
	if cfg.History.MaxJobs != 42 {
		t.Fatalf("expected history override, got %d", cfg.History.MaxJobs)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"model", "CHANTER_SYNTHESIS_MODEL", "tts-9"},
		{"voice", "CHANTER_SYNTHESIS_VOICE", "gandalf"},
		{"format", "CHANTER_SYNTHESIS_FORMAT", "webm"},
		{"speed", "CHANTER_SYNTHESIS_SPEED", "9.5"},
		{"chunk_limit", "CHANTER_SYNTHESIS_CHUNK_LIMIT", "9000"},
		{"attempts", "CHANTER_CLIENT_MAX_ATTEMPTS", "0"},
		{"rpm", "CHANTER_CLIENT_STANDARD_RPM", "0"},
		{"block", "CHANTER_PRICING_BLOCK_CHARS", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(""); err == nil {
				t.Fatalf("expected validation error for %s=%s", tc.key, tc.value)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
