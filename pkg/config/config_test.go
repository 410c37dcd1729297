package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Listen != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.Listen)
	}
	if cfg.Admission.Window != 15*time.Minute || cfg.Admission.MaxRequests != 20 {
		t.Errorf("unexpected admission defaults %+v", cfg.Admission)
	}
	if cfg.Generation.TokensPerImage != 5 || cfg.Generation.MaxCount != 4 || cfg.Generation.DefaultCount != 3 {
		t.Errorf("unexpected generation defaults %+v", cfg.Generation)
	}
	if cfg.Generation.Pacing != time.Second {
		t.Errorf("expected 1s pacing, got %v", cfg.Generation.Pacing)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_GEMINI_KEY", "gm-test-123")

	content := `
listen: ":9090"
db_path: "test.db"
provider:
  api_key: ${TEST_GEMINI_KEY}
  model: test-image-model
  call_timeout: 30s
admission:
  window: 1m
  max_requests: 5
cache:
  enabled: true
  ttl: 30m
budget:
  enabled: true
  policies:
    - client_id: "*"
      max_tokens: 500
      period: daily
history:
  enabled: true
  db_path: hist.db
  max_per_client: 10
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Listen != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.Listen)
	}
	if cfg.Provider.APIKey != "gm-test-123" {
		t.Errorf("env var not expanded: got %s", cfg.Provider.APIKey)
	}
	if cfg.Provider.CallTimeout != 30*time.Second {
		t.Errorf("expected 30s timeout, got %v", cfg.Provider.CallTimeout)
	}
	if cfg.Admission.Window != time.Minute || cfg.Admission.MaxRequests != 5 {
		t.Errorf("unexpected admission %+v", cfg.Admission)
	}
	// Unset fields keep their defaults.
	if cfg.Admission.SweepInterval != 5*time.Minute {
		t.Errorf("expected default sweep interval, got %v", cfg.Admission.SweepInterval)
	}
	if cfg.Cache.TTL != 30*time.Minute {
		t.Errorf("expected 30m TTL, got %v", cfg.Cache.TTL)
	}
	if !cfg.Budget.Enabled {
		t.Error("expected budget enabled")
	}
	if len(cfg.Budget.Policies) != 1 || cfg.Budget.Policies[0].MaxTokens != 500 {
		t.Errorf("unexpected policies %+v", cfg.Budget.Policies)
	}
	if cfg.History.MaxPerClient != 10 || cfg.History.DBPath != "hist.db" {
		t.Errorf("unexpected history %+v", cfg.History)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("expected defaults, got %s", cfg.Listen)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "from-env")
	t.Setenv("RATE_LIMIT_WINDOW", "60000")
	t.Setenv("RATE_LIMIT_MAX", "7")
	t.Setenv("MAX_BATCH_COUNT", "2")
	t.Setenv("BANNED_TERMS", "alpha, beta ,,gamma")
	t.Setenv("GEMINI_API_BASE_URL", "")

	cfg := Default()
	cfg.Generation.DefaultCount = 2
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.APIKey != "from-env" {
		t.Errorf("expected api key override, got %q", cfg.Provider.APIKey)
	}
	if cfg.Admission.Window != time.Minute {
		t.Errorf("expected 1m window, got %v", cfg.Admission.Window)
	}
	if cfg.Admission.MaxRequests != 7 || cfg.Generation.MaxCount != 2 {
		t.Errorf("unexpected overrides %+v %+v", cfg.Admission, cfg.Generation)
	}
	if strings.Join(cfg.Prompt.BannedTerms, "|") != "alpha|beta|gamma" {
		t.Errorf("unexpected banned terms %v", cfg.Prompt.BannedTerms)
	}
	if cfg.Provider.BaseURL != "" {
		t.Errorf("empty env must not override, got %q", cfg.Provider.BaseURL)
	}
}

func TestApplyEnvRejectsGarbage(t *testing.T) {
	t.Setenv("RATE_LIMIT_MAX", "lots")
	t.Setenv("RATE_LIMIT_WINDOW", "soon")

	err := Default().ApplyEnv()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "RATE_LIMIT_MAX") || !strings.Contains(err.Error(), "RATE_LIMIT_WINDOW") {
		t.Errorf("expected both variables reported, got %v", err)
	}
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"900000": 15 * time.Minute,
		"15m":    15 * time.Minute,
		" 2s ":   2 * time.Second,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		if err != nil {
			t.Errorf("%q: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("%q: expected %v, got %v", in, want, got)
		}
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Admission.MaxRequests = 0
	cfg.Generation.DefaultCount = 9
	cfg.Prompt.Styles = []string{"plush", "teapot"}
	cfg.Prompt.Languages = nil

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"max_requests", "default_count", "teapot", "languages"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("AITOY_TEST_DOTENV=loaded\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AITOY_TEST_DOTENV", "")
	os.Unsetenv("AITOY_TEST_DOTENV")

	if err := LoadEnvFiles(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("AITOY_TEST_DOTENV"); got != "loaded" {
		t.Errorf("expected loaded, got %q", got)
	}
}
