package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/byheaven/aitoy/pkg/models"
)

// Config holds all aitoy configuration.
type Config struct {
	Listen     string               `yaml:"listen"`
	DBPath     string               `yaml:"db_path"`
	LogLevel   string               `yaml:"log_level"`
	LogFormat  string               `yaml:"log_format"`
	Provider   ProviderConfig       `yaml:"provider"`
	Admission  AdmissionConfig      `yaml:"admission"`
	Prompt     PromptConfig         `yaml:"prompt"`
	Generation GenerationConfig     `yaml:"generation"`
	Gateway    GatewayConfig        `yaml:"gateway"`
	Cache      CacheConfig          `yaml:"cache"`
	Budget     BudgetConfig         `yaml:"budget"`
	History    models.HistoryConfig `yaml:"history"`
	Redis      RedisConfig          `yaml:"redis"`
	Tracing    TracingConfig        `yaml:"tracing"`
}

// ProviderConfig defines the upstream image model and outbound limits.
type ProviderConfig struct {
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	RPS         float64       `yaml:"rps"`
	Burst       int           `yaml:"burst"`
	MaxInFlight int64         `yaml:"max_in_flight"`
}

// AdmissionConfig controls the per-client sliding window.
type AdmissionConfig struct {
	Window        time.Duration `yaml:"window"`
	MaxRequests   int           `yaml:"max_requests"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	MaxEntries    int           `yaml:"max_entries"`
}

// PromptConfig controls prompt validation and the accepted vocabularies.
type PromptConfig struct {
	MaxLength         int      `yaml:"max_length"`
	BannedTerms       []string `yaml:"banned_terms"`
	Languages         []string `yaml:"languages"`
	Styles            []string `yaml:"styles"`
	MaxReferenceBytes int      `yaml:"max_reference_bytes"`
}

// GenerationConfig sets token prices and batch bounds.
type GenerationConfig struct {
	TokensPerImage      int           `yaml:"tokens_per_image"`
	ReferenceSurcharge  int           `yaml:"reference_surcharge"`
	LongPromptSurcharge int           `yaml:"long_prompt_surcharge"`
	LongPromptThreshold int           `yaml:"long_prompt_threshold"`
	DefaultCount        int           `yaml:"default_count"`
	MaxCount            int           `yaml:"max_count"`
	Pacing              time.Duration `yaml:"pacing"`
}

// GatewayConfig controls the HTTP surface.
type GatewayConfig struct {
	TrustForwarded bool   `yaml:"trust_forwarded"`
	AllowedOrigin  string `yaml:"allowed_origin"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
}

// CacheConfig controls the provider result cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// BudgetConfig controls token budget enforcement.
type BudgetConfig struct {
	Enabled  bool                  `yaml:"enabled"`
	Policies []models.BudgetPolicy `yaml:"policies"`
}

// RedisConfig points admission statistics at a Redis server. Empty Addr
// keeps statistics in memory.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	SampleRatio float64 `yaml:"sample_ratio"`
	Pretty      bool    `yaml:"pretty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:    ":8080",
		DBPath:    "aitoy.db",
		LogLevel:  "info",
		LogFormat: "text",
		Provider: ProviderConfig{
			Model:       "gemini-2.5-flash-image-preview",
			CallTimeout: 60 * time.Second,
			RPS:         2,
			Burst:       2,
			MaxInFlight: 4,
		},
		Admission: AdmissionConfig{
			Window:        15 * time.Minute,
			MaxRequests:   20,
			SweepInterval: 5 * time.Minute,
			MaxEntries:    100000,
		},
		Prompt: PromptConfig{
			MaxLength:         1000,
			BannedTerms:       []string{"violent", "violence", "sexual", "gore", "weapon", "drug", "hate"},
			Languages:         []string{"en", "zh"},
			Styles:            []string{"blindBox", "plush", "keychain", "figure"},
			MaxReferenceBytes: 10 << 20,
		},
		Generation: GenerationConfig{
			TokensPerImage:      5,
			ReferenceSurcharge:  3,
			LongPromptSurcharge: 2,
			LongPromptThreshold: 200,
			DefaultCount:        3,
			MaxCount:            4,
			Pacing:              time.Second,
		},
		Gateway: GatewayConfig{
			TrustForwarded: true,
			AllowedOrigin:  "*",
			MaxBodyBytes:   16 << 20,
		},
		Cache: CacheConfig{
			Enabled: false,
			TTL:     24 * time.Hour,
		},
		Budget: BudgetConfig{
			Enabled: false,
		},
		History: models.HistoryConfig{
			Enabled:       true,
			DBPath:        "aitoy_history.db",
			RetentionDays: 30,
			MaxPerClient:  50,
			StoreImages:   false,
		},
		Redis: RedisConfig{
			Prefix: "aitoy:admission",
			TTL:    24 * time.Hour,
		},
		Tracing: TracingConfig{
			SampleRatio: 1,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to Default otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// Validate reports configuration that would make the gateway misbehave.
func (c *Config) Validate() error {
	var errs []error
	if c.Admission.Window <= 0 {
		errs = append(errs, errors.New("admission.window must be positive"))
	}
	if c.Admission.MaxRequests <= 0 {
		errs = append(errs, errors.New("admission.max_requests must be positive"))
	}
	if c.Admission.SweepInterval < 0 {
		errs = append(errs, errors.New("admission.sweep_interval must not be negative"))
	}
	if c.Generation.TokensPerImage <= 0 {
		errs = append(errs, errors.New("generation.tokens_per_image must be positive"))
	}
	if c.Generation.MaxCount < 1 {
		errs = append(errs, errors.New("generation.max_count must be at least 1"))
	}
	if c.Generation.DefaultCount < 1 || c.Generation.DefaultCount > c.Generation.MaxCount {
		errs = append(errs, fmt.Errorf("generation.default_count must be within 1..%d", c.Generation.MaxCount))
	}
	if c.Generation.Pacing < 0 {
		errs = append(errs, errors.New("generation.pacing must not be negative"))
	}
	if c.Prompt.MaxLength <= 0 {
		errs = append(errs, errors.New("prompt.max_length must be positive"))
	}
	if len(c.Prompt.Languages) == 0 {
		errs = append(errs, errors.New("prompt.languages must not be empty"))
	}
	for _, l := range c.Prompt.Languages {
		if !knownLanguage(l) {
			errs = append(errs, fmt.Errorf("prompt.languages: unknown language %q", l))
		}
	}
	if len(c.Prompt.Styles) == 0 {
		errs = append(errs, errors.New("prompt.styles must not be empty"))
	}
	for _, s := range c.Prompt.Styles {
		if !knownStyle(s) {
			errs = append(errs, fmt.Errorf("prompt.styles: unknown style %q", s))
		}
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache.ttl must be positive when the cache is enabled"))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, errors.New("tracing.sample_ratio must be within 0..1"))
	}
	return errors.Join(errs...)
}

func knownLanguage(s string) bool {
	for _, l := range models.Languages {
		if string(l) == s {
			return true
		}
	}
	return false
}

func knownStyle(s string) bool {
	for _, st := range models.Styles {
		if string(st) == s {
			return true
		}
	}
	return false
}
