package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads the given dotenv files into the process environment.
// Missing files are skipped and already-set variables win.
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env.local", ".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// ApplyEnv overrides deployment settings from environment variables.
func (c *Config) ApplyEnv() error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = n
	}
	dur := func(name string, dst *time.Duration) {
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			return
		}
		d, err := ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = d
	}

	str("GEMINI_API_KEY", &c.Provider.APIKey)
	str("GEMINI_IMAGE_MODEL", &c.Provider.Model)
	str("GEMINI_API_BASE_URL", &c.Provider.BaseURL)
	dur("RATE_LIMIT_WINDOW", &c.Admission.Window)
	num("RATE_LIMIT_MAX", &c.Admission.MaxRequests)
	num("TOKENS_PER_GENERATION", &c.Generation.TokensPerImage)
	num("MAX_BATCH_COUNT", &c.Generation.MaxCount)
	num("MAX_PROMPT_LENGTH", &c.Prompt.MaxLength)
	str("LISTEN_ADDR", &c.Listen)
	str("LOG_LEVEL", &c.LogLevel)
	str("REDIS_ADDR", &c.Redis.Addr)
	if v, ok := os.LookupEnv("BANNED_TERMS"); ok && strings.TrimSpace(v) != "" {
		c.Prompt.BannedTerms = splitList(v)
	}
	return errors.Join(errs...)
}

// ParseDuration accepts a Go duration string or a bare number of milliseconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
