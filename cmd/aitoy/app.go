package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/byheaven/aitoy/pkg/admission"
	"github.com/byheaven/aitoy/pkg/budget"
	cachepkg "github.com/byheaven/aitoy/pkg/cache/sqlite"
	"github.com/byheaven/aitoy/pkg/config"
	"github.com/byheaven/aitoy/pkg/generation"
	"github.com/byheaven/aitoy/pkg/history"
	"github.com/byheaven/aitoy/pkg/models"
	"github.com/byheaven/aitoy/pkg/observability"
	"github.com/byheaven/aitoy/pkg/prompt"
	"github.com/byheaven/aitoy/pkg/provider"
	"github.com/byheaven/aitoy/pkg/tracker"
)

// errNoProvider is returned by the offline provider used when no API key
// is configured.
var errNoProvider = errors.New("image provider not configured: set GEMINI_API_KEY")

type offlineProvider struct{ model string }

func (p offlineProvider) Name() string { return p.model }
func (p offlineProvider) Generate(context.Context, string) (*provider.Result, error) {
	return nil, errNoProvider
}
func (p offlineProvider) GenerateWithReference(context.Context, string, []byte, string) (*provider.Result, error) {
	return nil, errNoProvider
}
func (p offlineProvider) Ping(context.Context) error { return errNoProvider }

// app holds every component built from a Config. Optional components are
// nil when disabled.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	limiter      *admission.Limiter
	stats        admission.StatsStore
	service      *generation.Service
	orchestrator *generation.Orchestrator
	tracker      *tracker.SQLiteTracker
	budget       *budget.Enforcer
	history      *history.Store
	cache        *cachepkg.Cache
	metrics      *observability.Metrics

	closers []func() error
}

type appOptions struct {
	// requireProvider fails when no API key is set instead of falling
	// back to the offline provider.
	requireProvider bool
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg, logger: slog.Default()}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.limiter, err = admission.New(admission.Config{
		Window:        cfg.Admission.Window,
		MaxRequests:   cfg.Admission.MaxRequests,
		SweepInterval: cfg.Admission.SweepInterval,
		MaxEntries:    cfg.Admission.MaxEntries,
	}, admission.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	a.metrics = observability.NewMetrics(a.limiter.Len)

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			a.logger.Warn("redis unreachable, admission stats may be lost", "addr", cfg.Redis.Addr, "err", err)
		}
		a.stats = admission.NewRedisStatsStore(rdb,
			admission.WithStatsPrefix(cfg.Redis.Prefix),
			admission.WithStatsTTL(cfg.Redis.TTL))
	} else {
		a.stats = admission.NewMemoryStatsStore()
	}

	a.tracker, err = tracker.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init tracker: %w", err)
	}
	a.closers = append(a.closers, a.tracker.Close)

	if cfg.Budget.Enabled {
		a.budget = budget.New(cfg.Budget.Policies, a.tracker)
	}

	if cfg.History.Enabled {
		a.history, err = history.New(cfg.History)
		if err != nil {
			return nil, fmt.Errorf("init history: %w", err)
		}
		a.closers = append(a.closers, a.history.Close)
	}

	if cfg.Cache.Enabled {
		a.cache, err = cachepkg.New(cfg.DBPath, cfg.Cache.TTL)
		if err != nil {
			return nil, fmt.Errorf("init cache: %w", err)
		}
		a.closers = append(a.closers, a.cache.Close)
	}

	p, err := a.buildProvider(ctx, opts)
	if err != nil {
		return nil, err
	}

	a.service = generation.NewService(newComposer(cfg), p,
		generation.WithCosts(generation.Costs{
			PerImage:            cfg.Generation.TokensPerImage,
			ReferenceSurcharge:  cfg.Generation.ReferenceSurcharge,
			LongPromptSurcharge: cfg.Generation.LongPromptSurcharge,
			LongPromptThreshold: cfg.Generation.LongPromptThreshold,
		}),
		generation.WithMaxReferenceBytes(cfg.Prompt.MaxReferenceBytes),
		generation.WithLogger(a.logger),
	)
	a.orchestrator = generation.NewOrchestrator(a.service, generation.BatchConfig{
		DefaultCount: cfg.Generation.DefaultCount,
		MaxCount:     cfg.Generation.MaxCount,
		Pacing:       cfg.Generation.Pacing,
	}, generation.WithBatchLogger(a.logger))
	return a, nil
}

// buildProvider stacks the outbound guard, the optional result cache and
// metrics around the Gemini adapter.
func (a *app) buildProvider(ctx context.Context, opts appOptions) (provider.Provider, error) {
	cfg := a.cfg
	if cfg.Provider.APIKey == "" {
		if opts.requireProvider {
			return nil, errNoProvider
		}
		return offlineProvider{model: cfg.Provider.Model}, nil
	}

	g, err := provider.NewGemini(ctx, provider.GeminiConfig{
		APIKey:      cfg.Provider.APIKey,
		Model:       cfg.Provider.Model,
		BaseURL:     cfg.Provider.BaseURL,
		CallTimeout: cfg.Provider.CallTimeout,
	})
	if err != nil {
		return nil, err
	}
	var p provider.Provider = provider.Guard(g, provider.Limits{
		RPS:         cfg.Provider.RPS,
		Burst:       cfg.Provider.Burst,
		MaxInFlight: cfg.Provider.MaxInFlight,
	})

	if a.cache != nil {
		p = cachepkg.Wrap(p, a.cache, a.logger)
	}
	return observability.Instrument(p, a.metrics), nil
}

func newComposer(cfg *config.Config) *prompt.Composer {
	styles := make([]models.Style, len(cfg.Prompt.Styles))
	for i, s := range cfg.Prompt.Styles {
		styles[i] = models.Style(s)
	}
	langs := make([]models.Language, len(cfg.Prompt.Languages))
	for i, l := range cfg.Prompt.Languages {
		langs[i] = models.Language(l)
	}
	return prompt.NewComposer(
		prompt.Validator{MaxLength: cfg.Prompt.MaxLength, BannedTerms: cfg.Prompt.BannedTerms},
		prompt.WithStyles(styles...),
		prompt.WithLanguages(langs...),
	)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			fmt.Fprintln(os.Stderr, "close:", err)
		}
	}
	a.closers = nil
}
