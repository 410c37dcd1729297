package generation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/byheaven/aitoy/pkg/models"
	"github.com/byheaven/aitoy/pkg/prompt"
)

// BatchConfig bounds batch sizes and paces provider calls.
type BatchConfig struct {
	DefaultCount int
	MaxCount     int
	Pacing       time.Duration
}

// DefaultBatchConfig returns the default batch bounds.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{DefaultCount: 3, MaxCount: 4, Pacing: time.Second}
}

// SlotFunc observes each finished slot. It runs on the batch goroutine.
type SlotFunc func(slot int, job Job, res models.GenerationResult)

// Orchestrator runs supervised batches of single generations.
type Orchestrator struct {
	svc    *Service
	cfg    BatchConfig
	sched  Scheduler
	logger *slog.Logger
	onSlot SlotFunc
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithScheduler overrides the pacing scheduler.
func WithScheduler(s Scheduler) OrchestratorOption {
	return func(o *Orchestrator) { o.sched = s }
}

// WithSlotHook registers a callback invoked after every slot.
func WithSlotHook(f SlotFunc) OrchestratorOption {
	return func(o *Orchestrator) { o.onSlot = f }
}

// WithBatchLogger sets the orchestrator logger.
func WithBatchLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewOrchestrator creates an Orchestrator over svc.
func NewOrchestrator(svc *Service, cfg BatchConfig, opts ...OrchestratorOption) *Orchestrator {
	if cfg.MaxCount < 1 {
		cfg.MaxCount = 1
	}
	if cfg.DefaultCount < 1 || cfg.DefaultCount > cfg.MaxCount {
		cfg.DefaultCount = cfg.MaxCount
	}
	o := &Orchestrator{svc: svc, cfg: cfg, sched: WallClock(), logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config returns the batch bounds.
func (o *Orchestrator) Config() BatchConfig { return o.cfg }

// ClampCount maps a requested variation count into [1, MaxCount].
// Zero selects the default.
func (o *Orchestrator) ClampCount(n int) int {
	switch {
	case n == 0:
		return o.cfg.DefaultCount
	case n < 1:
		return 1
	case n > o.cfg.MaxCount:
		return o.cfg.MaxCount
	default:
		return n
	}
}

// ParseMode normalizes a batch mode name. Empty input selects variations.
func ParseMode(s string) (models.Mode, bool) {
	switch models.Mode(s) {
	case "", models.ModeVariations:
		return models.ModeVariations, true
	case models.ModeAngles:
		return models.ModeAngles, true
	default:
		return "", false
	}
}

// Run composes req and runs a batch in mode. count is ignored for angles.
func (o *Orchestrator) Run(ctx context.Context, mode models.Mode, req models.GenerationRequest, count int) (models.BatchResult, error) {
	job, err := o.svc.Compose(req)
	if err != nil {
		return models.BatchResult{}, err
	}
	switch mode {
	case models.ModeVariations:
		return o.Variations(ctx, job, count), nil
	case models.ModeAngles:
		return o.Angles(ctx, job), nil
	default:
		return models.BatchResult{}, &prompt.ValidationError{Field: "mode", Reason: fmt.Sprintf("unsupported mode %q", mode)}
	}
}

// Plan returns the per-slot jobs a batch would run, in issue order.
func (o *Orchestrator) Plan(mode models.Mode, job Job, count int) []Job {
	var prompts []string
	switch mode {
	case models.ModeAngles:
		prompts = prompt.AnglePrompts(job.Prompt, job.Language)
	default:
		n := o.ClampCount(count)
		prompts = make([]string, n)
		for i := range prompts {
			prompts[i] = fmt.Sprintf("%s (variation %d)", job.Prompt, i+1)
		}
	}
	jobs := make([]Job, len(prompts))
	for i, p := range prompts {
		jobs[i] = job
		jobs[i].Prompt = p
	}
	return jobs
}

// Variations runs count decorated copies of job.
func (o *Orchestrator) Variations(ctx context.Context, job Job, count int) models.BatchResult {
	return o.execute(ctx, models.ModeVariations, job, o.Plan(models.ModeVariations, job, count))
}

// Angles runs job once per fixed camera angle.
func (o *Orchestrator) Angles(ctx context.Context, job Job) models.BatchResult {
	return o.execute(ctx, models.ModeAngles, job, o.Plan(models.ModeAngles, job, 0))
}

func (o *Orchestrator) execute(ctx context.Context, mode models.Mode, base Job, jobs []Job) models.BatchResult {
	ctx, span := otel.Tracer("aitoy/generation").Start(ctx, "batch."+string(mode))
	defer span.End()

	out := models.BatchResult{Mode: mode, Results: make([]models.GenerationResult, len(jobs))}
	next := 0
	for ; next < len(jobs); next++ {
		if ctx.Err() != nil {
			break
		}
		res := o.safeRun(ctx, jobs[next])
		out.Results[next] = res
		if o.onSlot != nil {
			o.onSlot(next, jobs[next], res)
		}
		if next == len(jobs)-1 {
			continue
		}
		if err := o.sched.Sleep(ctx, o.cfg.Pacing); err != nil {
			next++
			break
		}
	}
	if next < len(jobs) {
		out.Cancelled = true
		o.logger.Info("batch cancelled", "mode", mode, "completed", next, "total", len(jobs))
		for i := next; i < len(jobs); i++ {
			out.Results[i] = failure(models.FailureCancelled, "cancelled before start")
		}
	}

	out.Summary = summarize(out.Results)
	out.Summary.EstimatedCost = base.EstimatedCost * len(jobs)
	span.SetAttributes(
		attribute.Int("slots", out.Summary.Total),
		attribute.Int("successful", out.Summary.Successful),
		attribute.Bool("cancelled", out.Cancelled),
	)
	return out
}

// safeRun converts a panic inside one slot into a failed result.
func (o *Orchestrator) safeRun(ctx context.Context, job Job) (res models.GenerationResult) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("batch slot panicked", "panic", r)
			res = failure(models.FailureInternal, fmt.Sprintf("internal error: %v", r))
		}
	}()
	return o.svc.Run(ctx, job)
}

func summarize(results []models.GenerationResult) models.BatchSummary {
	s := models.BatchSummary{Total: len(results)}
	for _, r := range results {
		if r.Success {
			s.Successful++
			s.TokensUsed += r.TokensUsed
		} else {
			s.Failed++
		}
	}
	return s
}
