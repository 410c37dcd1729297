// Package generation runs single toy-image generations and supervised batches.
package generation

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/byheaven/aitoy/pkg/models"
	"github.com/byheaven/aitoy/pkg/prompt"
	"github.com/byheaven/aitoy/pkg/provider"
)

// ErrNoImage is reported when the provider answered without image content.
var ErrNoImage = errors.New("no image in response")

// Costs holds the token prices used for charging and estimation.
type Costs struct {
	PerImage            int
	ReferenceSurcharge  int
	LongPromptSurcharge int
	LongPromptThreshold int
}

// DefaultCosts returns the default token prices.
func DefaultCosts() Costs {
	return Costs{
		PerImage:            5,
		ReferenceSurcharge:  3,
		LongPromptSurcharge: 2,
		LongPromptThreshold: 200,
	}
}

// Job is a validated, composed unit of work ready for the provider.
type Job struct {
	Prompt        string
	Reference     []byte
	ReferenceMIME string
	Style         models.Style
	Language      models.Language
	Templated     bool
	EstimatedCost int
}

// Service generates single toy images.
type Service struct {
	composer *prompt.Composer
	provider provider.Provider
	costs    Costs
	maxRef   int
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCosts overrides the token prices.
func WithCosts(c Costs) Option {
	return func(s *Service) { s.costs = c }
}

// WithMaxReferenceBytes overrides the reference image size limit.
func WithMaxReferenceBytes(n int) Option {
	return func(s *Service) { s.maxRef = n }
}

// WithClock overrides the time source used for image timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDFunc overrides image ID generation.
func WithIDFunc(f func() string) Option {
	return func(s *Service) { s.newID = f }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a Service.
func NewService(c *prompt.Composer, p provider.Provider, opts ...Option) *Service {
	s := &Service{
		composer: c,
		provider: p,
		costs:    DefaultCosts(),
		maxRef:   prompt.DefaultMaxReferenceBytes,
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Costs returns the configured token prices.
func (s *Service) Costs() Costs { return s.costs }

// Model returns the provider's model name.
func (s *Service) Model() string { return s.provider.Name() }

// Ping checks provider connectivity.
func (s *Service) Ping(ctx context.Context) error {
	return provider.Ping(ctx, s.provider)
}

// Compose validates req and prepares a Job. Errors are prompt.ValidationError.
func (s *Service) Compose(req models.GenerationRequest) (Job, error) {
	comp, err := s.composer.Compose(req)
	if err != nil {
		return Job{}, err
	}
	job := Job{
		Prompt:        comp.Prompt,
		Style:         comp.Style,
		Language:      comp.Language,
		Templated:     comp.Templated,
		EstimatedCost: s.EstimateTokenCost(req),
	}
	if req.ReferenceImage != "" {
		data, mimeType, err := prompt.DecodeReferenceImage(req.ReferenceImage, s.maxRef)
		if err != nil {
			return Job{}, err
		}
		job.Reference = data
		job.ReferenceMIME = mimeType
	}
	return job, nil
}

// EstimateTokenCost returns the advisory cost of req. It is computed
// independently of the amount charged by Run.
func (s *Service) EstimateTokenCost(req models.GenerationRequest) int {
	cost := s.costs.PerImage
	if req.ReferenceImage != "" {
		cost += s.costs.ReferenceSurcharge
	}
	if utf8.RuneCountInString(req.Prompt) > s.costs.LongPromptThreshold {
		cost += s.costs.LongPromptSurcharge
	}
	return cost
}

// EstimateBatchCost is the advisory cost of running req in slots slots.
func (s *Service) EstimateBatchCost(req models.GenerationRequest, slots int) int {
	if slots < 1 {
		return 0
	}
	return s.EstimateTokenCost(req) * slots
}

// GenerateToyImage composes req and runs it. Validation failures are
// returned as failed results without calling the provider.
func (s *Service) GenerateToyImage(ctx context.Context, req models.GenerationRequest) models.GenerationResult {
	job, err := s.Compose(req)
	if err != nil {
		return failure(models.FailureInvalid, err.Error())
	}
	return s.Run(ctx, job)
}

// Run performs one provider call for job. Provider failures and missing
// images become failed results charged zero tokens.
func (s *Service) Run(ctx context.Context, job Job) models.GenerationResult {
	start := time.Now()
	var (
		res *provider.Result
		err error
	)
	if len(job.Reference) > 0 {
		res, err = s.provider.GenerateWithReference(ctx, job.Prompt, job.Reference, job.ReferenceMIME)
	} else {
		res, err = s.provider.Generate(ctx, job.Prompt)
	}
	if err != nil {
		kind := models.FailureProvider
		if errors.Is(err, context.Canceled) {
			kind = models.FailureCancelled
		}
		s.logger.Warn("provider call failed", "model", s.provider.Name(), "err", err, "duration", time.Since(start))
		return failure(kind, err.Error())
	}

	img, ok := res.FirstImage()
	if !ok {
		s.logger.Warn("provider returned no image", "model", s.provider.Name(), "text", res.Text())
		return failure(models.FailureNoImage, ErrNoImage.Error())
	}
	mimeType := img.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}
	return models.GenerationResult{
		Success: true,
		Image: &models.GeneratedImage{
			ID:        s.newID(),
			Data:      img.Data,
			MIMEType:  mimeType,
			Prompt:    job.Prompt,
			Timestamp: s.now().UnixMilli(),
		},
		TokensUsed: s.costs.PerImage,
	}
}

func failure(kind models.FailureKind, msg string) models.GenerationResult {
	return models.GenerationResult{Success: false, Error: msg, FailureKind: kind}
}
