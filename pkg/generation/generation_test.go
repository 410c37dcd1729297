package generation

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byheaven/aitoy/pkg/models"
	"github.com/byheaven/aitoy/pkg/prompt"
	"github.com/byheaven/aitoy/pkg/provider"
)

type call struct {
	prompt   string
	hasImage bool
	mimeType string
}

// scriptedProvider answers call i with outcomes[i]; missing entries succeed.
type scriptedProvider struct {
	mu       sync.Mutex
	calls    []call
	outcomes map[int]string
}

func (p *scriptedProvider) Name() string { return "fake-model" }

func (p *scriptedProvider) Generate(ctx context.Context, text string) (*provider.Result, error) {
	return p.respond(call{prompt: text})
}

func (p *scriptedProvider) GenerateWithReference(ctx context.Context, text string, image []byte, mimeType string) (*provider.Result, error) {
	return p.respond(call{prompt: text, hasImage: len(image) > 0, mimeType: mimeType})
}

func (p *scriptedProvider) respond(c call) (*provider.Result, error) {
	p.mu.Lock()
	i := len(p.calls)
	p.calls = append(p.calls, c)
	outcome := p.outcomes[i]
	p.mu.Unlock()

	switch outcome {
	case "error":
		return nil, &provider.Error{Op: "generate", Model: "fake-model", Err: errors.New("upstream unavailable")}
	case "text":
		return &provider.Result{Candidates: []provider.Candidate{{Parts: []provider.Part{{Text: "sorry"}}}}}, nil
	case "panic":
		panic("boom")
	}
	return &provider.Result{Candidates: []provider.Candidate{{
		Parts: []provider.Part{{Data: []byte("img"), MIMEType: "image/png"}},
	}}}, nil
}

func (p *scriptedProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type recordingScheduler struct {
	sleeps []time.Duration
	cancel context.CancelFunc
	after  int
}

func (s *recordingScheduler) Sleep(ctx context.Context, d time.Duration) error {
	s.sleeps = append(s.sleeps, d)
	if s.cancel != nil && len(s.sleeps) == s.after {
		s.cancel()
	}
	return ctx.Err()
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newFixture(outcomes map[int]string) (*scriptedProvider, *Service, *Orchestrator, *recordingScheduler) {
	p := &scriptedProvider{outcomes: outcomes}
	svc := NewService(prompt.NewComposer(prompt.DefaultValidator()), p,
		WithClock(func() time.Time { return fixedNow }),
		WithIDFunc(func() string { return "img-1" }),
	)
	sched := &recordingScheduler{}
	orch := NewOrchestrator(svc, DefaultBatchConfig(), WithScheduler(sched))
	return p, svc, orch, sched
}

func TestGenerateToyImageSuccess(t *testing.T) {
	p, svc, _, _ := newFixture(nil)

	res := svc.GenerateToyImage(context.Background(), models.GenerationRequest{Prompt: "a plush bunny"})
	require.True(t, res.Success)
	assert.Equal(t, 5, res.TokensUsed)
	require.NotNil(t, res.Image)
	assert.Equal(t, "img-1", res.Image.ID)
	assert.Equal(t, "image/png", res.Image.MIMEType)
	assert.Equal(t, fixedNow.UnixMilli(), res.Image.Timestamp)
	require.Equal(t, 1, p.count())
	assert.Equal(t, p.calls[0].prompt, res.Image.Prompt)
	assert.False(t, p.calls[0].hasImage)
}

func TestGenerateToyImageProviderFailureChargesZero(t *testing.T) {
	_, svc, _, _ := newFixture(map[int]string{0: "error"})
	res := svc.GenerateToyImage(context.Background(), models.GenerationRequest{Prompt: "a plush bunny"})
	assert.False(t, res.Success)
	assert.Equal(t, 0, res.TokensUsed)
	assert.Equal(t, models.FailureProvider, res.FailureKind)
	assert.Contains(t, res.Error, "upstream unavailable")
}

func TestGenerateToyImageNoImage(t *testing.T) {
	_, svc, _, _ := newFixture(map[int]string{0: "text"})
	res := svc.GenerateToyImage(context.Background(), models.GenerationRequest{Prompt: "a plush bunny"})
	assert.False(t, res.Success)
	assert.Equal(t, 0, res.TokensUsed)
	assert.Equal(t, models.FailureNoImage, res.FailureKind)
	assert.Equal(t, ErrNoImage.Error(), res.Error)
}

func TestValidationFailureMakesNoProviderCall(t *testing.T) {
	p, svc, orch, _ := newFixture(nil)

	for _, text := range []string{strings.Repeat("x", 1001), "a drug lord toy", "   "} {
		res := svc.GenerateToyImage(context.Background(), models.GenerationRequest{Prompt: text})
		assert.False(t, res.Success)
		assert.Equal(t, models.FailureInvalid, res.FailureKind)

		_, err := orch.Run(context.Background(), models.ModeVariations, models.GenerationRequest{Prompt: text}, 2)
		assert.ErrorIs(t, err, prompt.ErrInvalid)
	}
	assert.Equal(t, 0, p.count())
}

func TestReferenceImageIsForwarded(t *testing.T) {
	p, svc, _, _ := newFixture(nil)
	ref := base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))

	res := svc.GenerateToyImage(context.Background(), models.GenerationRequest{Prompt: "a figure", ReferenceImage: ref})
	require.True(t, res.Success)
	require.Equal(t, 1, p.count())
	assert.True(t, p.calls[0].hasImage)
	assert.Equal(t, "image/png", p.calls[0].mimeType)
}

func TestEstimateMatchesChargeForPlainRequest(t *testing.T) {
	_, svc, _, _ := newFixture(map[int]string{1: "error"})
	req := models.GenerationRequest{Prompt: strings.Repeat("a", 200)}

	estimate := svc.EstimateTokenCost(req)
	ok := svc.GenerateToyImage(context.Background(), req)
	failed := svc.GenerateToyImage(context.Background(), req)

	require.True(t, ok.Success)
	assert.Equal(t, 5, estimate)
	assert.Equal(t, estimate, ok.TokensUsed)
	assert.False(t, failed.Success)
	assert.Equal(t, 0, failed.TokensUsed)
}

func TestEstimateSurcharges(t *testing.T) {
	_, svc, _, _ := newFixture(nil)
	assert.Equal(t, 8, svc.EstimateTokenCost(models.GenerationRequest{Prompt: "x", ReferenceImage: "abc"}))
	assert.Equal(t, 7, svc.EstimateTokenCost(models.GenerationRequest{Prompt: strings.Repeat("a", 201)}))
	assert.Equal(t, 10, svc.EstimateTokenCost(models.GenerationRequest{Prompt: strings.Repeat("a", 201), ReferenceImage: "abc"}))
}

func TestEstimateBatchCost(t *testing.T) {
	_, svc, _, _ := newFixture(nil)
	req := models.GenerationRequest{Prompt: "x", ReferenceImage: "abc"}
	assert.Equal(t, 32, svc.EstimateBatchCost(req, 4))
	assert.Equal(t, 8, svc.EstimateBatchCost(req, 1))
	assert.Zero(t, svc.EstimateBatchCost(req, 0))
}

func TestVariationsPartialFailure(t *testing.T) {
	p, _, orch, sched := newFixture(map[int]string{1: "error"})

	out, err := orch.Run(context.Background(), models.ModeVariations, models.GenerationRequest{Prompt: "a keychain fox"}, 3)
	require.NoError(t, err)

	require.Len(t, out.Results, 3)
	assert.True(t, out.Results[0].Success)
	assert.False(t, out.Results[1].Success)
	assert.True(t, out.Results[2].Success)
	assert.Equal(t, models.BatchSummary{Total: 3, Successful: 2, Failed: 1, TokensUsed: 10, EstimatedCost: 15}, out.Summary)
	assert.True(t, out.Succeeded())
	assert.False(t, out.Cancelled)

	require.Equal(t, 3, p.count())
	for i, c := range p.calls {
		assert.True(t, strings.HasSuffix(c.prompt, " (variation "+string(rune('1'+i))+")"), c.prompt)
	}
	assert.Equal(t, []time.Duration{time.Second, time.Second}, sched.sleeps)
}

func TestVariationsAllFail(t *testing.T) {
	_, _, orch, _ := newFixture(map[int]string{0: "error", 1: "text", 2: "error", 3: "error"})
	out, err := orch.Run(context.Background(), models.ModeVariations, models.GenerationRequest{Prompt: "a figure"}, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, out.Summary.Total)
	assert.Equal(t, 0, out.Summary.Successful)
	assert.Equal(t, 0, out.Summary.TokensUsed)
	assert.False(t, out.Succeeded())
}

func TestVariationsOneSucceeds(t *testing.T) {
	_, _, orch, _ := newFixture(map[int]string{0: "error", 1: "error", 3: "error"})
	out, err := orch.Run(context.Background(), models.ModeVariations, models.GenerationRequest{Prompt: "a figure"}, 4)
	require.NoError(t, err)
	assert.True(t, out.Succeeded())
	assert.Equal(t, 1, out.Summary.Successful)
	assert.Equal(t, 3, out.Summary.Failed)
	assert.True(t, out.Results[2].Success)
}

func TestClampCount(t *testing.T) {
	_, _, orch, _ := newFixture(nil)
	assert.Equal(t, 3, orch.ClampCount(0))
	assert.Equal(t, 1, orch.ClampCount(-2))
	assert.Equal(t, 4, orch.ClampCount(9))
	assert.Equal(t, 2, orch.ClampCount(2))

	out, err := orch.Run(context.Background(), models.ModeVariations, models.GenerationRequest{Prompt: "x"}, 0)
	require.NoError(t, err)
	assert.Len(t, out.Results, 3)
}

func TestAnglesIgnoreCount(t *testing.T) {
	p, _, orch, sched := newFixture(nil)
	ref := base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))

	out, err := orch.Run(context.Background(), models.ModeAngles,
		models.GenerationRequest{Prompt: "owl", Style: models.StyleFigure, Character: "an owl", ReferenceImage: ref}, 1)
	require.NoError(t, err)
	require.Len(t, out.Results, prompt.AngleCount())
	assert.Equal(t, models.ModeAngles, out.Mode)

	want := []string{"front view", "side profile", "back view", "3/4 angle view"}
	for i, c := range p.calls {
		assert.True(t, strings.HasSuffix(c.prompt, ", "+want[i]), c.prompt)
		assert.True(t, c.hasImage)
	}
	assert.Len(t, sched.sleeps, 3)
	assert.Equal(t, 20, out.Summary.TokensUsed)
	assert.Equal(t, 32, out.Summary.EstimatedCost)
}

func TestPanicInSlotIsContained(t *testing.T) {
	_, _, orch, _ := newFixture(map[int]string{0: "panic"})
	out, err := orch.Run(context.Background(), models.ModeVariations, models.GenerationRequest{Prompt: "x"}, 2)
	require.NoError(t, err)
	require.Len(t, out.Results, 2)
	assert.Equal(t, models.FailureInternal, out.Results[0].FailureKind)
	assert.True(t, out.Results[1].Success)
	assert.Equal(t, 1, out.Summary.Successful)
}

func TestCancellationStopsNewCalls(t *testing.T) {
	p, svc, _, _ := newFixture(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched := &recordingScheduler{cancel: cancel, after: 1}
	orch := NewOrchestrator(svc, DefaultBatchConfig(), WithScheduler(sched))

	out, err := orch.Run(ctx, models.ModeVariations, models.GenerationRequest{Prompt: "x"}, 4)
	require.NoError(t, err)

	assert.Equal(t, 1, p.count())
	assert.True(t, out.Cancelled)
	require.Len(t, out.Results, 4)
	assert.True(t, out.Results[0].Success)
	for _, r := range out.Results[1:] {
		assert.Equal(t, models.FailureCancelled, r.FailureKind)
	}
	assert.Equal(t, models.BatchSummary{Total: 4, Successful: 1, Failed: 3, TokensUsed: 5, EstimatedCost: 20}, out.Summary)
}

func TestAlreadyCancelledContext(t *testing.T) {
	p, _, orch, _ := newFixture(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := orch.Run(ctx, models.ModeAngles, models.GenerationRequest{Prompt: "x"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, p.count())
	assert.True(t, out.Cancelled)
	assert.False(t, out.Succeeded())
}

func TestSlotHookSeesEverySlot(t *testing.T) {
	p := &scriptedProvider{outcomes: map[int]string{1: "error"}}
	svc := NewService(prompt.NewComposer(prompt.DefaultValidator()), p)
	var slots []int
	orch := NewOrchestrator(svc, DefaultBatchConfig(),
		WithScheduler(SchedulerFunc(func(context.Context, time.Duration) error { return nil })),
		WithSlotHook(func(slot int, job Job, res models.GenerationResult) { slots = append(slots, slot) }),
	)
	_, err := orch.Run(context.Background(), models.ModeVariations, models.GenerationRequest{Prompt: "x"}, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, slots)
}

func TestUnknownMode(t *testing.T) {
	_, _, orch, _ := newFixture(nil)
	_, err := orch.Run(context.Background(), "collage", models.GenerationRequest{Prompt: "x"}, 1)
	assert.ErrorIs(t, err, prompt.ErrInvalid)

	m, ok := ParseMode("")
	assert.True(t, ok)
	assert.Equal(t, models.ModeVariations, m)
	_, ok = ParseMode("collage")
	assert.False(t, ok)
}

func TestWallClockHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, WallClock().Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, WallClock().Sleep(context.Background(), time.Millisecond))
}
