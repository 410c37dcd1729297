package provider

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limits bounds outbound provider traffic. Zero values disable a bound.
type Limits struct {
	RPS         float64
	Burst       int
	MaxInFlight int64
}

type guarded struct {
	next    Provider
	limiter *rate.Limiter
	sem     *semaphore.Weighted
}

// Guard wraps p so calls wait for a rate token and an in-flight slot. Waiting
// is bounded by the caller's context; calls are never retried.
func Guard(p Provider, l Limits) Provider {
	g := &guarded{next: p}
	if l.RPS > 0 {
		burst := l.Burst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(l.RPS), burst)
	}
	if l.MaxInFlight > 0 {
		g.sem = semaphore.NewWeighted(l.MaxInFlight)
	}
	return g
}

func (g *guarded) Name() string { return g.next.Name() }

func (g *guarded) Generate(ctx context.Context, prompt string) (*Result, error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return g.next.Generate(ctx, prompt)
}

func (g *guarded) GenerateWithReference(ctx context.Context, prompt string, image []byte, mimeType string) (*Result, error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return g.next.GenerateWithReference(ctx, prompt, image, mimeType)
}

func (g *guarded) Ping(ctx context.Context) error {
	return Ping(ctx, g.next)
}

func (g *guarded) acquire(ctx context.Context) (func(), error) {
	if g.sem != nil {
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return nil, &Error{Op: "acquire", Model: g.next.Name(), Err: err}
		}
	}
	release := func() {
		if g.sem != nil {
			g.sem.Release(1)
		}
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			release()
			return nil, &Error{Op: "throttle", Model: g.next.Name(), Err: err}
		}
	}
	return release, nil
}
