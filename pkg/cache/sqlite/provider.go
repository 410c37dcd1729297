package sqlite

import (
	"context"
	"log/slog"

	"github.com/byheaven/aitoy/pkg/provider"
)

type cachedProvider struct {
	next   provider.Provider
	cache  *Cache
	logger *slog.Logger
}

// Wrap returns a provider that serves identical prompts from c. Only results
// that carry an image are stored; failures always reach the next provider.
func Wrap(next provider.Provider, c *Cache, logger *slog.Logger) provider.Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &cachedProvider{next: next, cache: c, logger: logger}
}

func (p *cachedProvider) Name() string { return p.next.Name() }

func (p *cachedProvider) Ping(ctx context.Context) error {
	return provider.Ping(ctx, p.next)
}

func (p *cachedProvider) Generate(ctx context.Context, prompt string) (*provider.Result, error) {
	return p.lookup(prompt, nil, func() (*provider.Result, error) {
		return p.next.Generate(ctx, prompt)
	})
}

func (p *cachedProvider) GenerateWithReference(ctx context.Context, prompt string, image []byte, mimeType string) (*provider.Result, error) {
	return p.lookup(prompt, image, func() (*provider.Result, error) {
		return p.next.GenerateWithReference(ctx, prompt, image, mimeType)
	})
}

func (p *cachedProvider) lookup(prompt string, ref []byte, call func() (*provider.Result, error)) (*provider.Result, error) {
	model := p.next.Name()
	key := HashPrompt(model, prompt, ref)
	if e, ok := p.cache.Get(key, model); ok {
		return &provider.Result{
			Model: model,
			Candidates: []provider.Candidate{{
				Parts:        []provider.Part{{Data: e.Data, MIMEType: e.MIMEType}},
				FinishReason: "CACHED",
			}},
		}, nil
	}

	res, err := call()
	if err != nil {
		return nil, err
	}
	if img, ok := res.FirstImage(); ok {
		if err := p.cache.Put(key, model, Entry{Data: img.Data, MIMEType: img.MIMEType}); err != nil {
			p.logger.Warn("cache put failed", "model", model, "err", err)
		}
	}
	return res, nil
}
