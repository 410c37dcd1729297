package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/genai"
)

// DefaultModel is the image-capable Gemini model used when none is configured.
const DefaultModel = "gemini-2.5-flash-image-preview"

// DefaultCallTimeout bounds a single provider call.
const DefaultCallTimeout = 60 * time.Second

// GeminiConfig configures the Gemini adapter.
type GeminiConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	CallTimeout time.Duration
}

// modelsAPI is the subset of genai.Models the adapter uses.
type modelsAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	Get(ctx context.Context, model string, config *genai.GetModelConfig) (*genai.Model, error)
}

// Gemini generates images through the Gemini API.
type Gemini struct {
	models  modelsAPI
	model   string
	timeout time.Duration
}

// NewGemini creates a Gemini adapter.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return newGemini(client.Models, cfg), nil
}

func newGemini(m modelsAPI, cfg GeminiConfig) *Gemini {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	return &Gemini{models: m, model: cfg.Model, timeout: cfg.CallTimeout}
}

// Name returns the model identifier.
func (g *Gemini) Name() string { return g.model }

// Generate requests an image for prompt.
func (g *Gemini) Generate(ctx context.Context, prompt string) (*Result, error) {
	return g.call(ctx, "generate", []*genai.Part{{Text: prompt}})
}

// GenerateWithReference requests an image for prompt guided by a reference image.
func (g *Gemini) GenerateWithReference(ctx context.Context, prompt string, image []byte, mimeType string) (*Result, error) {
	parts := []*genai.Part{
		{Text: prompt},
		{InlineData: &genai.Blob{MIMEType: mimeType, Data: image}},
	}
	return g.call(ctx, "generate_with_reference", parts)
}

// Ping checks that the configured model is reachable.
func (g *Gemini) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	if _, err := g.models.Get(ctx, g.model, nil); err != nil {
		return &Error{Op: "ping", Model: g.model, Err: err}
	}
	return nil
}

func (g *Gemini) call(ctx context.Context, op string, parts []*genai.Part) (*Result, error) {
	ctx, span := otel.Tracer("aitoy/provider").Start(ctx, "gemini."+op)
	defer span.End()
	span.SetAttributes(attribute.String("model", g.model))

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	contents := []*genai.Content{{Role: "user", Parts: parts}}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate content")
		return nil, &Error{Op: op, Model: g.model, Err: err}
	}
	res := normalize(g.model, resp)
	span.SetAttributes(
		attribute.Int("candidates", len(res.Candidates)),
		attribute.Int("usage.total_tokens", res.Usage.TotalTokens),
	)
	return res, nil
}

func normalize(model string, resp *genai.GenerateContentResponse) *Result {
	res := &Result{Model: model}
	if resp == nil {
		return res
	}
	for _, c := range resp.Candidates {
		if c == nil {
			continue
		}
		cand := Candidate{FinishReason: string(c.FinishReason)}
		if c.Content != nil {
			for _, p := range c.Content.Parts {
				if p == nil {
					continue
				}
				switch {
				case p.InlineData != nil && len(p.InlineData.Data) > 0:
					cand.Parts = append(cand.Parts, Part{Data: p.InlineData.Data, MIMEType: p.InlineData.MIMEType})
				case p.Text != "" && !p.Thought:
					cand.Parts = append(cand.Parts, Part{Text: p.Text})
				}
			}
		}
		res.Candidates = append(res.Candidates, cand)
	}
	if u := resp.UsageMetadata; u != nil {
		res.Usage = Usage{
			PromptTokens: int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}
	return res
}
