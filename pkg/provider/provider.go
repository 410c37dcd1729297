// Package provider adapts external image generation services to a small
// normalized contract.
package provider

import (
	"context"
	"fmt"
)

// Part is one piece of candidate output: an image or auxiliary text.
type Part struct {
	Text     string
	Data     []byte
	MIMEType string
}

// IsImage reports whether the part carries image bytes.
func (p Part) IsImage() bool {
	return len(p.Data) > 0
}

// Candidate is one provider output with its completion reason.
type Candidate struct {
	Parts        []Part
	FinishReason string
}

// Usage is the provider's own token accounting, when reported.
type Usage struct {
	PromptTokens int
	OutputTokens int
	TotalTokens  int
}

// Result is a normalized provider response.
type Result struct {
	Model      string
	Candidates []Candidate
	Usage      Usage
}

// FirstImage returns the first image part of the first candidate.
func (r *Result) FirstImage() (Part, bool) {
	if r == nil || len(r.Candidates) == 0 {
		return Part{}, false
	}
	for _, p := range r.Candidates[0].Parts {
		if p.IsImage() {
			return p, true
		}
	}
	return Part{}, false
}

// Text concatenates the auxiliary text of the first candidate.
func (r *Result) Text() string {
	if r == nil || len(r.Candidates) == 0 {
		return ""
	}
	var s string
	for _, p := range r.Candidates[0].Parts {
		s += p.Text
	}
	return s
}

// Provider generates images from prompts. Each call is one outbound request
// and implementations never retry.
type Provider interface {
	Generate(ctx context.Context, prompt string) (*Result, error)
	GenerateWithReference(ctx context.Context, prompt string, image []byte, mimeType string) (*Result, error)
	Name() string
}

// Pinger is implemented by providers that support a connectivity check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Error wraps an upstream failure.
type Error struct {
	Op    string
	Model string
	Err   error
}

func (e *Error) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("provider %s %s: %v", e.Op, e.Model, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Ping checks p when it implements Pinger and succeeds otherwise.
func Ping(ctx context.Context, p Provider) error {
	if pg, ok := p.(Pinger); ok {
		return pg.Ping(ctx)
	}
	return nil
}
