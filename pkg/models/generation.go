package models

// Style is one of the fixed toy template styles.
type Style string

const (
	StyleBlindBox Style = "blindBox"
	StylePlush    Style = "plush"
	StyleKeychain Style = "keychain"
	StyleFigure   Style = "figure"
)

// Styles lists every supported style in display order.
var Styles = []Style{StyleBlindBox, StylePlush, StyleKeychain, StyleFigure}

// Language selects one of the two prompt string sets.
type Language string

const (
	LangEnglish Language = "en"
	LangChinese Language = "zh"
)

// Languages lists every supported prompt language.
var Languages = []Language{LangEnglish, LangChinese}

// Mode identifies how a request is orchestrated.
type Mode string

const (
	ModeSingle     Mode = "single"
	ModeVariations Mode = "variations"
	ModeAngles     Mode = "angles"
)

// FailureKind classifies a failed generation so callers can decide on retry.
type FailureKind string

const (
	FailureProvider  FailureKind = "provider_error"
	FailureNoImage   FailureKind = "no_image"
	FailureCancelled FailureKind = "cancelled"
	FailureInvalid   FailureKind = "invalid_request"
	FailureInternal  FailureKind = "internal"
)

// GenerationRequest is the caller-supplied description of a toy image.
type GenerationRequest struct {
	Prompt         string   `json:"prompt"`
	Style          Style    `json:"style,omitempty"`
	Character      string   `json:"character,omitempty"`
	Material       string   `json:"material,omitempty"`
	ColorScheme    string   `json:"colorScheme,omitempty"`
	CustomPrompt   string   `json:"customPrompt,omitempty"`
	ReferenceImage string   `json:"referenceImage,omitempty"` // base64, optionally a data URL
	Language       Language `json:"language,omitempty"`
}

// GeneratedImage is a single image returned by the provider.
// Data is carried as base64 on the wire.
type GeneratedImage struct {
	ID        string `json:"id"`
	Data      []byte `json:"data"`
	MIMEType  string `json:"mimeType"`
	Prompt    string `json:"prompt"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
}

// GenerationResult is the outcome of one provider call.
type GenerationResult struct {
	Success     bool            `json:"success"`
	Image       *GeneratedImage `json:"image,omitempty"`
	Error       string          `json:"error,omitempty"`
	FailureKind FailureKind     `json:"failureKind,omitempty"`
	TokensUsed  int             `json:"tokensUsed"`
}

// BatchSummary tallies a batch.
type BatchSummary struct {
	Total         int `json:"total"`
	Successful    int `json:"successful"`
	Failed        int `json:"failed"`
	TokensUsed    int `json:"tokensUsed"`
	EstimatedCost int `json:"estimatedCost"`
}

// BatchResult holds per-slot results in issue order plus a summary.
type BatchResult struct {
	Mode      Mode               `json:"mode"`
	Results   []GenerationResult `json:"results"`
	Summary   BatchSummary       `json:"summary"`
	Cancelled bool               `json:"cancelled,omitempty"`
}

// Succeeded reports whether at least one slot produced an image.
func (b BatchResult) Succeeded() bool {
	return b.Summary.Successful > 0
}
