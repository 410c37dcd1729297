// Package prompt turns generation requests into provider prompts.
package prompt

import (
	"strings"

	"github.com/byheaven/aitoy/pkg/models"
)

// Composition is a validated request rendered into a provider prompt.
type Composition struct {
	Prompt    string
	Style     models.Style
	Language  models.Language
	Templated bool
}

// Composer builds prompts from requests. It performs no I/O.
type Composer struct {
	validator Validator
	styles    map[models.Style]bool
	languages map[models.Language]bool
}

// ComposerOption configures a Composer.
type ComposerOption func(*Composer)

// WithStyles restricts the accepted styles.
func WithStyles(styles ...models.Style) ComposerOption {
	return func(c *Composer) {
		c.styles = make(map[models.Style]bool, len(styles))
		for _, s := range styles {
			c.styles[s] = true
		}
	}
}

// WithLanguages restricts the accepted languages.
func WithLanguages(langs ...models.Language) ComposerOption {
	return func(c *Composer) {
		c.languages = make(map[models.Language]bool, len(langs))
		for _, l := range langs {
			c.languages[l] = true
		}
	}
}

// NewComposer creates a Composer accepting every style and language by default.
func NewComposer(v Validator, opts ...ComposerOption) *Composer {
	c := &Composer{validator: v}
	WithStyles(models.Styles...)(c)
	WithLanguages(models.Languages...)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Validator returns the composer's text validator.
func (c *Composer) Validator() Validator { return c.validator }

// Build returns the provider prompt for req.
func (c *Composer) Build(req models.GenerationRequest) (string, error) {
	comp, err := c.Compose(req)
	if err != nil {
		return "", err
	}
	return comp.Prompt, nil
}

// Compose validates req and renders its prompt.
//
// With a custom prompt the result is the custom text plus quality and
// background clauses. With both style and character the style template is
// filled in and followed by color, quality, rendering and safety clauses.
// Otherwise the free text is used with quality and background clauses.
func (c *Composer) Compose(req models.GenerationRequest) (Composition, error) {
	lang, ok := ParseLanguage(string(req.Language))
	if !ok || !c.languages[lang] {
		return Composition{}, invalid("language", "unsupported language %q", req.Language)
	}

	text, err := c.validator.Sanitize("prompt", req.Prompt)
	if err != nil {
		return Composition{}, err
	}

	style, ok := ParseStyle(string(req.Style))
	if !ok || (style != "" && !c.styles[style]) {
		return Composition{}, invalid("style", "unsupported style %q", req.Style)
	}

	character, err := c.validator.SanitizeOptional("character", req.Character)
	if err != nil {
		return Composition{}, err
	}
	material, err := c.validator.SanitizeOptional("material", req.Material)
	if err != nil {
		return Composition{}, err
	}
	custom, err := c.validator.SanitizeOptional("customPrompt", req.CustomPrompt)
	if err != nil {
		return Composition{}, err
	}
	scheme, ok := ParseColorScheme(req.ColorScheme)
	if !ok {
		return Composition{}, invalid("colorScheme", "unsupported color scheme %q", req.ColorScheme)
	}

	cl := mustClauses(lang)
	comp := Composition{Style: style, Language: lang}

	switch {
	case custom != "":
		comp.Prompt = join(custom, cl.quality, cl.background)
	case style != "" && character != "":
		if material == "" {
			material = defaultMaterials[style]
		}
		base := mustTemplate(lang, style)(character, material)
		comp.Prompt = join(base, colorSchemes[scheme][lang], cl.quality, cl.style, cl.safety)
		comp.Templated = true
	default:
		comp.Prompt = join(text, cl.quality, cl.background)
	}
	return comp, nil
}

// AnglePrompts expands base into the fixed front, side, back and
// three-quarter views, in that order.
func AnglePrompts(base string, lang models.Language) []string {
	if lang == "" {
		lang = models.LangEnglish
	}
	angles := mustClauses(lang).angles
	out := make([]string, len(angles))
	for i, a := range angles {
		out[i] = base + ", " + a
	}
	return out
}

// AngleCount is the number of prompts AnglePrompts returns.
func AngleCount() int {
	return len(enhancements[models.LangEnglish].angles)
}

func join(parts ...string) string {
	return strings.Join(parts, ", ")
}
