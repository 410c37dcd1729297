package prompt

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byheaven/aitoy/pkg/models"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func newTestComposer() *Composer {
	return NewComposer(DefaultValidator())
}

func TestComposeTemplateEnglish(t *testing.T) {
	c := newTestComposer()
	comp, err := c.Compose(models.GenerationRequest{
		Prompt:    "a cat astronaut",
		Style:     models.StylePlush,
		Character: "a cat astronaut",
	})
	require.NoError(t, err)

	assert.True(t, comp.Templated)
	assert.Equal(t, models.LangEnglish, comp.Language)
	assert.True(t, strings.HasPrefix(comp.Prompt, "Design a huggable plush toy of a cat astronaut."))
	assert.Contains(t, comp.Prompt, "soft plush fabric texture")
	assert.Contains(t, comp.Prompt, "soft pastel colors")
	assert.Contains(t, comp.Prompt, "3D rendered, octane render quality")
	assert.True(t, strings.HasSuffix(comp.Prompt, "non-toxic appearance"))
}

func TestComposeTemplateChinese(t *testing.T) {
	c := newTestComposer()
	comp, err := c.Compose(models.GenerationRequest{
		Prompt:    "熊猫",
		Style:     models.StyleBlindBox,
		Character: "熊猫",
		Material:  "resin",
		Language:  "secondary",
	})
	require.NoError(t, err)

	assert.Equal(t, models.LangChinese, comp.Language)
	assert.True(t, strings.HasPrefix(comp.Prompt, "创建一个可爱的熊猫盲盒收藏玩具设计。"))
	assert.Contains(t, comp.Prompt, "resin材质外观")
	assert.Contains(t, comp.Prompt, "柔和马卡龙色")
	assert.Contains(t, comp.Prompt, "儿童友好")
}

func TestComposeColorScheme(t *testing.T) {
	c := newTestComposer()
	comp, err := c.Compose(models.GenerationRequest{
		Prompt: "robot", Style: models.StyleFigure, Character: "a robot", ColorScheme: "Vibrant",
	})
	require.NoError(t, err)
	assert.Contains(t, comp.Prompt, "bright vibrant colors")
	assert.NotContains(t, comp.Prompt, "soft pastel colors")

	_, err = c.Compose(models.GenerationRequest{
		Prompt: "robot", Style: models.StyleFigure, Character: "a robot", ColorScheme: "neon",
	})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestComposeFreeText(t *testing.T) {
	c := newTestComposer()
	comp, err := c.Compose(models.GenerationRequest{Prompt: "  a tiny dragon  "})
	require.NoError(t, err)

	assert.False(t, comp.Templated)
	assert.Equal(t,
		"a tiny dragon, ultra detailed, high resolution, professional product photography, studio lighting, sharp focus, "+
			"clean white background, subtle shadows, product showcase setup, minimalist composition",
		comp.Prompt)
}

func TestComposeStyleWithoutCharacterUsesFreeText(t *testing.T) {
	c := newTestComposer()
	comp, err := c.Compose(models.GenerationRequest{Prompt: "a tiny dragon", Style: models.StyleKeychain})
	require.NoError(t, err)
	assert.False(t, comp.Templated)
	assert.True(t, strings.HasPrefix(comp.Prompt, "a tiny dragon, "))
}

func TestComposeCustomPrompt(t *testing.T) {
	c := newTestComposer()
	comp, err := c.Compose(models.GenerationRequest{
		Prompt:       "ignored",
		Style:        models.StylePlush,
		Character:    "bear",
		CustomPrompt: "a bear made of clouds",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(comp.Prompt, "a bear made of clouds, ultra detailed"))
	assert.False(t, comp.Templated)
}

func TestComposeDeterministic(t *testing.T) {
	c := newTestComposer()
	req := models.GenerationRequest{Prompt: "owl", Style: models.StyleKeychain, Character: "owl"}
	a, err := c.Build(req)
	require.NoError(t, err)
	b, err := c.Build(req)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestComposeRejectsInvalidInput(t *testing.T) {
	c := newTestComposer()
	tests := []struct {
		name  string
		req   models.GenerationRequest
		field string
	}{
		{"empty", models.GenerationRequest{Prompt: ""}, "prompt"},
		{"whitespace", models.GenerationRequest{Prompt: "   \n\t"}, "prompt"},
		{"too long", models.GenerationRequest{Prompt: strings.Repeat("a", 1001)}, "prompt"},
		{"banned", models.GenerationRequest{Prompt: "a toy with a WEAPON"}, "prompt"},
		{"banned substring", models.GenerationRequest{Prompt: "nonviolent bunny"}, "prompt"},
		{"banned character", models.GenerationRequest{Prompt: "ok", Style: models.StylePlush, Character: "gore monster"}, "character"},
		{"unknown style", models.GenerationRequest{Prompt: "ok", Style: "teapot"}, "style"},
		{"unknown language", models.GenerationRequest{Prompt: "ok", Language: "fr"}, "language"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Compose(tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)

			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestLengthCountsCharactersNotBytes(t *testing.T) {
	c := newTestComposer()
	_, err := c.Compose(models.GenerationRequest{Prompt: strings.Repeat("猫", 1000)})
	assert.NoError(t, err)
	_, err = c.Compose(models.GenerationRequest{Prompt: strings.Repeat("猫", 1001)})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestComposerRestrictsStyles(t *testing.T) {
	c := NewComposer(DefaultValidator(), WithStyles(models.StylePlush))
	_, err := c.Compose(models.GenerationRequest{Prompt: "x", Style: models.StyleFigure, Character: "x"})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = c.Compose(models.GenerationRequest{Prompt: "x", Style: models.StylePlush, Character: "x"})
	assert.NoError(t, err)
}

func TestMustTemplatePanicsOnUnknownStyle(t *testing.T) {
	assert.Panics(t, func() { mustTemplate(models.LangEnglish, "teapot") })
}

func TestAnglePrompts(t *testing.T) {
	en := AnglePrompts("base", models.LangEnglish)
	assert.Equal(t, []string{
		"base, front view",
		"base, side profile",
		"base, back view",
		"base, 3/4 angle view",
	}, en)

	zh := AnglePrompts("底", models.LangChinese)
	require.Len(t, zh, 4)
	assert.Equal(t, "底, 正面视角", zh[0])
	assert.Equal(t, 4, AngleCount())
}

func TestParseStyleAliases(t *testing.T) {
	cases := map[string]models.Style{
		"blindBox":       models.StyleBlindBox,
		"collectibleBox": models.StyleBlindBox,
		"blind box":      models.StyleBlindBox,
		"Soft":           models.StylePlush,
		"charm":          models.StyleKeychain,
		"figurine":       models.StyleFigure,
		"display-figure": models.StyleFigure,
	}
	for in, want := range cases {
		got, ok := ParseStyle(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	got, ok := ParseStyle("")
	assert.True(t, ok)
	assert.Empty(t, got)

	_, ok = ParseStyle("spaceship")
	assert.False(t, ok)
}

func TestDecodeReferenceImage(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString(pngHeader)

	data, mime, err := DecodeReferenceImage(raw, DefaultMaxReferenceBytes)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, pngHeader, data)

	_, mime, err = DecodeReferenceImage("data:image/png;base64,"+raw, DefaultMaxReferenceBytes)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)

	_, _, err = DecodeReferenceImage(raw, 4)
	assert.ErrorIs(t, err, ErrInvalid)

	_, _, err = DecodeReferenceImage(base64.StdEncoding.EncodeToString([]byte("hello world")), 0)
	assert.ErrorIs(t, err, ErrInvalid)

	_, _, err = DecodeReferenceImage("!!!not base64!!!", 0)
	assert.ErrorIs(t, err, ErrInvalid)
}
