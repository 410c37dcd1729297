package prompt

import (
	"strings"

	"github.com/byheaven/aitoy/pkg/models"
)

var styleAliases = map[string]models.Style{
	"blindbox":       models.StyleBlindBox,
	"blind box":      models.StyleBlindBox,
	"blind":          models.StyleBlindBox,
	"box":            models.StyleBlindBox,
	"collectiblebox": models.StyleBlindBox,
	"collectible":    models.StyleBlindBox,
	"plush":          models.StylePlush,
	"soft":           models.StylePlush,
	"stuffed":        models.StylePlush,
	"keychain":       models.StyleKeychain,
	"key":            models.StyleKeychain,
	"charm":          models.StyleKeychain,
	"figure":         models.StyleFigure,
	"action":         models.StyleFigure,
	"figurine":       models.StyleFigure,
	"displayfigure":  models.StyleFigure,
}

// ParseStyle normalizes a style name or alias. Empty input yields ("", true).
func ParseStyle(s string) (models.Style, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return "", true
	}
	key = strings.NewReplacer("-", "", "_", "").Replace(key)
	st, ok := styleAliases[key]
	return st, ok
}

// ParseLanguage normalizes a language code. "primary" maps to English and
// "secondary" to Chinese. Empty input yields English.
func ParseLanguage(s string) (models.Language, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "en", "en-us", "english", "primary":
		return models.LangEnglish, true
	case "zh", "zh-cn", "chinese", "secondary":
		return models.LangChinese, true
	default:
		return "", false
	}
}

// ParseColorScheme normalizes a palette name. Empty input yields pastel.
func ParseColorScheme(s string) (ColorScheme, bool) {
	cs := ColorScheme(strings.ToLower(strings.TrimSpace(s)))
	if cs == "" {
		return ColorPastel, true
	}
	_, ok := colorSchemes[cs]
	return cs, ok
}
