package prompt

import (
	"fmt"

	"github.com/byheaven/aitoy/pkg/models"
)

// template renders a style's base description from character and material.
type template func(character, material string) string

var templates = map[models.Language]map[models.Style]template{
	models.LangEnglish: {
		models.StyleBlindBox: func(character, material string) string {
			return fmt.Sprintf("Create a cute blind box collectible toy design of %s. "+
				"Style: modern collectible, chibi proportions (oversized head, small body), "+
				"adorable kawaii expression, %s material appearance, "+
				"pastel color palette, high-quality collectible figure, "+
				"clean white background with soft shadows, "+
				"professional product photography lighting, "+
				"3D rendered look, premium toy quality", character, material)
		},
		models.StylePlush: func(character, material string) string {
			return fmt.Sprintf("Design a huggable plush toy of %s. "+
				"Material: soft %s fabric texture, rounded soft features, "+
				"child-friendly design, warm and friendly expression, "+
				"embroidered facial details, approximately 25-30cm size, "+
				"cozy and comforting appearance, safety stitching visible, "+
				"studio lighting against clean background", character, material)
		},
		models.StyleKeychain: func(character, material string) string {
			return fmt.Sprintf("Design a miniature keychain charm toy of %s. "+
				"Material: durable %s, simplified but highly recognizable features, "+
				"approximately 4-6cm size, visible keyring attachment point, "+
				"vibrant colors that pop, cute and compact design, "+
				"clear details despite small size, collectible quality", character, material)
		},
		models.StyleFigure: func(character, material string) string {
			return fmt.Sprintf("Create a detailed action figure of %s. "+
				"Material: high-quality %s, articulated pose possibilities, "+
				"intricate sculpting details, premium collectible grade, "+
				"dynamic action stance, approximately 15cm scale, "+
				"professional studio lighting, display-worthy quality, "+
				"clean background for product showcase", character, material)
		},
	},
	models.LangChinese: {
		models.StyleBlindBox: func(character, material string) string {
			return fmt.Sprintf("创建一个可爱的%s盲盒收藏玩具设计。"+
				"风格：现代收藏品，Q版比例（大头小身体），"+
				"可爱的萌系表情，%s材质外观，"+
				"马卡龙色调，高品质收藏手办，"+
				"干净的白色背景与柔和阴影，"+
				"专业产品摄影灯光，3D渲染效果，精品玩具质感", character, material)
		},
		models.StylePlush: func(character, material string) string {
			return fmt.Sprintf("设计一个可拥抱的%s毛绒玩具。"+
				"材质：柔软的%s布料质感，圆润的柔和特征，"+
				"儿童友好设计，温暖友善的表情，"+
				"刺绣面部细节，约25-30厘米大小，"+
				"舒适温馨的外观，可见的安全缝制，"+
				"干净背景下的影棚灯光", character, material)
		},
		models.StyleKeychain: func(character, material string) string {
			return fmt.Sprintf("设计一个%s的迷你钥匙扣挂件玩具。"+
				"材质：耐用的%s，简化但高度可识别的特征，"+
				"约4-6厘米大小，可见的钥匙环连接点，"+
				"鲜艳突出的颜色，可爱紧凑的设计，"+
				"尽管尺寸小但细节清晰，收藏品质感", character, material)
		},
		models.StyleFigure: func(character, material string) string {
			return fmt.Sprintf("创建一个精细的%s动作手办。"+
				"材质：高品质%s，可动姿态设计，"+
				"复杂的雕刻细节，精品收藏级别，"+
				"动态动作姿态，约15厘米比例，"+
				"专业影棚灯光，展示级品质，"+
				"产品展示用的干净背景", character, material)
		},
	},
}

// defaultMaterials is used when the request leaves material empty.
var defaultMaterials = map[models.Style]string{
	models.StyleBlindBox: "vinyl",
	models.StylePlush:    "plush",
	models.StyleKeychain: "plastic",
	models.StyleFigure:   "vinyl",
}

type clauses struct {
	quality    string
	background string
	style      string
	safety     string
	angles     []string
}

var enhancements = map[models.Language]clauses{
	models.LangEnglish: {
		quality:    "ultra detailed, high resolution, professional product photography, studio lighting, sharp focus",
		background: "clean white background, subtle shadows, product showcase setup, minimalist composition",
		style:      "3D rendered, octane render quality, trending on ArtStation, photorealistic",
		safety:     "child-friendly, safe design, no sharp edges, appropriate for all ages, non-toxic appearance",
		angles:     []string{"front view", "side profile", "back view", "3/4 angle view"},
	},
	models.LangChinese: {
		quality:    "超精细，高分辨率，专业产品摄影，影棚灯光，清晰对焦",
		background: "干净的白色背景，细微阴影，产品展示设置，极简构图",
		style:      "3D渲染，octane渲染质量，ArtStation热门，照片般真实",
		safety:     "儿童友好，安全设计，无尖锐边缘，适合所有年龄，无毒外观",
		angles:     []string{"正面视角", "侧面轮廓", "背面视角", "3/4角度视角"},
	},
}

// ColorScheme names a palette clause.
type ColorScheme string

const (
	ColorPastel     ColorScheme = "pastel"
	ColorVibrant    ColorScheme = "vibrant"
	ColorMonochrome ColorScheme = "monochrome"
	ColorNatural    ColorScheme = "natural"
)

var colorSchemes = map[ColorScheme]map[models.Language]string{
	ColorPastel: {
		models.LangEnglish: "soft pastel colors, pink and blue tones, gentle gradient",
		models.LangChinese: "柔和马卡龙色，粉色和蓝色调，温和渐变",
	},
	ColorVibrant: {
		models.LangEnglish: "bright vibrant colors, rainbow palette, eye-catching",
		models.LangChinese: "明亮鲜艳的颜色，彩虹调色板，引人注目",
	},
	ColorMonochrome: {
		models.LangEnglish: "single color theme, monochromatic palette, elegant simplicity",
		models.LangChinese: "单色主题，单色调色板，优雅简约",
	},
	ColorNatural: {
		models.LangEnglish: "natural earth tones, brown and green hues, organic feel",
		models.LangChinese: "天然大地色调，棕色和绿色调，有机感觉",
	},
}

// mustTemplate panics on an unknown style or language: both are closed sets
// that callers normalize before composing.
func mustTemplate(lang models.Language, style models.Style) template {
	t, ok := templates[lang][style]
	if !ok {
		panic(fmt.Sprintf("prompt: no template for style %q language %q", style, lang))
	}
	return t
}

func mustClauses(lang models.Language) clauses {
	c, ok := enhancements[lang]
	if !ok {
		panic(fmt.Sprintf("prompt: no clauses for language %q", lang))
	}
	return c
}
