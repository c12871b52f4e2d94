package generator

import (
	"github.com/shouni/gemini-image-studio/pkg/domain"
	"google.golang.org/genai"
)

// Call は1ユニット分のリモート呼び出しの内容です。
type Call struct {
	Tier        domain.ModelTier
	Parts       []*genai.Part
	AspectRatio domain.AspectRatio
	Resolution  domain.Resolution
	Grounding   bool
}

// CallFromSettings は設定からティアと生成オプションを写した Call を作ります。
func CallFromSettings(s domain.Settings, parts []*genai.Part) Call {
	return Call{
		Tier:        s.Model,
		Parts:       parts,
		AspectRatio: s.AspectRatio,
		Resolution:  s.Resolution,
		Grounding:   s.Grounding,
	}
}

// simplified は fast ティア向けに、ティア固有のオプションを落とした Call を返します。
func (c Call) simplified() Call {
	return Call{
		Tier:        domain.TierFast,
		Parts:       c.Parts,
		AspectRatio: c.AspectRatio,
	}
}

// contents は Parts を単一のユーザーターンにまとめます。
func (c Call) contents() []*genai.Content {
	return []*genai.Content{{Role: "user", Parts: c.Parts}}
}

// config は生成設定を組み立てます。解像度と検索グラウンディングは pro ティアでのみ有効です。
func (c Call) config() *genai.GenerateContentConfig {
	img := &genai.ImageConfig{AspectRatio: string(c.AspectRatio)}
	cfg := &genai.GenerateContentConfig{ImageConfig: img}
	if c.Tier != domain.TierPro {
		return cfg
	}
	if c.Resolution != "" {
		img.ImageSize = string(c.Resolution)
	}
	if c.Grounding {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	return cfg
}
