package domain

import (
	"fmt"
	"slices"
)

// ModelTier はリモートモデルの能力クラスです。
type ModelTier string

const (
	TierFast ModelTier = "fast"
	TierPro  ModelTier = "pro"
)

// AspectRatio は生成画像の縦横比です。
type AspectRatio string

const (
	AspectSquare         AspectRatio = "1:1"
	AspectPortrait       AspectRatio = "3:4"
	AspectLandscape      AspectRatio = "4:3"
	AspectWide           AspectRatio = "16:9"
	AspectTall           AspectRatio = "9:16"
	AspectCinematic      AspectRatio = "21:9"
	AspectPhotoPortrait  AspectRatio = "2:3"
	AspectPhotoLandscape AspectRatio = "3:2"
)

// AspectRatios はサポートされる縦横比の一覧です。
var AspectRatios = []AspectRatio{
	AspectSquare, AspectPortrait, AspectLandscape, AspectWide,
	AspectTall, AspectCinematic, AspectPhotoPortrait, AspectPhotoLandscape,
}

// Resolution は pro ティアでのみ有効な解像度クラスです。
type Resolution string

const (
	Resolution1K Resolution = "1K"
	Resolution2K Resolution = "2K"
	Resolution4K Resolution = "4K"
)

// Resolutions はサポートされる解像度の一覧です。
var Resolutions = []Resolution{Resolution1K, Resolution2K, Resolution4K}

// Cinematic はカメラ・ライティング系の補助設定です。
// プロンプトのテンプレート化は呼び出し側の責務で、ここでは値として運ぶだけです。
type Cinematic struct {
	CameraType  string `yaml:"camera_type,omitempty" json:"camera_type,omitempty"`
	FocalLength string `yaml:"focal_length,omitempty" json:"focal_length,omitempty"`
	Angle       string `yaml:"angle,omitempty" json:"angle,omitempty"`
	Lighting    string `yaml:"lighting,omitempty" json:"lighting,omitempty"`
	Focus       string `yaml:"focus,omitempty" json:"focus,omitempty"`
	ZoomDetail  bool   `yaml:"zoom_detail,omitempty" json:"zoom_detail,omitempty"`
	Pores       bool   `yaml:"pores,omitempty" json:"pores,omitempty"`
	EyeReflect  bool   `yaml:"eye_reflections,omitempty" json:"eye_reflections,omitempty"`
}

// MaxBatchSize は1回の生成で要求できる枚数の上限です。
const MaxBatchSize = 10

// Settings は生成時の設定スナップショットです。
// 値型として扱い、変更が必要な場合は With 系のメソッドでコピーを作ります。
type Settings struct {
	AspectRatio   AspectRatio `yaml:"aspect_ratio" json:"aspect_ratio"`
	Resolution    Resolution  `yaml:"resolution" json:"resolution"`
	BatchSize     int         `yaml:"batch_size" json:"batch_size"`
	Model         ModelTier   `yaml:"model" json:"model"`
	ImageToImage  bool        `yaml:"image_to_image" json:"image_to_image"`
	Grounding     bool        `yaml:"grounding" json:"grounding"`
	SoundFeedback bool        `yaml:"sound_feedback" json:"sound_feedback"`
	Cinematic     Cinematic   `yaml:"cinematic,omitempty" json:"cinematic,omitempty"`
}

// DefaultSettings はスタジオ起動時の既定値を返します。
func DefaultSettings() Settings {
	return Settings{
		AspectRatio:   AspectSquare,
		Resolution:    Resolution1K,
		BatchSize:     1,
		Model:         TierPro,
		SoundFeedback: true,
	}
}

// Option は Settings の派生を作るための関数です。
type Option func(*Settings)

// With はオプションを適用したコピーを返します。レシーバは変更しません。
func (s Settings) With(opts ...Option) Settings {
	out := s
	for _, opt := range opts {
		opt(&out)
	}
	return out
}

// WithBatchSize はバッチサイズだけを差し替えたコピーを返します。
func (s Settings) WithBatchSize(n int) Settings {
	return s.With(func(o *Settings) { o.BatchSize = n })
}

// WithModel はモデルティアだけを差し替えたコピーを返します。
func (s Settings) WithModel(tier ModelTier) Settings {
	return s.With(func(o *Settings) { o.Model = tier })
}

// WithCinematic はシネマティック設定をまるごと差し替えたコピーを返します。
func (s Settings) WithCinematic(c Cinematic) Settings {
	return s.With(func(o *Settings) { o.Cinematic = c })
}

// Normalize は欠けている値を既定値で補ったコピーを返します。
func (s Settings) Normalize() Settings {
	def := DefaultSettings()
	return s.With(func(o *Settings) {
		if o.AspectRatio == "" {
			o.AspectRatio = def.AspectRatio
		}
		if o.Resolution == "" {
			o.Resolution = def.Resolution
		}
		if o.Model == "" {
			o.Model = def.Model
		}
		if o.BatchSize < 1 {
			o.BatchSize = 1
		}
	})
}

// Validate は列挙値の範囲を検証します。
func (s Settings) Validate() error {
	if !slices.Contains(AspectRatios, s.AspectRatio) {
		return fmt.Errorf("unsupported aspect ratio: %q", s.AspectRatio)
	}
	if !slices.Contains(Resolutions, s.Resolution) {
		return fmt.Errorf("unsupported resolution: %q", s.Resolution)
	}
	if s.Model != TierFast && s.Model != TierPro {
		return fmt.Errorf("unsupported model tier: %q", s.Model)
	}
	if s.BatchSize < 1 || s.BatchSize > MaxBatchSize {
		return fmt.Errorf("batch size must be between 1 and %d, got %d", MaxBatchSize, s.BatchSize)
	}
	return nil
}
