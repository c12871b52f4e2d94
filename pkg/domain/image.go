package domain

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// Status は GeneratedImage のライフサイクル状態です。
type Status string

const (
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Source は検索グラウンディングで参照された出典です。
type Source struct {
	Title string `yaml:"title" json:"title"`
	URI   string `yaml:"uri" json:"uri"`
}

// GeneratedImage はギャラリーに並ぶ1枚の画像です。
// StatusGenerating の間は Data を持たず、永続化もされません。
type GeneratedImage struct {
	ID                string    `yaml:"id" json:"id"`
	Prompt            string    `yaml:"prompt" json:"prompt"`
	Settings          Settings  `yaml:"settings" json:"settings"`
	MIMEType          string    `yaml:"mime_type,omitempty" json:"mime_type,omitempty"`
	Data              []byte    `yaml:"-" json:"-"`
	CreatedAt         time.Time `yaml:"created_at" json:"created_at"`
	Sources           []Source  `yaml:"sources,omitempty" json:"sources,omitempty"`
	GenerationSeconds float64   `yaml:"generation_seconds,omitempty" json:"generation_seconds,omitempty"`
	Status            Status    `yaml:"status" json:"status"`
}

// HasAsset は画像データを保持しているかを返します。
func (g GeneratedImage) HasAsset() bool {
	return len(g.Data) > 0
}

// DataURL は画像を data: URL 形式で返します。データが無い場合は空文字です。
func (g GeneratedImage) DataURL() string {
	if !g.HasAsset() {
		return ""
	}
	mime := g.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(g.Data)
}

// Extension は MIME タイプに対応するファイル拡張子を返します。
func (g GeneratedImage) Extension() string {
	switch g.MIMEType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}

// ImageRef は参照画像の入力です。URI (http/https/gs/data) か生データのどちらかを持ちます。
type ImageRef struct {
	URI      string
	Data     []byte
	MIMEType string
}

// ParseDataURL は "data:<mime>;base64,<payload>" を分解します。
func ParseDataURL(raw string) (mime string, data []byte, err error) {
	rest, ok := strings.CutPrefix(raw, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data URL")
	}
	mime, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, fmt.Errorf("data URL is not base64 encoded")
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decoding data URL: %w", err)
	}
	return mime, data, nil
}
