package store

import (
	"fmt"

	"github.com/parquet-go/parquet-go"
	"github.com/shouni/gemini-image-studio/pkg/domain"
)

// ExportRow はギャラリーを分析用に書き出す1行です。画像本体は含めません。
type ExportRow struct {
	ID                string  `parquet:"id"`
	Prompt            string  `parquet:"prompt"`
	Model             string  `parquet:"model"`
	AspectRatio       string  `parquet:"aspect_ratio"`
	Resolution        string  `parquet:"resolution"`
	Grounding         bool    `parquet:"grounding"`
	ImageToImage      bool    `parquet:"image_to_image"`
	MIMEType          string  `parquet:"mime_type"`
	SizeBytes         int64   `parquet:"size_bytes"`
	SourceCount       int32   `parquet:"source_count"`
	GenerationSeconds float64 `parquet:"generation_seconds"`
	CreatedAtUnixMs   int64   `parquet:"created_at_unix_ms"`
}

// ExportParquet は完成した画像のメタデータを Parquet ファイルに書き出し、書いた行数を返します。
func ExportParquet(path string, images []domain.GeneratedImage) (int, error) {
	rows := make([]ExportRow, 0, len(images))
	for _, img := range images {
		if img.Status != domain.StatusCompleted {
			continue
		}
		rows = append(rows, ExportRow{
			ID:                img.ID,
			Prompt:            img.Prompt,
			Model:             string(img.Settings.Model),
			AspectRatio:       string(img.Settings.AspectRatio),
			Resolution:        string(img.Settings.Resolution),
			Grounding:         img.Settings.Grounding,
			ImageToImage:      img.Settings.ImageToImage,
			MIMEType:          img.MIMEType,
			SizeBytes:         int64(len(img.Data)),
			SourceCount:       int32(len(img.Sources)),
			GenerationSeconds: img.GenerationSeconds,
			CreatedAtUnixMs:   img.CreatedAt.UnixMilli(),
		})
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		return 0, fmt.Errorf("failed to write parquet: %w", err)
	}
	return len(rows), nil
}
