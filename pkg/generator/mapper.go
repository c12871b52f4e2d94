package generator

import (
	"time"

	"github.com/google/uuid"
	"github.com/shouni/gemini-image-studio/pkg/domain"
	"google.golang.org/genai"
)

const defaultSourceTitle = "Web Source"

// Extract はレスポンスから最初のインライン画像を取り出し、完成した GeneratedImage を作ります。
// 画像が含まれていない場合は nil を返します。
func Extract(resp *genai.GenerateContentResponse, prompt string, settings domain.Settings, elapsed time.Duration) *domain.GeneratedImage {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return nil
	}

	var blob *genai.Blob
	for _, part := range candidate.Content.Parts {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			blob = part.InlineData
			break
		}
	}
	if blob == nil {
		return nil
	}

	mime := blob.MIMEType
	if mime == "" {
		mime = "image/png"
	}

	return &domain.GeneratedImage{
		ID:                uuid.NewString(),
		Prompt:            prompt,
		Settings:          settings,
		MIMEType:          mime,
		Data:              blob.Data,
		CreatedAt:         time.Now(),
		Sources:           sourcesFrom(candidate.GroundingMetadata),
		GenerationSeconds: elapsed.Seconds(),
		Status:            domain.StatusCompleted,
	}
}

func sourcesFrom(md *genai.GroundingMetadata) []domain.Source {
	if md == nil {
		return nil
	}
	var sources []domain.Source
	for _, chunk := range md.GroundingChunks {
		if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" {
			continue
		}
		title := chunk.Web.Title
		if title == "" {
			title = defaultSourceTitle
		}
		sources = append(sources, domain.Source{Title: title, URI: chunk.Web.URI})
	}
	return sources
}
