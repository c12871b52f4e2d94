package studio

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shouni/gemini-image-studio/pkg/domain"
)

// Load は保存済みの画像を読み込み、ギャラリーの末尾に新しい順で追加します。
// 完成していない画像と、既にギャラリーにある ID は読み飛ばします。
func (o *Orchestrator) Load(ctx context.Context) (int, error) {
	if o.store == nil {
		return 0, nil
	}
	loaded, err := o.store.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading gallery: %w", err)
	}

	loaded = slices.DeleteFunc(loaded, func(img domain.GeneratedImage) bool {
		return img.Status != domain.StatusCompleted || !img.HasAsset()
	})
	slices.SortStableFunc(loaded, func(a, b domain.GeneratedImage) int {
		return cmp.Compare(b.CreatedAt.UnixNano(), a.CreatedAt.UnixNano())
	})

	added := 0
	o.update(func(s *snapshot) bool {
		for _, img := range loaded {
			if s.indexOf(img.ID) >= 0 {
				continue
			}
			s.images = append(s.images, img)
			added++
		}
		return added > 0
	})
	slog.InfoContext(ctx, "ギャラリーを読み込みました", "count", added)
	return added, nil
}

// Prepend は外部で用意した画像をギャラリーの先頭に追加して保存します。
func (o *Orchestrator) Prepend(ctx context.Context, img domain.GeneratedImage) (domain.GeneratedImage, error) {
	if !img.HasAsset() {
		return domain.GeneratedImage{}, fmt.Errorf("image has no data")
	}
	if img.ID == "" {
		img.ID = uuid.NewString()
	}
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now()
	}
	if img.Settings == (domain.Settings{}) {
		img.Settings = o.opts.Defaults
	}
	img.Status = domain.StatusCompleted

	o.update(func(s *snapshot) bool {
		s.removeImages(img.ID)
		s.images = append([]domain.GeneratedImage{img}, s.images...)
		return true
	})
	o.persist(ctx, img)
	return img, nil
}
