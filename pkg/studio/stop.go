package studio

import (
	"context"
	"log/slog"
	"slices"

	"github.com/shouni/gemini-image-studio/pkg/domain"
)

// StopOne は id のユニットだけを中断し、プレースホルダーを取り除きます。
// 既に終わったユニットや未知の id に対しては何もせず false を返します。
func (o *Orchestrator) StopOne(id string) bool {
	var it *pendingItem
	o.update(func(s *snapshot) bool {
		var ok bool
		if it, ok = s.pending[id]; !ok {
			return false
		}
		delete(s.pending, id)
		s.removeImages(id)
		return true
	})
	if it == nil {
		return false
	}
	it.cancel(errStopped)
	slog.Info("画像生成を中断しました", "id", id)
	return true
}

// StopAll は未完了のユニットをすべて中断し、プレースホルダーを取り除いて中断の通知を1件だけ設定します。
// 中断したユニット数を返します。StopAll の後に始めた Generate には影響しません。
func (o *Orchestrator) StopAll() int {
	var items []*pendingItem
	o.update(func(s *snapshot) bool {
		for _, it := range s.pending {
			items = append(items, it)
		}
		clear(s.pending)
		s.images = slices.DeleteFunc(s.images, func(img domain.GeneratedImage) bool {
			return img.Status == domain.StatusGenerating
		})
		s.lastErr = stoppedNotice()
		return true
	})
	for _, it := range items {
		it.cancel(errStopped)
	}
	slog.Info("すべての画像生成を中断しました", "count", len(items))
	return len(items)
}

// RemoveMany は ids の画像をギャラリーと保存先から削除します。生成中のものは中断します。
func (o *Orchestrator) RemoveMany(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	var stopped []*pendingItem
	o.update(func(s *snapshot) bool {
		for _, id := range ids {
			if it, ok := s.pending[id]; ok {
				stopped = append(stopped, it)
				delete(s.pending, id)
			}
		}
		s.removeImages(ids...)
		return true
	})
	for _, it := range stopped {
		it.cancel(errStopped)
	}

	if o.store == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	ids = slices.Clone(ids)
	o.background(func() {
		if err := o.store.DeleteMany(ctx, ids); err != nil {
			slog.WarnContext(ctx, "画像の削除に失敗しました", "count", len(ids), "error", err)
		}
	})
}

// ClearAll はギャラリーを空にし、生成中のユニットもすべて中断します。
// StopAll と同じく中断の通知を設定します。
func (o *Orchestrator) ClearAll(ctx context.Context) {
	var items []*pendingItem
	o.update(func(s *snapshot) bool {
		for _, it := range s.pending {
			items = append(items, it)
		}
		clear(s.pending)
		s.images = nil
		s.lastErr = stoppedNotice()
		return true
	})
	for _, it := range items {
		it.cancel(errStopped)
	}

	if o.store == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	o.background(func() {
		if err := o.store.ClearAll(ctx); err != nil {
			slog.WarnContext(ctx, "ギャラリーの消去に失敗しました", "error", err)
		}
	})
}

func stoppedNotice() *domain.GenerationError {
	return &domain.GenerationError{Code: domain.CodeAborted, Message: "All generations stopped."}
}
