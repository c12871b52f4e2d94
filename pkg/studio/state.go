package studio

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/shouni/gemini-image-studio/pkg/domain"
)

// pendingItem は未完了のユニットです。pending から取り除かれた時点で終端状態になります。
type pendingItem struct {
	id        string
	ctx       context.Context
	cancel    context.CancelCauseFunc
	createdAt time.Time
}

// snapshot はオーケストレーターの状態です。一度公開したら変更せず、更新は丸ごと差し替えます。
type snapshot struct {
	images  []domain.GeneratedImage
	pending map[string]*pendingItem
	lastErr *domain.GenerationError
}

func (s *snapshot) clone() *snapshot {
	pending := maps.Clone(s.pending)
	if pending == nil {
		pending = make(map[string]*pendingItem)
	}
	return &snapshot{
		images:  slices.Clone(s.images),
		pending: pending,
		lastErr: s.lastErr,
	}
}

func (s *snapshot) view() State {
	return State{
		Images:      slices.Clone(s.images),
		Outstanding: len(s.pending),
		LastError:   s.lastErr,
	}
}

func (s *snapshot) indexOf(id string) int {
	return slices.IndexFunc(s.images, func(img domain.GeneratedImage) bool { return img.ID == id })
}

// removeImages は ids に含まれる画像を取り除きます。
func (s *snapshot) removeImages(ids ...string) {
	s.images = slices.DeleteFunc(s.images, func(img domain.GeneratedImage) bool {
		return slices.Contains(ids, img.ID)
	})
}

// State は購読者に渡す読み取り専用のビューです。
type State struct {
	Images      []domain.GeneratedImage
	Outstanding int
	LastError   *domain.GenerationError
}

// IsGenerating は未完了のユニットがあるかを返します。
func (s State) IsGenerating() bool {
	return s.Outstanding > 0
}
