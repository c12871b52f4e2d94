package store

import (
	"context"
	"slices"
	"sync"

	"github.com/shouni/gemini-image-studio/pkg/domain"
)

// MemoryStore はプロセス内だけで保持するストアです。
type MemoryStore struct {
	mu     sync.RWMutex
	images map[string]domain.GeneratedImage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{images: make(map[string]domain.GeneratedImage)}
}

func (s *MemoryStore) Save(ctx context.Context, img domain.GeneratedImage) error {
	if err := checkPersistable(img); err != nil {
		return err
	}
	img.Data = slices.Clone(img.Data)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[img.ID] = img
	return nil
}

func (s *MemoryStore) LoadAll(ctx context.Context) ([]domain.GeneratedImage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.GeneratedImage, 0, len(s.images))
	for _, img := range s.images {
		out = append(out, img)
	}
	sortNewest(out)
	return out, nil
}

func (s *MemoryStore) DeleteMany(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.images, id)
	}
	return nil
}

func (s *MemoryStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.images)
	return nil
}
