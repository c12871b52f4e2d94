package studio

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shouni/gemini-image-studio/pkg/batch"
	"github.com/shouni/gemini-image-studio/pkg/domain"
	"github.com/shouni/gemini-image-studio/pkg/generator"
	"github.com/shouni/gemini-image-studio/pkg/retry"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

// --- Mocks ---

// mockEndpoint は呼び出し回数と同時実行数を記録するのだ。
type mockEndpoint struct {
	calls    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32

	mu       sync.Mutex
	contents [][]*genai.Content
	configs  []*genai.GenerateContentConfig
	models   []string

	fn func(ctx context.Context, n int, model string) (*genai.GenerateContentResponse, error)
}

func (m *mockEndpoint) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	n := int(m.calls.Add(1))
	cur := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		p := m.peak.Load()
		if cur <= p || m.peak.CompareAndSwap(p, cur) {
			break
		}
	}

	m.mu.Lock()
	m.contents = append(m.contents, contents)
	m.configs = append(m.configs, config)
	m.models = append(m.models, model)
	m.mu.Unlock()

	return m.fn(ctx, n, model)
}

type mockStore struct {
	mu      sync.Mutex
	saved   map[string]domain.GeneratedImage
	deleted []string
	cleared bool
	loadErr error
}

func newMockStore(images ...domain.GeneratedImage) *mockStore {
	s := &mockStore{saved: make(map[string]domain.GeneratedImage)}
	for _, img := range images {
		s.saved[img.ID] = img
	}
	return s
}

func (m *mockStore) Save(ctx context.Context, img domain.GeneratedImage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[img.ID] = img
	return nil
}

func (m *mockStore) LoadAll(ctx context.Context) ([]domain.GeneratedImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	out := make([]domain.GeneratedImage, 0, len(m.saved))
	for _, img := range m.saved {
		out = append(out, img)
	}
	return out, nil
}

func (m *mockStore) DeleteMany(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.saved, id)
	}
	m.deleted = append(m.deleted, ids...)
	return nil
}

func (m *mockStore) ClearAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = make(map[string]domain.GeneratedImage)
	m.cleared = true
	return nil
}

func (m *mockStore) Saved() map[string]domain.GeneratedImage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]domain.GeneratedImage, len(m.saved))
	for k, v := range m.saved {
		out[k] = v
	}
	return out
}

type mockNotifier struct {
	mu      sync.Mutex
	signals []domain.Signal
}

func (m *mockNotifier) Notify(sig domain.Signal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals = append(m.signals, sig)
}

func (m *mockNotifier) Count(kind domain.SignalKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.signals {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

// --- Helpers ---

type fixture struct {
	studio   *Orchestrator
	endpoint *mockEndpoint
	store    *mockStore
	notifier *mockNotifier
}

func newFixture(t *testing.T, fn func(ctx context.Context, n int, model string) (*genai.GenerateContentResponse, error), opts Options) *fixture {
	t.Helper()
	return newFixtureWithConcurrency(t, 3, fn, opts)
}

// newFixtureWithConcurrency はランナーの同時実行数を指定してフィクスチャを作るのだ。
func newFixtureWithConcurrency(t *testing.T, concurrency int, fn func(ctx context.Context, n int, model string) (*genai.GenerateContentResponse, error), opts Options) *fixture {
	t.Helper()
	ep := &mockEndpoint{fn: fn}
	ex, err := generator.NewExecutor(ep, generator.ExecutorConfig{
		Timeout: 5 * time.Second,
		Retry:   retry.Policy{MaxAttempts: 3, Sleep: func(ctx context.Context, d time.Duration) error { return ctx.Err() }},
	})
	require.NoError(t, err)

	st := newMockStore()
	nt := &mockNotifier{}
	o, err := New(ex, batch.NewRunner[domain.GeneratedImage](batch.Config{Concurrency: concurrency}), generator.NewAssets(generator.AssetsConfig{}), st, nt, opts)
	require.NoError(t, err)
	return &fixture{studio: o, endpoint: ep, store: st, notifier: nt}
}

func imageResponse(data string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Parts: []*genai.Part{{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte(data)}}},
			},
		}},
	}
}

func succeed(ctx context.Context, n int, model string) (*genai.GenerateContentResponse, error) {
	return imageResponse("img"), nil
}

// blockUntilCancelled は ctx がキャンセルされるまで戻らないのだ。
func blockUntilCancelled(started chan<- struct{}) func(ctx context.Context, n int, model string) (*genai.GenerateContentResponse, error) {
	return func(ctx context.Context, n int, model string) (*genai.GenerateContentResponse, error) {
		if started != nil {
			started <- struct{}{}
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

func settingsWithBatch(n int) *domain.Settings {
	s := domain.DefaultSettings().With(func(s *domain.Settings) {
		s.BatchSize = n
		s.Model = domain.TierFast
	})
	return &s
}

func waitBatch(t *testing.T, b *Batch) (BatchResult, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := b.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "batch did not finish")
	return res, err
}
