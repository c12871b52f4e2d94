package generator

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shouni/go-gemini-client/pkg/gemini"
	"github.com/shouni/go-http-kit/pkg/httpkit"
	"github.com/shouni/go-remote-io/pkg/remoteio"
	"google.golang.org/genai"
)

// --- Mocks ---

type endpointCall struct {
	Model    string
	Contents []*genai.Content
	Config   *genai.GenerateContentConfig
}

// mockEndpoint は呼び出しを記録し、fn の結果を返すのだ。
type mockEndpoint struct {
	mu    sync.Mutex
	calls []endpointCall
	fn    func(ctx context.Context, n int, model string) (*genai.GenerateContentResponse, error)
}

func (m *mockEndpoint) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, endpointCall{Model: model, Contents: contents, Config: config})
	n := len(m.calls)
	m.mu.Unlock()
	return m.fn(ctx, n, model)
}

func (m *mockEndpoint) Calls() []endpointCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]endpointCall(nil), m.calls...)
}

// mockUploader は gemini.GenerativeModel を埋め込み、UploadFile だけを実装するのだ。
type mockUploader struct {
	gemini.GenerativeModel
	uploadCalled int
	lastMIME     string
	err          error
}

func (m *mockUploader) UploadFile(ctx context.Context, data []byte, mimeType, displayName string) (string, string, error) {
	m.uploadCalled++
	m.lastMIME = mimeType
	if m.err != nil {
		return "", "", m.err
	}
	return "https://gemini.api/files/new-file-id", "files/new-file-id", nil
}

type mockReader struct {
	remoteio.InputReader
	data    []byte
	err     error
	lastURI string
}

func (m *mockReader) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	m.lastURI = uri
	if m.err != nil {
		return nil, m.err
	}
	return io.NopCloser(bytes.NewReader(m.data)), nil
}

type mockHTTPClient struct {
	httpkit.ClientInterface
	data    []byte
	err     error
	fetched []string
}

func (m *mockHTTPClient) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	m.fetched = append(m.fetched, url)
	return m.data, m.err
}

type mockCache struct {
	data map[string]any
}

func (m *mockCache) Get(key string) (any, bool) {
	val, ok := m.data[key]
	return val, ok
}

func (m *mockCache) Set(key string, value any, d time.Duration) {
	m.data[key] = value
}

// --- Helpers ---

// pngBytes は size x size の単色 PNG を作るのだ。
func pngBytes(t *testing.T, size int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for x := 0; x < size; x++ {
		for y := 0; y < size; y++ {
			img.Set(x, y, color.RGBA{uint8(x * 7), uint8(y * 13), uint8(x ^ y), 255})
		}
	}
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func imageResponse(data []byte) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Parts: []*genai.Part{{InlineData: &genai.Blob{MIMEType: "image/png", Data: data}}},
			},
		}},
	}
}

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}
