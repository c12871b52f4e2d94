package generator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/genai"
)

// Endpoint はリモートの生成 API です。genai.Models と同じ形をしています。
type Endpoint interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// CredentialSource は現在有効な API キーを返します。
type CredentialSource interface {
	EffectiveCredential() string
}

// ErrNoCredential は API キーが設定されていないことを示します。
var ErrNoCredential = errors.New("no API key configured")

// GenAIEndpoint は genai.Client を使った Endpoint 実装です。
// クライアントはキーごとに遅延生成し、キーが変わった時だけ作り直します。
type GenAIEndpoint struct {
	creds CredentialSource

	mu     sync.Mutex
	key    string
	client *genai.Client
}

// NewGenAIEndpoint は GenAIEndpoint を初期化します。
func NewGenAIEndpoint(creds CredentialSource) (*GenAIEndpoint, error) {
	if creds == nil {
		return nil, fmt.Errorf("credential source is required")
	}
	return &GenAIEndpoint{creds: creds}, nil
}

func (e *GenAIEndpoint) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	client, err := e.clientFor(ctx)
	if err != nil {
		return nil, err
	}
	return client.Models.GenerateContent(ctx, model, contents, config)
}

func (e *GenAIEndpoint) clientFor(ctx context.Context) (*genai.Client, error) {
	key := e.creds.EffectiveCredential()
	if key == "" {
		return nil, &Failure{Kind: KindAuth, Err: ErrNoCredential}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil && e.key == key {
		return e.client, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai クライアントの作成に失敗しました: %w", err)
	}
	e.client = client
	e.key = key
	return client, nil
}
