package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shouni/gemini-image-studio/pkg/batch"
	"github.com/shouni/gemini-image-studio/pkg/config"
	"github.com/shouni/gemini-image-studio/pkg/credential"
	"github.com/shouni/gemini-image-studio/pkg/domain"
	"github.com/shouni/gemini-image-studio/pkg/generator"
	"github.com/shouni/gemini-image-studio/pkg/notify"
	"github.com/shouni/gemini-image-studio/pkg/store"
	"github.com/shouni/gemini-image-studio/pkg/studio"
	"github.com/shouni/go-gemini-client/pkg/gemini"
	"github.com/shouni/go-http-kit/pkg/httpkit"
	"github.com/shouni/go-remote-io/pkg/gcsfactory"
)

// app は1回のコマンド実行で使う依存関係です。
type app struct {
	cfg    *config.Config
	studio *studio.Orchestrator
	close  func() error
}

// credentials は保存済みのキーを環境変数より優先する取得元を返します。
func credentials(cfg *config.Config) (*credential.File, credential.Chain, error) {
	path := cfg.CredentialFile
	if path == "" {
		p, err := credential.DefaultPath()
		if err != nil {
			return nil, nil, err
		}
		path = p
	}
	file := credential.NewFile(path)
	return file, credential.Chain{file, credential.Static(cfg.APIKey)}, nil
}

func openStore(ctx context.Context, cfg *config.Config) (studio.Store, func() error, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return store.NewMemoryStore(), func() error { return nil }, nil
	case config.StorePostgres:
		s, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("creating postgres store: %w", err)
		}
		return s, s.Close, nil
	default:
		s, err := store.NewFileStore(cfg.StoreDir)
		if err != nil {
			return nil, nil, fmt.Errorf("creating file store: %w", err)
		}
		return s, func() error { return nil }, nil
	}
}

// assetsConfig は参照画像の取得先を組み立てます。
// File API のアップローダーはキーがある時だけ、gs:// の読み込みは STUDIO_GCS が true の時だけ作ります。
func assetsConfig(ctx context.Context, cfg *config.Config, apiKey string) (generator.AssetsConfig, func() error, error) {
	ac := generator.AssetsConfig{
		HTTPClient:  httpkit.New(cfg.FetchTimeout),
		Cache:       cache.New(generator.DefaultCacheTTL, time.Hour),
		InlineLimit: cfg.InlineLimit,
	}
	closeFn := func() error { return nil }

	if cfg.FileAPI && apiKey != "" {
		client, err := gemini.NewClient(ctx, gemini.Config{APIKey: apiKey})
		if err != nil {
			return ac, nil, fmt.Errorf("creating file api client: %w", err)
		}
		ac.Uploader = client
	}

	if cfg.GCS {
		factory, err := gcsfactory.New(ctx)
		if err != nil {
			return ac, nil, fmt.Errorf("creating gcs client: %w", err)
		}
		reader, err := factory.InputReader()
		if err != nil {
			_ = factory.Close()
			return ac, nil, fmt.Errorf("creating gcs reader: %w", err)
		}
		ac.Reader = reader
		closeFn = factory.Close
	}
	return ac, closeFn, nil
}

func newApp(ctx context.Context, cfg *config.Config, stderr io.Writer) (*app, error) {
	_, creds, err := credentials(cfg)
	if err != nil {
		return nil, err
	}
	endpoint, err := generator.NewGenAIEndpoint(creds)
	if err != nil {
		return nil, fmt.Errorf("creating endpoint: %w", err)
	}
	executor, err := generator.NewExecutor(endpoint, cfg.ExecutorConfig())
	if err != nil {
		return nil, fmt.Errorf("creating executor: %w", err)
	}

	ac, closeAssets, err := assetsConfig(ctx, cfg, creds.EffectiveCredential())
	if err != nil {
		return nil, err
	}
	assets := generator.NewAssets(ac)

	st, closeStoreOnly, err := openStore(ctx, cfg)
	if err != nil {
		_ = closeAssets()
		return nil, err
	}
	closeStore := func() error {
		return errors.Join(closeStoreOnly(), closeAssets())
	}

	notifier := notify.Multi{
		notify.Log{},
		&notify.Bell{Open: func() (io.Writer, error) { return stderr, nil }},
	}

	orch, err := studio.New(executor, batch.NewRunner[domain.GeneratedImage](cfg.BatchConfig()), assets, st, notifier, studio.Options{
		Defaults: cfg.Defaults(),
		OnCredentialExpired: func(ge *domain.GenerationError) {
			slog.Error("API キーが無効です。studio auth set で設定し直してください", "code", ge.Code)
		},
	})
	if err != nil {
		_ = closeStore()
		return nil, fmt.Errorf("creating studio: %w", err)
	}

	return &app{cfg: cfg, studio: orch, close: closeStore}, nil
}

// Close はバックグラウンドの保存を待ってから保存先を閉じます。
func (a *app) Close() error {
	a.studio.Flush()
	return a.close()
}
