// Package config は環境変数からスタジオの設定を読み込みます。
package config

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
	"github.com/shouni/gemini-image-studio/pkg/batch"
	"github.com/shouni/gemini-image-studio/pkg/domain"
	"github.com/shouni/gemini-image-studio/pkg/generator"
	"github.com/shouni/gemini-image-studio/pkg/retry"
	"golang.org/x/time/rate"
)

// StoreKind はギャラリーの保存先の種類です。
type StoreKind string

const (
	StoreMemory   StoreKind = "memory"
	StoreFile     StoreKind = "file"
	StorePostgres StoreKind = "postgres"
)

// Config はスタジオ全体の設定です。
type Config struct {
	APIKey         string `env:"GEMINI_API_KEY"`
	CredentialFile string `env:"STUDIO_CREDENTIAL_FILE"`

	ProModel         string        `env:"STUDIO_PRO_MODEL" envDefault:"gemini-3-pro-image-preview"`
	FastModel        string        `env:"STUDIO_FAST_MODEL" envDefault:"gemini-2.5-flash-image"`
	RequestTimeout   time.Duration `env:"STUDIO_REQUEST_TIMEOUT" envDefault:"240s"`
	MaxAttempts      int           `env:"STUDIO_MAX_ATTEMPTS" envDefault:"3"`
	BaseDelay        time.Duration `env:"STUDIO_BASE_DELAY" envDefault:"3s"`
	MaxDelay         time.Duration `env:"STUDIO_MAX_DELAY" envDefault:"60s"`
	RetryHintBuffer  time.Duration `env:"STUDIO_RETRY_HINT_BUFFER" envDefault:"1s"`

	Concurrency int           `env:"STUDIO_CONCURRENCY" envDefault:"3"`
	MaxJitter   time.Duration `env:"STUDIO_MAX_JITTER" envDefault:"200ms"`
	// DispatchRate は1秒あたりの送信数の上限です。0 なら制限しません。
	DispatchRate float64 `env:"STUDIO_DISPATCH_RATE" envDefault:"0"`

	Store       StoreKind `env:"STUDIO_STORE" envDefault:"file"`
	StoreDir    string    `env:"STUDIO_STORE_DIR" envDefault:"gallery"`
	DatabaseURL string    `env:"DATABASE_URL"`

	FetchTimeout time.Duration `env:"STUDIO_FETCH_TIMEOUT" envDefault:"30s"`
	InlineLimit  int           `env:"STUDIO_INLINE_LIMIT" envDefault:"4194304"`
	// FileAPI が true なら上限を超える参照画像を Gemini File API にアップロードします。
	FileAPI bool `env:"STUDIO_FILE_API" envDefault:"true"`
	// GCS が true なら gs:// の参照画像を Application Default Credentials で読みます。
	GCS bool `env:"STUDIO_GCS" envDefault:"false"`

	LogLevel string `env:"STUDIO_LOG_LEVEL" envDefault:"info"`
	Sounds   bool   `env:"STUDIO_SOUNDS" envDefault:"true"`

	DefaultModel      domain.ModelTier   `env:"STUDIO_DEFAULT_MODEL" envDefault:"pro"`
	DefaultAspect     domain.AspectRatio `env:"STUDIO_DEFAULT_ASPECT" envDefault:"1:1"`
	DefaultResolution domain.Resolution  `env:"STUDIO_DEFAULT_RESOLUTION" envDefault:"1K"`
}

// Load は .env があれば読み込んでから環境変数を解析し、検証します。
func Load() (*Config, error) {
	// .env は任意です。
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は範囲外の値を拒否します。
func (c *Config) Validate() error {
	switch {
	case c.MaxAttempts < 1 || c.MaxAttempts > 5:
		return fmt.Errorf("STUDIO_MAX_ATTEMPTS must be between 1 and 5: %d", c.MaxAttempts)
	case c.RequestTimeout <= 0:
		return fmt.Errorf("STUDIO_REQUEST_TIMEOUT must be positive: %s", c.RequestTimeout)
	case c.BaseDelay <= 0 || c.MaxDelay < c.BaseDelay:
		return fmt.Errorf("STUDIO_BASE_DELAY must be positive and not exceed STUDIO_MAX_DELAY: %s > %s", c.BaseDelay, c.MaxDelay)
	case c.RetryHintBuffer < 0:
		return fmt.Errorf("STUDIO_RETRY_HINT_BUFFER must not be negative: %s", c.RetryHintBuffer)
	case c.Concurrency < 1:
		return fmt.Errorf("STUDIO_CONCURRENCY must be at least 1: %d", c.Concurrency)
	case c.MaxJitter < 0:
		return fmt.Errorf("STUDIO_MAX_JITTER must not be negative: %s", c.MaxJitter)
	case c.DispatchRate < 0:
		return fmt.Errorf("STUDIO_DISPATCH_RATE must not be negative: %v", c.DispatchRate)
	case c.InlineLimit <= 0:
		return fmt.Errorf("STUDIO_INLINE_LIMIT must be positive: %d", c.InlineLimit)
	case c.FetchTimeout <= 0:
		return fmt.Errorf("STUDIO_FETCH_TIMEOUT must be positive: %s", c.FetchTimeout)
	}

	if !slices.Contains([]StoreKind{StoreMemory, StoreFile, StorePostgres}, c.Store) {
		return fmt.Errorf("unknown STUDIO_STORE: %q", c.Store)
	}
	if c.Store == StorePostgres && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when STUDIO_STORE=postgres")
	}
	if c.Store == StoreFile && c.StoreDir == "" {
		return fmt.Errorf("STUDIO_STORE_DIR is required when STUDIO_STORE=file")
	}
	if _, err := c.level(); err != nil {
		return err
	}
	if err := c.Defaults().Validate(); err != nil {
		return fmt.Errorf("invalid default settings: %w", err)
	}
	return nil
}

// Defaults はリクエストで指定が無い時の生成設定です。
func (c *Config) Defaults() domain.Settings {
	return domain.DefaultSettings().With(func(s *domain.Settings) {
		s.Model = c.DefaultModel
		s.AspectRatio = c.DefaultAspect
		s.Resolution = c.DefaultResolution
		s.SoundFeedback = c.Sounds
	})
}

// RetryPolicy は Executor に渡す再試行の方針です。
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay,
		MaxDelay:    c.MaxDelay,
		HintBuffer:  c.RetryHintBuffer,
	}
}

func (c *Config) ExecutorConfig() generator.ExecutorConfig {
	return generator.ExecutorConfig{
		Models: map[domain.ModelTier]string{
			domain.TierPro:  c.ProModel,
			domain.TierFast: c.FastModel,
		},
		Timeout: c.RequestTimeout,
		Retry:   c.RetryPolicy(),
	}
}

func (c *Config) BatchConfig() batch.Config {
	cfg := batch.Config{Concurrency: c.Concurrency, MaxJitter: c.MaxJitter}
	if c.DispatchRate > 0 {
		cfg.Limiter = rate.NewLimiter(rate.Limit(c.DispatchRate), 1)
	}
	return cfg
}

// SlogLevel は STUDIO_LOG_LEVEL を slog のレベルに変換します。
func (c *Config) SlogLevel() slog.Level {
	lvl, _ := c.level()
	return lvl
}

func (c *Config) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid STUDIO_LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}
