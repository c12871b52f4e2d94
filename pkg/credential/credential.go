// Package credential は Gemini API キーの取得元を提供します。
//
// どの実装も generator.CredentialSource を満たし、キーが無い場合は空文字を返します。
package credential

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Static は固定のキーを返します。
type Static string

func (s Static) EffectiveCredential() string {
	return strings.TrimSpace(string(s))
}

// File はキーをファイルに保存して読み出します。読み出した値はメモリに保持します。
type File struct {
	path string

	mu     sync.Mutex
	loaded bool
	key    string
}

// NewFile は path を保存先とする File を返します。
func NewFile(path string) *File {
	return &File{path: path}
}

// DefaultPath はユーザー設定ディレクトリの下の既定の保存先です。
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving config dir: %w", err)
	}
	return filepath.Join(dir, "gemini-image-studio", "api_key"), nil
}

func (f *File) Path() string {
	return f.path
}

// Load はファイルからキーを読みます。ファイルが無ければ空文字を返します。
func (f *File) Load() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadLocked()
}

func (f *File) loadLocked() (string, error) {
	if f.loaded {
		return f.key, nil
	}
	raw, err := os.ReadFile(f.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("reading credential file: %w", err)
	}
	f.key = strings.TrimSpace(string(raw))
	f.loaded = true
	return f.key, nil
}

// Save はキーの前後の空白を取り除いて保存します。空のキーを保存するとファイルを消します。
func (f *File) Save(key string) error {
	key = strings.TrimSpace(key)

	f.mu.Lock()
	defer f.mu.Unlock()

	if key == "" {
		if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing credential file: %w", err)
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
			return fmt.Errorf("creating credential dir: %w", err)
		}
		if err := os.WriteFile(f.path, []byte(key+"\n"), 0o600); err != nil {
			return fmt.Errorf("writing credential file: %w", err)
		}
	}
	f.key = key
	f.loaded = true
	return nil
}

func (f *File) EffectiveCredential() string {
	key, err := f.Load()
	if err != nil {
		slog.Warn("API キーのファイルを読めません", "path", f.path, "error", err)
		return ""
	}
	return key
}

// Source はキーの取得元です。
type Source interface {
	EffectiveCredential() string
}

// Chain は最初に空でないキーを返した取得元を使います。保存済みのキーを環境変数より先に並べます。
type Chain []Source

func (c Chain) EffectiveCredential() string {
	for _, s := range c {
		if s == nil {
			continue
		}
		if key := s.EffectiveCredential(); key != "" {
			return key
		}
	}
	return ""
}

// Mask はログに出すためにキーの末尾4文字だけを残します。
func Mask(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}
