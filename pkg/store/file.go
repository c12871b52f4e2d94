package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/shouni/gemini-image-studio/pkg/domain"
	"gopkg.in/yaml.v3"
)

const metaExt = ".yaml"

// fileRecord はメタデータファイルの内容です。画像本体は File に書かれた隣のファイルにあります。
type fileRecord struct {
	domain.GeneratedImage `yaml:",inline"`
	File                  string `yaml:"file"`
}

// FileStore は1枚ごとに画像ファイルと YAML のメタデータをディレクトリに保存します。
//
//	<dir>/<id>.png
//	<dir>/<id>.yaml
type FileStore struct {
	dir string
}

// NewFileStore は dir を作成して FileStore を返します。
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("store directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir は保存先のディレクトリです。
func (s *FileStore) Dir() string {
	return s.dir
}

// Save は画像本体を書いてからメタデータを書きます。メタデータが無い画像ファイルは読み込まれません。
func (s *FileStore) Save(ctx context.Context, img domain.GeneratedImage) error {
	if err := checkPersistable(img); err != nil {
		return err
	}
	if !validID(img.ID) {
		return fmt.Errorf("invalid image id: %q", img.ID)
	}

	rec := fileRecord{GeneratedImage: img, File: img.ID + img.Extension()}
	if err := writeAtomic(filepath.Join(s.dir, rec.File), img.Data); err != nil {
		return fmt.Errorf("failed to write image %s: %w", img.ID, err)
	}

	meta, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata %s: %w", img.ID, err)
	}
	if err := writeAtomic(s.metaPath(img.ID), meta); err != nil {
		return fmt.Errorf("failed to write metadata %s: %w", img.ID, err)
	}
	return nil
}

// LoadAll は読めるメタデータをすべて読み込みます。壊れたエントリは警告を出して読み飛ばします。
func (s *FileStore) LoadAll(ctx context.Context) ([]domain.GeneratedImage, error) {
	metas, err := filepath.Glob(filepath.Join(s.dir, "*"+metaExt))
	if err != nil {
		return nil, fmt.Errorf("failed to list store directory: %w", err)
	}

	images := make([]domain.GeneratedImage, 0, len(metas))
	for _, path := range metas {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := s.load(path)
		if err != nil {
			slog.WarnContext(ctx, "保存済みの画像を読み込めないためスキップします", "path", path, "error", err)
			continue
		}
		images = append(images, img)
	}
	sortNewest(images)
	return images, nil
}

func (s *FileStore) load(path string) (domain.GeneratedImage, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.GeneratedImage{}, err
	}
	var rec fileRecord
	if err := yaml.Unmarshal(raw, &rec); err != nil {
		return domain.GeneratedImage{}, fmt.Errorf("invalid metadata: %w", err)
	}
	if !validID(rec.File) {
		return domain.GeneratedImage{}, fmt.Errorf("invalid image file name: %q", rec.File)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, rec.File))
	if err != nil {
		return domain.GeneratedImage{}, err
	}
	img := rec.GeneratedImage
	img.Data = data
	return img, nil
}

func (s *FileStore) DeleteMany(ctx context.Context, ids []string) error {
	var errs []error
	for _, id := range ids {
		if !validID(id) {
			continue
		}
		errs = append(errs, s.remove(id))
	}
	return errors.Join(errs...)
}

func (s *FileStore) ClearAll(ctx context.Context) error {
	metas, err := filepath.Glob(filepath.Join(s.dir, "*"+metaExt))
	if err != nil {
		return fmt.Errorf("failed to list store directory: %w", err)
	}
	var errs []error
	for _, path := range metas {
		errs = append(errs, s.remove(strings.TrimSuffix(filepath.Base(path), metaExt)))
	}
	return errors.Join(errs...)
}

// remove はメタデータを先に消してから画像ファイルを消します。
func (s *FileStore) remove(id string) error {
	file := ""
	if raw, err := os.ReadFile(s.metaPath(id)); err == nil {
		var rec fileRecord
		if yaml.Unmarshal(raw, &rec) == nil && validID(rec.File) {
			file = rec.File
		}
	}
	if err := os.Remove(s.metaPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove metadata %s: %w", id, err)
	}
	if file == "" {
		return nil
	}
	if err := os.Remove(filepath.Join(s.dir, file)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove image %s: %w", id, err)
	}
	return nil
}

func (s *FileStore) metaPath(id string) string {
	return filepath.Join(s.dir, id+metaExt)
}

// writeAtomic は一時ファイルに書いてから名前を変えます。
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
