package generator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/shouni/gemini-image-studio/pkg/domain"
	"github.com/shouni/gemini-image-studio/pkg/imgutil"
	"github.com/shouni/go-gemini-client/pkg/gemini"
	"github.com/shouni/go-http-kit/pkg/httpkit"
	"github.com/shouni/go-remote-io/pkg/remoteio"
	"google.golang.org/genai"
)

const (
	cacheKeyFileAPIURI = "fileapi_uri:"
	// DefaultInlineLimit を超える参照画像は再エンコードか File API へのアップロードを行います。
	DefaultInlineLimit = 4 << 20
	DefaultCacheTTL    = 47 * time.Hour
)

// AssetsConfig は Assets の依存関係です。すべて任意で、nil の依存に対応する参照は失敗として扱います。
type AssetsConfig struct {
	// Uploader が設定されていれば、上限を超える画像は File API にアップロードします。
	Uploader gemini.GenerativeModel
	// Reader は gs:// の読み込みに使います。
	Reader remoteio.InputReader
	// HTTPClient は http(s) の取得に使います。
	HTTPClient httpkit.ClientInterface
	Cache      ImageCacher
	CacheTTL   time.Duration
	// InlineLimit はインラインで送る画像の上限バイト数です。
	InlineLimit int
	Quality     int
}

// Assets は参照画像や編集元画像を genai.Part に変換します。
type Assets struct {
	uploader    gemini.GenerativeModel
	reader      remoteio.InputReader
	httpClient  httpkit.ClientInterface
	cache       ImageCacher
	expiration  time.Duration
	inlineLimit int
	quality     int
}

type uploadedFile struct {
	URI      string
	MIMEType string
}

// NewAssets は Assets を初期化します。
func NewAssets(cfg AssetsConfig) *Assets {
	if cfg.InlineLimit <= 0 {
		cfg.InlineLimit = DefaultInlineLimit
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = imgutil.DefaultQuality
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	return &Assets{
		uploader:    cfg.Uploader,
		reader:      cfg.Reader,
		httpClient:  cfg.HTTPClient,
		cache:       cfg.Cache,
		expiration:  cfg.CacheTTL,
		inlineLimit: cfg.InlineLimit,
		quality:     cfg.Quality,
	}
}

// Parts は参照画像を順にパーツへ変換します。変換に失敗した参照は警告を出して読み飛ばします。
func (a *Assets) Parts(ctx context.Context, refs []domain.ImageRef) []*genai.Part {
	parts := make([]*genai.Part, 0, len(refs))
	for i, ref := range refs {
		part, err := a.Part(ctx, ref)
		if err != nil {
			slog.WarnContext(ctx, "参照画像の準備に失敗したためスキップします", "index", i, "uri", redact(ref.URI), "error", err)
			continue
		}
		parts = append(parts, part)
	}
	return parts
}

// Part は1枚の参照画像をパーツに変換します。
func (a *Assets) Part(ctx context.Context, ref domain.ImageRef) (*genai.Part, error) {
	key := ref.URI
	if key != "" && !strings.HasPrefix(key, "data:") {
		if f, ok := a.cachedUpload(key); ok {
			return &genai.Part{FileData: &genai.FileData{FileURI: f.URI, MIMEType: f.MIMEType}}, nil
		}
	}

	data, mimeType, err := a.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	if detected, ok := imgutil.DetectImageMIME(data); ok {
		mimeType = detected
	} else if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("画像ではないデータです: %s", detected)
	}

	if len(data) > a.inlineLimit && a.uploader != nil {
		return a.upload(ctx, key, data, mimeType)
	}

	if shrunk, m, err := imgutil.Shrink(data, mimeType, a.inlineLimit, a.quality); err != nil {
		slog.WarnContext(ctx, "参照画像を圧縮できないため元のデータで送信します", "mime_type", mimeType, "size", len(data), "error", err)
	} else {
		data, mimeType = shrunk, m
	}
	return &genai.Part{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}}, nil
}

// EditPart は生成済み画像を編集元としてパーツに変換します。
func (a *Assets) EditPart(ctx context.Context, img domain.GeneratedImage) (*genai.Part, error) {
	if !img.HasAsset() {
		return nil, fmt.Errorf("編集元の画像にデータがありません: %s", img.ID)
	}
	return a.Part(ctx, domain.ImageRef{Data: img.Data, MIMEType: img.MIMEType})
}

func (a *Assets) cachedUpload(key string) (uploadedFile, bool) {
	if a.cache == nil {
		return uploadedFile{}, false
	}
	val, ok := a.cache.Get(cacheKeyFileAPIURI + key)
	if !ok {
		return uploadedFile{}, false
	}
	switch v := val.(type) {
	case uploadedFile:
		return v, true
	case string:
		return uploadedFile{URI: v}, true
	}
	return uploadedFile{}, false
}

// upload は画像を圧縮して Gemini File API にアップロードし、URI をキャッシュします。
func (a *Assets) upload(ctx context.Context, key string, data []byte, mimeType string) (*genai.Part, error) {
	if compressed, err := imgutil.CompressToJPEG(data, a.quality); err == nil && len(compressed) < len(data) {
		data, mimeType = compressed, "image/jpeg"
	}

	displayName := "reference"
	if key != "" {
		displayName = path.Base(key)
	}
	uri, _, err := a.uploader.UploadFile(ctx, data, mimeType, displayName)
	if err != nil {
		return nil, fmt.Errorf("File API へのアップロードに失敗しました: %w", err)
	}

	if a.cache != nil && key != "" {
		a.cache.Set(cacheKeyFileAPIURI+key, uploadedFile{URI: uri, MIMEType: mimeType}, a.expiration)
	}
	return &genai.Part{FileData: &genai.FileData{FileURI: uri, MIMEType: mimeType}}, nil
}

func (a *Assets) load(ctx context.Context, ref domain.ImageRef) ([]byte, string, error) {
	if len(ref.Data) > 0 {
		return ref.Data, ref.MIMEType, nil
	}

	switch {
	case ref.URI == "":
		return nil, "", fmt.Errorf("参照画像が空です")
	case strings.HasPrefix(ref.URI, "data:"):
		mimeType, data, err := domain.ParseDataURL(ref.URI)
		return data, mimeType, err
	case strings.HasPrefix(ref.URI, "gs://"):
		if a.reader == nil {
			return nil, "", fmt.Errorf("gs:// の読み込みには reader が必要です")
		}
		rc, err := a.reader.Open(ctx, ref.URI)
		if err != nil {
			return nil, "", err
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		return data, ref.MIMEType, err
	default:
		if safe, err := IsSafeURL(ref.URI); err != nil || !safe {
			return nil, "", fmt.Errorf("安全ではないURLが指定されました: %w", err)
		}
		if a.httpClient == nil {
			return nil, "", fmt.Errorf("URL の取得には httpClient が必要です")
		}
		data, err := a.httpClient.FetchBytes(ctx, ref.URI)
		return data, ref.MIMEType, err
	}
}

// redact はログ用に data: URL の本体を省略します。
func redact(uri string) string {
	if meta, _, ok := strings.Cut(uri, ","); ok && strings.HasPrefix(uri, "data:") {
		return meta + ",..."
	}
	return uri
}
