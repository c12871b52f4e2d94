package imgutil

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"net/http"
	"strings"
)

// DefaultQuality は参照画像を再エンコードする際の JPEG 品質です。
const DefaultQuality = 75

// CompressToJPEG は画像データ（PNG, GIF, JPEG等）をJPEG形式に圧縮します。
func CompressToJPEG(data []byte, quality int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DetectImageMIME はデータの先頭から MIME タイプを判定し、画像であれば true を返します。
func DetectImageMIME(data []byte) (string, bool) {
	mime := http.DetectContentType(data)
	return mime, strings.HasPrefix(mime, "image/")
}

// Shrink は limit バイトを超える画像を JPEG に再エンコードします。
// limit 以下の画像や、再エンコードしても小さくならない画像は元のまま返します。
func Shrink(data []byte, mimeType string, limit, quality int) ([]byte, string, error) {
	if limit <= 0 || len(data) <= limit {
		return data, mimeType, nil
	}
	compressed, err := CompressToJPEG(data, quality)
	if err != nil {
		return nil, "", fmt.Errorf("画像の再エンコードに失敗しました: %w", err)
	}
	if len(compressed) >= len(data) {
		return data, mimeType, nil
	}
	return compressed, "image/jpeg", nil
}
