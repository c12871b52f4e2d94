package studio

import (
	"context"

	"github.com/shouni/gemini-image-studio/pkg/domain"
)

// BatchResult は1回の Generate の集計です。
type BatchResult struct {
	Requested int
	// Images は完成した画像を完成した順に並べたものです。
	Images  []domain.GeneratedImage
	Failed  int
	Stopped int
}

// Batch は実行中の Generate へのハンドルです。
type Batch struct {
	// IDs はプレースホルダーの ID です。StopOne に渡せます。
	IDs  []string
	Mode Mode

	done   chan struct{}
	result BatchResult
	err    error
}

// Done はバッチのすべてのユニットが終端状態になると閉じられます。
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Wait はバッチの完了を待ちます。
//
// 1枚も生成できなかった場合は batch.ErrNoResults を含むエラーを返します。
// API キーの失効があった場合、エラーは errors.Is(err, domain.ErrCredentialExpired) を満たします。
func (b *Batch) Wait(ctx context.Context) (BatchResult, error) {
	select {
	case <-b.done:
		return b.result, b.err
	case <-ctx.Done():
		return BatchResult{}, ctx.Err()
	}
}
