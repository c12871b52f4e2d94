package studio

import (
	"context"

	"github.com/shouni/gemini-image-studio/pkg/domain"
	"github.com/shouni/gemini-image-studio/pkg/generator"
	"google.golang.org/genai"
)

// Executor は1ユニットのリモート呼び出しを実行します。*generator.Executor が実装します。
type Executor interface {
	Execute(ctx context.Context, call generator.Call) (*generator.Outcome, error)
}

// ImagePreparer は参照画像と編集元画像を送信用パーツに変換します。*generator.Assets が実装します。
type ImagePreparer interface {
	Parts(ctx context.Context, refs []domain.ImageRef) []*genai.Part
	EditPart(ctx context.Context, img domain.GeneratedImage) (*genai.Part, error)
}

// Store はギャラリーの永続化先です。呼び出しはバックグラウンドで行われ、失敗はログに残すだけです。
type Store interface {
	Save(ctx context.Context, img domain.GeneratedImage) error
	LoadAll(ctx context.Context) ([]domain.GeneratedImage, error)
	DeleteMany(ctx context.Context, ids []string) error
	ClearAll(ctx context.Context) error
}

// Notifier は開始、成功、失敗の一時的な通知を受け取ります。戻り値は無く、待ち合わせもしません。
type Notifier interface {
	Notify(sig domain.Signal)
}
