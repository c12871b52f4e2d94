// Package notify は生成の開始、成功、失敗の通知先を提供します。
package notify

import (
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/shouni/gemini-image-studio/pkg/domain"
)

// Notifier は studio.Notifier と同じ形です。
type Notifier interface {
	Notify(domain.Signal)
}

// Log は通知を slog に記録します。
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(sig domain.Signal) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	switch sig.Kind {
	case domain.SignalError:
		attrs := []any{"id", sig.ImageID}
		if sig.Error != nil {
			attrs = append(attrs, "code", sig.Error.Code, "message", sig.Error.Message)
		}
		logger.Warn("画像生成に失敗しました", attrs...)
	case domain.SignalSuccess:
		logger.Info("画像が完成しました", "id", sig.ImageID)
	default:
		logger.Debug("画像生成を開始しました")
	}
}

// Bell は成功と失敗の時に端末のベルを鳴らします。Sound が false の通知は無視します。
// 出力先は最初に鳴らす時に一度だけ決めます。
type Bell struct {
	// Open は出力先を返します。nil なら標準エラー出力を使います。
	Open func() (io.Writer, error)

	once sync.Once
	out  io.Writer
	mu   sync.Mutex
}

func (b *Bell) Notify(sig domain.Signal) {
	if !sig.Sound || sig.Kind == domain.SignalStart {
		return
	}
	b.once.Do(b.resolve)
	if b.out == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := io.WriteString(b.out, "\a"); err != nil {
		slog.Debug("ベルを鳴らせません", "error", err)
	}
}

func (b *Bell) resolve() {
	if b.Open == nil {
		b.out = os.Stderr
		return
	}
	w, err := b.Open()
	if err != nil {
		slog.Warn("通知音の出力先を開けないため無効にします", "error", err)
		return
	}
	b.out = w
}

// Multi はすべての通知先に順に通知します。
type Multi []Notifier

func (m Multi) Notify(sig domain.Signal) {
	for _, n := range m {
		if n != nil {
			n.Notify(sig)
		}
	}
}
