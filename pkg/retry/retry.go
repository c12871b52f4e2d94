package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrAborted はキャンセルによって処理が打ち切られたことを示します。
var ErrAborted = errors.New("operation aborted")

// Policy は Do の再試行方針です。ゼロ値のフィールドは既定値で補われます。
type Policy struct {
	// MaxAttempts は work を呼び出す最大回数です（初回を含む）。
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// HintBuffer はサーバーが返した待機ヒントに上乗せする時間です。
	HintBuffer time.Duration

	// Retryable はエラーが一時的なものかを判定します。nil の場合は Temporary() を見ます。
	Retryable func(error) bool
	// RetryAfter はエラーから待機ヒントを取り出します。nil の場合は RetryAfter() を見ます。
	RetryAfter func(error) (time.Duration, bool)
	// Sleep は待機の実装です。テストでは即時に戻る関数を差し込みます。
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry は再試行の直前に呼ばれます。
	OnRetry func(attempt int, wait time.Duration, err error)
}

// DefaultPolicy は 3 回試行、3 秒から倍々で最大 60 秒待つ方針を返します。
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   3 * time.Second,
		MaxDelay:    60 * time.Second,
		HintBuffer:  time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts < 1 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.Retryable == nil {
		p.Retryable = IsTemporary
	}
	if p.RetryAfter == nil {
		p.RetryAfter = HintFrom
	}
	if p.Sleep == nil {
		p.Sleep = Sleep
	}
	return p
}

// Do は work を実行し、一時的なエラーであれば方針に従って再試行します。
//
// ctx が開始前にキャンセル済みなら work を一度も呼ばずに ErrAborted を返します。
// 致命的なエラーや試行回数を使い切った場合は、最後のエラーをそのまま返します。
// 待機中にキャンセルされた場合は ErrAborted を返します。
func Do[T any](ctx context.Context, p Policy, work func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	p = p.withDefaults()

	if err := ctx.Err(); err != nil {
		return zero, abortedErr(ctx)
	}

	bo := p.newBackOff()
	for attempt := 1; ; attempt++ {
		v, err := work(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, abortedErr(ctx)
		}
		if !p.Retryable(err) || attempt >= p.MaxAttempts {
			return zero, err
		}

		wait := p.waitFor(err, bo)
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		} else {
			slog.WarnContext(ctx, "一時的なエラーのため再試行します",
				"attempt", attempt, "max_attempts", p.MaxAttempts, "wait", wait, "error", err)
		}
		if err := p.Sleep(ctx, wait); err != nil {
			return zero, err
		}
	}
}

func abortedErr(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil || errors.Is(cause, ErrAborted) {
		return ErrAborted
	}
	return fmt.Errorf("%w: %w", ErrAborted, cause)
}

// IsTemporary は err の連鎖に Temporary() bool == true を持つ値があるかを返します。
func IsTemporary(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}

// HintFrom は err の連鎖から RetryAfter() を持つ値を探して待機ヒントを返します。
func HintFrom(err error) (time.Duration, bool) {
	var h interface {
		RetryAfter() (time.Duration, bool)
	}
	if !errors.As(err, &h) {
		return 0, false
	}
	return h.RetryAfter()
}
