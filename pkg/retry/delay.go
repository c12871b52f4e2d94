package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Sleep は d だけ待機します。待機中に ctx がキャンセルされると ErrAborted を返します。
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if ctx.Err() != nil {
			return abortedErr(ctx)
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return abortedErr(ctx)
	case <-timer.C:
		return nil
	}
}

// Wait は err に対する待機時間を計算し、その時間だけ待機します。
// attempt は 1 始まりの失敗回数です。
func (p Policy) Wait(ctx context.Context, attempt int, err error) error {
	p = p.withDefaults()
	bo := p.newBackOff()
	var d time.Duration
	for range max(attempt, 1) {
		d = p.waitFor(err, bo)
	}
	return p.Sleep(ctx, d)
}

// newBackOff はジッタなしで倍々に伸びる指数バックオフを作ります。
// 経過時間による打ち切りは行わず、回数の管理は Do 側で行います。
func (p Policy) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = p.MaxDelay
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// waitFor はヒントがあればヒント+バッファ、無ければ次のバックオフ間隔を MaxDelay で頭打ちにして返します。
// ヒントを使った場合もバックオフは一段進めます。
func (p Policy) waitFor(err error, bo *backoff.ExponentialBackOff) time.Duration {
	next := bo.NextBackOff()
	if next == backoff.Stop {
		next = p.MaxDelay
	}
	d := next
	if hint, ok := p.RetryAfter(err); ok && hint > 0 {
		d = hint + p.HintBuffer
	}
	return min(d, p.MaxDelay)
}
