package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tempErr struct {
	hint time.Duration
}

func (e *tempErr) Error() string   { return "temporary" }
func (e *tempErr) Temporary() bool { return true }
func (e *tempErr) RetryAfter() (time.Duration, bool) {
	return e.hint, e.hint > 0
}

// recordSleep は待機せずに要求された時間を記録するのだ。
func recordSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}
}

func TestDo_TransientThenSuccess(t *testing.T) {
	for k := 0; k < 4; k++ {
		for maxAttempts := 1; maxAttempts <= 5; maxAttempts++ {
			var calls int32
			var waits []time.Duration
			p := Policy{MaxAttempts: maxAttempts, BaseDelay: time.Second, MaxDelay: time.Minute, Sleep: recordSleep(&waits)}

			got, err := Do(context.Background(), p, func(ctx context.Context) (string, error) {
				n := atomic.AddInt32(&calls, 1)
				if int(n) <= k {
					return "", &tempErr{}
				}
				return "ok", nil
			})

			if maxAttempts > k {
				require.NoError(t, err, "k=%d max=%d", k, maxAttempts)
				assert.Equal(t, "ok", got)
				assert.EqualValues(t, k+1, calls, "k=%d max=%d", k, maxAttempts)
			} else {
				var te *tempErr
				require.ErrorAs(t, err, &te, "k=%d max=%d", k, maxAttempts)
				assert.EqualValues(t, maxAttempts, calls, "k=%d max=%d", k, maxAttempts)
			}
			assert.Len(t, waits, int(calls)-1)
		}
	}
}

func TestDo_Backoff(t *testing.T) {
	t.Run("ヒントが無ければ倍々に伸びて上限で止まるのだ", func(t *testing.T) {
		var waits []time.Duration
		p := Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 5 * time.Second, Sleep: recordSleep(&waits)}
		_, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
			return 0, &tempErr{}
		})
		require.Error(t, err)
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}, waits)
	})

	t.Run("ヒントがあればヒントとバッファを足した時間だけ待つのだ", func(t *testing.T) {
		var waits []time.Duration
		p := Policy{MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: time.Minute, HintBuffer: 500 * time.Millisecond, Sleep: recordSleep(&waits)}
		_, _ = Do(context.Background(), p, func(ctx context.Context) (int, error) {
			return 0, &tempErr{hint: 13 * time.Second}
		})
		assert.Equal(t, []time.Duration{13*time.Second + 500*time.Millisecond}, waits)
	})

	t.Run("ヒントも上限で頭打ちになるのだ", func(t *testing.T) {
		var waits []time.Duration
		p := Policy{MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: 10 * time.Second, HintBuffer: time.Second, Sleep: recordSleep(&waits)}
		_, _ = Do(context.Background(), p, func(ctx context.Context) (int, error) {
			return 0, &tempErr{hint: time.Minute}
		})
		assert.Equal(t, []time.Duration{10 * time.Second}, waits)
	})
}

func TestDo_FatalIsReturnedUntouched(t *testing.T) {
	fatal := errors.New("safety block")
	var calls int
	_, err := Do(context.Background(), Policy{MaxAttempts: 5, Sleep: recordSleep(new([]time.Duration))}, func(ctx context.Context) (int, error) {
		calls++
		return 0, fatal
	})
	assert.Same(t, fatal, err)
	assert.Equal(t, 1, calls)
}

func TestDo_Cancellation(t *testing.T) {
	t.Run("開始前にキャンセル済みなら一度も呼ばないのだ", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		var calls int
		_, err := Do(ctx, Policy{}, func(ctx context.Context) (int, error) {
			calls++
			return 1, nil
		})
		assert.ErrorIs(t, err, ErrAborted)
		assert.Zero(t, calls)
	})

	t.Run("待機中のキャンセルは待ち切らずに戻るのだ", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		p := Policy{MaxAttempts: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}

		var calls int32
		done := make(chan error, 1)
		start := time.Now()
		go func() {
			_, err := Do(ctx, p, func(ctx context.Context) (int, error) {
				atomic.AddInt32(&calls, 1)
				return 0, &tempErr{}
			})
			done <- err
		}()

		time.Sleep(20 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, ErrAborted)
			assert.Less(t, time.Since(start), time.Second)
			assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
		case <-time.After(2 * time.Second):
			t.Fatal("Do did not return after cancellation")
		}
	})

	t.Run("キャンセル原因を保持するのだ", func(t *testing.T) {
		cause := errors.New("user pressed stop")
		ctx, cancel := context.WithCancelCause(context.Background())
		cancel(cause)
		_, err := Do(ctx, Policy{}, func(ctx context.Context) (int, error) { return 0, nil })
		assert.ErrorIs(t, err, ErrAborted)
		assert.ErrorIs(t, err, cause)
	})
}

func TestPolicy_Wait(t *testing.T) {
	var waits []time.Duration
	p := Policy{BaseDelay: time.Second, MaxDelay: time.Minute, Sleep: recordSleep(&waits)}
	require.NoError(t, p.Wait(context.Background(), 3, errors.New("x")))
	assert.Equal(t, []time.Duration{4 * time.Second}, waits)
}

func TestSleep(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), 0))
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), ErrAborted)
	assert.ErrorIs(t, Sleep(ctx, 0), ErrAborted)
}
