package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shouni/gemini-image-studio/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// newTestRunner はジッタ無しの Runner を返すのだ。
func newTestRunner[T any](concurrency int) *Runner[T] {
	r := NewRunner[T](Config{Concurrency: concurrency})
	r.jitter = func(time.Duration) time.Duration { return 0 }
	return r
}

func TestRunner_BoundedConcurrency(t *testing.T) {
	for _, c := range []int{1, 2, 3} {
		for _, n := range []int{0, 1, 2, 5, 9} {
			t.Run(fmt.Sprintf("C=%d/N=%d", c, n), func(t *testing.T) {
				r := newTestRunner[int](c)
				var inFlight, peak atomic.Int32

				got, err := r.Run(context.Background(), n, func(ctx context.Context, i int) (int, error) {
					cur := inFlight.Add(1)
					for {
						p := peak.Load()
						if cur <= p || peak.CompareAndSwap(p, cur) {
							break
						}
					}
					time.Sleep(5 * time.Millisecond)
					inFlight.Add(-1)
					return i, nil
				}, nil)

				require.NoError(t, err)
				assert.Len(t, got, n)
				assert.LessOrEqual(t, int(peak.Load()), c)
			})
		}
	}

	t.Run("複数バッチをまたいでも上限を超えないのだ", func(t *testing.T) {
		r := newTestRunner[int](2)
		var inFlight, peak atomic.Int32
		unit := func(ctx context.Context, i int) (int, error) {
			cur := inFlight.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return i, nil
		}

		var wg sync.WaitGroup
		for range 3 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := r.Run(context.Background(), 4, unit, nil)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		assert.LessOrEqual(t, int(peak.Load()), 2)
	})
}

func TestRunner_ProgressiveDelivery(t *testing.T) {
	r := newTestRunner[string](3)
	releaseA := make(chan struct{})
	events := make(chan Event[string], 2)

	type result struct {
		values []string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		v, err := r.Run(context.Background(), 2, func(ctx context.Context, i int) (string, error) {
			if i == 0 {
				<-releaseA
				return "A", nil
			}
			return "B", nil
		}, events)
		done <- result{v, err}
	}()

	first := <-events
	assert.Equal(t, "B", first.Value)
	select {
	case <-done:
		t.Fatal("Run returned before unit A finished")
	default:
	}

	close(releaseA)
	second := <-events
	assert.Equal(t, "A", second.Value)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, []string{"B", "A"}, res.values)
}

func TestRunner_FailureIsolation(t *testing.T) {
	r := newTestRunner[int](3)
	events := make(chan Event[int], 3)

	got, err := r.Run(context.Background(), 3, func(ctx context.Context, i int) (int, error) {
		if i == 1 {
			return 0, errors.New("boom")
		}
		return i, nil
	}, events)
	close(events)

	require.NoError(t, err)
	assert.ElementsMatch(t, []int{0, 2}, got)

	var failed []int
	for ev := range events {
		if ev.Err != nil {
			failed = append(failed, ev.Index)
		}
	}
	assert.Equal(t, []int{1}, failed)
}

func TestRunner_PanicIsRecovered(t *testing.T) {
	r := newTestRunner[int](2)
	got, err := r.Run(context.Background(), 2, func(ctx context.Context, i int) (int, error) {
		if i == 0 {
			panic("unexpected")
		}
		return i, nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, got)
}

func TestRunner_NoResults(t *testing.T) {
	t.Run("全件失敗ならバッチ全体のエラーになるのだ", func(t *testing.T) {
		r := newTestRunner[int](3)
		cause := errors.New("quota")
		_, err := r.Run(context.Background(), 2, func(ctx context.Context, i int) (int, error) {
			return 0, cause
		}, nil)
		assert.ErrorIs(t, err, ErrNoResults)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("全件中断ならエラーにしないのだ", func(t *testing.T) {
		r := newTestRunner[int](3)
		got, err := r.Run(context.Background(), 2, func(ctx context.Context, i int) (int, error) {
			return 0, retry.ErrAborted
		}, nil)
		assert.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("キャンセルされたバッチはエラーにしないのだ", func(t *testing.T) {
		r := newTestRunner[int](3)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		var calls atomic.Int32
		got, err := r.Run(ctx, 5, func(ctx context.Context, i int) (int, error) {
			calls.Add(1)
			return i, nil
		}, nil)
		assert.NoError(t, err)
		assert.Empty(t, got)
		assert.Zero(t, calls.Load())
	})
}

func TestRunner_CancellationStopsClaiming(t *testing.T) {
	r := newTestRunner[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	_, err := r.Run(ctx, 10, func(ctx context.Context, i int) (int, error) {
		if calls.Add(1) == 2 {
			cancel()
		}
		return i, nil
	}, nil)

	assert.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestRunner_JitterObservesCancellation(t *testing.T) {
	r := NewRunner[int](Config{Concurrency: 1, MaxJitter: time.Hour})
	r.jitter = func(limit time.Duration) time.Duration { return limit }

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	var calls atomic.Int32
	start := time.Now()
	_, err := r.Run(ctx, 1, func(ctx context.Context, i int) (int, error) {
		calls.Add(1)
		return i, nil
	}, nil)

	assert.NoError(t, err)
	assert.Zero(t, calls.Load())
	assert.Less(t, time.Since(start), time.Second)
}

func TestRunner_Limiter(t *testing.T) {
	r := NewRunner[int](Config{Concurrency: 3, Limiter: rate.NewLimiter(rate.Inf, 1)})
	r.jitter = func(time.Duration) time.Duration { return 0 }
	got, err := r.Run(context.Background(), 3, func(ctx context.Context, i int) (int, error) {
		return i, nil
	}, nil)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestRunner_UnitContext(t *testing.T) {
	r := newTestRunner[int](1)
	assert.Equal(t, 1, r.Concurrency())

	holding := make(chan struct{})
	release := make(chan struct{})
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, _ = r.Run(context.Background(), 1, func(ctx context.Context, i int) (int, error) {
			close(holding)
			<-release
			return i, nil
		}, nil)
	}()
	<-holding

	t.Run("スロット待ちのユニットは自分のコンテキストで抜けるのだ", func(t *testing.T) {
		uctx, cancel := context.WithCancel(context.Background())
		var calls atomic.Int32
		events := make(chan Event[int], 1)

		done := make(chan struct{})
		var (
			got []int
			err error
		)
		go func() {
			defer close(done)
			got, err = r.Run(context.Background(), 1, func(ctx context.Context, i int) (int, error) {
				calls.Add(1)
				return i, nil
			}, events, WithUnitContext(func(int) context.Context { return uctx }))
		}()

		time.Sleep(20 * time.Millisecond)
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("run did not return after its unit was cancelled")
		}

		assert.NoError(t, err)
		assert.Empty(t, got)
		assert.Zero(t, calls.Load())
		ev := <-events
		assert.ErrorIs(t, ev.Err, retry.ErrAborted)
	})

	close(release)
	<-firstDone
}

func TestRunner_UnitContextJitter(t *testing.T) {
	r := NewRunner[int](Config{Concurrency: 2, MaxJitter: time.Hour})
	r.jitter = func(limit time.Duration) time.Duration { return limit }

	stopped, cancel := context.WithCancel(context.Background())
	cancel()
	// ジッタを待たせないため、もう一方にも短い期限を付けるのだ。
	short, cancelShort := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelShort()

	start := time.Now()
	got, err := r.Run(context.Background(), 2, func(ctx context.Context, i int) (int, error) {
		return i, nil
	}, nil, WithUnitContext(func(i int) context.Context {
		if i == 0 {
			return stopped
		}
		return short
	}))

	assert.NoError(t, err, "すべて中断ならエラーにしないのだ")
	assert.Empty(t, got)
	assert.Less(t, time.Since(start), time.Second, "ジッタ待機も各ユニットのコンテキストで抜けるのだ")
}
