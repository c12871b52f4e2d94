package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/shouni/gemini-image-studio/pkg/retry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrNoResults はキャンセル以外の理由で1件も成功しなかったことを示します。
var ErrNoResults = errors.New("failed to generate any images. Your quota may be exhausted or the prompt was blocked")

const (
	DefaultConcurrency = 3
	DefaultMaxJitter   = 200 * time.Millisecond
)

// Config は Runner の設定です。
type Config struct {
	// Concurrency はランナー全体で同時に実行できるユニット数の上限です。
	Concurrency int
	// MaxJitter はディスパッチ前に入れるランダム待機の上限です。0 なら待機しません。
	MaxJitter time.Duration
	// Limiter は任意のディスパッチレート制限です。
	Limiter *rate.Limiter
}

// Event は1ユニットの完了通知です。成功時は Err が nil です。
type Event[T any] struct {
	Index int
	Value T
	Err   error
}

// Runner は有限個のワーカーでユニットを並行実行します。
// 同じ Runner を複数のバッチで共有すると、同時実行数はバッチをまたいで制限されます。
type Runner[T any] struct {
	cfg Config
	sem *semaphore.Weighted

	jitter func(limit time.Duration) time.Duration
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRunner は Runner を初期化します。
func NewRunner[T any](cfg Config) *Runner[T] {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.MaxJitter < 0 {
		cfg.MaxJitter = 0
	}
	return &Runner[T]{
		cfg: cfg,
		sem: semaphore.NewWeighted(int64(cfg.Concurrency)),
		jitter: func(limit time.Duration) time.Duration {
			if limit <= 0 {
				return 0
			}
			return rand.N(limit)
		},
		sleep: retry.Sleep,
	}
}

// Concurrency は同時実行数の上限を返します。
func (r *Runner[T]) Concurrency() int {
	return r.cfg.Concurrency
}

// RunOption は Run の動作を変更します。
type RunOption func(*runOptions)

type runOptions struct {
	unitContext func(index int) context.Context
}

// WithUnitContext はユニットごとのコンテキストを指定します。
// fn は Run に渡した ctx から派生したコンテキストを返さなければなりません。
// ジッタ待機、スロット待ち、レート制限とユニット本体はこのコンテキストで動くので、
// 1つのユニットだけを止めても同じバッチの他のユニットは止まりません。
func WithUnitContext(fn func(index int) context.Context) RunOption {
	return func(o *runOptions) {
		o.unitContext = fn
	}
}

// Run は count 個のユニットを実行し、成功した結果を完了順に返します。
//
// events が nil でなければ、各ユニットの成否を完了した時点で送信します。
// Run は events を閉じません。個々の失敗はログに残し、他のユニットは継続します。
func (r *Runner[T]) Run(ctx context.Context, count int, unit func(ctx context.Context, index int) (T, error), events chan<- Event[T], opts ...RunOption) ([]T, error) {
	if count <= 0 {
		return nil, nil
	}
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}

	var (
		next    atomic.Int64
		mu      sync.Mutex
		results = make([]T, 0, count)
		errs    *multierror.Error
	)

	workers := min(count, r.cfg.Concurrency)
	var g errgroup.Group
	for range workers {
		g.Go(func() error {
			for {
				if ctx.Err() != nil {
					return nil
				}
				idx := int(next.Add(1) - 1)
				if idx >= count {
					return nil
				}

				uctx := ctx
				if o.unitContext != nil {
					uctx = o.unitContext(idx)
				}
				v, err := r.dispatch(uctx, idx, unit)

				mu.Lock()
				if err == nil {
					results = append(results, v)
				} else {
					errs = multierror.Append(errs, fmt.Errorf("unit %d: %w", idx, err))
				}
				mu.Unlock()

				if err != nil && !isAbort(err) {
					slog.WarnContext(ctx, "バッチ内のユニットが失敗しました", "index", idx, "error", err)
				}
				if events != nil {
					select {
					case events <- Event[T]{Index: idx, Value: v, Err: err}:
					case <-ctx.Done():
					}
				}
			}
		})
	}
	_ = g.Wait()

	if len(results) == 0 && ctx.Err() == nil && !allAborted(errs) {
		if errs == nil {
			return nil, ErrNoResults
		}
		return nil, fmt.Errorf("%w: %w", ErrNoResults, errs)
	}
	return results, nil
}

// dispatch はジッタ待機、セマフォとレート制限を経てユニットを1つ実行します。
func (r *Runner[T]) dispatch(ctx context.Context, idx int, unit func(context.Context, int) (T, error)) (v T, err error) {
	if err := r.sleep(ctx, r.jitter(r.cfg.MaxJitter)); err != nil {
		return v, err
	}
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return v, fmt.Errorf("%w: %w", retry.ErrAborted, err)
	}
	defer r.sem.Release(1)

	if r.cfg.Limiter != nil {
		if err := r.cfg.Limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return v, fmt.Errorf("%w: %w", retry.ErrAborted, err)
			}
			return v, err
		}
	}

	defer func() {
		if p := recover(); p != nil {
			slog.ErrorContext(ctx, "ユニットでパニックが発生しました", "index", idx, "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("unit %d panicked: %v", idx, p)
		}
	}()
	return unit(ctx, idx)
}

func isAbort(err error) bool {
	return errors.Is(err, retry.ErrAborted) || errors.Is(err, context.Canceled)
}

func allAborted(errs *multierror.Error) bool {
	if errs == nil || len(errs.Errors) == 0 {
		return false
	}
	for _, err := range errs.Errors {
		if !isAbort(err) {
			return false
		}
	}
	return true
}
