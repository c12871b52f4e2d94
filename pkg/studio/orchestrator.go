package studio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/shouni/gemini-image-studio/pkg/batch"
	"github.com/shouni/gemini-image-studio/pkg/domain"
)

// Options はオーケストレーターの任意設定です。
type Options struct {
	// Defaults はリクエストで設定が指定されなかった場合に使う設定です。
	Defaults domain.Settings
	// OnCredentialExpired は API キーの失効を検知した時に呼ばれます。再認証を促すために使います。
	OnCredentialExpired func(*domain.GenerationError)
}

// Orchestrator は生成リクエストを複数のユニットに展開し、ギャラリーの状態を管理します。
//
// 状態は不変のスナップショットとして保持し、更新は書き込み用のロックの下で丸ごと差し替えます。
// 読み取り側はロックを取りません。
type Orchestrator struct {
	executor Executor
	runner   *batch.Runner[domain.GeneratedImage]
	images   ImagePreparer
	store    Store
	notifier Notifier
	opts     Options

	mu    sync.Mutex
	state atomic.Pointer[snapshot]
	subs  map[chan State]struct{}

	// bg は永続化と通知のバックグラウンド処理です。
	bg sync.WaitGroup
}

// New は Orchestrator を初期化します。store と notifier は nil を許容します。
func New(executor Executor, runner *batch.Runner[domain.GeneratedImage], images ImagePreparer, store Store, notifier Notifier, opts Options) (*Orchestrator, error) {
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if images == nil {
		return nil, fmt.Errorf("image preparer is required")
	}
	if opts.Defaults == (domain.Settings{}) {
		opts.Defaults = domain.DefaultSettings()
	}
	opts.Defaults = opts.Defaults.Normalize()
	if err := opts.Defaults.Validate(); err != nil {
		return nil, fmt.Errorf("invalid default settings: %w", err)
	}

	o := &Orchestrator{
		executor: executor,
		runner:   runner,
		images:   images,
		store:    store,
		notifier: notifier,
		opts:     opts,
		subs:     make(map[chan State]struct{}),
	}
	o.state.Store(&snapshot{pending: make(map[string]*pendingItem)})
	return o, nil
}

// Images は現在のギャラリーを新しい順に返します。生成中のプレースホルダーも含みます。
func (o *Orchestrator) Images() []domain.GeneratedImage {
	return o.state.Load().view().Images
}

// Outstanding は未完了のユニット数を返します。
func (o *Orchestrator) Outstanding() int {
	return len(o.state.Load().pending)
}

// IsGenerating は Outstanding() > 0 と同じです。
func (o *Orchestrator) IsGenerating() bool {
	return o.Outstanding() > 0
}

// LastError は現在表示すべきエラーを返します。無ければ nil です。
func (o *Orchestrator) LastError() *domain.GenerationError {
	return o.state.Load().lastErr
}

// ClearError は表示中のエラーを消します。
func (o *Orchestrator) ClearError() {
	o.update(func(s *snapshot) bool {
		if s.lastErr == nil {
			return false
		}
		s.lastErr = nil
		return true
	})
}

// State は現在の状態のビューを返します。
func (o *Orchestrator) State() State {
	return o.state.Load().view()
}

// Subscribe は状態が変わるたびに最新のビューを受け取るチャネルを返します。
// 受信が遅れた場合、古いビューは捨てて最新のものだけを残します。
// 返された関数で購読を解除するとチャネルは閉じられます。
func (o *Orchestrator) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	o.mu.Lock()
	o.subs[ch] = struct{}{}
	ch <- o.state.Load().view()
	o.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, ch)
			close(ch)
			o.mu.Unlock()
		})
	}
}

// Flush はバックグラウンドの永続化と通知が終わるまで待ちます。
func (o *Orchestrator) Flush() {
	o.bg.Wait()
}

// update は fn で変更したコピーを公開します。fn が false を返した場合は何もしません。
func (o *Orchestrator) update(fn func(s *snapshot) bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	next := o.state.Load().clone()
	if !fn(next) {
		return
	}
	o.publishLocked(next)
}

func (o *Orchestrator) publishLocked(next *snapshot) {
	o.state.Store(next)
	view := next.view()
	for ch := range o.subs {
		select {
		case ch <- view:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- view
		}
	}
}

// background は fn をバックグラウンドで実行し、Flush で待てるようにします。
func (o *Orchestrator) background(fn func()) {
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		fn()
	}()
}

func (o *Orchestrator) notify(sig domain.Signal) {
	if o.notifier == nil {
		return
	}
	o.background(func() { o.notifier.Notify(sig) })
}

func (o *Orchestrator) persist(ctx context.Context, img domain.GeneratedImage) {
	if o.store == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	o.background(func() {
		if err := o.store.Save(ctx, img); err != nil {
			slog.WarnContext(ctx, "画像の保存に失敗しました", "id", img.ID, "error", err)
		}
	})
}
