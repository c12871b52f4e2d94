package studio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shouni/gemini-image-studio/pkg/batch"
	"github.com/shouni/gemini-image-studio/pkg/domain"
	"github.com/shouni/gemini-image-studio/pkg/generator"
	"github.com/shouni/gemini-image-studio/pkg/retry"
	"google.golang.org/genai"
)

var (
	// ErrEmptyPrompt はプロンプトが空のリクエストを拒否したことを示します。
	ErrEmptyPrompt = errors.New("prompt is empty")
	// errStopped は StopOne と StopAll がユニットを止める時のキャンセル原因です。
	errStopped = errors.New("generation stopped by user")
	// errSettled は完了したユニットのコンテキストを解放する時の原因です。
	errSettled = errors.New("unit settled")
)

// Mode は生成の種類です。
type Mode int

const (
	ModeGenerate Mode = iota
	ModeImageToImage
	ModeEdit
)

func (m Mode) String() string {
	switch m {
	case ModeImageToImage:
		return "image_to_image"
	case ModeEdit:
		return "edit"
	default:
		return "generate"
	}
}

// Request は1回の生成操作です。
type Request struct {
	Prompt     string
	References []domain.ImageRef
	// EditBase が指定されていれば、その画像を編集します。
	EditBase *domain.GeneratedImage
	// Settings は既定の設定を丸ごと上書きします。
	Settings *domain.Settings
	// OnImage は画像が1枚完成するたびに呼ばれます。
	OnImage func(domain.GeneratedImage)
}

// resolveMode は編集元、参照画像と image-to-image フラグから生成の種類を決めます。
func resolveMode(req Request, s domain.Settings) Mode {
	switch {
	case req.EditBase != nil:
		return ModeEdit
	case s.ImageToImage && len(req.References) > 0:
		return ModeImageToImage
	default:
		return ModeGenerate
	}
}

// Generate はバッチサイズ分のユニットを登録し、バックグラウンドで実行を始めます。
//
// プレースホルダーは戻る前にギャラリーの先頭へ追加されます。ctx がキャンセルされると
// このバッチの未完了ユニットはすべて中断されます。
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*Batch, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	settings := o.opts.Defaults
	if req.Settings != nil {
		settings = *req.Settings
	}
	settings = settings.Normalize()
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	mode := resolveMode(req, settings)
	var editPart *genai.Part
	if mode == ModeEdit {
		p, err := o.images.EditPart(ctx, *req.EditBase)
		if err != nil {
			return nil, fmt.Errorf("preparing edit base: %w", err)
		}
		editPart = p
	}

	count := settings.BatchSize
	now := time.Now()
	items := make([]*pendingItem, count)
	placeholders := make([]domain.GeneratedImage, count)
	for i := range count {
		uctx, cancel := context.WithCancelCause(ctx)
		items[i] = &pendingItem{id: uuid.NewString(), ctx: uctx, cancel: cancel, createdAt: now}
		placeholders[i] = domain.GeneratedImage{
			ID:        items[i].id,
			Prompt:    prompt,
			Settings:  settings,
			CreatedAt: now,
			Status:    domain.StatusGenerating,
		}
	}

	o.update(func(s *snapshot) bool {
		for _, it := range items {
			s.pending[it.id] = it
		}
		s.images = append(placeholders, s.images...)
		return true
	})

	b := &Batch{
		IDs:  make([]string, count),
		Mode: mode,
		done: make(chan struct{}),
	}
	for i, it := range items {
		b.IDs[i] = it.id
	}

	slog.InfoContext(ctx, "画像生成を開始します", "mode", mode.String(), "count", count, "model", settings.Model, "refs", len(req.References), "concurrency", o.runner.Concurrency())
	o.notify(domain.Signal{Kind: domain.SignalStart, Sound: settings.SoundFeedback})

	run := &batchRun{
		o:        o,
		req:      req,
		prompt:   prompt,
		settings: settings,
		mode:     mode,
		editPart: editPart,
		items:    items,
		batch:    b,
		settled:  make(map[string]bool, count),
	}
	go run.execute(ctx)
	return b, nil
}

// batchRun は1回の Generate の実行状態です。
type batchRun struct {
	o        *Orchestrator
	req      Request
	prompt   string
	settings domain.Settings
	mode     Mode
	editPart *genai.Part
	items    []*pendingItem

	batch *Batch

	mu        sync.Mutex
	settled   map[string]bool
	images    []domain.GeneratedImage
	failed    int
	stopped   int
	credError *domain.GenerationError
}

func (r *batchRun) execute(ctx context.Context) {
	defer close(r.batch.done)

	parts := r.buildParts(ctx)
	unitSettings := r.settings.WithBatchSize(1)

	events := make(chan batch.Event[domain.GeneratedImage], len(r.items))
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		for ev := range events {
			r.settle(ctx, r.items[ev.Index], ev.Value, ev.Err)
		}
	}()

	results, runErr := r.o.runner.Run(ctx, len(r.items), func(uctx context.Context, idx int) (domain.GeneratedImage, error) {
		return r.unit(uctx, r.items[idx], unitSettings, parts)
	}, events, batch.WithUnitContext(func(idx int) context.Context {
		return r.items[idx].ctx
	}))
	close(events)
	<-consumed

	// イベントを取りこぼしたユニットと、一度も実行されなかったユニットを片付けます。
	byID := make(map[string]domain.GeneratedImage, len(results))
	for _, img := range results {
		byID[img.ID] = img
	}
	for _, it := range r.items {
		if img, ok := byID[it.id]; ok {
			r.settle(ctx, it, img, nil)
			continue
		}
		r.settle(ctx, it, domain.GeneratedImage{}, fmt.Errorf("%w: unit was not run", retry.ErrAborted))
	}

	r.finish(ctx, runErr)
}

// buildParts はモードに応じて画像パーツを先に、プロンプトを最後に並べます。
func (r *batchRun) buildParts(ctx context.Context) []*genai.Part {
	var parts []*genai.Part
	switch r.mode {
	case ModeEdit:
		parts = append(parts, r.editPart)
	case ModeImageToImage:
		parts = append(parts, r.o.images.Parts(ctx, r.req.References)...)
	}
	return append(parts, &genai.Part{Text: r.prompt})
}

// unit は1枚分の生成です。成功時の画像はプレースホルダーと同じ ID を持ちます。
func (r *batchRun) unit(ctx context.Context, it *pendingItem, settings domain.Settings, parts []*genai.Part) (domain.GeneratedImage, error) {
	start := time.Now()
	out, err := r.o.executor.Execute(ctx, generator.CallFromSettings(settings, parts))
	if err != nil {
		return domain.GeneratedImage{}, err
	}

	used := settings
	if out.FellBack {
		used = settings.WithModel(out.Call.Tier)
	}
	img := generator.Extract(out.Response, r.prompt, used, time.Since(start))
	if img == nil {
		return domain.GeneratedImage{}, &generator.Failure{Kind: generator.KindNoImage, Err: errors.New("no image data returned")}
	}
	img.ID = it.id
	return *img, nil
}

// settle はユニットを終端状態にします。同じユニットに対する2回目以降の呼び出しは何もしません。
func (r *batchRun) settle(ctx context.Context, it *pendingItem, img domain.GeneratedImage, err error) {
	r.mu.Lock()
	if r.settled[it.id] {
		r.mu.Unlock()
		return
	}
	r.settled[it.id] = true
	r.mu.Unlock()
	defer it.cancel(errSettled)

	if err == nil {
		r.succeed(ctx, it, img)
		return
	}
	r.fail(ctx, it, err)
}

func (r *batchRun) succeed(ctx context.Context, it *pendingItem, img domain.GeneratedImage) {
	o := r.o
	applied := false
	o.update(func(s *snapshot) bool {
		if _, ok := s.pending[it.id]; !ok {
			return false
		}
		delete(s.pending, it.id)
		if i := s.indexOf(it.id); i >= 0 {
			s.images[i] = img
		} else {
			s.images = append([]domain.GeneratedImage{img}, s.images...)
		}
		applied = true
		return true
	})

	r.mu.Lock()
	if !applied {
		// 完了と同時に止められたユニットの結果は捨てます。
		r.stopped++
		r.mu.Unlock()
		return
	}
	r.images = append(r.images, img)
	r.mu.Unlock()

	o.persist(ctx, img)
	o.notify(domain.Signal{Kind: domain.SignalSuccess, ImageID: img.ID, Sound: r.settings.SoundFeedback})
	if r.req.OnImage != nil {
		r.req.OnImage(img)
	}
}

func (r *batchRun) fail(ctx context.Context, it *pendingItem, err error) {
	o := r.o
	ge := generator.Classify(err).GenerationError()
	aborted := ge.Code == domain.CodeAborted

	applied := false
	o.update(func(s *snapshot) bool {
		if _, ok := s.pending[it.id]; !ok {
			return false
		}
		delete(s.pending, it.id)
		s.removeImages(it.id)
		if !aborted {
			s.lastErr = ge
		}
		applied = true
		return true
	})

	r.mu.Lock()
	if !applied || aborted {
		r.stopped++
		r.mu.Unlock()
		return
	}
	r.failed++
	expired := ge.Code == domain.CodeAPIKeyExpired
	if expired {
		r.credError = ge
	}
	r.mu.Unlock()

	slog.WarnContext(ctx, "画像生成に失敗しました", "id", it.id, "code", ge.Code, "error", err)
	o.notify(domain.Signal{Kind: domain.SignalError, ImageID: it.id, Error: ge, Sound: r.settings.SoundFeedback})
	if expired && o.opts.OnCredentialExpired != nil {
		o.opts.OnCredentialExpired(ge)
	}
}

// finish はバッチ全体の結果をまとめ、部分的な成功を通知します。
func (r *batchRun) finish(ctx context.Context, runErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	requested := len(r.items)
	r.batch.result = BatchResult{
		Requested: requested,
		Images:    r.images,
		Failed:    r.failed,
		Stopped:   r.stopped,
	}

	switch {
	case len(r.images) == 0 && runErr != nil:
		r.batch.err = runErr
		slog.WarnContext(ctx, "バッチで画像を1枚も生成できませんでした", "requested", requested, "failed", r.failed)
	case r.stopped == 0 && len(r.images) < requested:
		partial := &domain.GenerationError{
			Code:    domain.CodePartialSuccess,
			Message: fmt.Sprintf("Generated %d of %d images.", len(r.images), requested),
		}
		r.o.update(func(s *snapshot) bool {
			s.lastErr = partial
			return true
		})
		slog.InfoContext(ctx, "バッチの一部が失敗しました", "generated", len(r.images), "requested", requested)
	default:
		slog.InfoContext(ctx, "バッチが完了しました", "generated", len(r.images), "requested", requested, "stopped", r.stopped)
	}

	if r.credError != nil && !errors.Is(r.batch.err, domain.ErrCredentialExpired) {
		r.batch.err = errors.Join(r.batch.err, r.credError)
	}
}
