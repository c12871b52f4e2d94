package generator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shouni/gemini-image-studio/pkg/domain"
	"github.com/shouni/gemini-image-studio/pkg/retry"
	"google.golang.org/genai"
)

const (
	DefaultProModel  = "gemini-3-pro-image-preview"
	DefaultFastModel = "gemini-2.5-flash-image"
	// DefaultTimeout は 4K 生成の待ち行列も考慮した1回あたりの上限です。
	DefaultTimeout = 240 * time.Second
)

// ExecutorConfig は Executor の設定です。
type ExecutorConfig struct {
	// Models はティアごとのモデル ID です。欠けているティアは既定のモデルを使います。
	Models  map[domain.ModelTier]string
	Timeout time.Duration
	Retry   retry.Policy
}

// Outcome は Execute の結果です。
type Outcome struct {
	Response *genai.GenerateContentResponse
	// Call は実際に送信した内容です。フォールバック時は簡略化された Call になります。
	Call     Call
	Model    string
	FellBack bool
}

// Executor はタイムアウト、再試行、ティアのフォールバックを組み合わせて1ユニットを実行します。
// 共有状態は持たず、並行に呼び出せます。
type Executor struct {
	endpoint Endpoint
	cfg      ExecutorConfig
}

// NewExecutor は Executor を初期化します。
func NewExecutor(endpoint Endpoint, cfg ExecutorConfig) (*Executor, error) {
	if endpoint == nil {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	models := map[domain.ModelTier]string{
		domain.TierPro:  DefaultProModel,
		domain.TierFast: DefaultFastModel,
	}
	for tier, id := range cfg.Models {
		if id != "" {
			models[tier] = id
		}
	}
	cfg.Models = models
	return &Executor{endpoint: endpoint, cfg: cfg}, nil
}

// Model はティアに対応するモデル ID を返します。
func (e *Executor) Model(tier domain.ModelTier) string {
	if id, ok := e.cfg.Models[tier]; ok {
		return id
	}
	return e.cfg.Models[domain.TierFast]
}

// Execute は call を実行します。失敗時は *Failure を返します。
//
// pro ティアで権限、クォータ、タイムアウトのいずれかで失敗した場合は、
// 解像度とグラウンディングを落として fast ティアで一度だけ再送します。
func (e *Executor) Execute(ctx context.Context, call Call) (*Outcome, error) {
	resp, err := e.run(ctx, call, e.cfg.Retry)
	if err == nil {
		return &Outcome{Response: resp, Call: call, Model: e.Model(call.Tier)}, nil
	}

	f := Classify(err)
	if call.Tier != domain.TierPro || !f.Fallbackable() || ctx.Err() != nil {
		return nil, f
	}

	fallback := call.simplified()
	slog.WarnContext(ctx, "pro ティアで失敗したため fast ティアにフォールバックします",
		"kind", f.Kind.String(), "from", e.Model(call.Tier), "to", e.Model(fallback.Tier))

	// フォールバックは再試行せず1回だけ送ります。
	p := e.cfg.Retry
	p.MaxAttempts = 1
	resp, err = e.run(ctx, fallback, p)
	if err != nil {
		return nil, Classify(err)
	}
	return &Outcome{Response: resp, Call: fallback, Model: e.Model(fallback.Tier), FellBack: true}, nil
}

func (e *Executor) run(ctx context.Context, call Call, p retry.Policy) (*genai.GenerateContentResponse, error) {
	model := e.Model(call.Tier)
	contents := call.contents()
	config := call.config()

	return retry.Do(ctx, p, func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		resp, err := e.attempt(ctx, model, contents, config)
		if err != nil {
			return nil, Classify(err)
		}
		if reason, blocked := safetyVerdict(resp); blocked {
			return nil, &Failure{Kind: KindSafety, Err: fmt.Errorf("response blocked: %s", reason)}
		}
		return resp, nil
	})
}

// attempt はリモート呼び出しを1回だけ行い、呼び出しをキャンセルとタイムアウトに競わせます。
func (e *Executor) attempt(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	actx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	type result struct {
		resp *genai.GenerateContentResponse
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := e.endpoint.GenerateContent(actx, model, contents, config)
		ch <- result{resp: resp, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && ctx.Err() == nil && actx.Err() != nil {
			return nil, &Failure{Kind: KindTimeout, Err: r.err}
		}
		return r.resp, r.err
	case <-actx.Done():
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", retry.ErrAborted, context.Cause(ctx))
		}
		return nil, &Failure{Kind: KindTimeout, Err: fmt.Errorf("request timed out after %s", e.cfg.Timeout)}
	}
}

var blockedFinishReasons = map[genai.FinishReason]bool{
	genai.FinishReasonSafety:   true,
	"IMAGE_SAFETY":             true,
	"PROHIBITED_CONTENT":       true,
	"IMAGE_PROHIBITED_CONTENT": true,
	"BLOCKLIST":                true,
	"SPII":                     true,
}

// safetyVerdict はプロンプトのブロック理由と最初の候補の終了理由から安全性判定を読み取ります。
func safetyVerdict(resp *genai.GenerateContentResponse) (string, bool) {
	if resp == nil {
		return "", false
	}
	if pf := resp.PromptFeedback; pf != nil && pf.BlockReason != "" && pf.BlockReason != "BLOCKED_REASON_UNSPECIFIED" {
		return string(pf.BlockReason), true
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		if fr := resp.Candidates[0].FinishReason; blockedFinishReasons[fr] {
			return string(fr), true
		}
	}
	return "", false
}
