package generator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/shouni/gemini-image-studio/pkg/domain"
	"github.com/shouni/gemini-image-studio/pkg/retry"
	"google.golang.org/genai"
)

// Kind はトランスポート境界で判定した失敗の種類です。
type Kind int

const (
	KindUnknown Kind = iota
	KindTimeout
	KindRateLimited
	KindUnavailable
	KindServer
	KindSafety
	KindAuth
	KindPermission
	KindAborted
	KindNoImage
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindUnavailable:
		return "unavailable"
	case KindServer:
		return "server"
	case KindSafety:
		return "safety"
	case KindAuth:
		return "auth"
	case KindPermission:
		return "permission"
	case KindAborted:
		return "aborted"
	case KindNoImage:
		return "no_image"
	default:
		return "unknown"
	}
}

// Failure は分類済みの生成失敗です。retry パッケージは Temporary と RetryAfter を見て再試行を判断します。
type Failure struct {
	Kind Kind
	// Status は HTTP ステータスです。不明な場合は 0 です。
	Status int
	Err    error

	retryAfter time.Duration
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return "generation failed: " + f.Kind.String()
	}
	if f.Status != 0 {
		return fmt.Sprintf("generation failed (%s, status %d): %v", f.Kind, f.Status, f.Err)
	}
	return fmt.Sprintf("generation failed (%s): %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Is は同じコードの *domain.GenerationError と一致します。
func (f *Failure) Is(target error) bool {
	g, ok := target.(*domain.GenerationError)
	return ok && g.Code == f.Code()
}

// Temporary は再試行で回復しうる失敗かを返します。
func (f *Failure) Temporary() bool {
	switch f.Kind {
	case KindTimeout, KindRateLimited, KindUnavailable, KindServer:
		return true
	}
	return false
}

// RetryAfter はサーバーが指定した待機時間を返します。
func (f *Failure) RetryAfter() (time.Duration, bool) {
	return f.retryAfter, f.retryAfter > 0
}

// Fallbackable は下位ティアへの切り替えで回復しうる失敗かを返します。
func (f *Failure) Fallbackable() bool {
	switch f.Kind {
	case KindPermission, KindRateLimited, KindTimeout:
		return true
	}
	return false
}

// Code はユーザー向けのエラーコードを返します。
func (f *Failure) Code() domain.ErrorCode {
	switch f.Kind {
	case KindAuth:
		return domain.CodeAPIKeyExpired
	case KindPermission:
		return domain.CodePermissionDenied
	case KindRateLimited:
		return domain.CodeQuotaExceeded
	case KindServer, KindUnavailable, KindTimeout:
		return domain.CodeServerError
	case KindSafety:
		return domain.CodeSafetyBlock
	case KindAborted:
		return domain.CodeAborted
	default:
		return domain.CodeUnknown
	}
}

// GenerationError はユーザーに提示するエラーへ変換します。
func (f *Failure) GenerationError() *domain.GenerationError {
	if f.Kind == KindNoImage {
		return &domain.GenerationError{Code: domain.CodeUnknown, Message: "The model returned no image. Please try again."}
	}
	return domain.NewGenerationError(f.Code())
}

// Classify は任意のエラーを Failure に分類します。
// 判定は genai.APIError のコード、ステータスと詳細情報だけで行い、メッセージ本文は見ません。
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	if errors.Is(err, retry.ErrAborted) || errors.Is(err, context.Canceled) {
		return &Failure{Kind: KindAborted, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Kind: KindTimeout, Err: err}
	}
	if apiErr, ok := asAPIError(err); ok {
		return classifyAPIError(apiErr, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Failure{Kind: KindTimeout, Err: err}
	}
	return &Failure{Kind: KindUnknown, Err: err}
}

func asAPIError(err error) (genai.APIError, bool) {
	var v genai.APIError
	if errors.As(err, &v) {
		return v, true
	}
	var p *genai.APIError
	if errors.As(err, &p) && p != nil {
		return *p, true
	}
	return genai.APIError{}, false
}

func classifyAPIError(apiErr genai.APIError, err error) *Failure {
	f := &Failure{Status: apiErr.Code, Err: err}
	switch {
	case apiErr.Code == 401:
		f.Kind = KindAuth
	case apiErr.Code == 400 && hasInvalidKeyReason(apiErr.Details):
		f.Kind = KindAuth
	case apiErr.Code == 404:
		// キーに紐づくプロジェクトからモデルが見えない場合もここに来るため、再接続を促します。
		f.Kind = KindAuth
	case apiErr.Code == 403 || apiErr.Status == "PERMISSION_DENIED":
		f.Kind = KindPermission
	case apiErr.Code == 429 || apiErr.Status == "RESOURCE_EXHAUSTED":
		f.Kind = KindRateLimited
	case apiErr.Code == 500:
		f.Kind = KindServer
	case apiErr.Code == 502, apiErr.Code == 503, apiErr.Code == 504, apiErr.Status == "UNAVAILABLE":
		f.Kind = KindUnavailable
	default:
		f.Kind = KindUnknown
	}
	if d, ok := retryDelayFrom(apiErr.Details); ok {
		f.retryAfter = d
	}
	return f
}

func detailType(d map[string]any) string {
	t, _ := d["@type"].(string)
	return t
}

func hasInvalidKeyReason(details []map[string]any) bool {
	for _, d := range details {
		if !strings.HasSuffix(detailType(d), "google.rpc.ErrorInfo") {
			continue
		}
		switch reason, _ := d["reason"].(string); reason {
		case "API_KEY_INVALID", "API_KEY_EXPIRED":
			return true
		}
	}
	return false
}

// retryDelayFrom は google.rpc.RetryInfo の retryDelay を読み取ります。
func retryDelayFrom(details []map[string]any) (time.Duration, bool) {
	for _, d := range details {
		if !strings.HasSuffix(detailType(d), "google.rpc.RetryInfo") {
			continue
		}
		switch v := d["retryDelay"].(type) {
		case string:
			if dur, err := time.ParseDuration(v); err == nil && dur > 0 {
				return dur, true
			}
		case map[string]any:
			if secs, ok := v["seconds"].(float64); ok && secs > 0 {
				return time.Duration(secs * float64(time.Second)), true
			}
		}
	}
	return 0, false
}
