package generator

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// ValidateCredential は軽量なリクエストを1回送り、ep の API キーが使えるかを確認します。
// 認証に関わる失敗は KindAuth または KindPermission の *Failure として返します。
func ValidateCredential(ctx context.Context, ep Endpoint, model string) error {
	if ep == nil {
		return fmt.Errorf("endpoint is required")
	}
	if model == "" {
		model = DefaultFastModel
	}
	contents := []*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: "ping"}}}}
	if _, err := ep.GenerateContent(ctx, model, contents, nil); err != nil {
		return Classify(err)
	}
	return nil
}
