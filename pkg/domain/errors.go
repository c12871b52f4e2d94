package domain

import "fmt"

// ErrorCode はユーザー表示用のエラー分類です。
type ErrorCode string

const (
	CodeAPIKeyExpired    ErrorCode = "API_KEY_EXPIRED"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeQuotaExceeded    ErrorCode = "QUOTA_EXCEEDED"
	CodeServerError      ErrorCode = "SERVER_ERROR"
	CodeSafetyBlock      ErrorCode = "SAFETY_BLOCK"
	CodeAborted          ErrorCode = "ABORTED"
	CodePartialSuccess   ErrorCode = "PARTIAL_SUCCESS"
	CodeUnknown          ErrorCode = "UNKNOWN"
)

// GenerationError はユーザーに提示するエラー値です。
type GenerationError struct {
	Message string
	Code    ErrorCode
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is はコードが一致すれば同一のエラーとみなします。
func (e *GenerationError) Is(target error) bool {
	t, ok := target.(*GenerationError)
	return ok && t.Code == e.Code
}

var messages = map[ErrorCode]string{
	CodeAPIKeyExpired:    "API Key not found or expired. Please reconnect.",
	CodePermissionDenied: "Access denied. Check your API Key permissions or billing.",
	CodeQuotaExceeded:    "Service quota exceeded. Please try again later.",
	CodeServerError:      "Google AI service internal error. Please try again.",
	CodeSafetyBlock:      "Generation blocked by safety filters. Please adjust your prompt.",
	CodeAborted:          "Generation stopped.",
	CodeUnknown:          "An unexpected error occurred.",
}

// NewGenerationError はコードに対応する既定メッセージでエラーを作ります。
func NewGenerationError(code ErrorCode) *GenerationError {
	msg, ok := messages[code]
	if !ok {
		msg = messages[CodeUnknown]
	}
	return &GenerationError{Message: msg, Code: code}
}

// ErrCredentialExpired は再認証が必要なことを示すセンチネルです。
// errors.Is(err, ErrCredentialExpired) で判定します。
var ErrCredentialExpired = NewGenerationError(CodeAPIKeyExpired)
