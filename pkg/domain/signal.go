package domain

// SignalKind は通知の種類です。
type SignalKind string

const (
	SignalStart   SignalKind = "start"
	SignalSuccess SignalKind = "success"
	SignalError   SignalKind = "error"
)

// Signal は音やフラッシュなどの一時的な通知です。
type Signal struct {
	Kind    SignalKind
	ImageID string
	Error   *GenerationError
	// Sound は設定の SoundFeedback を写したものです。
	Sound bool
}
