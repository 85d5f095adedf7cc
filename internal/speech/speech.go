// Package speech turns one recorded utterance into a transcript that the
// correction pipeline consumes exactly like typed input.
//
// Recognition itself is delegated to an [stt.Recognizer]. This package only
// decides what the caller is told when recognition is unavailable or fails.
package speech

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrWong99/quill/internal/observe"
	"github.com/MrWong99/quill/pkg/provider/stt"
	"github.com/MrWong99/quill/pkg/types"
)

// Error codes reported in [Error.Code].
const (
	CodeNotSupported = "not-supported"
	CodeNoSpeech     = "no-speech"
	CodeNetwork      = "network"
	CodeAborted      = "aborted"
	CodeAudioCapture = "audio-capture"
)

// Error is a user-facing speech failure.
type Error struct {
	Code string
	Err  error
}

// Error returns the message shown to the user.
func (e *Error) Error() string {
	if e.Code == CodeNotSupported {
		return "Speech recognition is not supported by this server."
	}
	return "Error occurred in recognition: " + e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// Option configures a [Service].
type Option func(*Service)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service captures utterances through an optional recognizer.
type Service struct {
	recognizer stt.Recognizer
	metrics    *observe.Metrics
}

// New creates a Service. A nil recognizer yields a Service whose Capture
// always fails with [CodeNotSupported].
func New(r stt.Recognizer, opts ...Option) *Service {
	s := &Service{recognizer: r, metrics: observe.DefaultMetrics()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Supported reports whether a recognizer is configured.
func (s *Service) Supported() bool {
	return s != nil && s.recognizer != nil
}

// Capture recognizes u. Every failure is returned as an *Error.
func (s *Service) Capture(ctx context.Context, u stt.Utterance) (types.Transcript, error) {
	if !s.Supported() {
		return types.Transcript{}, &Error{Code: CodeNotSupported}
	}

	ctx, span := observe.StartSpan(ctx, observe.SpanSpeechCapture)
	defer span.End()

	start := time.Now()
	tr, err := s.recognizer.Recognize(ctx, u)
	s.metrics.SpeechDuration.Record(ctx, time.Since(start).Seconds())
	if err == nil && strings.TrimSpace(tr.Text) == "" {
		err = stt.ErrNoSpeech
	}
	if err != nil {
		code := Classify(err)
		observe.FailSpan(span, err)
		span.SetAttributes(observe.SpeechCodeKey.String(code))
		observe.Logger(ctx).Warn("speech recognition failed", "code", code, "err", err)
		return types.Transcript{}, &Error{Code: code, Err: err}
	}

	tr.Text = strings.TrimSpace(tr.Text)
	span.SetAttributes(observe.LanguageKey.String(tr.Language))
	return tr, nil
}

// Classify maps a recognizer error to an error code.
func Classify(err error) string {
	var se *Error
	switch {
	case errors.As(err, &se):
		return se.Code
	case errors.Is(err, stt.ErrNoSpeech):
		return CodeNoSpeech
	case errors.Is(err, stt.ErrInvalidAudio):
		return CodeAudioCapture
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeAborted
	default:
		return CodeNetwork
	}
}
