package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for Quill spans.
const tracerName = "github.com/MrWong99/quill"

// Span names of the operations traced below the [Middleware] request span.
const (
	SpanCorrect       = "correction.Correct"
	SpanSpeechCapture = "speech.capture"
)

// Span attribute keys.
const (
	SourceKey        = attribute.Key("quill.source")
	RulesAppliedKey  = attribute.Key("quill.rules_applied")
	RefinedKey       = attribute.Key("quill.refined")
	RefineBackendKey = attribute.Key("quill.refine.backend")
	SpeechCodeKey    = attribute.Key("quill.speech.code")
	LanguageKey      = attribute.Key("quill.language")
)

// Tracer returns the Quill tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// FailSpan records err on span and marks the span as failed.
func FailSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
// [Middleware] echoes it in the X-Correlation-ID response header so a client
// can quote it when reporting a bad correction.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id attached when
// ctx carries a span.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
