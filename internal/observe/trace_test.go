package observe_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/quill/internal/correction"
	"github.com/MrWong99/quill/internal/observe"
	"github.com/MrWong99/quill/internal/refine"
	"github.com/MrWong99/quill/internal/speech"
	"github.com/MrWong99/quill/pkg/provider/stt"
	sttmock "github.com/MrWong99/quill/pkg/provider/stt/mock"
	"github.com/MrWong99/quill/pkg/types"
)

// useTracer installs a recording tracer provider as the global one for the
// duration of the test. Tests calling it must not run in parallel.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func metricsFor(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func spansNamed(exp *tracetest.InMemoryExporter, name string) tracetest.SpanStubs {
	var out tracetest.SpanStubs
	for _, s := range exp.GetSpans() {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

func attrOf(s tracetest.SpanStub, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range s.Attributes {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

type fixedRefiner struct{ out refine.Outcome }

func (f fixedRefiner) Refine(context.Context, string) refine.Outcome { return f.out }

func TestCorrect_EmitsSpan(t *testing.T) {
	exp := useTracer(t)
	p := correction.New(correction.WithMetrics(metricsFor(t)))

	ctx, parent := observe.StartSpan(context.Background(), "HTTP GET /api/correct/stream")
	if _, err := p.Correct(correction.WithSource(ctx, correction.SourceStream), "i dont know"); err != nil {
		t.Fatalf("Correct: %v", err)
	}
	parent.End()

	spans := spansNamed(exp, observe.SpanCorrect)
	if len(spans) != 1 {
		t.Fatalf("got %d %s spans, want 1", len(spans), observe.SpanCorrect)
	}
	s := spans[0]
	if s.Parent.SpanID() != parent.SpanContext().SpanID() {
		t.Error("correction span is not a child of the request span")
	}
	if v, _ := attrOf(s, observe.SourceKey); v.AsString() != correction.SourceStream {
		t.Errorf("%s = %q, want %q", observe.SourceKey, v.AsString(), correction.SourceStream)
	}
	if v, _ := attrOf(s, observe.RulesAppliedKey); v.AsInt64() != 3 {
		t.Errorf("%s = %d, want 3", observe.RulesAppliedKey, v.AsInt64())
	}
	if _, ok := attrOf(s, observe.RefinedKey); ok {
		t.Errorf("%s set without a refiner", observe.RefinedKey)
	}
}

func TestCorrect_SpanCarriesRefinement(t *testing.T) {
	exp := useTracer(t)
	r := fixedRefiner{out: refine.Outcome{Text: "Hello, there.", Provider: "huggingface", Refined: true}}
	p := correction.New(correction.WithMetrics(metricsFor(t)), correction.WithRefiner(r))

	if _, err := p.Correct(context.Background(), "hello there"); err != nil {
		t.Fatalf("Correct: %v", err)
	}

	spans := spansNamed(exp, observe.SpanCorrect)
	if len(spans) != 1 {
		t.Fatalf("got %d %s spans, want 1", len(spans), observe.SpanCorrect)
	}
	if v, _ := attrOf(spans[0], observe.RefinedKey); !v.AsBool() {
		t.Errorf("%s = false, want true", observe.RefinedKey)
	}
	if v, _ := attrOf(spans[0], observe.RefineBackendKey); v.AsString() != "huggingface" {
		t.Errorf("%s = %q, want huggingface", observe.RefineBackendKey, v.AsString())
	}
	if v, _ := attrOf(spans[0], observe.SourceKey); v.AsString() != correction.SourceText {
		t.Errorf("%s = %q, want default source %q", observe.SourceKey, v.AsString(), correction.SourceText)
	}
}

func TestCorrect_BlankInputEmitsNoSpan(t *testing.T) {
	exp := useTracer(t)
	p := correction.New(correction.WithMetrics(metricsFor(t)))

	if _, err := p.Correct(context.Background(), " \n "); !errors.Is(err, correction.ErrEmptyInput) {
		t.Fatalf("Correct err = %v, want ErrEmptyInput", err)
	}
	if n := len(spansNamed(exp, observe.SpanCorrect)); n != 0 {
		t.Errorf("got %d %s spans for blank input, want 0", n, observe.SpanCorrect)
	}
}

func TestSpeechCapture_EmitsSpan(t *testing.T) {
	exp := useTracer(t)
	rec := &sttmock.Recognizer{Transcript: types.Transcript{Text: " i dont know ", Language: "en"}}
	svc := speech.New(rec, speech.WithMetrics(metricsFor(t)))

	if _, err := svc.Capture(context.Background(), stt.Utterance{Audio: make([]byte, 64)}); err != nil {
		t.Fatalf("Capture: %v", err)
	}

	spans := spansNamed(exp, observe.SpanSpeechCapture)
	if len(spans) != 1 {
		t.Fatalf("got %d %s spans, want 1", len(spans), observe.SpanSpeechCapture)
	}
	if spans[0].Status.Code == codes.Error {
		t.Errorf("status = %v, want not an error", spans[0].Status)
	}
	if v, _ := attrOf(spans[0], observe.LanguageKey); v.AsString() != "en" {
		t.Errorf("%s = %q, want en", observe.LanguageKey, v.AsString())
	}
}

func TestSpeechCapture_FailedSpan(t *testing.T) {
	exp := useTracer(t)
	rec := &sttmock.Recognizer{Err: stt.ErrNoSpeech}
	svc := speech.New(rec, speech.WithMetrics(metricsFor(t)))

	if _, err := svc.Capture(context.Background(), stt.Utterance{Audio: make([]byte, 64)}); err == nil {
		t.Fatal("Capture: want error")
	}

	spans := spansNamed(exp, observe.SpanSpeechCapture)
	if len(spans) != 1 {
		t.Fatalf("got %d %s spans, want 1", len(spans), observe.SpanSpeechCapture)
	}
	s := spans[0]
	if s.Status.Code != codes.Error {
		t.Errorf("status code = %v, want Error", s.Status.Code)
	}
	if v, _ := attrOf(s, observe.SpeechCodeKey); v.AsString() != speech.CodeNoSpeech {
		t.Errorf("%s = %q, want %q", observe.SpeechCodeKey, v.AsString(), speech.CodeNoSpeech)
	}
	if len(s.Events) == 0 || s.Events[0].Name != "exception" {
		t.Errorf("events = %+v, want a recorded exception", s.Events)
	}
}

func TestCorrelationID(t *testing.T) {
	useTracer(t)

	if got := observe.CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	ctx, span := observe.StartSpan(context.Background(), observe.SpanCorrect)
	defer span.End()
	if got, want := observe.CorrelationID(ctx), span.SpanContext().TraceID().String(); got != want || len(got) != 32 {
		t.Errorf("CorrelationID = %q, want trace id %q", got, want)
	}
}

func TestLogger_TraceAttributes(t *testing.T) {
	useTracer(t)

	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	observe.Logger(context.Background()).Info("no span")
	if bytes.Contains(buf.Bytes(), []byte("trace_id")) {
		t.Errorf("log without span has trace_id: %s", buf.String())
	}

	buf.Reset()
	ctx, span := observe.StartSpan(context.Background(), observe.SpanSpeechCapture)
	defer span.End()
	observe.Logger(ctx).Info("in span")
	want := "trace_id=" + span.SpanContext().TraceID().String()
	if !bytes.Contains(buf.Bytes(), []byte(want)) || !bytes.Contains(buf.Bytes(), []byte("span_id=")) {
		t.Errorf("log = %s, want %s and span_id", buf.String(), want)
	}
}
