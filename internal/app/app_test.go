package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/quill/internal/app"
	"github.com/MrWong99/quill/internal/config"
	"github.com/MrWong99/quill/internal/observe"
	"github.com/MrWong99/quill/internal/refine"
	"github.com/MrWong99/quill/internal/resilience"
	refinemock "github.com/MrWong99/quill/pkg/provider/refine/mock"
	sttmock "github.com/MrWong99/quill/pkg/provider/stt/mock"
	"github.com/MrWong99/quill/pkg/types"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// testConfig returns a validated config with defaults applied.
func testConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func newApp(t *testing.T, cfg *config.Config, providers *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{app.WithMetrics(testMetrics(t))}, opts...)
	a, err := app.New(cfg, providers, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func serve(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t, ""), nil)
	h := a.Handler()

	rec := serve(t, h, http.MethodPost, "/api/correct", `{"text":"i dont know"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("correct status = %d, body %s", rec.Code, rec.Body)
	}
	var res struct {
		Corrected  string          `json:"corrected"`
		Refinement json.RawMessage `json:"refinement"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Corrected != "I don't know." {
		t.Errorf("corrected = %q", res.Corrected)
	}
	if res.Refinement != nil {
		t.Errorf("refinement = %s, want absent without a refiner", res.Refinement)
	}

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		if rec := serve(t, h, http.MethodGet, path, ""); rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d", path, rec.Code)
		}
	}

	rec = serve(t, h, http.MethodPost, "/api/speech", "audio")
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("speech without recognizer status = %d, want 501", rec.Code)
	}
	rec = serve(t, h, http.MethodPost, "/api/feedback", `{"original":"a"}`)
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("feedback without path status = %d, want 501", rec.Code)
	}
}

func TestNew_ConfiguredPipeline(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, `
rules:
  extra:
    - {name: gonna, pattern: "\\bgonna\\b", replacement: "going to"}
vocabulary:
  terms: ["Kubernetes"]
diff:
  granularity: char
  algorithm: lcs
`)
	a := newApp(t, cfg, nil)

	res, err := a.Pipeline().Correct(context.Background(), "we are gonna deploy kubernetis")
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if !strings.Contains(res.Corrected, "going to") || !strings.Contains(res.Corrected, "Kubernetes") {
		t.Errorf("corrected = %q, want extra rule and vocabulary applied", res.Corrected)
	}
	if len(res.Substitutions) == 0 {
		t.Error("no vocabulary substitutions recorded")
	}
	if got := a.Pipeline().DiffOptions().Granularity; got != "char" {
		t.Errorf("granularity = %q, want char", got)
	}
}

func TestNew_InvalidRule(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "")
	cfg.Rules.Extra = []config.RuleConfig{{Name: "broken", Pattern: "(", Replacement: "x"}}

	_, err := app.New(cfg, nil, app.WithMetrics(testMetrics(t)))
	if err == nil {
		t.Fatal("New: want error for invalid rule pattern")
	}
}

func TestNew_WithRefiner(t *testing.T) {
	t.Parallel()

	m := testMetrics(t)
	prov := &refinemock.Provider{Result: "Hello, world!"}
	adapter, err := refine.New([]refine.Backend{{Name: "mock", Provider: prov}}, refine.WithMetrics(m))
	if err != nil {
		t.Fatalf("refine.New: %v", err)
	}

	a := newApp(t, testConfig(t, ""), &app.Providers{Refiner: adapter})
	res, err := a.Pipeline().Correct(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if res.Corrected != "Hello, world!" {
		t.Errorf("corrected = %q", res.Corrected)
	}
	if got := prov.Inputs; len(got) != 1 || got[0] != "Hello world." {
		t.Errorf("refiner inputs = %q, want the rule output", got)
	}
}

func TestReadyz_DegradedWhenBreakersOpen(t *testing.T) {
	t.Parallel()

	m := testMetrics(t)
	prov := &refinemock.Provider{Err: errors.New("boom")}
	adapter, err := refine.New(
		[]refine.Backend{{Name: "mock", Provider: prov}},
		refine.WithMetrics(m),
		refine.WithBreaker(resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}),
	)
	if err != nil {
		t.Fatalf("refine.New: %v", err)
	}

	a := newApp(t, testConfig(t, ""), &app.Providers{Refiner: adapter})
	if _, err := a.Pipeline().Correct(context.Background(), "hello"); err != nil {
		t.Fatalf("Correct: %v", err)
	}

	rec := serve(t, a.Handler(), http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz status = %d, want 200 (degraded)", rec.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "degraded" {
		t.Errorf("status = %q, want degraded", body.Status)
	}
	if !strings.Contains(body.Checks["refine"], "mock") {
		t.Errorf("refine check = %q, want open breaker named", body.Checks["refine"])
	}
}

func TestNew_SpeechAndFeedback(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := testConfig(t, "")
	cfg.Feedback.Path = dir + "/feedback.jsonl"

	rec := &sttmock.Recognizer{Transcript: types.Transcript{Text: "i dont know"}}
	a := newApp(t, cfg, &app.Providers{Recognizer: rec})
	h := a.Handler()

	resp := serve(t, h, http.MethodPost, "/api/speech?sample_rate=16000", string(make([]byte, 64)))
	if resp.Code != http.StatusOK {
		t.Fatalf("speech status = %d, body %s", resp.Code, resp.Body)
	}
	if !bytes.Contains(resp.Body.Bytes(), []byte(`"I don't know."`)) {
		t.Errorf("speech body = %s, want corrected transcript", resp.Body)
	}

	resp = serve(t, h, http.MethodPost, "/api/feedback", `{"original":"i dont know","corrected":"I don't know.","accepted":true}`)
	if resp.Code != http.StatusCreated {
		t.Errorf("feedback status = %d, body %s", resp.Code, resp.Body)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "server:\n  listen_addr: 127.0.0.1:0\n")
	a := newApp(t, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_ListenError(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "")
	cfg.Server.ListenAddr = "256.0.0.1:99999"
	a := newApp(t, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Run(ctx); err == nil {
		t.Fatal("Run: want listen error")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()

	a, err := app.New(testConfig(t, ""), nil, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}
