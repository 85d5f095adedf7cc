package api_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/quill/internal/api"
	"github.com/MrWong99/quill/internal/correction"
	"github.com/MrWong99/quill/internal/feedback"
	"github.com/MrWong99/quill/internal/observe"
	"github.com/MrWong99/quill/internal/speech"
	"github.com/MrWong99/quill/pkg/provider/stt"
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

func newMux(t *testing.T, opts ...api.Option) *http.ServeMux {
	t.Helper()
	m := testMetrics(t)
	p := correction.New(correction.WithMetrics(m))
	opts = append([]api.Option{api.WithMetrics(m)}, opts...)
	mux := http.NewServeMux()
	api.New(p, opts...).Register(mux)
	return mux
}

func do(t *testing.T, mux http.Handler, method, target, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func postJSON(t *testing.T, mux http.Handler, target string, v any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return do(t, mux, http.MethodPost, target, "application/json", body)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

type errResp struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type correctResp struct {
	Original     string   `json:"original"`
	Corrected    string   `json:"corrected"`
	RuleOutput   string   `json:"rule_output"`
	AppliedRules []string `json:"applied_rules"`
	Diff         []struct {
		Value string `json:"value"`
		Kind  string `json:"kind"`
	} `json:"diff"`
	HTML  string `json:"html"`
	Error string `json:"error"`
}

func TestCorrect(t *testing.T) {
	t.Parallel()

	rec := postJSON(t, newMux(t), "/api/correct", map[string]string{"text": "  i dont know "})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q", ct)
	}

	got := decode[correctResp](t, rec)
	if got.Original != "i dont know" || got.Corrected != "I don't know." {
		t.Errorf("original/corrected = %q/%q", got.Original, got.Corrected)
	}
	if got.RuleOutput != got.Corrected {
		t.Errorf("rule_output = %q, want %q", got.RuleOutput, got.Corrected)
	}
	if diff := cmp.Diff([]string{"pronoun-i", "contraction-dont", "terminal-period"}, got.AppliedRules); diff != "" {
		t.Errorf("applied_rules (-want +got):\n%s", diff)
	}
	if len(got.Diff) == 0 {
		t.Error("diff is empty")
	}
	if !strings.Contains(got.HTML, "don&#39;t") {
		t.Errorf("html = %q, want escaped correction", got.HTML)
	}
}

func TestCorrect_EmptyInput(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"", "   ", "\n\t"} {
		rec := postJSON(t, newMux(t), "/api/correct", map[string]string{"text": text})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("text %q: status = %d, want 400", text, rec.Code)
			continue
		}
		got := decode[errResp](t, rec)
		if got.Error != correction.EmptyInputMessage {
			t.Errorf("text %q: error = %q, want %q", text, got.Error, correction.EmptyInputMessage)
		}
	}
}

func TestCorrect_BadJSON(t *testing.T) {
	t.Parallel()

	rec := do(t, newMux(t), http.MethodPost, "/api/correct", "application/json", []byte("{"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := decode[errResp](t, rec); got.Code != "bad_request" {
		t.Errorf("code = %q, want bad_request", got.Code)
	}
}

func TestCorrect_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	rec := do(t, newMux(t), http.MethodGet, "/api/correct", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestBatch(t *testing.T) {
	t.Parallel()

	texts := []string{"i dont know", "  ", "hello there", "its fine"}
	rec := postJSON(t, newMux(t, api.WithBatchLimits(2, 8)), "/api/correct/batch", map[string]any{"texts": texts})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body)
	}

	got := decode[struct {
		Results []correctResp `json:"results"`
	}](t, rec)
	if len(got.Results) != len(texts) {
		t.Fatalf("len(results) = %d, want %d", len(got.Results), len(texts))
	}
	if got.Results[0].Corrected != "I don't know." {
		t.Errorf("results[0].corrected = %q", got.Results[0].Corrected)
	}
	if got.Results[1].Error != correction.EmptyInputMessage || got.Results[1].Corrected != "" {
		t.Errorf("results[1] = %+v, want empty-input error", got.Results[1])
	}
	for i, r := range []int{0, 2, 3} {
		if got.Results[r].Original != strings.TrimSpace(texts[r]) {
			t.Errorf("case %d: results[%d].original = %q, want input order", i, r, got.Results[r].Original)
		}
		if got.Results[r].Error != "" {
			t.Errorf("results[%d].error = %q", r, got.Results[r].Error)
		}
	}
}

func TestBatch_Limits(t *testing.T) {
	t.Parallel()

	mux := newMux(t, api.WithBatchLimits(1, 2))

	rec := postJSON(t, mux, "/api/correct/batch", map[string]any{"texts": []string{}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty batch: status = %d, want 400", rec.Code)
	}

	rec = postJSON(t, mux, "/api/correct/batch", map[string]any{"texts": []string{"a", "b", "c"}})
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized batch: status = %d, want 413", rec.Code)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	mux := newMux(t)
	rec := postJSON(t, mux, "/api/diff", map[string]string{
		"original":    "cat",
		"corrected":   "cut",
		"granularity": "char",
		"algorithm":   "lcs",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body)
	}
	got := decode[struct {
		Diff []struct {
			Value string `json:"value"`
			Kind  string `json:"kind"`
		} `json:"diff"`
		HTML string `json:"html"`
	}](t, rec)

	type seg = struct {
		Value string `json:"value"`
		Kind  string `json:"kind"`
	}
	want := []seg{
		{Value: "c", Kind: "unchanged"},
		{Value: "a", Kind: "removed"},
		{Value: "u", Kind: "added"},
		{Value: "t", Kind: "unchanged"},
	}
	if d := cmp.Diff(want, got.Diff); d != "" {
		t.Errorf("diff (-want +got):\n%s", d)
	}
	if got.HTML == "" {
		t.Error("html is empty")
	}
}

func TestDiff_BadOption(t *testing.T) {
	t.Parallel()

	mux := newMux(t)
	for _, body := range []map[string]string{
		{"original": "a", "corrected": "b", "granularity": "sentence"},
		{"original": "a", "corrected": "b", "algorithm": "patience"},
	} {
		rec := postJSON(t, mux, "/api/diff", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%v: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestRules(t *testing.T) {
	t.Parallel()

	rec := do(t, newMux(t), http.MethodGet, "/api/rules", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := decode[struct {
		Rules []struct {
			Name    string `json:"name"`
			Stage   string `json:"stage"`
			Pattern string `json:"pattern"`
		} `json:"rules"`
	}](t, rec)
	if len(got.Rules) == 0 {
		t.Fatal("no rules returned")
	}
	for _, r := range got.Rules {
		if r.Name == "" || r.Stage == "" || r.Pattern == "" {
			t.Errorf("incomplete rule %+v", r)
		}
	}
}

func TestSpeech_NotSupported(t *testing.T) {
	t.Parallel()

	rec := do(t, newMux(t), http.MethodPost, "/api/speech", "application/octet-stream", []byte{1, 2})
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", rec.Code)
	}
	got := decode[errResp](t, rec)
	want := errResp{Error: "Speech recognition is not supported by this server.", Code: speech.CodeNotSupported}
	if got != want {
		t.Errorf("body = %+v, want %+v", got, want)
	}
}

func TestSpeech_Success(t *testing.T) {
	t.Parallel()

	rec := &sttmock.Recognizer{Transcript: types.Transcript{Text: " i dont know ", Language: "en"}}
	mux := newMux(t, api.WithSpeech(speech.New(rec, speech.WithMetrics(testMetrics(t)))))

	resp := do(t, mux, http.MethodPost, "/api/speech?sample_rate=16000&channels=1&language=en-US",
		"application/octet-stream", make([]byte, 320))
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", resp.Code, resp.Body)
	}

	got := decode[struct {
		Transcript struct {
			Text     string `json:"text"`
			Language string `json:"language"`
		} `json:"transcript"`
		Correction correctResp `json:"correction"`
	}](t, resp)
	if got.Transcript.Text != "i dont know" {
		t.Errorf("transcript = %q", got.Transcript.Text)
	}
	if got.Correction.Corrected != "I don't know." {
		t.Errorf("corrected = %q", got.Correction.Corrected)
	}

	if rec.CallCount() != 1 {
		t.Fatalf("recognizer calls = %d, want 1", rec.CallCount())
	}
	u := rec.Calls[0].Utterance
	if u.SampleRate != 16000 || u.Channels != 1 || u.Language != "en-US" || u.Format != stt.FormatAuto || len(u.Audio) != 320 {
		t.Errorf("utterance = {rate %d, ch %d, lang %q, fmt %d, %d bytes}",
			u.SampleRate, u.Channels, u.Language, u.Format, len(u.Audio))
	}
	if src := correction.SourceFrom(rec.Calls[0].Ctx); src != correction.SourceSpeech {
		t.Errorf("source = %q, want %q", src, correction.SourceSpeech)
	}
}

func TestSpeech_WAVContentType(t *testing.T) {
	t.Parallel()

	rec := &sttmock.Recognizer{Transcript: types.Transcript{Text: "hello"}}
	mux := newMux(t, api.WithSpeech(speech.New(rec, speech.WithMetrics(testMetrics(t)))))

	resp := do(t, mux, http.MethodPost, "/api/speech", "audio/wav", []byte("RIFF...."))
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", resp.Code, resp.Body)
	}
	if f := rec.Calls[0].Utterance.Format; f != stt.FormatWAV {
		t.Errorf("format = %d, want FormatWAV", f)
	}
}

func TestSpeech_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		recErr     error
		transcript string
		query      string
		body       []byte
		wantStatus int
		wantCode   string
	}{
		{
			name:       "no speech",
			recErr:     stt.ErrNoSpeech,
			body:       []byte{0, 0},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   speech.CodeNoSpeech,
		},
		{
			name:       "blank transcript",
			transcript: "  ",
			body:       []byte{0, 0},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   speech.CodeNoSpeech,
		},
		{
			name:       "network",
			recErr:     errors.New("connection refused"),
			body:       []byte{0, 0},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   speech.CodeNetwork,
		},
		{
			name:       "invalid audio",
			recErr:     stt.ErrInvalidAudio,
			body:       []byte{0},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   speech.CodeAudioCapture,
		},
		{
			name:       "empty body",
			wantStatus: http.StatusBadRequest,
			wantCode:   "bad_request",
		},
		{
			name:       "bad sample rate",
			query:      "?sample_rate=fast",
			body:       []byte{0, 0},
			wantStatus: http.StatusBadRequest,
			wantCode:   "bad_request",
		},
		{
			name:       "unknown format",
			query:      "?format=ogg",
			body:       []byte{0, 0},
			wantStatus: http.StatusBadRequest,
			wantCode:   "bad_request",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rec := &sttmock.Recognizer{Transcript: types.Transcript{Text: tc.transcript}, Err: tc.recErr}
			mux := newMux(t, api.WithSpeech(speech.New(rec, speech.WithMetrics(testMetrics(t)))))

			resp := do(t, mux, http.MethodPost, "/api/speech"+tc.query, "application/octet-stream", tc.body)
			if resp.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d; body %s", resp.Code, tc.wantStatus, resp.Body)
			}
			got := decode[errResp](t, resp)
			if got.Code != tc.wantCode {
				t.Errorf("code = %q, want %q", got.Code, tc.wantCode)
			}
			if tc.wantStatus == http.StatusUnprocessableEntity {
				if want := "Error occurred in recognition: " + tc.wantCode; got.Error != want {
					t.Errorf("error = %q, want %q", got.Error, want)
				}
			}
		})
	}
}

func TestFeedback(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "fb", "feedback.jsonl")
	mux := newMux(t, api.WithFeedback(feedback.NewFileStore(path)))

	rec := postJSON(t, mux, "/api/feedback", feedback.Entry{
		Original:  "i dont know",
		Corrected: "I don't know.",
		Accepted:  true,
		Comment:   "nice",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", rec.Code, rec.Body)
	}
	id := decode[struct {
		ID string `json:"id"`
	}](t, rec).ID
	if id == "" {
		t.Fatal("empty id")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read feedback file: %v", err)
	}
	var stored feedback.Record
	if err := json.Unmarshal(bytes.TrimSpace(data), &stored); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if stored.ID != id || !stored.Accepted || stored.Comment != "nice" {
		t.Errorf("stored record = %+v, id %q", stored, id)
	}
}

func TestFeedback_Errors(t *testing.T) {
	t.Parallel()

	rec := postJSON(t, newMux(t), "/api/feedback", feedback.Entry{Original: "x"})
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("disabled: status = %d, want 501", rec.Code)
	}

	mux := newMux(t, api.WithFeedback(feedback.NewFileStore(filepath.Join(t.TempDir(), "f.jsonl"))))
	rec = postJSON(t, mux, "/api/feedback", feedback.Entry{Accepted: true})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing text: status = %d, want 400", rec.Code)
	}
}
