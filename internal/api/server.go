// Package api exposes the correction pipeline over HTTP.
//
// Routes (registered by [Server.Register]):
//
//	POST /api/correct          {"text"} → correction result
//	POST /api/correct/batch    {"texts"} → results in input order
//	GET  /api/correct/stream   WebSocket, one correction per message
//	POST /api/diff             {"original","corrected"} → segments
//	GET  /api/rules            the rule table
//	POST /api/speech           audio body → transcript + correction
//	POST /api/feedback         {"original","corrected","accepted","comment"}
//
// Errors are JSON objects of the form {"error": "...", "code": "..."}.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/MrWong99/quill/internal/correction"
	"github.com/MrWong99/quill/internal/diff"
	"github.com/MrWong99/quill/internal/feedback"
	"github.com/MrWong99/quill/internal/observe"
	"github.com/MrWong99/quill/internal/rules"
	"github.com/MrWong99/quill/internal/speech"
)

// Request size limits.
const (
	maxJSONBody  = 1 << 20
	maxAudioBody = 10 << 20
)

// Defaults for the batch endpoint.
const (
	DefaultBatchConcurrency = 4
	DefaultBatchMaxItems    = 32
)

// Corrector is the pipeline surface the API needs. [correction.Pipeline]
// implements it.
type Corrector interface {
	Correct(ctx context.Context, raw string) (*correction.Result, error)
	Rules() []rules.Rule
	DiffOptions() diff.Options
}

var _ Corrector = (*correction.Pipeline)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithSpeech enables the speech endpoint. Without it the endpoint answers
// 501 with the "not supported" message.
func WithSpeech(s *speech.Service) Option {
	return func(srv *Server) { srv.speech = s }
}

// WithFeedback enables feedback intake.
func WithFeedback(st feedback.Store) Option {
	return func(srv *Server) { srv.feedback = st }
}

// WithBatchLimits bounds the batch endpoint. Non-positive values keep the
// defaults.
func WithBatchLimits(concurrency, maxItems int) Option {
	return func(srv *Server) {
		if concurrency > 0 {
			srv.batchConcurrency = concurrency
		}
		if maxItems > 0 {
			srv.batchMaxItems = maxItems
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(srv *Server) { srv.metrics = m }
}

// Server serves the correction API.
type Server struct {
	pipeline         Corrector
	speech           *speech.Service
	feedback         feedback.Store
	metrics          *observe.Metrics
	batchConcurrency int
	batchMaxItems    int
}

// New creates a Server around p.
func New(p Corrector, opts ...Option) *Server {
	s := &Server{
		pipeline:         p,
		batchConcurrency: DefaultBatchConcurrency,
		batchMaxItems:    DefaultBatchMaxItems,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.speech == nil {
		s.speech = speech.New(nil, speech.WithMetrics(s.metrics))
	}
	return s
}

// Register adds the API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/correct", s.handleCorrect)
	mux.HandleFunc("POST /api/correct/batch", s.handleBatch)
	mux.HandleFunc("GET /api/correct/stream", s.handleStream)
	mux.HandleFunc("POST /api/diff", s.handleDiff)
	mux.HandleFunc("GET /api/rules", s.handleRules)
	mux.HandleFunc("POST /api/speech", s.handleSpeech)
	mux.HandleFunc("POST /api/feedback", s.handleFeedback)
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Error codes.
const (
	codeEmptyInput   = "empty_input"
	codeBadRequest   = "bad_request"
	codeTooLarge     = "too_large"
	codeUnavailable  = "unavailable"
	codeInternal     = "internal"
	codeNotSupported = speech.CodeNotSupported
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

// decodeJSON reads a JSON body of at most maxJSONBody bytes into v and
// writes the error response itself when it fails.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, codeTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooBig.Limit))
			return false
		}
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// correctResponse is a correction result plus its HTML rendering.
type correctResponse struct {
	*correction.Result
	HTML string `json:"html"`
}

func newCorrectResponse(res *correction.Result) *correctResponse {
	return &correctResponse{Result: res, HTML: diff.RenderHTML(res.Diff)}
}
