package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/quill/internal/correction"
	"github.com/MrWong99/quill/internal/diff"
	"github.com/MrWong99/quill/internal/feedback"
	"github.com/MrWong99/quill/internal/observe"
	"github.com/MrWong99/quill/internal/speech"
	"github.com/MrWong99/quill/pkg/provider/stt"
	"github.com/MrWong99/quill/pkg/types"
)

type correctRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleCorrect(w http.ResponseWriter, r *http.Request) {
	var req correctRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := correction.WithSource(r.Context(), correction.SourceText)
	res, err := s.pipeline.Correct(ctx, req.Text)
	if err != nil {
		s.writeCorrectError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCorrectResponse(res))
}

func (s *Server) writeCorrectError(w http.ResponseWriter, err error) {
	if errors.Is(err, correction.ErrEmptyInput) {
		writeError(w, http.StatusBadRequest, codeEmptyInput, correction.EmptyInputMessage)
		return
	}
	writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
}

type batchRequest struct {
	Texts []string `json:"texts"`
}

// batchItem is either a full correction or an error for one input.
type batchItem struct {
	*correctResponse
	Error string `json:"error,omitempty"`
}

type batchResponse struct {
	Results []batchItem `json:"results"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Texts) == 0 {
		writeError(w, http.StatusBadRequest, codeBadRequest, "texts must not be empty")
		return
	}
	if len(req.Texts) > s.batchMaxItems {
		writeError(w, http.StatusRequestEntityTooLarge, codeTooLarge,
			fmt.Sprintf("at most %d texts per batch", s.batchMaxItems))
		return
	}

	ctx := correction.WithSource(r.Context(), correction.SourceBatch)
	results := make([]batchItem, len(req.Texts))

	var g errgroup.Group
	g.SetLimit(s.batchConcurrency)
	for i, text := range req.Texts {
		g.Go(func() error {
			res, msg := s.correctOne(ctx, text)
			results[i] = batchItem{correctResponse: res, Error: msg}
			return nil
		})
	}
	_ = g.Wait()

	observe.Logger(ctx).Debug("batch corrected", "items", len(results))
	writeJSON(w, http.StatusOK, batchResponse{Results: results})
}

type diffRequest struct {
	Original    string `json:"original"`
	Corrected   string `json:"corrected"`
	Granularity string `json:"granularity,omitempty"`
	Algorithm   string `json:"algorithm,omitempty"`
}

type diffResponse struct {
	Diff []diff.Segment `json:"diff"`
	HTML string         `json:"html"`
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	var req diffRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	opts := s.pipeline.DiffOptions()
	if req.Granularity != "" {
		g, err := diff.ParseGranularity(req.Granularity)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
			return
		}
		opts.Granularity = g
	}
	if req.Algorithm != "" {
		a, err := diff.ParseAlgorithm(req.Algorithm)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
			return
		}
		opts.Algorithm = a
	}

	segs := diff.Compute(req.Original, req.Corrected, diff.WithOptions(opts))
	writeJSON(w, http.StatusOK, diffResponse{Diff: segs, HTML: diff.RenderHTML(segs)})
}

type ruleView struct {
	Name        string `json:"name"`
	Stage       string `json:"stage"`
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement"`
}

func (s *Server) handleRules(w http.ResponseWriter, _ *http.Request) {
	rs := s.pipeline.Rules()
	out := make([]ruleView, 0, len(rs))
	for _, rule := range rs {
		out = append(out, ruleView{
			Name:        rule.Name,
			Stage:       rule.Stage.String(),
			Pattern:     rule.Pattern.String(),
			Replacement: rule.Replacement,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": out})
}

type transcriptView struct {
	Text       string  `json:"text"`
	Language   string  `json:"language,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Duration   float64 `json:"duration_seconds"`
}

type speechResponse struct {
	Transcript transcriptView   `json:"transcript"`
	Correction *correctResponse `json:"correction"`
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	if !s.speech.Supported() {
		err := &speech.Error{Code: speech.CodeNotSupported}
		writeError(w, http.StatusNotImplemented, codeNotSupported, err.Error())
		return
	}

	u, err := utteranceFromRequest(w, r)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, codeTooLarge,
				fmt.Sprintf("audio exceeds %d bytes", tooBig.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	ctx := correction.WithSource(r.Context(), correction.SourceSpeech)
	tr, err := s.speech.Capture(ctx, u)
	if err != nil {
		s.writeSpeechError(w, err)
		return
	}

	res, err := s.pipeline.Correct(ctx, tr.Text)
	if err != nil {
		s.writeCorrectError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, speechResponse{
		Transcript: newTranscriptView(tr),
		Correction: newCorrectResponse(res),
	})
}

func (s *Server) writeSpeechError(w http.ResponseWriter, err error) {
	var se *speech.Error
	if !errors.As(err, &se) {
		se = &speech.Error{Code: speech.Classify(err), Err: err}
	}
	status := http.StatusUnprocessableEntity
	if se.Code == speech.CodeNotSupported {
		status = http.StatusNotImplemented
	}
	writeError(w, status, se.Code, se.Error())
}

func newTranscriptView(tr types.Transcript) transcriptView {
	return transcriptView{
		Text:       tr.Text,
		Language:   tr.Language,
		Confidence: tr.Confidence,
		Duration:   tr.Duration.Seconds(),
	}
}

// utteranceFromRequest reads the audio body and the query parameters
// sample_rate, channels, language and format (pcm, wav or auto). A
// Content-Type of audio/wav selects WAV when format is absent.
func utteranceFromRequest(w http.ResponseWriter, r *http.Request) (stt.Utterance, error) {
	q := r.URL.Query()
	u := stt.Utterance{Language: q.Get("language")}

	var err error
	if u.SampleRate, err = intParam(q.Get("sample_rate")); err != nil {
		return u, fmt.Errorf("sample_rate: %w", err)
	}
	if u.Channels, err = intParam(q.Get("channels")); err != nil {
		return u, fmt.Errorf("channels: %w", err)
	}

	switch strings.ToLower(q.Get("format")) {
	case "pcm":
		u.Format = stt.FormatPCM
	case "wav":
		u.Format = stt.FormatWAV
	case "", "auto":
		if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); isWAVMediaType(mt) {
			u.Format = stt.FormatWAV
		}
	default:
		return u, fmt.Errorf("format: unknown value %q (want pcm, wav or auto)", q.Get("format"))
	}

	u.Audio, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxAudioBody))
	if err != nil {
		return u, err
	}
	if len(u.Audio) == 0 {
		return u, errors.New("audio body is empty")
	}
	return u, nil
}

func isWAVMediaType(mt string) bool {
	switch mt {
	case "audio/wav", "audio/wave", "audio/x-wav", "audio/vnd.wave":
		return true
	}
	return false
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("must be >= 0, got %d", n)
	}
	return n, nil
}

type feedbackResponse struct {
	ID string `json:"id"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if s.feedback == nil {
		writeError(w, http.StatusNotImplemented, codeUnavailable, "feedback is not enabled on this server")
		return
	}
	var e feedback.Entry
	if !decodeJSON(w, r, &e) {
		return
	}
	id, err := s.feedback.Save(e)
	switch {
	case errors.Is(err, feedback.ErrMissingText):
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	case err != nil:
		observe.Logger(r.Context()).Error("failed to save feedback", "err", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to save feedback")
		return
	}
	writeJSON(w, http.StatusCreated, feedbackResponse{ID: id})
}

// correctOne runs one correction and maps failures to a message. It is
// shared with the stream handler.
func (s *Server) correctOne(ctx context.Context, text string) (*correctResponse, string) {
	res, err := s.pipeline.Correct(ctx, text)
	switch {
	case errors.Is(err, correction.ErrEmptyInput):
		return nil, correction.EmptyInputMessage
	case err != nil:
		return nil, err.Error()
	}
	return newCorrectResponse(res), ""
}
