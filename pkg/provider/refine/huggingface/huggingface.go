// Package huggingface provides a refinement provider backed by the Hugging
// Face hosted inference API and a token-classification punctuation model.
//
// The model returns one entry per input word together with the punctuation it
// predicts after that word. The refined text is rebuilt by appending the
// punctuation to each word and joining the words with single spaces.
//
// Example usage:
//
//	p, err := huggingface.New(os.Getenv("HUGGINGFACE_TOKEN"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	refined, err := p.Refine(ctx, "hello how are you")
package huggingface

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/quill/pkg/provider/refine"
)

const (
	// DefaultBaseURL is the hosted inference API.
	DefaultBaseURL = "https://api-inference.huggingface.co"

	// DefaultModel is a multilingual punctuation-restoration model.
	DefaultModel = "oliverguhr/fullstop-punctuation-multilang-large"
)

// maxErrorBody bounds how much of an error response is echoed into errors.
const maxErrorBody = 512

var _ refine.Provider = (*Provider)(nil)

// Provider implements refine.Provider against POST {baseURL}/models/{model}.
// It is safe for concurrent use.
type Provider struct {
	token        string
	baseURL      string
	model        string
	useCache     bool
	waitForModel bool
	httpClient   *http.Client
}

type config struct {
	baseURL      string
	model        string
	useCache     bool
	waitForModel bool
	timeout      time.Duration
	httpClient   *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides [DefaultBaseURL]. A trailing slash is stripped.
func WithBaseURL(u string) Option {
	return func(c *config) { c.baseURL = u }
}

// WithModel overrides [DefaultModel].
func WithModel(m string) Option {
	return func(c *config) { c.model = m }
}

// WithUseCache sets the "use_cache" inference option. Default false.
func WithUseCache(b bool) Option {
	return func(c *config) { c.useCache = b }
}

// WithWaitForModel sets the "wait_for_model" inference option. Default true.
func WithWaitForModel(b bool) Option {
	return func(c *config) { c.waitForModel = b }
}

// WithTimeout sets a per-request HTTP timeout. Ignored when [WithHTTPClient]
// is also given.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// New constructs a Provider. token is sent as a bearer token and must not be
// empty.
func New(token string, opts ...Option) (*Provider, error) {
	if token == "" {
		return nil, fmt.Errorf("huggingface: token must not be empty")
	}

	cfg := &config{
		baseURL:      DefaultBaseURL,
		model:        DefaultModel,
		waitForModel: true,
	}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.baseURL == "" {
		cfg.baseURL = DefaultBaseURL
	}
	if cfg.model == "" {
		cfg.model = DefaultModel
	}

	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{}
		if cfg.timeout > 0 {
			hc.Timeout = cfg.timeout
		}
	}

	return &Provider{
		token:        token,
		baseURL:      strings.TrimRight(cfg.baseURL, "/"),
		model:        strings.Trim(cfg.model, "/"),
		useCache:     cfg.useCache,
		waitForModel: cfg.waitForModel,
		httpClient:   hc,
	}, nil
}

// Model returns the configured model id.
func (p *Provider) Model() string { return p.model }

type inferenceOptions struct {
	UseCache     bool `json:"use_cache"`
	WaitForModel bool `json:"wait_for_model"`
}

type inferenceRequest struct {
	Inputs  string           `json:"inputs"`
	Options inferenceOptions `json:"options"`
}

// token is one element of the response array. Word must be a JSON string;
// a missing Punctuation contributes nothing. Other fields (entity_group,
// score) are ignored.
type token struct {
	Word        *string `json:"word"`
	Punctuation *string `json:"punctuation"`
}

// Refine implements refine.Provider.
func (p *Provider) Refine(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(inferenceRequest{
		Inputs:  text,
		Options: inferenceOptions{UseCache: p.useCache, WaitForModel: p.waitForModel},
	})
	if err != nil {
		return "", fmt.Errorf("huggingface: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/models/"+p.model, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("huggingface: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("huggingface: http: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("huggingface: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("huggingface: unexpected status %d: %s", resp.StatusCode, truncate(raw))
	}

	refined, err := reconstruct(raw)
	if err != nil {
		return "", fmt.Errorf("huggingface: %w", err)
	}
	return refined, nil
}

// reconstruct rebuilds the refined text from a response payload.
func reconstruct(raw []byte) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return "", fmt.Errorf("%w: expected JSON array, got %s", refine.ErrMalformedResponse, truncate(trimmed))
	}

	var tokens []token
	if err := json.Unmarshal(trimmed, &tokens); err != nil {
		return "", fmt.Errorf("%w: %v", refine.ErrMalformedResponse, err)
	}

	words := make([]string, 0, len(tokens))
	for i, t := range tokens {
		if t.Word == nil {
			return "", fmt.Errorf("%w: element %d has no word", refine.ErrMalformedResponse, i)
		}
		word := *t.Word
		if t.Punctuation != nil {
			word += *t.Punctuation
		}
		words = append(words, word)
	}

	out := strings.TrimSpace(strings.Join(words, " "))
	if out == "" {
		return "", refine.ErrEmptyResult
	}
	return out, nil
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
