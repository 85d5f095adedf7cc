// Package whisper provides a whisper.cpp-backed speech recognizer.
//
// It talks to a running whisper-server binary, which exposes a REST API at
// POST /inference accepting a multipart WAV upload. Raw PCM uploads are
// wrapped in a WAV header before sending. Utterances whose energy stays below
// the silence threshold are rejected with [stt.ErrNoSpeech] without a network
// call.
//
// Usage:
//
//	r, err := whisper.New("http://localhost:8081", whisper.WithLanguage("en"))
//	tr, err := r.Recognize(ctx, stt.Utterance{Audio: pcm, SampleRate: 16000})
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/quill/pkg/provider/stt"
	"github.com/MrWong99/quill/pkg/types"
)

const (
	// bitsPerSample is fixed at 16 for the 16-bit signed little-endian PCM
	// audio that whisper.cpp expects.
	bitsPerSample = 16

	// defaultRMSThreshold is the root-mean-square energy (in 16-bit PCM
	// units, max 32 767) below which audio is considered silent.
	defaultRMSThreshold = 300.0

	defaultLanguage   = "en"
	defaultSampleRate = 16000
	defaultTimeout    = 30 * time.Second
)

var _ stt.Recognizer = (*Recognizer)(nil)

// Option is a functional option for configuring a Recognizer.
type Option func(*Recognizer)

// WithModel sets the model identifier forwarded to the server (e.g.
// "base.en"). When empty the server uses the model it was started with.
func WithModel(model string) Option {
	return func(r *Recognizer) { r.model = model }
}

// WithLanguage sets the default language code. Region subtags are dropped
// ("en-US" becomes "en"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(r *Recognizer) { r.language = baseLanguage(lang) }
}

// WithSampleRate sets the sample rate assumed for raw PCM uploads that do not
// state one. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(r *Recognizer) {
		if rate > 0 {
			r.sampleRate = rate
		}
	}
}

// WithSilenceThreshold sets the RMS energy below which an utterance is
// treated as silent. Zero disables the check.
func WithSilenceThreshold(rms float64) Option {
	return func(r *Recognizer) { r.silenceRMS = rms }
}

// WithTimeout sets the HTTP client timeout. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(r *Recognizer) { r.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Recognizer) { r.httpClient = c }
}

// Recognizer implements stt.Recognizer backed by a whisper.cpp HTTP server.
type Recognizer struct {
	serverURL  string
	model      string
	language   string
	sampleRate int
	silenceRMS float64
	httpClient *http.Client
}

// New creates a Recognizer for the server at serverURL (e.g.
// "http://localhost:8081"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Recognizer, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	r := &Recognizer{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		silenceRMS: defaultRMSThreshold,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Recognize transcribes one utterance.
func (r *Recognizer) Recognize(ctx context.Context, u stt.Utterance) (types.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: %w", err)
	}

	clip, err := r.decode(u)
	if err != nil {
		return types.Transcript{}, err
	}
	if r.silenceRMS > 0 && computeRMS(clip.pcm) < r.silenceRMS {
		return types.Transcript{}, fmt.Errorf("whisper: %w", stt.ErrNoSpeech)
	}

	lang := r.language
	if u.Language != "" {
		lang = baseLanguage(u.Language)
	}

	text, err := r.infer(ctx, encodeWAV(clip.pcm, clip.sampleRate, clip.channels), lang)
	if err != nil {
		return types.Transcript{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return types.Transcript{}, fmt.Errorf("whisper: %w", stt.ErrNoSpeech)
	}
	return types.Transcript{
		Text:     text,
		Language: lang,
		Duration: clip.duration(),
	}, nil
}

// clip is decoded 16-bit PCM with its format.
type clip struct {
	pcm        []byte
	sampleRate int
	channels   int
}

func (c clip) duration() time.Duration {
	bytesPerSec := c.sampleRate * c.channels * bitsPerSample / 8
	if bytesPerSec <= 0 {
		return 0
	}
	return time.Duration(len(c.pcm)) * time.Second / time.Duration(bytesPerSec)
}

func (r *Recognizer) decode(u stt.Utterance) (clip, error) {
	format := u.Format
	if format == stt.FormatAuto {
		format = stt.FormatPCM
		if len(u.Audio) >= 12 && string(u.Audio[0:4]) == "RIFF" && string(u.Audio[8:12]) == "WAVE" {
			format = stt.FormatWAV
		}
	}

	if format == stt.FormatWAV {
		c, err := parseWAV(u.Audio)
		if err != nil {
			return clip{}, fmt.Errorf("whisper: %w: %w", stt.ErrInvalidAudio, err)
		}
		return c, nil
	}

	c := clip{pcm: u.Audio, sampleRate: u.SampleRate, channels: u.Channels}
	if c.sampleRate <= 0 {
		c.sampleRate = r.sampleRate
	}
	if c.channels <= 0 {
		c.channels = 1
	}
	if len(c.pcm) == 0 || len(c.pcm)%(2*c.channels) != 0 {
		return clip{}, fmt.Errorf("whisper: %w: %d bytes is not whole 16-bit frames", stt.ErrInvalidAudio, len(c.pcm))
	}
	return c, nil
}

// infer POSTs wav to the /inference endpoint as multipart/form-data and
// returns the transcribed text.
func (r *Recognizer) infer(ctx context.Context, wav []byte, lang string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	if lang != "" {
		if err := mw.WriteField("language", lang); err != nil {
			return "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if r.model != "" {
		if err := mw.WriteField("model", r.model); err != nil {
			return "", fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", fmt.Errorf("whisper: write response_format field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}
	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return result.Text, nil
}

// baseLanguage drops region subtags: "en-US" → "en".
func baseLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}

// encodeWAV wraps raw 16-bit signed little-endian PCM data in a canonical
// 44-byte RIFF/WAV header.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// parseWAV walks the RIFF chunks of a WAV file and returns its PCM payload.
// Only uncompressed 16-bit PCM is accepted.
func parseWAV(b []byte) (clip, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return clip{}, errors.New("missing RIFF/WAVE header")
	}

	var (
		c      clip
		hasFmt bool
	)
	for off := 12; off+8 <= len(b); {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		start := off + 8
		end := start + size
		if size < 0 || end > len(b) {
			// Some writers leave the data size unset; take what is there.
			if id != "data" {
				return clip{}, fmt.Errorf("chunk %q overruns file", id)
			}
			end = len(b)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return clip{}, errors.New("short fmt chunk")
			}
			if tag := binary.LittleEndian.Uint16(b[start : start+2]); tag != 1 {
				return clip{}, fmt.Errorf("unsupported audio format %d", tag)
			}
			c.channels = int(binary.LittleEndian.Uint16(b[start+2 : start+4]))
			c.sampleRate = int(binary.LittleEndian.Uint32(b[start+4 : start+8]))
			if bits := binary.LittleEndian.Uint16(b[start+14 : start+16]); bits != bitsPerSample {
				return clip{}, fmt.Errorf("unsupported bit depth %d", bits)
			}
			hasFmt = true
		case "data":
			if !hasFmt {
				return clip{}, errors.New("data chunk before fmt chunk")
			}
			c.pcm = b[start:end]
			if len(c.pcm) == 0 {
				return clip{}, errors.New("empty data chunk")
			}
			return c, nil
		}
		off = end + size%2 // chunks are word aligned
	}
	return clip{}, errors.New("no data chunk")
}

// computeRMS returns the root-mean-square energy of a 16-bit signed
// little-endian PCM buffer, in sample units. Returns 0 for buffers shorter
// than one sample.
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
