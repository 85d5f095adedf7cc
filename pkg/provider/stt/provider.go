// Package stt defines the Recognizer interface for speech-to-text backends.
//
// Quill only needs single-utterance recognition: the client records one
// sentence, uploads it, and gets one transcript back. There are no interim
// results and no continuous sessions. A recognizer wraps a transcription
// service (for example a local whisper.cpp server) behind that contract.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/quill/pkg/types"
)

// ErrNoSpeech is returned when the utterance contains no detectable speech.
var ErrNoSpeech = errors.New("stt: no speech detected")

// ErrInvalidAudio is returned when the uploaded audio cannot be decoded.
var ErrInvalidAudio = errors.New("stt: invalid audio")

// Format identifies the container of [Utterance.Audio].
type Format int

const (
	// FormatAuto detects WAV by its RIFF header and treats anything else as
	// raw PCM.
	FormatAuto Format = iota

	// FormatPCM is raw 16-bit signed little-endian PCM.
	FormatPCM

	// FormatWAV is a RIFF/WAVE file.
	FormatWAV
)

// Utterance is one recorded sentence.
type Utterance struct {
	// Audio holds the recording.
	Audio []byte

	// Format describes Audio. Default: [FormatAuto].
	Format Format

	// SampleRate in Hz for raw PCM. Zero means the recognizer default.
	SampleRate int

	// Channels for raw PCM. Zero means mono.
	Channels int

	// Language is a BCP-47 tag or bare language code. Empty means the
	// recognizer default.
	Language string
}

// Recognizer is the abstraction over any speech-to-text backend.
type Recognizer interface {
	// Recognize transcribes u. It returns [ErrNoSpeech] (wrapped) for silent
	// audio and [ErrInvalidAudio] (wrapped) for undecodable audio.
	Recognize(ctx context.Context, u Utterance) (types.Transcript, error)
}
