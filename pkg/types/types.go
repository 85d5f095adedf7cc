// Package types defines the shared types used across Quill packages.
//
// Each package owns its domain types; only data that crosses provider
// boundaries lives here to avoid circular imports.
package types

import "time"

// Transcript is the result of recognizing a single spoken utterance.
type Transcript struct {
	// Text is the recognized speech content, as produced by the recognizer.
	Text string

	// Language is the language the recognizer reported (or was asked to use).
	// May be empty.
	Language string

	// Confidence is the overall confidence score (0.0–1.0). Zero when the
	// recognizer does not report one.
	Confidence float64

	// Duration is the length of the recognized audio.
	Duration time.Duration
}

// Message is a single message in a chat-model conversation.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}
