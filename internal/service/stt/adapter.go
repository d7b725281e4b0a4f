// Package stt defines the speech-to-text collaborator used by the channel
// dispatchers.
package stt

import (
	"context"
	"errors"
)

// ErrEmptyAudio is returned for a chunk with no bytes.
var ErrEmptyAudio = errors.New("empty audio chunk")

// Result is the outcome of transcribing one audio chunk.
type Result struct {
	Text       string
	Confidence float64
	Success    bool // false when the provider produced no usable result
	Mock       bool // true when produced by the mock transcriber
}

// Transcriber turns one chunk of encoded audio into text. Implementations
// must honour ctx cancellation; callers bound every call with a timeout.
// Output is untrusted and goes through the quality gate.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (Result, error)
}

// TranscriberFunc adapts a function to Transcriber.
type TranscriberFunc func(ctx context.Context, audio []byte, mimeType string) (Result, error)

// Transcribe calls f.
func (f TranscriberFunc) Transcribe(ctx context.Context, audio []byte, mimeType string) (Result, error) {
	return f(ctx, audio, mimeType)
}
