// Package mock provides a scripted transcriber for running without cloud
// credentials. It cycles through consultation utterances, including the
// caption credits and filler a real model emits on silence, so the quality
// gate is exercised end to end.
package mock

import (
	"context"
	"sync"
	"time"

	"anamnesis-transcript-service/internal/service/stt"
)

// Utterance is one scripted transcription result.
type Utterance struct {
	Text       string
	Confidence float64
}

// DefaultUtterances is the script used when none is given.
var DefaultUtterances = []Utterance{
	{Text: "Bom dia, qual é o seu nome completo?", Confidence: 0.93},
	{Text: "Meu nome é João Silva, tenho 42 anos, sou masculino", Confidence: 0.91},
	{Text: "Legendas pela comunidade Amara.org", Confidence: 0.88},
	{Text: "Estou sentindo dor de cabeça forte faz três dias", Confidence: 0.89},
	{Text: "obrigado obrigado obrigado", Confidence: 0.95},
	{Text: "Tenho alergia a dipirona e tomo losartana todo dia", Confidence: 0.9},
	{Text: "hum", Confidence: 0.6},
	{Text: "Sou casado e trabalho como motorista", Confidence: 0.87},
	{Text: "Meu pai tem diabetes e pressão alta", Confidence: 0.9},
}

// Adapter implements stt.Transcriber with scripted responses.
type Adapter struct {
	script  []Utterance
	latency time.Duration

	mu   sync.Mutex
	next int
}

var _ stt.Transcriber = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithScript replaces the default utterances.
func WithScript(script []Utterance) Option {
	return func(a *Adapter) { a.script = script }
}

// WithLatency delays every result to simulate a remote call.
func WithLatency(d time.Duration) Option {
	return func(a *Adapter) { a.latency = d }
}

// New creates a mock transcriber. Each instance keeps its own position in
// the script.
func New(opts ...Option) *Adapter {
	a := &Adapter{script: DefaultUtterances}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Transcribe returns the next scripted utterance.
func (a *Adapter) Transcribe(ctx context.Context, audio []byte, mimeType string) (stt.Result, error) {
	if len(audio) == 0 {
		return stt.Result{}, stt.ErrEmptyAudio
	}
	if a.latency > 0 {
		select {
		case <-time.After(a.latency):
		case <-ctx.Done():
			return stt.Result{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return stt.Result{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.script) == 0 {
		return stt.Result{Success: true, Mock: true}, nil
	}
	u := a.script[a.next%len(a.script)]
	a.next++
	return stt.Result{Text: u.Text, Confidence: u.Confidence, Success: true, Mock: true}, nil
}
