package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRecorderStopped is returned by a recorder after Stop.
var ErrRecorderStopped = errors.New("recorder stopped")

// Chunk is the audio captured during one window.
type Chunk struct {
	Sequence   uint64
	Audio      []byte
	MimeType   string
	CapturedAt time.Time // window start
}

// Recorder is a scoped audio source for one channel. Rotate closes the
// current window and opens the next one with no gap. Every successful Start
// is paired with a Stop by the dispatcher, including on error.
type Recorder interface {
	Start(ctx context.Context) error
	Rotate() (Chunk, error)
	Stop() error
}

// PushRecorder is a Recorder fed by the network: audio frames are written as
// they arrive and each Rotate hands over everything written since the last
// one. Frames must be independently decodable (raw PCM or self-contained
// container chunks).
type PushRecorder struct {
	mimeType string
	now      func() time.Time

	mu          sync.Mutex
	buf         []byte
	windowStart time.Time
	stopped     bool
}

var _ Recorder = (*PushRecorder)(nil)

// NewPushRecorder creates a recorder for audio of the given mime type.
func NewPushRecorder(mimeType string) *PushRecorder {
	return &PushRecorder{
		mimeType:    mimeType,
		now:         time.Now,
		windowStart: time.Now(),
	}
}

// MimeType returns the mime type of the pushed audio.
func (r *PushRecorder) MimeType() string {
	return r.mimeType
}

// Start opens the first window.
func (r *PushRecorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrRecorderStopped
	}
	r.windowStart = r.now()
	return nil
}

// Write appends a frame to the current window.
func (r *PushRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return 0, ErrRecorderStopped
	}
	r.buf = append(r.buf, p...)
	return len(p), nil
}

// Rotate swaps out the current window.
func (r *PushRecorder) Rotate() (Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return Chunk{}, ErrRecorderStopped
	}
	c := Chunk{
		Audio:      r.buf,
		MimeType:   r.mimeType,
		CapturedAt: r.windowStart,
	}
	r.buf = nil
	r.windowStart = r.now()
	return c, nil
}

// Stop releases the buffer. It is idempotent.
func (r *PushRecorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	r.buf = nil
	return nil
}

// Buffered returns the number of bytes in the current window.
func (r *PushRecorder) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}
