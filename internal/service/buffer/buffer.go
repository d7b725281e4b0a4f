// Package buffer accumulates accepted transcript text for one consultation
// and hands it to extraction in debounced batches.
package buffer

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// FlushFunc receives the accumulated text. It may be called from a timer
// goroutine and must not block for long.
type FlushFunc func(text string)

// Config holds the flush policy.
type Config struct {
	MaxChars int           // flush immediately above this many characters
	MaxWait  time.Duration // flush immediately when the last flush is older
	Debounce time.Duration // otherwise flush after this much quiet
}

// DefaultConfig returns the reference policy.
func DefaultConfig() Config {
	return Config{
		MaxChars: 100,
		MaxWait:  5 * time.Second,
		Debounce: 2 * time.Second,
	}
}

// Buffer is a debounced text accumulator. It is safe for concurrent use.
//
// Each scheduled timer captures the generation current at scheduling time;
// any Add, Flush or Close bumps the generation, so a stale timer that fires
// late delivers nothing. Every trigger therefore flushes at most once.
type Buffer struct {
	cfg   Config
	flush FlushFunc
	now   func() time.Time

	mu        sync.Mutex
	text      strings.Builder
	lastFlush time.Time
	timer     *time.Timer
	gen       uint64
	closed    bool
}

// New creates a Buffer delivering to fn. Zero-valued settings fall back to
// the defaults.
func New(cfg Config, fn FlushFunc) *Buffer {
	def := DefaultConfig()
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = def.MaxChars
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = def.MaxWait
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	return &Buffer{
		cfg:       cfg,
		flush:     fn,
		now:       time.Now,
		lastFlush: time.Now(),
	}
}

// Add appends text. It flushes synchronously when force is set, the buffer
// exceeds MaxChars or MaxWait has passed since the last flush; otherwise it
// (re)schedules a debounced flush.
func (b *Buffer) Add(text string, force bool) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.text.WriteString(" ")
	b.text.WriteString(text)

	now := b.now()
	if force || utf8.RuneCountInString(b.text.String()) > b.cfg.MaxChars || now.Sub(b.lastFlush) > b.cfg.MaxWait {
		out := b.takeLocked(now)
		b.mu.Unlock()
		b.deliver(out)
		return
	}

	b.stopTimerLocked()
	gen := b.gen
	b.timer = time.AfterFunc(b.cfg.Debounce, func() { b.fire(gen) })
	b.mu.Unlock()
}

// Flush delivers whatever is buffered now.
func (b *Buffer) Flush() {
	b.mu.Lock()
	out := b.takeLocked(b.now())
	b.mu.Unlock()
	b.deliver(out)
}

// Close cancels any pending timer and delivers the remainder. Later Adds are
// ignored. Close is idempotent.
func (b *Buffer) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	out := b.takeLocked(b.now())
	b.mu.Unlock()
	b.deliver(out)
}

// Len returns the number of buffered characters.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return utf8.RuneCountInString(b.text.String())
}

func (b *Buffer) fire(gen uint64) {
	b.mu.Lock()
	if gen != b.gen || b.closed {
		b.mu.Unlock()
		return
	}
	out := b.takeLocked(b.now())
	b.mu.Unlock()
	b.deliver(out)
}

// takeLocked swaps out the buffered text and invalidates pending timers.
func (b *Buffer) takeLocked(now time.Time) string {
	b.stopTimerLocked()
	out := b.text.String()
	b.text.Reset()
	b.lastFlush = now
	return strings.TrimSpace(out)
}

func (b *Buffer) stopTimerLocked() {
	b.gen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *Buffer) deliver(text string) {
	if text == "" || b.flush == nil {
		return
	}
	b.flush(text)
}
