package dispatch

import (
	"fmt"
	"sync/atomic"

	"anamnesis-transcript-service/internal/models"
)

// Sequencer numbers the chunks of one channel, starting at 1.
type Sequencer struct {
	counter uint64
}

// Next returns the next sequence number.
func (s *Sequencer) Next() uint64 {
	return atomic.AddUint64(&s.counter, 1)
}

// Current returns the last number handed out.
func (s *Sequencer) Current() uint64 {
	return atomic.LoadUint64(&s.counter)
}

// ChunkID builds a log-friendly chunk identifier.
func ChunkID(consultationID string, ch models.Channel, seq uint64) string {
	return fmt.Sprintf("%s-%s-chunk-%d", consultationID, ch, seq)
}
