package session

import (
	"context"
	"fmt"

	"anamnesis-transcript-service/internal/events"
	"anamnesis-transcript-service/internal/models"
)

// effect is one side effect of the pipeline: a persistence call or an event
// publish. Effects run in enqueue order on the outbox goroutine.
type effect struct {
	op      string
	persist bool
	fn      func(ctx context.Context) error
}

// enqueue never blocks. A full outbox drops the effect.
func (s *Session) enqueue(e effect) {
	s.outboxMu.RLock()
	defer s.outboxMu.RUnlock()
	if s.outboxClosed {
		return
	}
	select {
	case s.outbox <- e:
	default:
		s.log.Warn().Str("op", e.op).Msg("Outbox full, side effect dropped")
		if e.persist {
			s.deps.Metrics.RecordPersistError("queue_full")
		}
	}
}

func (s *Session) runOutbox() {
	defer close(s.outboxDone)
	for e := range s.outbox {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.OutboxTimeout)
		err := e.fn(ctx)
		cancel()
		if err == nil {
			continue
		}
		if !e.persist {
			s.log.Warn().Err(err).Str("op", e.op).Msg("Event delivery failed")
			continue
		}

		// Persistence failures never roll back the record; the caller is
		// told through a warning event.
		s.deps.Metrics.RecordPersistError(e.op)
		s.log.Warn().Err(err).Str("op", e.op).Msg("Persistence failed")
		s.warn(fmt.Sprintf("%s failed: %v", e.op, err))
	}
}

// warn publishes a warning status directly. Outbox goroutine only.
func (s *Session) warn(message string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.OutboxTimeout)
	defer cancel()
	ev := events.NewStatusEvent(s.id, models.StatusWarning, message, nil)
	if err := s.deps.Notifier.PublishStatus(ctx, ev); err != nil {
		s.log.Warn().Err(err).Msg("Warning delivery failed")
	}
}
