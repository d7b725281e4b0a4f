package session

import (
	"context"
	"fmt"

	"anamnesis-transcript-service/internal/models"
	"anamnesis-transcript-service/internal/service/dispatch"
)

type channelRun struct {
	d      *dispatch.Dispatcher
	rec    dispatch.Recorder
	cancel context.CancelFunc
	done   chan struct{}
}

// await waits for the loop to finish on its own and cancels it once ctx
// expires.
func (r *channelRun) await(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		r.cancel()
		<-r.done
		return ctx.Err()
	}
}

// StartChannel starts the capture loop of one audio channel. Dispatcher
// output goes through this session's gate tracker into its buffer.
func (s *Session) StartChannel(ch models.Channel, rec dispatch.Recorder) error {
	if ch != models.ChannelDoctor && ch != models.ChannelPatient {
		return fmt.Errorf("%w: %q has no audio source", ErrInvalidChannel, ch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if _, ok := s.channels[ch]; ok {
		return fmt.Errorf("%w: %s", ErrChannelActive, ch)
	}
	s.startChannelLocked(ch, rec)
	return nil
}

func (s *Session) startChannelLocked(ch models.Channel, rec dispatch.Recorder) *channelRun {
	ctx, cancel := context.WithCancel(s.ctx)
	d := dispatch.New(s.id, ch, rec, s.deps.STT, s.tracker, s, s.cfg.Dispatch, s.deps.Metrics)
	run := &channelRun{d: d, rec: rec, cancel: cancel, done: make(chan struct{})}
	s.channels[ch] = run

	go func() {
		defer close(run.done)
		defer cancel()
		if err := d.Run(ctx); err != nil {
			s.log.Error().Err(err).Str("channel", string(ch)).Msg("Channel loop failed")
		}
		s.mu.Lock()
		if s.channels[ch] == run {
			delete(s.channels, ch)
		}
		s.mu.Unlock()
	}()
	return run
}

// StopChannel finishes a channel: the open window is transcribed and the
// loop exits. When ctx expires first the loop is cancelled.
func (s *Session) StopChannel(ctx context.Context, ch models.Channel) error {
	s.mu.RLock()
	run, ok := s.channels[ch]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotActive, ch)
	}
	run.d.Finish()
	return run.await(ctx)
}

// PushRecorder returns the network-fed recorder of a channel, starting the
// channel when it is idle.
func (s *Session) PushRecorder(ch models.Channel, mimeType string) (*dispatch.PushRecorder, error) {
	if ch != models.ChannelDoctor && ch != models.ChannelPatient {
		return nil, fmt.Errorf("%w: %q has no audio source", ErrInvalidChannel, ch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if run, ok := s.channels[ch]; ok {
		pr, isPush := run.rec.(*dispatch.PushRecorder)
		if !isPush {
			return nil, fmt.Errorf("%w: %s is fed by another recorder", ErrChannelActive, ch)
		}
		if pr.MimeType() != mimeType {
			return nil, fmt.Errorf("%w: %s is receiving %s", ErrChannelActive, ch, pr.MimeType())
		}
		return pr, nil
	}
	pr := dispatch.NewPushRecorder(mimeType)
	s.startChannelLocked(ch, pr)
	return pr, nil
}

// Channels returns the channels with a running loop.
func (s *Session) Channels() []models.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Channel, 0, len(s.channels))
	for _, ch := range []models.Channel{models.ChannelDoctor, models.ChannelPatient} {
		if _, ok := s.channels[ch]; ok {
			out = append(out, ch)
		}
	}
	return out
}
