// Package playback schedules inbound audio on an output device so that
// consecutive buffers play back to back.
//
// The scheduler keeps a cursor on the device clock marking where the last
// scheduled buffer ends. Each new buffer starts at the later of the cursor and
// the current device time: buffers never overlap, play gaplessly while the
// producer keeps ahead, and resume immediately after a stall.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gastromaster/livevoice/internal/observe"
	"github.com/gastromaster/livevoice/pkg/audio"
	"github.com/gastromaster/livevoice/pkg/transport"
)

// Option is a functional option for configuring a [Scheduler].
type Option func(*Scheduler)

// WithMetrics records scheduling outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLogger sets the logger used for dropped buffers.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// Scheduler places decoded buffers on an [audio.OutputDevice]. Enqueue is
// meant to be called from a single goroutine; Cursor may be read from any.
type Scheduler struct {
	dev     audio.OutputDevice
	conv    audio.FormatConverter
	metrics *observe.Metrics
	log     *slog.Logger

	mu     sync.Mutex
	cursor time.Duration
}

// New creates a Scheduler whose cursor starts at the device's current time.
func New(dev audio.OutputDevice, opts ...Option) *Scheduler {
	s := &Scheduler{
		dev:    dev,
		conv:   audio.FormatConverter{Target: dev.Format()},
		log:    slog.Default(),
		cursor: dev.Now(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Cursor returns the device time at which the last scheduled buffer ends.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Enqueue decodes msg and schedules it, returning the start time on the
// device clock. Malformed buffers fail with [audio.ErrMalformed] and leave the
// cursor untouched.
func (s *Scheduler) Enqueue(ctx context.Context, msg transport.AudioMessage) (time.Duration, error) {
	frame, err := audio.Decode(msg.Chunk())
	if err != nil {
		return 0, fmt.Errorf("playback: decode: %w", err)
	}
	if len(frame.Samples) == 0 {
		return 0, fmt.Errorf("playback: decode: %w: empty buffer", audio.ErrMalformed)
	}
	frame = s.conv.Convert(frame)
	d := frame.Duration()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.dev.Now()
	startAt := max(s.cursor, now)
	if err := s.dev.Schedule(startAt, frame.Samples); err != nil {
		return 0, fmt.Errorf("playback: schedule: %w", err)
	}

	if s.metrics != nil {
		if gap := now - s.cursor; gap > 0 {
			s.metrics.PlaybackGap.Record(ctx, gap.Seconds())
		}
		s.metrics.ScheduleLead.Record(ctx, (startAt - now).Seconds())
		s.metrics.PlaybackBuffers.Add(ctx, 1)
	}
	s.cursor = startAt + d
	return startAt, nil
}

// Run schedules every message from in until ctx is cancelled or in is
// closed. Malformed buffers are logged and skipped; any other scheduling
// failure ends the loop with an error.
func (s *Scheduler) Run(ctx context.Context, in <-chan transport.AudioMessage) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			if _, err := s.Enqueue(ctx, msg); err != nil {
				if errors.Is(err, audio.ErrMalformed) {
					s.log.Debug("playback: dropping buffer", "bytes", len(msg.Data), "err", err)
					continue
				}
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}
