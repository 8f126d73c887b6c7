// Package capture turns microphone frames into PCM16 chunks for the remote
// endpoint.
//
// The device callback never blocks: it writes into a one-slot mailbox and a
// frame that has not been picked up by the time the next one arrives is
// replaced. The encoder goroutine converts, quantizes, and hands each chunk to
// the [Sender] without waiting for the network.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gastromaster/livevoice/internal/observe"
	"github.com/gastromaster/livevoice/pkg/audio"
	"github.com/gastromaster/livevoice/pkg/transport"
)

// Sender accepts encoded audio. [transport.Handle] satisfies it.
type Sender interface {
	Send(msg transport.Message) error
}

// DefaultFormat is the wire format expected by the remote endpoint.
var DefaultFormat = audio.Format{SampleRate: 16000, Channels: 1}

// Option is a functional option for configuring an [Encoder].
type Option func(*Encoder)

// WithFormat overrides the outbound format. Frames are converted to it before
// encoding.
func WithFormat(f audio.Format) Option {
	return func(e *Encoder) { e.conv.Target = f }
}

// WithMetrics records frame outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Encoder) { e.metrics = m }
}

// WithLogger sets the logger used for per-frame diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(e *Encoder) { e.log = l }
}

// Stats is a snapshot of the encoder's counters.
type Stats struct {
	Encoded uint64
	Dropped uint64
	Failed  uint64
}

// Encoder owns an input device for the duration of a session.
type Encoder struct {
	dev     audio.InputDevice
	sender  Sender
	conv    audio.FormatConverter
	metrics *observe.Metrics
	log     *slog.Logger

	mailbox chan audio.Frame
	devErr  chan error
	stop    chan struct{}
	done    chan struct{}

	mu       sync.Mutex
	started  bool
	stopped  bool
	stopOnce sync.Once
	closeErr error

	encoded atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// New creates an Encoder reading from dev and sending to sender. The device
// must not be started yet; [Encoder.Run] starts it and [Encoder.Stop] closes it.
func New(dev audio.InputDevice, sender Sender, opts ...Option) *Encoder {
	e := &Encoder{
		dev:     dev,
		sender:  sender,
		conv:    audio.FormatConverter{Target: DefaultFormat},
		log:     slog.Default(),
		mailbox: make(chan audio.Frame, 1),
		devErr:  make(chan error, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run starts the device and encodes frames until ctx is cancelled or Stop is
// called. It returns an error if the device cannot be started or fails while
// capturing. A start cut short by Stop is not an error.
func (e *Encoder) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped || e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.mu.Unlock()
	defer close(e.done)

	if err := e.dev.Start(e.offer, e.deviceFailed); err != nil {
		select {
		case <-e.stop:
			return nil
		default:
		}
		return fmt.Errorf("capture: start device: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.stop:
			return nil
		case err := <-e.devErr:
			return fmt.Errorf("capture: device: %w", err)
		case f := <-e.mailbox:
			e.encode(ctx, f)
		}
	}
}

// deviceFailed is the device error callback. Only the first error is kept.
func (e *Encoder) deviceFailed(err error) {
	select {
	case e.devErr <- err:
	default:
	}
}

// offer is the device callback. It replaces any frame still waiting.
func (e *Encoder) offer(f audio.Frame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	select {
	case e.mailbox <- f:
		return
	default:
	}
	select {
	case <-e.mailbox:
		e.dropped.Add(1)
		if e.metrics != nil {
			e.metrics.RecordCaptureFrame(context.Background(), observe.FrameDropped)
		}
		e.log.Debug("capture: dropping stale frame", "timestamp", f.Timestamp)
	default:
	}
	// The callback is the only producer and holds mu, so the slot is free.
	e.mailbox <- f
}

func (e *Encoder) encode(ctx context.Context, f audio.Frame) {
	chunk, err := audio.Encode(e.conv.Convert(f))
	if err != nil {
		e.fail(ctx, "capture: encode frame", err)
		return
	}
	if err := e.sender.Send(transport.NewAudioMessage(chunk)); err != nil {
		if errors.Is(err, transport.ErrQueueFull) {
			e.dropped.Add(1)
			if e.metrics != nil {
				e.metrics.RecordCaptureFrame(ctx, observe.FrameDropped)
			}
			e.log.Debug("capture: outbound queue full, dropping chunk", "bytes", len(chunk.Data))
			return
		}
		e.fail(ctx, "capture: send chunk", err)
		return
	}
	e.encoded.Add(1)
	if e.metrics != nil {
		e.metrics.RecordCaptureFrame(ctx, observe.FrameEncoded)
		e.metrics.ChunksSent.Add(ctx, 1)
	}
}

func (e *Encoder) fail(ctx context.Context, msg string, err error) {
	e.failed.Add(1)
	if e.metrics != nil {
		e.metrics.RecordCaptureFrame(ctx, observe.FrameFailed)
	}
	e.log.Debug(msg, "err", err)
}

// Stop closes the device and waits for the encoder loop to exit. No frame is
// encoded after Stop returns. Safe to call more than once and before Run.
func (e *Encoder) Stop() error {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.stopped = true
		started := e.started
		e.mu.Unlock()

		close(e.stop)
		e.closeErr = e.dev.Close()
		if started {
			<-e.done
		}
	})
	return e.closeErr
}

// Stats returns the current counters.
func (e *Encoder) Stats() Stats {
	return Stats{
		Encoded: e.encoded.Load(),
		Dropped: e.dropped.Load(),
		Failed:  e.failed.Load(),
	}
}
