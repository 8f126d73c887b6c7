// Package session runs one voice interaction: microphone capture, the remote
// channel, and speaker playback, from open to teardown.
//
// A Session moves through Idle → Connecting → Active → Closing → Closed and
// is used once. While Active, two stages run under an errgroup: the capture
// encoder feeding the channel, and the playback scheduler draining the
// bounded inbound audio queue. Any transport failure, a remote in-band error,
// or a failing stage closes the session and is reported exactly once through
// [Config.OnEnd] and [Session.Err]. There is no automatic reconnection.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/gastromaster/livevoice/internal/capture"
	"github.com/gastromaster/livevoice/internal/observe"
	"github.com/gastromaster/livevoice/internal/playback"
	"github.com/gastromaster/livevoice/pkg/audio"
	"github.com/gastromaster/livevoice/pkg/transport"
)

// ErrNotIdle is returned by Start on a session that has already been started.
var ErrNotIdle = errors.New("session: not idle")

const defaultInboundQueue = 64

// State is a session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateClosing
	StateClosed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config holds the dependencies and hooks of a [Session].
type Config struct {
	// Input opens the microphone. Failures should wrap [audio.ErrPermission].
	Input audio.InputOpener

	// Output opens the speaker.
	Output audio.OutputOpener

	// Dialer opens the remote channel.
	Dialer transport.Dialer

	// Transport is passed to Dialer.Connect.
	Transport transport.Config

	// CaptureFormat is the outbound wire format. Zero uses
	// [capture.DefaultFormat].
	CaptureFormat audio.Format

	// InboundQueue bounds the audio waiting for the playback stage.
	// Defaults to 64.
	InboundQueue int

	// Metrics receives session instruments. Nil disables recording.
	Metrics *observe.Metrics

	// OnTranscript, if set, receives every inbound text message.
	OnTranscript func(transport.TextMessage)

	// OnEnd, if set, is called once when the session reaches Closed, with
	// the terminal error or nil for a requested stop.
	OnEnd func(err error)
}

// Session is a single voice interaction. All methods are safe for concurrent
// use.
type Session struct {
	id  string
	cfg Config
	log *slog.Logger

	mu        sync.Mutex
	state     State
	opening   bool // devices are being opened; state is still Idle
	err       error
	startedAt time.Time
	openedAt  time.Time

	handle  transport.Handle
	in      audio.InputDevice
	out     audio.OutputDevice
	encoder *capture.Encoder
	inbound chan transport.AudioMessage
	stages  *errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
	span    trace.Span

	done chan struct{}
}

// New creates an idle session.
func New(cfg Config) *Session {
	if cfg.InboundQueue <= 0 {
		cfg.InboundQueue = defaultInboundQueue
	}
	if cfg.CaptureFormat.SampleRate == 0 {
		cfg.CaptureFormat = capture.DefaultFormat
	}
	id := uuid.NewString()
	return &Session{
		id:   id,
		cfg:  cfg,
		log:  slog.Default().With("session_id", id),
		done: make(chan struct{}),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsActive reports whether the session is Connecting or Active.
func (s *Session) IsActive() bool {
	st := s.State()
	return st == StateConnecting || st == StateActive
}

// StartedAt returns when Start succeeded, or the zero time.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Err returns the terminal error once the session has closed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the session reaches Closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start acquires the devices and begins connecting. If a device cannot be
// opened the session stays Idle with nothing held and the error is returned.
// ctx bounds the device opens and the dial, not the session itself.
//
// The devices are opened without holding the session lock, so a slow
// permission prompt does not block State or IsActive. The session reads as
// Idle until they are open, and a Stop in that window is a no-op.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle || s.opening {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotIdle, st)
	}
	s.opening = true
	s.mu.Unlock()

	in, out, err := s.openDevices(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.opening = false
	if err != nil {
		return err
	}

	spanCtx, span := observe.StartSpan(ctx, "session",
		trace.WithNewRoot(),
		trace.WithAttributes(attribute.String("session.id", s.id)),
	)
	s.log = observe.Logger(spanCtx).With("session_id", s.id)
	s.span = span

	s.in, s.out = in, out
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.encoder = capture.New(in, senderFunc(s.send),
		capture.WithFormat(s.cfg.CaptureFormat),
		capture.WithMetrics(s.cfg.Metrics),
		capture.WithLogger(s.log),
	)
	s.startedAt = time.Now()
	s.state = StateConnecting

	s.log.Info("session connecting",
		"input", in.Format().String(),
		"output", out.Format().String(),
		"model", s.cfg.Transport.Model,
	)

	// Callbacks take s.mu, so none can run before Connect has returned and
	// the handle is stored.
	s.handle = s.cfg.Dialer.Connect(ctx, s.cfg.Transport, transport.Callbacks{
		OnOpen:    s.onOpen,
		OnMessage: s.onMessage,
		OnError:   s.onError,
		OnClose:   s.onClose,
	})
	return nil
}

func (s *Session) openDevices(ctx context.Context) (audio.InputDevice, audio.OutputDevice, error) {
	in, err := s.cfg.Input(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("session: open input: %w", err)
	}
	out, err := s.cfg.Output(ctx)
	if err != nil {
		if cerr := in.Close(); cerr != nil {
			s.log.Warn("session: close input after output failure", "err", cerr)
		}
		return nil, nil, fmt.Errorf("session: open output: %w", err)
	}
	return in, out, nil
}

// senderFunc adapts a function to [capture.Sender].
type senderFunc func(transport.Message) error

func (f senderFunc) Send(m transport.Message) error { return f(m) }

func (s *Session) send(m transport.Message) error {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h == nil {
		return transport.ErrNotOpen
	}
	return h.Send(m)
}

func (s *Session) onOpen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnecting {
		return
	}
	s.state = StateActive
	s.openedAt = time.Now()

	sched := playback.New(s.out,
		playback.WithMetrics(s.cfg.Metrics),
		playback.WithLogger(s.log),
	)
	s.inbound = make(chan transport.AudioMessage, s.cfg.InboundQueue)

	g, gctx := errgroup.WithContext(s.ctx)
	encoder, inbound := s.encoder, s.inbound
	g.Go(func() error { return encoder.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx, inbound) })
	s.stages = g
	go func() {
		if err := g.Wait(); err != nil {
			s.shutdown(fmt.Errorf("session: stage: %w", err))
		}
	}()

	if m := s.cfg.Metrics; m != nil {
		m.ConnectDuration.Record(s.ctx, s.openedAt.Sub(s.startedAt).Seconds())
		m.ActiveSessions.Add(s.ctx, 1)
	}
	s.log.Info("session active", "connect_time", s.openedAt.Sub(s.startedAt))
}

func (s *Session) onMessage(m transport.Message) {
	if met := s.cfg.Metrics; met != nil {
		met.RecordInbound(context.Background(), m.Kind().String())
	}

	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	ctx, inbound := s.ctx, s.inbound
	s.mu.Unlock()

	switch m := m.(type) {
	case transport.AudioMessage:
		select {
		case inbound <- m:
		case <-ctx.Done():
		}
	case transport.TextMessage:
		s.log.Info("session text", "role", m.Role, "transcript", m.Transcript, "text", m.Text)
		if s.cfg.OnTranscript != nil {
			s.cfg.OnTranscript(m)
		}
	case transport.ControlMessage:
		if m.Control == transport.ControlGoAway {
			s.log.Warn("session: remote is about to disconnect")
			return
		}
		s.log.Debug("session control", "control", m.Control.String())
	case transport.ErrorMessage:
		err := m.Err()
		s.recordTransportError(err)
		s.shutdown(err)
	}
}

func (s *Session) onError(err error) {
	s.recordTransportError(err)
	s.log.Error("session transport error", "err", err)
	s.shutdown(err)
}

func (s *Session) onClose() {
	if s.IsActive() {
		s.log.Info("session channel closed by remote")
	}
	s.shutdown(nil)
}

func (s *Session) recordTransportError(err error) {
	m := s.cfg.Metrics
	if m == nil {
		return
	}
	op := "unknown"
	var terr *transport.Error
	if errors.As(err, &terr) {
		op = terr.Op
	}
	m.RecordTransportError(context.Background(), op)
}

// Stop closes the session and waits until every resource is released. It is
// a no-op on an Idle or Closed session and safe to call from any goroutine,
// including from inside [Config.OnTranscript].
func (s *Session) Stop() {
	s.shutdown(nil)
}

// shutdown moves a Connecting or Active session to Closing, tears it down,
// and records err as the terminal error. Later calls wait for the first
// teardown to finish.
func (s *Session) shutdown(cause error) {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.mu.Unlock()
		return
	case StateClosing, StateClosed:
		s.mu.Unlock()
		<-s.done
		return
	}
	wasActive := s.state == StateActive
	s.state = StateClosing
	s.err = cause
	handle, encoder, out := s.handle, s.encoder, s.out
	cancel, stages, span := s.cancel, s.stages, s.span
	s.mu.Unlock()

	var errs []error
	if err := encoder.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop capture: %w", err))
	}
	cancel()
	if err := handle.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close channel: %w", err))
	}
	if err := out.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close output: %w", err))
	}
	if stages != nil {
		// Stage errors after cancellation are teardown noise.
		_ = stages.Wait()
	}
	if err := errors.Join(errs...); err != nil {
		s.log.Warn("session: teardown", "err", err)
	}

	s.mu.Lock()
	s.state = StateClosed
	openedAt := s.openedAt
	s.mu.Unlock()

	if m := s.cfg.Metrics; m != nil && wasActive {
		m.ActiveSessions.Add(context.Background(), -1)
		m.SessionDuration.Record(context.Background(), time.Since(openedAt).Seconds())
	}
	observe.EndSpan(span, cause)
	if cause != nil {
		s.log.Warn("session closed", "err", cause)
	} else {
		s.log.Info("session closed")
	}

	close(s.done)
	if s.cfg.OnEnd != nil {
		s.cfg.OnEnd(cause)
	}
}
