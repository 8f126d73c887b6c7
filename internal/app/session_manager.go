package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gastromaster/livevoice/internal/config"
	"github.com/gastromaster/livevoice/internal/observe"
	"github.com/gastromaster/livevoice/internal/session"
	"github.com/gastromaster/livevoice/pkg/audio"
	"github.com/gastromaster/livevoice/pkg/transport"
)

// ErrManagerClosed is returned by [Manager.Start] after [Manager.Close].
var ErrManagerClosed = errors.New("app: session manager closed")

// SessionInfo describes the current or most recent session.
type SessionInfo struct {
	// SessionID is empty until the first session starts.
	SessionID string

	State     session.State
	StartedAt time.Time
	Model     string
	Voice     string

	// Err is the terminal error of the most recent session, if it failed.
	Err error
}

// ManagerConfig holds the dependencies of a [Manager].
type ManagerConfig struct {
	Input  audio.InputOpener
	Output audio.OutputOpener
	Dialer transport.Dialer

	// Config returns the live configuration. It is read on every start, so
	// conversation settings changed on disk apply to the next session.
	Config func() *config.Config

	Metrics *observe.Metrics

	// OnTranscript receives text from the running session.
	OnTranscript func(transport.TextMessage)

	// OnEnd is called once per session when it closes. It must not call
	// back into the Manager synchronously.
	OnEnd func(info SessionInfo)
}

// Manager owns at most one voice session at a time and implements the
// start/stop toggle. All exported methods are safe for concurrent use.
type Manager struct {
	cfg ManagerConfig

	// toggle serialises Start, Stop and Close.
	toggle sync.Mutex

	mu      sync.Mutex
	current *session.Session
	info    SessionInfo
	closed  bool
}

// NewManager creates a Manager with no session.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{cfg: cfg}
}

// Start toggles the session. While the current session is connecting or
// active it is stopped and Start reports toggled == true. Otherwise a new
// session is built from the live configuration and started. A session that
// is still closing is waited for first so its devices are released.
func (m *Manager) Start(ctx context.Context) (toggled bool, err error) {
	m.toggle.Lock()
	defer m.toggle.Unlock()

	m.mu.Lock()
	cur, closed := m.current, m.closed
	m.mu.Unlock()
	if closed {
		return false, ErrManagerClosed
	}

	if cur != nil {
		switch cur.State() {
		case session.StateConnecting, session.StateActive:
			cur.Stop()
			return true, nil
		case session.StateClosing:
			select {
			case <-cur.Done():
			case <-ctx.Done():
				return false, ctx.Err()
			}
		}
	}

	cfg := m.cfg.Config()
	var sess *session.Session
	sess = session.New(session.Config{
		Input:  m.cfg.Input,
		Output: m.cfg.Output,
		Dialer: m.cfg.Dialer,
		Transport: transport.Config{
			Model:               cfg.Live.Model,
			Voice:               cfg.Live.Voice,
			Instructions:        cfg.Live.Instructions,
			InputTranscription:  cfg.Live.InputTranscription,
			OutputTranscription: cfg.Live.OutputTranscription,
			OutboundQueue:       cfg.Session.OutboundQueue,
		},
		InboundQueue: cfg.Session.InboundQueue,
		Metrics:      m.cfg.Metrics,
		OnTranscript: m.cfg.OnTranscript,
		OnEnd:        func(err error) { m.ended(sess, err) },
	})

	if err := sess.Start(ctx); err != nil {
		slog.Warn("session start failed", "err", err)
		return false, err
	}

	m.mu.Lock()
	m.current = sess
	m.info = SessionInfo{
		SessionID: sess.ID(),
		StartedAt: sess.StartedAt(),
		Model:     cfg.Live.Model,
		Voice:     cfg.Live.Voice,
		Err:       sess.Err(),
	}
	m.mu.Unlock()

	slog.Info("session started",
		"session_id", sess.ID(),
		"model", cfg.Live.Model,
		"voice", cfg.Live.Voice,
	)
	return false, nil
}

// ended records the terminal error. It runs on the session's teardown
// goroutine and must not take m.toggle.
func (m *Manager) ended(sess *session.Session, err error) {
	m.mu.Lock()
	var info SessionInfo
	if m.current == sess {
		m.info.Err = err
		info = m.info
	} else {
		// The session ended before Start recorded it.
		info = SessionInfo{SessionID: sess.ID(), StartedAt: sess.StartedAt(), Err: err}
	}
	m.mu.Unlock()
	info.State = session.StateClosed

	slog.Info("session stopped", "session_id", sess.ID(), "err", err)
	if m.cfg.OnEnd != nil {
		m.cfg.OnEnd(info)
	}
}

// Stop closes the current session and waits for its resources to be
// released. It is a no-op when nothing is running.
func (m *Manager) Stop() {
	m.toggle.Lock()
	defer m.toggle.Unlock()
	m.stopCurrent()
}

func (m *Manager) stopCurrent() {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	if cur != nil {
		cur.Stop()
	}
}

// Close stops the current session and refuses further starts.
func (m *Manager) Close() error {
	m.toggle.Lock()
	defer m.toggle.Unlock()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.stopCurrent()
	return nil
}

// IsActive reports whether a session is connecting or active.
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	return cur != nil && cur.IsActive()
}

// State returns the current session state, or Idle when none has started.
func (m *Manager) State() session.State {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	if cur == nil {
		return session.StateIdle
	}
	return cur.State()
}

// Info returns a snapshot of the current or most recent session.
func (m *Manager) Info() SessionInfo {
	m.mu.Lock()
	info, cur := m.info, m.current
	m.mu.Unlock()
	if cur != nil {
		info.State = cur.State()
		if err := cur.Err(); err != nil {
			info.Err = err
		}
	}
	return info
}
