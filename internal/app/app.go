// Package app wires the voice assistant together: the session manager, the
// live configuration, and the ops HTTP listener.
//
// The App struct owns the full lifecycle: New builds the session manager
// from the configured backends, Run serves /healthz, /readyz and /metrics
// until its context ends, and Shutdown stops the session and tears the rest
// down in order.
//
// Backends are supplied by the caller (main resolves them through the
// config registry), so tests pass mocks directly.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gastromaster/livevoice/internal/config"
	"github.com/gastromaster/livevoice/internal/health"
	"github.com/gastromaster/livevoice/internal/observe"
	"github.com/gastromaster/livevoice/pkg/audio"
	"github.com/gastromaster/livevoice/pkg/transport"
)

// Backends holds the device and transport constructors a session needs.
// Populated by main.go via the config registry.
type Backends struct {
	Input  audio.InputOpener
	Output audio.OutputOpener
	Dialer transport.Dialer

	// InputProbe, if set, backs the input_device readiness check.
	InputProbe func(ctx context.Context) error
}

// App owns all subsystem lifetimes.
type App struct {
	cfg      atomic.Pointer[config.Config]
	backends Backends

	manager  *Manager
	metrics  *observe.Metrics
	provider *observe.Provider
	level    *slog.LevelVar

	onTranscript func(transport.TextMessage)
	onEnd        func(SessionInfo)

	handler http.Handler

	srvMu  sync.Mutex
	server *http.Server

	// closers are called in order during Shutdown, after the session stops.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records session instruments on m instead of the global
// meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithProvider serves p's Prometheus registry on /metrics.
func WithProvider(p *observe.Provider) Option {
	return func(a *App) { a.provider = p }
}

// WithLevelVar lets configuration reloads change the log level.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithTranscriptHandler receives every text message from the remote model.
func WithTranscriptHandler(fn func(transport.TextMessage)) Option {
	return func(a *App) { a.onTranscript = fn }
}

// WithEndHandler is called once per session when it closes.
func WithEndHandler(fn func(SessionInfo)) Option {
	return func(a *App) { a.onEnd = fn }
}

// WithCloser registers fn to run during Shutdown.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App. It does not touch any device: microphone and speaker
// are opened per session.
func New(cfg *config.Config, backends Backends, opts ...Option) (*App, error) {
	var missing []string
	if backends.Input == nil {
		missing = append(missing, "input")
	}
	if backends.Output == nil {
		missing = append(missing, "output")
	}
	if backends.Dialer == nil {
		missing = append(missing, "dialer")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("app: missing backends: %s", strings.Join(missing, ", "))
	}

	a := &App{backends: backends}
	a.cfg.Store(cfg)
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.manager = NewManager(ManagerConfig{
		Input:        backends.Input,
		Output:       backends.Output,
		Dialer:       backends.Dialer,
		Config:       a.Config,
		Metrics:      a.metrics,
		OnTranscript: a.onTranscript,
		OnEnd:        a.onEnd,
	})
	a.handler = a.buildHandler()
	return a, nil
}

func (a *App) buildHandler() http.Handler {
	mux := http.NewServeMux()
	checks := []health.Checker{
		health.APIKey(func() string { return a.Config().Live.APIKey }),
		health.InputDevice(func(ctx context.Context) error {
			if a.backends.InputProbe == nil {
				return nil
			}
			return a.backends.InputProbe(ctx)
		}),
	}
	health.New(checks, health.WithState(func() string {
		return a.manager.State().String()
	})).Register(mux)

	if a.provider != nil {
		mux.Handle("GET /metrics", a.provider.MetricsHandler())
	}
	return observe.Middleware(a.metrics)(mux)
}

// Config returns the live configuration.
func (a *App) Config() *config.Config { return a.cfg.Load() }

// Manager returns the session manager.
func (a *App) Manager() *Manager { return a.manager }

// Handler returns the ops HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Toggle starts a session, or stops the running one.
func (a *App) Toggle(ctx context.Context) (toggled bool, err error) {
	return a.manager.Start(ctx)
}

// ApplyConfig installs a reloaded configuration. It is the callback for a
// [config.Watcher]. The log level changes immediately and conversation
// settings apply to the next session; everything else needs a restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	a.cfg.Store(new)

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(ParseLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.LiveChanged || d.SessionChanged {
		slog.Info("session settings changed; applying to next session",
			"changes", d.LiveChanges, "active", a.manager.IsActive())
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// ParseLevel maps a config log level to its slog level. Unknown values map
// to Info.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the ops endpoints on server.listen_addr and blocks until ctx is
// cancelled or the listener fails. It returns nil after a cancellation.
func (a *App) Run(ctx context.Context) error {
	addr := a.Config().Server.ListenAddr
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.srvMu.Lock()
	a.server = srv
	a.srvMu.Unlock()
	slog.Info("ops server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the session, drains the HTTP server, and runs the closers in
// order. If ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.manager.Close(); err != nil {
			slog.Warn("session manager close error", "err", err)
		}

		a.srvMu.Lock()
		srv := a.server
		a.srvMu.Unlock()
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				slog.Warn("ops server shutdown error", "err", err)
				shutdownErr = err
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
