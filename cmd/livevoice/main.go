// Command livevoice runs a push-to-talk voice conversation with a Gemini
// Live model: press space to start talking, press it again to hang up.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gastromaster/livevoice/internal/app"
	"github.com/gastromaster/livevoice/internal/config"
	"github.com/gastromaster/livevoice/internal/observe"
	"github.com/gastromaster/livevoice/pkg/transport"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	autostart := flag.Bool("autostart", false, "start a session immediately instead of waiting for a key press")
	flag.Parse()

	// ── Console and logger ────────────────────────────────────────────────────
	con := newConsole(os.Stdin, os.Stderr)
	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewTextHandler(con, &slog.HandlerOptions{Level: level})))

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadEnv(".env.local", ".env"); err != nil {
		slog.Warn("failed to read env file", "err", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "livevoice: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "livevoice: %v\n", err)
		}
		return 1
	}
	level.Set(app.ParseLevel(cfg.Server.LogLevel))

	slog.Info("livevoice starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"model", cfg.Live.Model,
		"voice", cfg.Live.Voice,
		"input", cfg.Audio.Input.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	provider, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "livevoice",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Backends ──────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)
	backends, err := buildBackends(cfg, reg)
	if err != nil {
		slog.Error("failed to build backends", "err", err)
		return 1
	}

	// ── Application ───────────────────────────────────────────────────────────
	var watcher *config.Watcher
	a, err := app.New(cfg, backends,
		app.WithProvider(provider),
		app.WithLevelVar(level),
		app.WithTranscriptHandler(func(m transport.TextMessage) { con.Transcript(m) }),
		app.WithEndHandler(func(info app.SessionInfo) { con.SessionEnded(info) }),
		app.WithCloser(func() error {
			if watcher != nil {
				watcher.Stop()
			}
			return nil
		}),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	watcher, err = config.NewWatcher(*configPath, a.ApplyConfig)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	}

	// ── Controls ──────────────────────────────────────────────────────────────
	toggle := func() {
		toggled, err := a.Toggle(ctx)
		if err != nil {
			con.Printf("could not start: %v", err)
			return
		}
		if !toggled {
			con.Printf("listening… (%s)", a.Manager().Info().Voice)
		}
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	if con.Interactive() {
		restore, err := con.MakeRaw()
		if err != nil {
			slog.Warn("terminal raw mode unavailable", "err", err)
		} else {
			defer restore()
		}
		con.Printf("press space to talk, q to quit")
		go con.Keys(runCtx, toggle, cancelRun)
	} else if !*autostart {
		slog.Info("stdin is not a terminal; starting a session")
		*autostart = true
	}
	if *autostart {
		toggle()
	}

	if err := a.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := a.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}
