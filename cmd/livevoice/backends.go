package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gastromaster/livevoice/internal/app"
	"github.com/gastromaster/livevoice/internal/config"
	"github.com/gastromaster/livevoice/internal/resilience"
	"github.com/gastromaster/livevoice/pkg/audio"
	malgoin "github.com/gastromaster/livevoice/pkg/audio/malgo"
	otoout "github.com/gastromaster/livevoice/pkg/audio/oto"
	pain "github.com/gastromaster/livevoice/pkg/audio/portaudio"
	"github.com/gastromaster/livevoice/pkg/transport"
	"github.com/gastromaster/livevoice/pkg/transport/gemini"
)

// registerBuiltinBackends wires the device and transport factories that
// ship with livevoice into reg.
func registerBuiltinBackends(reg *config.Registry) {
	// ── Input ─────────────────────────────────────────────────────────────────

	reg.RegisterInput(config.InputMalgo, func(c config.InputConfig) (audio.InputOpener, error) {
		return malgoin.Opener(malgoConfig(c)), nil
	})
	reg.RegisterInput(config.InputPortAudio, func(c config.InputConfig) (audio.InputOpener, error) {
		return pain.Opener(portaudioConfig(c)), nil
	})

	// ── Output ────────────────────────────────────────────────────────────────

	reg.RegisterOutput(config.OutputOto, func(c config.OutputConfig) (audio.OutputOpener, error) {
		return otoout.Opener(otoout.Config{
			SampleRate: c.SampleRate,
			Channels:   c.Channels,
			Buffer:     c.Buffer(),
		}), nil
	})

	// ── Transport ─────────────────────────────────────────────────────────────

	reg.RegisterTransport("gemini-live", func(c config.LiveConfig) (transport.Dialer, error) {
		breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "gemini-live-dial",
		})
		opts := []gemini.Option{gemini.WithDialGuard(breaker)}
		if c.Model != "" {
			opts = append(opts, gemini.WithModel(c.Model))
		}
		if c.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(c.BaseURL))
		}
		return gemini.New(c.APIKey, opts...), nil
	})
}

// buildBackends resolves the configured backends from reg.
func buildBackends(cfg *config.Config, reg *config.Registry) (app.Backends, error) {
	var b app.Backends
	var err error

	if b.Input, err = reg.CreateInput(cfg.Audio.Input); err != nil {
		return b, fmt.Errorf("input %q: %w", cfg.Audio.Input.Backend, err)
	}
	if b.Output, err = reg.CreateOutput(cfg.Audio.Output); err != nil {
		return b, fmt.Errorf("output %q: %w", cfg.Audio.Output.Backend, err)
	}
	if b.Dialer, err = reg.CreateTransport(cfg.Live); err != nil {
		return b, fmt.Errorf("transport %q: %w", cfg.Live.Name, err)
	}
	b.InputProbe = inputProbe(cfg.Audio.Input)

	slog.Debug("backends ready",
		"input", cfg.Audio.Input.Backend,
		"output", cfg.Audio.Output.Backend,
		"transport", cfg.Live.Name,
	)
	return b, nil
}

// inputProbe checks that the configured capture device can be found without
// opening it.
func inputProbe(c config.InputConfig) func(context.Context) error {
	switch c.Backend {
	case config.InputMalgo:
		return func(context.Context) error { return malgoin.Probe(malgoConfig(c)) }
	case config.InputPortAudio:
		return func(context.Context) error { return pain.Probe(portaudioConfig(c)) }
	default:
		return nil
	}
}

func malgoConfig(c config.InputConfig) malgoin.Config {
	return malgoin.Config{
		DeviceName:      c.Device,
		SampleRate:      c.SampleRate,
		Channels:        c.Channels,
		FramesPerBuffer: c.FramesPerBuffer,
	}
}

func portaudioConfig(c config.InputConfig) pain.Config {
	return pain.Config{
		DeviceName:      c.Device,
		SampleRate:      c.SampleRate,
		Channels:        c.Channels,
		FramesPerBuffer: c.FramesPerBuffer,
	}
}
