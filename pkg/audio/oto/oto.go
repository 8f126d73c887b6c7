// Package oto implements [audio.OutputDevice] on top of ebitengine/oto. Each
// opened device is an oto player pulling from an [audio.Timeline], so the
// device clock is the number of samples the sound card has consumed.
//
// oto permits a single context per process. The context is created on the
// first Open and shared by every later device; its format cannot change.
package oto

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gastromaster/livevoice/pkg/audio"
)

var _ audio.OutputDevice = (*Device)(nil)

// Config shapes the shared playback context.
type Config struct {
	SampleRate int
	Channels   int

	// Buffer is the driver buffer length. Shorter means lower latency and a
	// higher risk of underruns.
	Buffer time.Duration
}

var (
	shared       *oto.Context
	sharedFormat audio.Format
	sharedErr    error
	sharedOnce   sync.Once
)

func sharedContext(cfg Config) (*oto.Context, error) {
	sharedOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   cfg.SampleRate,
			ChannelCount: cfg.Channels,
			Format:       oto.FormatFloat32LE,
			BufferSize:   cfg.Buffer,
		})
		if err != nil {
			sharedErr = err
			return
		}
		<-ready
		shared = ctx
		sharedFormat = audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	})
	if sharedErr != nil {
		return nil, sharedErr
	}
	if want := (audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}); want != sharedFormat {
		return nil, fmt.Errorf("oto: context already running at %s, cannot open %s", sharedFormat, want)
	}
	return shared, nil
}

// Device is one playback stream.
type Device struct {
	*audio.Timeline
	player *oto.Player

	closeOnce sync.Once
	closeErr  error
}

// Opener returns an [audio.OutputOpener] for cfg.
func Opener(cfg Config) audio.OutputOpener {
	return func(_ context.Context) (audio.OutputDevice, error) {
		return Open(cfg)
	}
}

// Open starts a player whose clock begins at zero.
func Open(cfg Config) (*Device, error) {
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	octx, err := sharedContext(cfg)
	if err != nil {
		return nil, fmt.Errorf("oto: %w: %w", audio.ErrPermission, err)
	}

	tl := audio.NewTimeline(audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels})
	player := octx.NewPlayer(tl)
	player.Play()

	slog.Info("audio output opened", "backend", "oto", "sample_rate", cfg.SampleRate, "buffer", cfg.Buffer)
	return &Device{Timeline: tl, player: player}, nil
}

// Close stops the player and discards anything still scheduled.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		_ = d.Timeline.Close()
		d.player.Pause()
		d.closeErr = d.player.Close()
		slog.Info("audio output closed", "backend", "oto")
	})
	return d.closeErr
}
