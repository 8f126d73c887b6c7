// Package portaudio implements [audio.InputDevice] on top of PortAudio using a
// blocking read loop, one goroutine per opened device.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gastromaster/livevoice/pkg/audio"
	"github.com/gordonklaus/portaudio"
)

var _ audio.InputDevice = (*Device)(nil)

// Config selects and shapes the capture stream.
type Config struct {
	// DeviceName selects the first input device whose name contains this
	// string (case-insensitive). Empty selects the system default input.
	DeviceName string

	SampleRate      int
	Channels        int
	FramesPerBuffer int
}

// Device is an open PortAudio input stream.
type Device struct {
	stream *portaudio.Stream
	buf    []float32
	format audio.Format
	name   string

	life    audio.Lifecycle
	running bool // read loop launched; guarded by life
	closing atomic.Bool
	done    chan struct{}
}

// Opener returns an [audio.InputOpener] for cfg.
func Opener(cfg Config) audio.InputOpener {
	return func(_ context.Context) (audio.InputDevice, error) {
		return Open(cfg)
	}
}

// Open initialises PortAudio and opens an input stream. Any failure to reach
// the device is reported as [audio.ErrPermission].
func Open(cfg Config) (*Device, error) {
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w: %w", audio.ErrPermission, err)
	}

	dev, err := findDevice(cfg.DeviceName)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: %w: %w", audio.ErrPermission, err)
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: cfg.Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.FramesPerBuffer,
	}

	buf := make([]float32, cfg.FramesPerBuffer*cfg.Channels)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: open %q: %w: %w", dev.Name, audio.ErrPermission, err)
	}

	slog.Info("audio input opened", "backend", "portaudio", "device", dev.Name,
		"sample_rate", cfg.SampleRate, "frames_per_buffer", cfg.FramesPerBuffer)

	return &Device{
		stream: stream,
		buf:    buf,
		format: audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels},
		name:   dev.Name,
		done:   make(chan struct{}),
	}, nil
}

// Probe reports whether an input device matching cfg is present, without
// opening a stream.
func Probe(cfg Config) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}
	defer portaudio.Terminate()
	_, err := findDevice(cfg.DeviceName)
	return err
}

func findDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		return portaudio.DefaultInputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), strings.ToLower(name)) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no input device matching %q", name)
}

// Format implements [audio.InputDevice].
func (d *Device) Format() audio.Format { return d.format }

// Start implements [audio.InputDevice].
func (d *Device) Start(onFrame func(audio.Frame), onError func(error)) error {
	err := d.life.Start(func() error {
		if err := d.stream.Start(); err != nil {
			return err
		}
		d.running = true
		go d.readLoop(onFrame, onError)
		return nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, audio.ErrDeviceClosed):
		return err
	default:
		return fmt.Errorf("portaudio: start %q: %w", d.name, err)
	}
}

// readLoop skips windows lost to an input overflow. Any other read error
// ends capture and is reported once through onError.
func (d *Device) readLoop(onFrame func(audio.Frame), onError func(error)) {
	defer close(d.done)
	var instants int64
	for !d.closing.Load() {
		if err := d.stream.Read(); err != nil {
			if d.closing.Load() {
				return
			}
			if errors.Is(err, portaudio.InputOverflowed) {
				slog.Debug("audio input overflow", "device", d.name)
				continue
			}
			slog.Warn("audio input read failed", "backend", "portaudio", "device", d.name, "err", err)
			onError(fmt.Errorf("portaudio: read %q: %w: %w", d.name, audio.ErrDeviceLost, err))
			return
		}
		if d.closing.Load() {
			return
		}
		out := make([]float32, len(d.buf))
		copy(out, d.buf)
		onFrame(audio.Frame{
			Samples:    out,
			SampleRate: d.format.SampleRate,
			Channels:   d.format.Channels,
			Timestamp:  time.Duration(instants * int64(time.Second) / int64(d.format.SampleRate)),
		})
		instants += int64(len(out) / d.format.Channels)
	}
}

// Close implements [audio.InputDevice]. It waits for an in-flight read to
// finish so that no callback fires after it returns.
func (d *Device) Close() error {
	return d.life.Close(func(bool) error {
		d.closing.Store(true)
		if d.running {
			<-d.done
			if err := d.stream.Stop(); err != nil {
				slog.Debug("audio stream stop", "device", d.name, "err", err)
			}
		}
		err := d.stream.Close()
		if terr := portaudio.Terminate(); terr != nil && err == nil {
			err = terr
		}
		slog.Info("audio input closed", "backend", "portaudio", "device", d.name)
		return err
	})
}
