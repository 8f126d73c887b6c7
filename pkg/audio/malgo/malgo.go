// Package malgo implements [audio.InputDevice] with miniaudio through the
// malgo bindings. Driver periods of any size are regrouped into fixed
// windows with an [audio.Framer].
package malgo

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/gastromaster/livevoice/pkg/audio"
	"github.com/gen2brain/malgo"
)

var _ audio.InputDevice = (*Device)(nil)

// Config selects and shapes the capture stream.
type Config struct {
	// DeviceName selects the first capture device whose name contains this
	// string (case-insensitive). Empty selects the system default.
	DeviceName string

	SampleRate      int
	Channels        int
	FramesPerBuffer int
}

// Device is an opened miniaudio capture device.
type Device struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	format audio.Format
	framer *audio.Framer
	name   string

	life audio.Lifecycle

	// mu guards the callback state. The driver callbacks take it, so it is
	// never held while the driver starts or is torn down.
	mu      sync.Mutex
	onFrame func(audio.Frame)
	onError func(error)
	closed  bool
}

// Opener returns an [audio.InputOpener] for cfg.
func Opener(cfg Config) audio.InputOpener {
	return func(_ context.Context) (audio.InputDevice, error) {
		return Open(cfg)
	}
}

// Open initialises a miniaudio context and a capture device delivering
// 32-bit float samples. Any failure to reach the device is reported as
// [audio.ErrPermission].
func Open(cfg Config) (*Device, error) {
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("malgo", "msg", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w: %w", audio.ErrPermission, err)
	}

	d := &Device{
		ctx:    mctx,
		format: audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels},
		framer: audio.NewFramer(audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}, cfg.FramesPerBuffer),
		name:   "default",
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatF32
	devCfg.Capture.Channels = uint32(cfg.Channels)
	devCfg.SampleRate = uint32(cfg.SampleRate)
	devCfg.PeriodSizeInFrames = uint32(cfg.FramesPerBuffer)
	devCfg.Alsa.NoMMap = 1

	if cfg.DeviceName != "" {
		info, err := findDevice(mctx, cfg.DeviceName)
		if err != nil {
			d.freeContext()
			return nil, fmt.Errorf("malgo: %w: %w", audio.ErrPermission, err)
		}
		devCfg.Capture.DeviceID = info.ID.Pointer()
		d.name = info.Name()
	}

	dev, err := malgo.InitDevice(mctx.Context, devCfg, malgo.DeviceCallbacks{
		Data: d.onData,
		Stop: d.onStop,
	})
	if err != nil {
		d.freeContext()
		return nil, fmt.Errorf("malgo: init device %q: %w: %w", d.name, audio.ErrPermission, err)
	}
	d.device = dev

	slog.Info("audio input opened", "backend", "malgo", "device", d.name,
		"sample_rate", cfg.SampleRate, "frames_per_buffer", cfg.FramesPerBuffer)
	return d, nil
}

// Probe reports whether a capture device matching cfg is present, without
// opening it.
func Probe(cfg Config) error {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("malgo: init context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	if cfg.DeviceName != "" {
		_, err := findDevice(mctx, cfg.DeviceName)
		return err
	}
	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return fmt.Errorf("malgo: list devices: %w", err)
	}
	if len(infos) == 0 {
		return errors.New("malgo: no capture devices")
	}
	return nil
}

func findDevice(mctx *malgo.AllocatedContext, name string) (malgo.DeviceInfo, error) {
	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceInfo{}, err
	}
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), strings.ToLower(name)) {
			return info, nil
		}
	}
	return malgo.DeviceInfo{}, fmt.Errorf("no capture device matching %q", name)
}

// Format implements [audio.InputDevice].
func (d *Device) Format() audio.Format { return d.format }

// Start implements [audio.InputDevice].
func (d *Device) Start(onFrame func(audio.Frame), onError func(error)) error {
	err := d.life.Start(func() error {
		d.mu.Lock()
		d.onFrame, d.onError = onFrame, onError
		d.mu.Unlock()
		return d.device.Start()
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, audio.ErrDeviceClosed):
		return err
	default:
		return fmt.Errorf("malgo: start %q: %w", d.name, err)
	}
}

// onData runs on the miniaudio callback thread.
func (d *Device) onData(_, input []byte, _ uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.onFrame == nil {
		return
	}
	samples := make([]float32, len(input)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(input[i*4:]))
	}
	d.framer.Push(samples, d.onFrame)
}

// onStop runs when miniaudio stops the device. Outside Close that means the
// device went away.
func (d *Device) onStop() {
	d.mu.Lock()
	if d.closed || d.onError == nil {
		d.mu.Unlock()
		return
	}
	onError := d.onError
	d.onFrame, d.onError = nil, nil
	d.mu.Unlock()

	slog.Warn("audio input stopped unexpectedly", "backend", "malgo", "device", d.name)
	onError(fmt.Errorf("malgo: %q: %w", d.name, audio.ErrDeviceLost))
}

// Close implements [audio.InputDevice]. Uninit joins the callback thread, so
// no frame is delivered after Close returns.
func (d *Device) Close() error {
	return d.life.Close(func(bool) error {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		d.device.Uninit()
		d.freeContext()
		slog.Info("audio input closed", "backend", "malgo", "device", d.name)
		return nil
	})
}

func (d *Device) freeContext() {
	if err := d.ctx.Uninit(); err != nil {
		slog.Debug("malgo: context uninit", "err", err)
	}
	d.ctx.Free()
}
