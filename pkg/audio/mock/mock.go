// Package mock provides in-memory implementations of [audio.InputDevice] and
// [audio.OutputDevice] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	in := &mock.InputDevice{FormatResult: audio.Format{SampleRate: 16000, Channels: 1}}
//	out := &mock.OutputDevice{}
//	// hand in.Opener() / out.Opener() to the code under test, then:
//	in.Emit(audio.Frame{Samples: samples, SampleRate: 16000, Channels: 1})
//	out.Advance(500 * time.Millisecond)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/gastromaster/livevoice/pkg/audio"
)

// ─── InputDevice ──────────────────────────────────────────────────────────────

// InputDevice is a mock implementation of [audio.InputDevice]. Frames are
// injected with [InputDevice.Emit], which invokes the registered callback on
// the caller's goroutine just as a real device would on its own.
type InputDevice struct {
	mu sync.Mutex

	// FormatResult is returned by [InputDevice.Format]. Defaults to 16 kHz mono.
	FormatResult audio.Format

	// OpenError is returned by the opener from [InputDevice.Opener].
	OpenError error

	// OpenGate, when non-nil, makes the opener wait until it is closed or the
	// context is done, like a permission prompt the user has not answered.
	OpenGate chan struct{}

	// StartError is returned by [InputDevice.Start].
	StartError error

	// CloseError is returned by the first [InputDevice.Close].
	CloseError error

	// BlockStart makes Start wait until Close is called and then fail with
	// [audio.ErrDeviceClosed], like a driver start losing a race with Close.
	BlockStart bool

	// CallCountOpen records how many times the opener was invoked.
	CallCountOpen int

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	onFrame  func(audio.Frame)
	onError  func(error)
	failed   bool
	closed   bool
	closedCh chan struct{}
}

// Opener returns an [audio.InputOpener] that yields d (or OpenError).
func (d *InputDevice) Opener() audio.InputOpener {
	return func(ctx context.Context) (audio.InputDevice, error) {
		d.mu.Lock()
		d.CallCountOpen++
		gate := d.OpenGate
		d.mu.Unlock()
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.OpenError != nil {
			return nil, d.OpenError
		}
		return d, nil
	}
}

// Format implements [audio.InputDevice].
func (d *InputDevice) Format() audio.Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FormatResult.SampleRate == 0 {
		return audio.Format{SampleRate: 16000, Channels: 1}
	}
	return d.FormatResult
}

// Start implements [audio.InputDevice].
func (d *InputDevice) Start(onFrame func(audio.Frame), onError func(error)) error {
	d.mu.Lock()
	d.CallCountStart++
	if d.BlockStart && !d.closed {
		closedCh := d.closedChLocked()
		d.mu.Unlock()
		<-closedCh
		return audio.ErrDeviceClosed
	}
	defer d.mu.Unlock()
	if d.StartError != nil {
		return d.StartError
	}
	if d.closed {
		return audio.ErrDeviceClosed
	}
	d.onFrame, d.onError = onFrame, onError
	return nil
}

func (d *InputDevice) closedChLocked() chan struct{} {
	if d.closedCh == nil {
		d.closedCh = make(chan struct{})
	}
	return d.closedCh
}

// Close implements [audio.InputDevice].
func (d *InputDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	if d.closed {
		return nil
	}
	d.closed = true
	d.onFrame, d.onError = nil, nil
	close(d.closedChLocked())
	return d.CloseError
}

// Fail reports err through the error callback, as a device that was
// unplugged mid-capture would. It reports false when the device is not
// started, is closed, or has already failed. No frame is delivered after it.
func (d *InputDevice) Fail(err error) bool {
	d.mu.Lock()
	if d.closed || d.failed || d.onError == nil {
		d.mu.Unlock()
		return false
	}
	d.failed = true
	onError := d.onError
	d.onFrame, d.onError = nil, nil
	d.mu.Unlock()
	onError(err)
	return true
}

// Emit delivers f to the capture callback. It reports false when the device
// is not started or already closed, mirroring a real device that has stopped
// firing callbacks. The device lock is held for the duration of the callback
// so that Close waits for an in-flight delivery, like a real driver.
func (d *InputDevice) Emit(f audio.Frame) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.onFrame == nil {
		return false
	}
	d.onFrame(f)
	return true
}

// Started reports whether Start succeeded and Close has not been called.
func (d *InputDevice) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.onFrame != nil && !d.closed
}

// OpenCalls returns CallCountOpen under the device lock.
func (d *InputDevice) OpenCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountOpen
}

// StartCalls returns CallCountStart under the device lock.
func (d *InputDevice) StartCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountStart
}

// Closed reports whether Close has been called.
func (d *InputDevice) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// ─── OutputDevice ─────────────────────────────────────────────────────────────

// Scheduled records one [OutputDevice.Schedule] call.
type Scheduled struct {
	At      time.Duration
	Samples []float32
}

// OutputDevice is a mock implementation of [audio.OutputDevice] with a
// manually driven clock.
type OutputDevice struct {
	mu sync.Mutex

	// FormatResult is returned by [OutputDevice.Format]. Defaults to 24 kHz mono.
	FormatResult audio.Format

	// OpenError is returned by the opener from [OutputDevice.Opener].
	OpenError error

	// ScheduleError is returned by [OutputDevice.Schedule].
	ScheduleError error

	// CallCountOpen records how many times the opener was invoked.
	CallCountOpen int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// ScheduleCalls records every successful Schedule call in order.
	ScheduleCalls []Scheduled

	now    time.Duration
	closed bool
}

// Opener returns an [audio.OutputOpener] that yields d (or OpenError).
func (d *OutputDevice) Opener() audio.OutputOpener {
	return func(context.Context) (audio.OutputDevice, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.CallCountOpen++
		if d.OpenError != nil {
			return nil, d.OpenError
		}
		return d, nil
	}
}

// Format implements [audio.OutputDevice].
func (d *OutputDevice) Format() audio.Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FormatResult.SampleRate == 0 {
		return audio.Format{SampleRate: 24000, Channels: 1}
	}
	return d.FormatResult
}

// Now implements [audio.OutputDevice].
func (d *OutputDevice) Now() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now
}

// SetNow moves the device clock to t.
func (d *OutputDevice) SetNow(t time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = t
}

// Advance moves the device clock forward by dt.
func (d *OutputDevice) Advance(dt time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now += dt
}

// Schedule implements [audio.OutputDevice].
func (d *OutputDevice) Schedule(at time.Duration, samples []float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return audio.ErrDeviceClosed
	}
	if d.ScheduleError != nil {
		return d.ScheduleError
	}
	d.ScheduleCalls = append(d.ScheduleCalls, Scheduled{At: at, Samples: samples})
	return nil
}

// Close implements [audio.OutputDevice].
func (d *OutputDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	d.closed = true
	return nil
}

// Schedules returns a copy of the recorded Schedule calls.
func (d *OutputDevice) Schedules() []Scheduled {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Scheduled, len(d.ScheduleCalls))
	copy(out, d.ScheduleCalls)
	return out
}

// Closed reports whether Close has been called.
func (d *OutputDevice) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
