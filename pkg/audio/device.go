// Package audio defines the sample types, PCM16 codec, and device
// abstractions shared by the capture and playback stages.
//
// The two device abstractions are:
//
//   - [InputDevice]: a microphone that pushes fixed-size [Frame]s from its
//     own callback goroutine.
//   - [OutputDevice]: a speaker with its own clock onto which decoded
//     buffers are scheduled at absolute positions.
//
// Concrete backends live in sub-packages (malgo, portaudio, oto). Openers
// acquire the device; failing to acquire an input is reported as
// [ErrPermission] so callers can tell a denied microphone from a crash.
package audio

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermission reports that an audio device could not be acquired:
	// access was denied or no matching device exists.
	ErrPermission = errors.New("audio: device unavailable or permission denied")

	// ErrDeviceClosed is returned by device methods after Close.
	ErrDeviceClosed = errors.New("audio: device closed")

	// ErrDeviceLost reports that a started device stopped delivering audio
	// without being closed, for example because it was unplugged.
	ErrDeviceLost = errors.New("audio: device lost")
)

// InputDevice is an opened capture device.
//
// Implementations must be safe for concurrent use.
type InputDevice interface {
	// Format reports the format of frames passed to the Start callback.
	Format() Format

	// Start begins capture. onFrame is called from the device's callback
	// goroutine once per period; it must return quickly and must not retain
	// the frame's sample slice past the next call unless it owns a copy.
	//
	// onError is called at most once, when capture fails after Start has
	// returned. No onFrame call follows it. The device still has to be
	// closed. onError must not block.
	//
	// Start may be called at most once. Start and Close may race: a Close
	// that wins makes Start return [ErrDeviceClosed].
	Start(onFrame func(Frame), onError func(error)) error

	// Close stops capture and releases the device. When Close returns no
	// further onFrame calls will be made. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// OutputDevice is an opened playback device with a monotonic clock.
//
// Implementations must be safe for concurrent use.
type OutputDevice interface {
	// Format reports the sample format expected by Schedule.
	Format() Format

	// Now returns the device's current playback position measured from the
	// moment it was opened.
	Now() time.Duration

	// Schedule queues interleaved samples to begin playing at the absolute
	// device time at. The caller guarantees that scheduled spans do not
	// overlap.
	Schedule(at time.Duration, samples []float32) error

	// Close stops playback, discards anything still scheduled, and releases
	// the device. Calling Close more than once is safe and returns nil.
	Close() error
}

// InputOpener acquires an input device.
type InputOpener func(ctx context.Context) (InputDevice, error)

// OutputOpener acquires an output device.
type OutputOpener func(ctx context.Context) (OutputDevice, error)
