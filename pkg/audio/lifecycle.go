package audio

import (
	"errors"
	"sync"
)

// ErrAlreadyStarted is returned by [Lifecycle.Start] on its second call.
var ErrAlreadyStarted = errors.New("audio: device already started")

// Lifecycle orders the start and the release of a driver-backed device. The
// driver start and the driver release each run under one mutex, so a Close
// racing a Start either waits for the driver to finish starting or makes
// Start fail without touching the driver.
//
// Lifecycle is separate from any lock taken by the device's data callback,
// which may fire while the driver is starting.
type Lifecycle struct {
	mu      sync.Mutex
	started bool
	closed  bool
}

// Start runs start unless the device is closed or was started before.
func (l *Lifecycle) Start(start func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrDeviceClosed
	}
	if l.started {
		return ErrAlreadyStarted
	}
	l.started = true
	return start()
}

// Close runs release once. started reports whether Start reached the driver.
// Later calls return nil without running release.
func (l *Lifecycle) Close(release func(started bool) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return release(l.started)
}
