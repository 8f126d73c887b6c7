// Package mock provides an in-memory [transport.Dialer] for unit tests.
//
// The test drives the remote side explicitly: [Handle.Open], [Handle.Deliver],
// [Handle.Fail] and [Handle.CloseRemote] deliver callbacks synchronously on
// the test goroutine, serialised with each other, and return once the
// callback has run. [Handle.Close] (the local side) delivers OnClose on a
// separate goroutine, mirroring real implementations that never call back
// from inside Close.
//
// Typical usage:
//
//	d := &mock.Dialer{}
//	// hand d to the code under test, trigger a connect, then:
//	h := d.Last()
//	h.Open()
//	h.Deliver(transport.AudioMessage{...})
package mock

import (
	"context"
	"sync"

	"github.com/gastromaster/livevoice/pkg/transport"
)

// Dialer is a mock implementation of [transport.Dialer].
type Dialer struct {
	mu sync.Mutex

	// AutoOpen makes every new handle deliver OnOpen right after Connect.
	AutoOpen bool

	// SendError, when non-nil, is returned by Send on every handle.
	SendError error

	// QueueLimit caps the number of accepted sends per handle; further sends
	// return [transport.ErrQueueFull]. Zero means unlimited.
	QueueLimit int

	// Configs records the config of every Connect call.
	Configs []transport.Config

	handles   []*Handle
	connected chan *Handle
}

// Connect implements [transport.Dialer].
func (d *Dialer) Connect(_ context.Context, cfg transport.Config, cb transport.Callbacks) transport.Handle {
	d.mu.Lock()
	h := &Handle{
		guard:      transport.NewGuard(cb),
		sendErr:    d.SendError,
		queueLimit: d.QueueLimit,
		done:       make(chan struct{}),
	}
	d.Configs = append(d.Configs, cfg)
	d.handles = append(d.handles, h)
	ch := d.connectedLocked()
	autoOpen := d.AutoOpen
	d.mu.Unlock()

	select {
	case ch <- h:
	default:
	}
	if autoOpen {
		go h.Open()
	}
	return h
}

// Connected returns a channel that receives each new handle. It is buffered;
// handles are dropped when nobody drains it.
func (d *Dialer) Connected() <-chan *Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connectedLocked()
}

func (d *Dialer) connectedLocked() chan *Handle {
	if d.connected == nil {
		d.connected = make(chan *Handle, 16)
	}
	return d.connected
}

// Handles returns every handle created so far, oldest first.
func (d *Dialer) Handles() []*Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Handle(nil), d.handles...)
}

// Last returns the most recent handle, or nil.
func (d *Dialer) Last() *Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.handles) == 0 {
		return nil
	}
	return d.handles[len(d.handles)-1]
}

// CallCountConnect returns how many times Connect was called.
func (d *Dialer) CallCountConnect() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handles)
}

// ─── Handle ──────────────────────────────────────────────────────────────────

// Handle is a mock [transport.Handle] whose remote side is driven by the test.
type Handle struct {
	guard *transport.Guard

	// events serialises callback delivery.
	events sync.Mutex

	mu         sync.Mutex
	sendErr    error
	queueLimit int
	sent       []transport.Message
	closed     bool
	closeCalls int
	done       chan struct{}
	doneOnce   sync.Once
}

func (h *Handle) deliver(fn func()) {
	h.events.Lock()
	defer h.events.Unlock()
	fn()
}

// Open delivers OnOpen and reports whether it was delivered.
func (h *Handle) Open() bool {
	var ok bool
	h.deliver(func() { ok = h.guard.Open() })
	return ok
}

// Deliver hands each message to OnMessage in order.
func (h *Handle) Deliver(msgs ...transport.Message) {
	h.deliver(func() {
		for _, m := range msgs {
			h.guard.Message(m)
		}
	})
}

// Fail delivers OnError followed by OnClose, as a real channel does when the
// connection breaks.
func (h *Handle) Fail(err error) {
	h.deliver(func() {
		h.guard.Fail(err)
		h.closeGuard()
	})
}

// CloseRemote delivers OnClose without an error, as for a clean remote close.
func (h *Handle) CloseRemote() {
	h.deliver(h.closeGuard)
}

func (h *Handle) closeGuard() {
	h.guard.Close()
	h.doneOnce.Do(func() { close(h.done) })
}

// Done is closed once OnClose has been delivered.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Send implements [transport.Handle].
func (h *Handle) Send(msg transport.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case h.closed:
		return transport.ErrClosed
	case h.sendErr != nil:
		return h.sendErr
	}
	if !h.guard.IsOpen() {
		select {
		case <-h.done:
			return transport.ErrClosed
		default:
			return transport.ErrNotOpen
		}
	}
	if h.queueLimit > 0 && len(h.sent) >= h.queueLimit {
		return transport.ErrQueueFull
	}
	h.sent = append(h.sent, msg)
	return nil
}

// Close implements [transport.Handle]. OnClose is delivered asynchronously.
func (h *Handle) Close() error {
	h.mu.Lock()
	h.closeCalls++
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	go h.deliver(h.closeGuard)
	return nil
}

// Sent returns a copy of every accepted message.
func (h *Handle) Sent() []transport.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]transport.Message(nil), h.sent...)
}

// Closed reports whether Close was called locally.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// CallCountClose returns how many times Close was called.
func (h *Handle) CallCountClose() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closeCalls
}
