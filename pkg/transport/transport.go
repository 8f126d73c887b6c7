// Package transport defines the bidirectional message channel between a
// voice session and a remote conversational endpoint.
//
// A channel is opened with [Dialer.Connect], which returns a [Handle]
// immediately and reports the outcome through [Callbacks]. Outbound
// messages are queued by [Handle.Send] and written by the implementation in
// the background; inbound frames are decoded once into the closed [Message]
// union and delivered one at a time, in remote order.
//
// Callback contract for every implementation:
//
//   - OnOpen fires at most once, before any OnMessage.
//   - OnMessage calls never overlap and never follow OnError or OnClose.
//   - A failure to connect surfaces as OnError without a preceding OnOpen.
//   - OnError fires at most once; OnClose fires exactly once and is last.
//
// Handle methods may be called from inside callbacks.
package transport

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNotOpen is returned by Send before OnOpen has been delivered.
	ErrNotOpen = errors.New("transport: channel not open")

	// ErrClosed is returned by Send after the channel has closed.
	ErrClosed = errors.New("transport: channel closed")

	// ErrQueueFull is returned by Send when the outbound queue is at
	// capacity. The message is not queued; the channel stays usable.
	ErrQueueFull = errors.New("transport: outbound queue full")
)

// Error is a channel-level failure: dialing, writing, reading, or an error
// reported in-band by the remote endpoint. It terminates the channel.
type Error struct {
	// Op is one of "dial", "setup", "send", "receive", "remote".
	Op  string
	Err error
}

func (e *Error) Error() string { return "transport: " + e.Op + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// Modality is an output modality requested from the remote model.
type Modality string

const (
	ModalityAudio Modality = "AUDIO"
	ModalityText  Modality = "TEXT"
)

// Config is the per-connection configuration.
type Config struct {
	// Model selects the remote model. Empty uses the dialer's default.
	Model string

	// Voice names a prebuilt voice for synthesised speech.
	Voice string

	// Instructions is the system instruction for the conversation.
	Instructions string

	// Modalities lists the response modalities. Empty means audio only.
	Modalities []Modality

	// InputTranscription requests transcripts of the user's speech.
	InputTranscription bool

	// OutputTranscription requests transcripts of the model's speech.
	OutputTranscription bool

	// OutboundQueue bounds the number of messages waiting to be written.
	// Zero uses the implementation default.
	OutboundQueue int
}

// Callbacks receives channel lifecycle events and inbound messages. Nil
// fields are ignored.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(Message)
	OnError   func(error)
	OnClose   func()
}

// Handle is an open (or opening) channel.
type Handle interface {
	// Send queues msg for transmission without waiting for the network.
	Send(msg Message) error

	// Close terminates the channel. It does not wait for callbacks to
	// drain and is safe to call more than once.
	Close() error
}

// Dialer opens channels to one remote endpoint.
type Dialer interface {
	// Connect starts opening a channel and returns its handle at once.
	// ctx bounds the dial only; the channel lives until Close or failure.
	Connect(ctx context.Context, cfg Config, cb Callbacks) Handle
}

// ── Guard ──────────────────────────────────────────────────────────────────────

// Guard enforces the callback contract on behalf of an implementation. The
// implementation reports raw events and Guard drops the ones the contract
// forbids. Events must be reported from a single goroutine; the guard state
// itself is safe to query from any goroutine.
type Guard struct {
	cb Callbacks

	mu     sync.Mutex
	opened bool
	failed bool
	closed bool
}

// NewGuard wraps cb.
func NewGuard(cb Callbacks) *Guard {
	return &Guard{cb: cb}
}

// Open delivers OnOpen. It reports false, without delivering, if the channel
// already opened, failed, or closed.
func (g *Guard) Open() bool {
	g.mu.Lock()
	if g.opened || g.failed || g.closed {
		g.mu.Unlock()
		return false
	}
	g.opened = true
	g.mu.Unlock()

	if g.cb.OnOpen != nil {
		g.cb.OnOpen()
	}
	return true
}

// Message delivers OnMessage while the channel is open.
func (g *Guard) Message(m Message) {
	if !g.IsOpen() {
		return
	}
	if g.cb.OnMessage != nil {
		g.cb.OnMessage(m)
	}
}

// Fail delivers OnError once, unless the channel already closed.
func (g *Guard) Fail(err error) {
	g.mu.Lock()
	if g.failed || g.closed || err == nil {
		g.mu.Unlock()
		return
	}
	g.failed = true
	g.mu.Unlock()

	if g.cb.OnError != nil {
		g.cb.OnError(err)
	}
}

// Close delivers OnClose once. Nothing is delivered afterwards.
func (g *Guard) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.mu.Unlock()

	if g.cb.OnClose != nil {
		g.cb.OnClose()
	}
}

// IsOpen reports whether OnOpen was delivered and neither OnError nor
// OnClose has been.
func (g *Guard) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.opened && !g.failed && !g.closed
}
