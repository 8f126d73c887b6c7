package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/gastromaster/livevoice/internal/app"
	"github.com/gastromaster/livevoice/pkg/audio"
	"github.com/gastromaster/livevoice/pkg/transport"
)

const keyCtrlC = 0x03

// console is the operator's terminal. While stdin is in raw mode the kernel
// no longer translates "\n", so every write goes through Write, which emits
// "\r\n" instead.
type console struct {
	in  *os.File
	out io.Writer

	mu  sync.Mutex
	raw bool
}

func newConsole(in *os.File, out io.Writer) *console {
	return &console{in: in, out: out}
}

// Interactive reports whether stdin is a terminal.
func (c *console) Interactive() bool {
	return term.IsTerminal(int(c.in.Fd()))
}

// MakeRaw puts stdin into raw mode so single key presses are delivered
// without Enter. The returned func restores the previous mode.
func (c *console) MakeRaw() (restore func(), err error) {
	fd := int(c.in.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.raw = true
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.raw = false
		c.mu.Unlock()
		_ = term.Restore(fd, state)
	}, nil
}

func (c *console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.raw {
		return c.out.Write(p)
	}
	if _, err := c.out.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Printf writes one status line.
func (c *console) Printf(format string, args ...any) {
	fmt.Fprintf(c, "» "+format+"\n", args...)
}

// Transcript prints text from either side of the conversation.
func (c *console) Transcript(m transport.TextMessage) {
	who := "assistant"
	if m.Role == transport.RoleUser {
		who = "you"
	}
	fmt.Fprintf(c, "%s: %s\n", who, m.Text)
}

// SessionEnded reports how a session finished.
func (c *console) SessionEnded(info app.SessionInfo) {
	switch {
	case info.Err == nil:
		c.Printf("session ended")
	case errors.Is(info.Err, audio.ErrPermission):
		c.Printf("microphone unavailable: %v", info.Err)
	default:
		c.Printf("session ended with error: %v", info.Err)
	}
}

// Keys reads key presses until ctx ends or stdin closes. Space and Enter
// call toggle; q and Ctrl+C call quit.
func (c *console) Keys(ctx context.Context, toggle, quit func()) {
	r := bufio.NewReader(c.in)
	for ctx.Err() == nil {
		b, err := r.ReadByte()
		if err != nil {
			quit()
			return
		}
		switch b {
		case ' ', '\r', '\n':
			toggle()
		case 'q', 'Q', keyCtrlC:
			quit()
			return
		}
	}
}
