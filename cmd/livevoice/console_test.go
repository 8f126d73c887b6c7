package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gastromaster/livevoice/internal/app"
	"github.com/gastromaster/livevoice/internal/config"
	"github.com/gastromaster/livevoice/pkg/audio"
	"github.com/gastromaster/livevoice/pkg/transport"
)

func TestConsole_RawWriteUsesCRLF(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	c := newConsole(os.Stdin, &out)

	c.Printf("cooked")
	c.raw = true
	n, err := c.Write([]byte("a\nb\n"))
	if err != nil || n != 4 {
		t.Fatalf("Write = (%d, %v), want (4, nil)", n, err)
	}
	if got, want := out.String(), "» cooked\na\r\nb\r\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestConsole_Transcript(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	c := newConsole(os.Stdin, &out)

	c.Transcript(transport.TextMessage{Role: transport.RoleUser, Text: "Quero uma receita", Transcript: true})
	c.Transcript(transport.TextMessage{Role: transport.RoleModel, Text: "Claro!"})
	if got, want := out.String(), "you: Quero uma receita\nassistant: Claro!\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestConsole_SessionEnded(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want string
	}{
		{nil, "session ended"},
		{audio.ErrPermission, "microphone unavailable"},
		{errors.New("boom"), "session ended with error: boom"},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		newConsole(os.Stdin, &out).SessionEnded(app.SessionInfo{Err: tt.err})
		if !strings.Contains(out.String(), tt.want) {
			t.Errorf("SessionEnded(%v) = %q, want it to contain %q", tt.err, out.String(), tt.want)
		}
	}
}

func TestConsole_Keys(t *testing.T) {
	t.Parallel()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	c := newConsole(r, &bytes.Buffer{})
	toggles := make(chan struct{}, 8)
	quit := make(chan struct{})
	go c.Keys(context.Background(), func() { toggles <- struct{}{} }, func() { close(quit) })

	if _, err := w.Write([]byte(" x\rq")); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case <-quit:
	case <-time.After(2 * time.Second):
		t.Fatal("q did not quit")
	}
	if got := len(toggles); got != 2 {
		t.Errorf("toggles = %d, want 2 (space and enter)", got)
	}
}

func TestBuildBackends_UnknownTransport(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	cfg := &config.Config{Live: config.LiveConfig{APIKey: "k"}}
	config.ApplyDefaults(cfg)
	cfg.Live.Name = "carrier-pigeon"

	_, err := buildBackends(cfg, reg)
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Fatalf("err = %v, want ErrBackendNotRegistered", err)
	}
	if !strings.Contains(err.Error(), "carrier-pigeon") {
		t.Errorf("err = %q should name the transport", err)
	}
}

func TestBuildBackends_Defaults(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	cfg := &config.Config{Live: config.LiveConfig{APIKey: "k"}}
	config.ApplyDefaults(cfg)

	b, err := buildBackends(cfg, reg)
	if err != nil {
		t.Fatalf("buildBackends: %v", err)
	}
	if b.Input == nil || b.Output == nil || b.Dialer == nil || b.InputProbe == nil {
		t.Errorf("backends = %+v, want all set", b)
	}
}
