package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gastromaster/livevoice/internal/config"
	"github.com/gastromaster/livevoice/pkg/audio"
	audiomock "github.com/gastromaster/livevoice/pkg/audio/mock"
	"github.com/gastromaster/livevoice/pkg/transport"
	transportmock "github.com/gastromaster/livevoice/pkg/transport/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":8080"
  log_level: debug

live:
  name: gemini-live
  api_key: test-key
  model: gemini-test
  voice: Kore
  instructions: Be brief.
  input_transcription: true
  output_transcription: true

audio:
  input:
    backend: portaudio
    device: USB
    sample_rate: 48000
    channels: 2
    frames_per_buffer: 1024
  output:
    backend: oto
    sample_rate: 24000
    channels: 1
    buffer_ms: 60

session:
  outbound_queue: 4
  inbound_queue: 32
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	want := config.LiveConfig{
		Name:                "gemini-live",
		APIKey:              "test-key",
		Model:               "gemini-test",
		Voice:               "Kore",
		Instructions:        "Be brief.",
		InputTranscription:  true,
		OutputTranscription: true,
	}
	if cfg.Live != want {
		t.Errorf("live = %+v, want %+v", cfg.Live, want)
	}
	in := cfg.Audio.Input
	if in.Backend != config.InputPortAudio || in.Device != "USB" || in.SampleRate != 48000 || in.Channels != 2 || in.FramesPerBuffer != 1024 {
		t.Errorf("audio.input = %+v", in)
	}
	out := cfg.Audio.Output
	if out.Backend != config.OutputOto || out.Buffer() != 60*time.Millisecond {
		t.Errorf("audio.output = %+v", out)
	}
	if cfg.Session.OutboundQueue != 4 || cfg.Session.InboundQueue != 32 {
		t.Errorf("session = %+v", cfg.Session)
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Live.Name != "gemini-live" || cfg.Live.Model != config.DefaultModel || cfg.Live.Voice != config.DefaultVoice {
		t.Errorf("live = %+v", cfg.Live)
	}
	if cfg.Live.Instructions != config.DefaultInstructions {
		t.Errorf("instructions = %q", cfg.Live.Instructions)
	}
	if cfg.Audio.Input.Backend != config.InputMalgo || cfg.Audio.Input.SampleRate != 16000 || cfg.Audio.Input.Channels != 1 {
		t.Errorf("audio.input = %+v", cfg.Audio.Input)
	}
	if cfg.Audio.Output.SampleRate != 24000 || cfg.Audio.Output.Buffer() != 100*time.Millisecond {
		t.Errorf("audio.output = %+v", cfg.Audio.Output)
	}
	if cfg.Session.OutboundQueue != config.DefaultOutboundQueue || cfg.Session.InboundQueue != config.DefaultInboundQueue {
		t.Errorf("session = %+v", cfg.Session)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("live:\n  voise: Puck\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "voise") {
		t.Errorf("error should name the field, got: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/livevoice.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("../../configs/example.yaml")
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if cfg.Audio.Input.SampleRate != config.DefaultInputRate || cfg.Audio.Output.SampleRate != config.DefaultOutputRate {
		t.Errorf("rates = %d/%d", cfg.Audio.Input.SampleRate, cfg.Audio.Output.SampleRate)
	}
	if !strings.HasPrefix(cfg.Live.Instructions, "Você é o GastroMaster AI") {
		t.Errorf("instructions = %q", cfg.Live.Instructions)
	}
}

// ── typed enums ───────────────────────────────────────────────────────────────

func TestEnums_IsValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		got  bool
		want bool
	}{
		{"log debug", config.LogDebug.IsValid(), true},
		{"log error", config.LogError.IsValid(), true},
		{"log verbose", config.LogLevel("verbose").IsValid(), false},
		{"input malgo", config.InputMalgo.IsValid(), true},
		{"input portaudio", config.InputPortAudio.IsValid(), true},
		{"input pulse", config.InputBackend("pulse").IsValid(), false},
		{"output oto", config.OutputOto.IsValid(), true},
		{"output alsa", config.OutputBackend("alsa").IsValid(), false},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: IsValid = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

// ── registry ──────────────────────────────────────────────────────────────────

func TestRegistry_Input(t *testing.T) {
	t.Parallel()

	dev := &audiomock.InputDevice{}
	reg := config.NewRegistry()
	var seen config.InputConfig
	reg.RegisterInput(config.InputMalgo, func(c config.InputConfig) (audio.InputOpener, error) {
		seen = c
		return dev.Opener(), nil
	})

	open, err := reg.CreateInput(config.InputConfig{Backend: config.InputMalgo, Device: "mic"})
	if err != nil {
		t.Fatalf("CreateInput: %v", err)
	}
	if seen.Device != "mic" {
		t.Errorf("factory got %+v", seen)
	}
	got, err := open(context.Background())
	if err != nil {
		t.Fatalf("opener: %v", err)
	}
	if got != dev {
		t.Error("opener returned a different device")
	}
}

func TestRegistry_OutputAndTransport(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	reg.RegisterOutput(config.OutputOto, func(config.OutputConfig) (audio.OutputOpener, error) {
		return (&audiomock.OutputDevice{}).Opener(), nil
	})
	dialer := &transportmock.Dialer{}
	reg.RegisterTransport("gemini-live", func(config.LiveConfig) (transport.Dialer, error) {
		return dialer, nil
	})

	if _, err := reg.CreateOutput(config.OutputConfig{Backend: config.OutputOto}); err != nil {
		t.Errorf("CreateOutput: %v", err)
	}
	got, err := reg.CreateTransport(config.LiveConfig{Name: "gemini-live"})
	if err != nil {
		t.Fatalf("CreateTransport: %v", err)
	}
	if got != dialer {
		t.Error("CreateTransport returned a different dialer")
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	tests := []struct {
		name string
		call func() error
	}{
		{"input", func() error { _, err := reg.CreateInput(config.InputConfig{Backend: config.InputPortAudio}); return err }},
		{"output", func() error { _, err := reg.CreateOutput(config.OutputConfig{Backend: config.OutputOto}); return err }},
		{"transport", func() error { _, err := reg.CreateTransport(config.LiveConfig{Name: "other"}); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.call(); !errors.Is(err, config.ErrBackendNotRegistered) {
				t.Errorf("err = %v, want ErrBackendNotRegistered", err)
			}
		})
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	reg.RegisterInput(config.InputMalgo, func(config.InputConfig) (audio.InputOpener, error) {
		return nil, audio.ErrPermission
	})
	if _, err := reg.CreateInput(config.InputConfig{Backend: config.InputMalgo}); !errors.Is(err, audio.ErrPermission) {
		t.Errorf("err = %v, want ErrPermission", err)
	}
}
