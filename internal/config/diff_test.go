package config_test

import (
	"slices"
	"testing"

	"github.com/gastromaster/livevoice/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged || d.LiveChanged || d.SessionChanged {
		t.Errorf("expected no changes, got %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_LiveSettings(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Live.Voice = "Kore"
	new.Live.Instructions = "Answer in English."
	new.Live.OutputTranscription = true

	d := config.Diff(old, new)
	if !d.LiveChanged {
		t.Fatal("expected LiveChanged=true")
	}
	want := []string{"voice", "instructions", "output_transcription"}
	if !slices.Equal(d.LiveChanges, want) {
		t.Errorf("LiveChanges = %v, want %v", d.LiveChanges, want)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.ListenAddr = ":9999"
	new.Live.APIKey = "rotated"
	new.Audio.Input.Device = "USB"
	new.Session.InboundQueue = 8

	d := config.Diff(old, new)
	want := []string{"server.listen_addr", "live.transport", "audio"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if !d.SessionChanged {
		t.Error("expected SessionChanged=true")
	}
	if d.LiveChanged {
		t.Error("API key rotation should not count as a live setting change")
	}
}
