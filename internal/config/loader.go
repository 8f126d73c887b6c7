package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// APIKeyEnv lists the environment variables consulted, in order, when
// live.api_key is empty.
var APIKeyEnv = []string{"GEMINI_API_KEY", "API_KEY"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and the API
// key from the environment, and validates the result. An empty document is
// a valid all-defaults config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	ResolveAPIKey(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv loads KEY=value files into the process environment. Missing files
// are skipped and variables that are already set are never overwritten, so
// the real environment wins over .env files.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("config: load env %q: %w", f, err)
		}
		slog.Debug("loaded environment file", "path", f)
	}
	return nil
}

// ResolveAPIKey fills cfg.Live.APIKey from [APIKeyEnv] when the file leaves
// it empty.
func ResolveAPIKey(cfg *Config) {
	if cfg.Live.APIKey != "" {
		return
	}
	for _, name := range APIKeyEnv {
		if v := os.Getenv(name); v != "" {
			cfg.Live.APIKey = v
			return
		}
	}
}

// ApplyDefaults fills every zero-valued field that has a default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	live := &cfg.Live
	if live.Name == "" {
		live.Name = "gemini-live"
	}
	if live.Model == "" {
		live.Model = DefaultModel
	}
	if live.Voice == "" {
		live.Voice = DefaultVoice
	}
	if live.Instructions == "" {
		live.Instructions = DefaultInstructions
	}

	in := &cfg.Audio.Input
	if in.Backend == "" {
		in.Backend = InputMalgo
	}
	if in.SampleRate == 0 {
		in.SampleRate = DefaultInputRate
	}
	if in.Channels == 0 {
		in.Channels = 1
	}
	if in.FramesPerBuffer == 0 {
		in.FramesPerBuffer = DefaultFramesPerBuffer
	}

	out := &cfg.Audio.Output
	if out.Backend == "" {
		out.Backend = OutputOto
	}
	if out.SampleRate == 0 {
		out.SampleRate = DefaultOutputRate
	}
	if out.Channels == 0 {
		out.Channels = 1
	}
	if out.BufferMS == 0 {
		out.BufferMS = DefaultOutputBufferMS
	}

	if cfg.Session.OutboundQueue == 0 {
		cfg.Session.OutboundQueue = DefaultOutboundQueue
	}
	if cfg.Session.InboundQueue == 0 {
		cfg.Session.InboundQueue = DefaultInboundQueue
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Live.APIKey == "" {
		slog.Warn("live.api_key is empty and no GEMINI_API_KEY or API_KEY is set; sessions will fail to connect")
	}

	in := cfg.Audio.Input
	if in.Backend != "" && !in.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("audio.input.backend %q is invalid; valid values: malgo, portaudio", in.Backend))
	}
	if in.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.input.sample_rate %d must be positive", in.SampleRate))
	}
	if in.Channels < 0 || in.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.input.channels %d is out of range [1, 2]", in.Channels))
	}
	if in.FramesPerBuffer < 0 {
		errs = append(errs, fmt.Errorf("audio.input.frames_per_buffer %d must be positive", in.FramesPerBuffer))
	}

	out := cfg.Audio.Output
	if out.Backend != "" && !out.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("audio.output.backend %q is invalid; valid values: oto", out.Backend))
	}
	if out.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.output.sample_rate %d must be positive", out.SampleRate))
	}
	if out.Channels < 0 || out.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.output.channels %d is out of range [1, 2]", out.Channels))
	}
	if out.BufferMS < 0 {
		errs = append(errs, fmt.Errorf("audio.output.buffer_ms %d must be positive", out.BufferMS))
	}

	if cfg.Session.OutboundQueue < 0 {
		errs = append(errs, fmt.Errorf("session.outbound_queue %d must be positive", cfg.Session.OutboundQueue))
	}
	if cfg.Session.InboundQueue < 0 {
		errs = append(errs, fmt.Errorf("session.inbound_queue %d must be positive", cfg.Session.InboundQueue))
	}

	return errors.Join(errs...)
}
