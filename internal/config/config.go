// Package config provides the configuration schema, loader, and backend
// registry for the livevoice assistant.
package config

import "time"

// Defaults applied by [ApplyDefaults] to fields left empty.
const (
	DefaultListenAddr   = ":9090"
	DefaultModel        = "gemini-2.5-flash-native-audio-preview-12-2025"
	DefaultVoice        = "Puck"
	DefaultInstructions = "Você é o GastroMaster AI, um assistente especializado em gestão de restaurantes. Responda de forma concisa e profissional por voz."

	DefaultInputRate       = 16000
	DefaultOutputRate      = 24000
	DefaultFramesPerBuffer = 4096
	DefaultOutputBufferMS  = 100
	DefaultOutboundQueue   = 8
	DefaultInboundQueue    = 64
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// InputBackend names a microphone implementation.
type InputBackend string

const (
	InputMalgo     InputBackend = "malgo"
	InputPortAudio InputBackend = "portaudio"
)

// IsValid reports whether b is a recognised input backend.
func (b InputBackend) IsValid() bool {
	return b == InputMalgo || b == InputPortAudio
}

// OutputBackend names a speaker implementation.
type OutputBackend string

const OutputOto OutputBackend = "oto"

// IsValid reports whether b is a recognised output backend.
func (b OutputBackend) IsValid() bool {
	return b == OutputOto
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Live    LiveConfig    `yaml:"live"`
	Audio   AudioConfig   `yaml:"audio"`
	Session SessionConfig `yaml:"session"`
}

// ServerConfig holds the ops HTTP listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /healthz, /readyz and /metrics.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`
}

// LiveConfig describes the remote realtime model and the conversation it
// should hold.
type LiveConfig struct {
	// Name selects the registered transport (e.g. "gemini-live").
	Name string `yaml:"name"`

	// APIKey authenticates against the service. When empty the GEMINI_API_KEY
	// or API_KEY environment variables are consulted.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the default WebSocket endpoint.
	BaseURL string `yaml:"base_url"`

	Model        string `yaml:"model"`
	Voice        string `yaml:"voice"`
	Instructions string `yaml:"instructions"`

	InputTranscription  bool `yaml:"input_transcription"`
	OutputTranscription bool `yaml:"output_transcription"`
}

// AudioConfig groups the two device sections.
type AudioConfig struct {
	Input  InputConfig  `yaml:"input"`
	Output OutputConfig `yaml:"output"`
}

// InputConfig selects and shapes the microphone.
type InputConfig struct {
	Backend InputBackend `yaml:"backend"`

	// Device is a case-insensitive substring of the device name. Empty picks
	// the system default.
	Device string `yaml:"device"`

	SampleRate      int `yaml:"sample_rate"`
	Channels        int `yaml:"channels"`
	FramesPerBuffer int `yaml:"frames_per_buffer"`
}

// OutputConfig selects and shapes the speaker.
type OutputConfig struct {
	Backend    OutputBackend `yaml:"backend"`
	SampleRate int           `yaml:"sample_rate"`
	Channels   int           `yaml:"channels"`

	// BufferMS is the driver buffer length in milliseconds.
	BufferMS int `yaml:"buffer_ms"`
}

// Buffer returns BufferMS as a duration.
func (o OutputConfig) Buffer() time.Duration {
	return time.Duration(o.BufferMS) * time.Millisecond
}

// SessionConfig bounds the queues between the stages of a session.
type SessionConfig struct {
	OutboundQueue int `yaml:"outbound_queue"`
	InboundQueue  int `yaml:"inbound_queue"`
}
