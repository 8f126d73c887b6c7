package transport

import (
	"fmt"
	"mime"
	"strconv"
	"strings"

	"github.com/gastromaster/livevoice/pkg/audio"
)

// Kind discriminates the variants of [Message].
type Kind int

const (
	KindAudio Kind = iota
	KindText
	KindControl
	KindError
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindText:
		return "text"
	case KindControl:
		return "control"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Message is the closed set of values exchanged over a channel:
// [AudioMessage], [TextMessage], [ControlMessage] and [ErrorMessage].
// Remote frames are decoded into one of these exactly once, at the
// transport boundary.
type Message interface {
	Kind() Kind
	isMessage()
}

// AudioMessage carries one chunk of linear PCM16 audio.
type AudioMessage struct {
	Data       []byte
	SampleRate int
	Channels   int
	MIMEType   string
}

// NewAudioMessage wraps c with the matching PCM mime descriptor.
func NewAudioMessage(c audio.Chunk) AudioMessage {
	return AudioMessage{
		Data:       c.Data,
		SampleRate: c.SampleRate,
		Channels:   c.Channels,
		MIMEType:   PCMMIMEType(c.SampleRate),
	}
}

// Chunk returns the payload as an [audio.Chunk].
func (m AudioMessage) Chunk() audio.Chunk {
	return audio.Chunk{Data: m.Data, SampleRate: m.SampleRate, Channels: m.Channels}
}

func (AudioMessage) Kind() Kind { return KindAudio }
func (AudioMessage) isMessage() {}

// Role identifies who produced a [TextMessage].
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// TextMessage carries text: model output, or a transcription of either side.
type TextMessage struct {
	Role Role
	Text string

	// Transcript is set when the text transcribes audio rather than being a
	// standalone text part.
	Transcript bool
}

func (TextMessage) Kind() Kind { return KindText }
func (TextMessage) isMessage() {}

// ControlKind enumerates turn and connection signals from the remote side.
type ControlKind int

const (
	// ControlTurnComplete marks the end of a model turn.
	ControlTurnComplete ControlKind = iota + 1

	// ControlInterrupted reports that the model stopped its turn because the
	// user started speaking.
	ControlInterrupted

	// ControlGenerationComplete reports the model has produced all output
	// for the turn; audio may still be in flight.
	ControlGenerationComplete

	// ControlGoAway warns that the remote will close the connection soon.
	ControlGoAway
)

// String returns the snake_case name of the control kind.
func (c ControlKind) String() string {
	switch c {
	case ControlTurnComplete:
		return "turn_complete"
	case ControlInterrupted:
		return "interrupted"
	case ControlGenerationComplete:
		return "generation_complete"
	case ControlGoAway:
		return "go_away"
	default:
		return "unknown"
	}
}

// ControlMessage is a turn or connection signal without payload.
type ControlMessage struct {
	Control ControlKind
}

func (ControlMessage) Kind() Kind { return KindControl }
func (ControlMessage) isMessage() {}

// ErrorMessage is an error reported in-band by the remote endpoint.
type ErrorMessage struct {
	Code    int
	Status  string
	Message string
}

// Err converts the message into a transport [*Error].
func (m ErrorMessage) Err() error {
	text := m.Message
	if text == "" {
		text = "unknown error"
	}
	if m.Status != "" {
		text = m.Status + ": " + text
	}
	return &Error{Op: "remote", Err: fmt.Errorf("%s (code %d)", text, m.Code)}
}

func (ErrorMessage) Kind() Kind { return KindError }
func (ErrorMessage) isMessage() {}

// PCMMIMEType returns the descriptor for raw PCM16 at rate, e.g.
// "audio/pcm;rate=16000".
func PCMMIMEType(rate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(rate)
}

// ParsePCMMIMEType extracts the sample rate from a descriptor such as
// "audio/pcm;rate=24000". A missing rate yields def.
func ParsePCMMIMEType(s string, def int) (int, error) {
	mediaType, params, err := mime.ParseMediaType(s)
	if err != nil {
		return 0, fmt.Errorf("transport: parse mime %q: %w", s, err)
	}
	if !strings.HasPrefix(mediaType, "audio/pcm") && mediaType != "audio/l16" {
		return 0, fmt.Errorf("transport: unsupported audio mime %q", mediaType)
	}
	raw, ok := params["rate"]
	if !ok {
		return def, nil
	}
	rate, err := strconv.Atoi(raw)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("transport: invalid rate %q in mime %q", raw, s)
	}
	return rate, nil
}
