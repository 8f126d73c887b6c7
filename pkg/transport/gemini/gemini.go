// Package gemini implements [transport.Dialer] for Google's Gemini Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live endpoint
// and exchanges JSON messages according to the BidiGenerateContent protocol.
// Audio is transmitted as base64-encoded PCM chunks. Every server frame is
// decoded into [transport.Message] values before it reaches the caller.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gastromaster/livevoice/pkg/transport"
)

// Compile-time assertions that Dialer and channel satisfy the transport interfaces.
var _ transport.Dialer = (*Dialer)(nil)
var _ transport.Handle = (*channel)(nil)

const (
	defaultModel   = "gemini-2.5-flash-native-audio-preview-12-2025"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	// defaultOutputRate is the rate Gemini Live uses for synthesised speech
	// when the inline data mime type does not carry one.
	defaultOutputRate = 24000

	defaultOutboundQueue = 8

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
	writeTimeout      = 10 * time.Second
)

// DialGuard gates dial attempts. A circuit breaker is the usual
// implementation: when it refuses, Execute returns an error without calling fn.
type DialGuard interface {
	Execute(fn func() error) error
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Dialer.
type Option func(*Dialer)

// WithModel sets the default Gemini model used when [transport.Config.Model]
// is empty.
func WithModel(model string) Option {
	return func(d *Dialer) { d.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(d *Dialer) { d.baseURL = url }
}

// WithDialGuard routes every dial attempt through g.
func WithDialGuard(g DialGuard) Option {
	return func(d *Dialer) { d.guard = g }
}

// ── Dialer ─────────────────────────────────────────────────────────────────────

// Dialer opens Gemini Live channels.
type Dialer struct {
	apiKey  string
	model   string
	baseURL string
	guard   DialGuard
}

// New creates a Dialer with the given API key and options.
func New(apiKey string, opts ...Option) *Dialer {
	d := &Dialer{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Connect starts dialing in the background and returns the channel handle.
// The channel reports OnOpen once the server acknowledges the setup message.
func (d *Dialer) Connect(ctx context.Context, cfg transport.Config, cb transport.Callbacks) transport.Handle {
	queue := cfg.OutboundQueue
	if queue <= 0 {
		queue = defaultOutboundQueue
	}
	chCtx, chCancel := context.WithCancel(context.Background())
	ch := &channel{
		guard:  transport.NewGuard(cb),
		out:    make(chan []byte, queue),
		ctx:    chCtx,
		cancel: chCancel,
	}
	go ch.run(ctx, d, cfg)
	return ch
}

func (d *Dialer) dial(ctx context.Context) (*websocket.Conn, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		d.baseURL, d.apiKey,
	)

	var conn *websocket.Conn
	dialFn := func() error {
		c, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
			HTTPHeader: http.Header{
				"Content-Type": []string{"application/json"},
			},
		})
		if err != nil {
			return err
		}
		conn = c
		return nil
	}

	var err error
	if d.guard != nil {
		err = d.guard.Execute(dialFn)
	} else {
		err = dialFn()
	}
	if err != nil {
		return nil, err
	}
	// Audio replies can be large; the library default of 32 KiB is too small.
	conn.SetReadLimit(16 << 20)
	return conn, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string             `json:"model"`
	GenerationConfig         generationConfig   `json:"generationConfig"`
	SystemInstruction        *systemInstruction `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}          `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}          `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type clientContentMessage struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	Turns        []contentTurn `json:"turns"`
	TurnComplete bool          `json:"turnComplete"`
}

type contentTurn struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	GoAway        *json.RawMessage `json:"goAway,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	GenerationComplete  bool           `json:"generationComplete,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text string `json:"text"`
}

// ── Encoding ───────────────────────────────────────────────────────────────────

func setupFor(model string, cfg transport.Config) setupMessage {
	if cfg.Model != "" {
		model = cfg.Model
	}
	modalities := []string{string(transport.ModalityAudio)}
	if len(cfg.Modalities) > 0 {
		modalities = modalities[:0]
		for _, m := range cfg.Modalities {
			modalities = append(modalities, string(m))
		}
	}

	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: modalities,
			},
		},
	}
	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: cfg.Instructions}},
		}
	}
	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.InputTranscription {
		msg.Setup.InputAudioTranscription = &struct{}{}
	}
	if cfg.OutputTranscription {
		msg.Setup.OutputAudioTranscription = &struct{}{}
	}
	return msg
}

// encodeMessage renders an outbound message as a JSON frame.
func encodeMessage(m transport.Message) ([]byte, error) {
	var v any
	switch m := m.(type) {
	case transport.AudioMessage:
		mimeType := m.MIMEType
		if mimeType == "" {
			mimeType = transport.PCMMIMEType(m.SampleRate)
		}
		v = realtimeInputMessage{
			RealtimeInput: realtimeInput{
				MediaChunks: []mediaChunk{
					{MIMEType: mimeType, Data: base64.StdEncoding.EncodeToString(m.Data)},
				},
			},
		}
	case transport.TextMessage:
		v = clientContentMessage{
			ClientContent: clientContent{
				Turns:        []contentTurn{{Role: "user", Parts: []part{{Text: m.Text}}}},
				TurnComplete: true,
			},
		}
	default:
		return nil, fmt.Errorf("gemini: cannot send %s message", m.Kind())
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal: %w", err)
	}
	return data, nil
}

// decodeServerMessage converts one server frame into transport messages.
// Parts that cannot be decoded are skipped and counted in dropped.
func decodeServerMessage(msg *serverMessage) (out []transport.Message, setupComplete bool, dropped int) {
	if msg.SetupComplete != nil {
		setupComplete = true
	}
	if sc := msg.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData != nil {
					m, err := decodeInlineAudio(p.InlineData)
					if err != nil {
						slog.Debug("gemini: dropping undecodable audio part", "mime_type", p.InlineData.MIMEType, "err", err)
						dropped++
					} else {
						out = append(out, m)
					}
				}
				if p.Text != "" {
					out = append(out, transport.TextMessage{Role: transport.RoleModel, Text: p.Text})
				}
			}
		}
		if t := sc.InputTranscription; t != nil && t.Text != "" {
			out = append(out, transport.TextMessage{Role: transport.RoleUser, Text: t.Text, Transcript: true})
		}
		if t := sc.OutputTranscription; t != nil && t.Text != "" {
			out = append(out, transport.TextMessage{Role: transport.RoleModel, Text: t.Text, Transcript: true})
		}
		if sc.Interrupted {
			out = append(out, transport.ControlMessage{Control: transport.ControlInterrupted})
		}
		if sc.GenerationComplete {
			out = append(out, transport.ControlMessage{Control: transport.ControlGenerationComplete})
		}
		if sc.TurnComplete {
			out = append(out, transport.ControlMessage{Control: transport.ControlTurnComplete})
		}
	}
	if msg.GoAway != nil {
		out = append(out, transport.ControlMessage{Control: transport.ControlGoAway})
	}
	if e := msg.Error; e != nil {
		out = append(out, transport.ErrorMessage{Code: e.Code, Status: e.Status, Message: e.Message})
	}
	return out, setupComplete, dropped
}

func decodeInlineAudio(d *inlineData) (transport.AudioMessage, error) {
	rate, err := transport.ParsePCMMIMEType(d.MIMEType, defaultOutputRate)
	if err != nil {
		return transport.AudioMessage{}, err
	}
	data, err := base64.StdEncoding.DecodeString(d.Data)
	if err != nil {
		return transport.AudioMessage{}, fmt.Errorf("gemini: decode audio: %w", err)
	}
	if len(data) == 0 || len(data)%2 != 0 {
		return transport.AudioMessage{}, fmt.Errorf("gemini: audio payload of %d bytes is not PCM16", len(data))
	}
	return transport.AudioMessage{
		Data:       data,
		SampleRate: rate,
		Channels:   1,
		MIMEType:   d.MIMEType,
	}, nil
}

// ── channel ────────────────────────────────────────────────────────────────────

type channel struct {
	guard *transport.Guard
	out   chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	conn     *websocket.Conn
	closed   bool
	writeErr error
}

// run owns the connection lifecycle and is the only goroutine that invokes
// callbacks.
func (c *channel) run(dialCtx context.Context, d *Dialer, cfg transport.Config) {
	defer c.guard.Close()
	defer c.cancel()

	// The caller's ctx bounds the dial; Close aborts it as well.
	dctx, stopDial := context.WithCancel(c.ctx)
	stopAfter := context.AfterFunc(dialCtx, stopDial)
	conn, err := d.dial(dctx)
	stopAfter()
	stopDial()
	if err != nil {
		if c.ctx.Err() == nil {
			c.guard.Fail(&transport.Error{Op: "dial", Err: err})
		}
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "session closed")
		return
	}
	c.conn = conn
	c.mu.Unlock()

	setup, err := json.Marshal(setupFor(d.model, cfg))
	if err == nil {
		err = c.write(setup)
	}
	if err != nil {
		if c.ctx.Err() == nil {
			c.guard.Fail(&transport.Error{Op: "setup", Err: err})
		}
		conn.Close(websocket.StatusInternalError, "setup failed")
		return
	}

	go c.writeLoop()
	go c.keepaliveLoop()

	c.readLoop(conn)
}

// readLoop reads frames until the connection ends and dispatches them.
func (c *channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(c.ctx)
		if err != nil {
			c.reportReadErr(err)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("gemini: skipping malformed frame", "err", err)
			continue
		}

		msgs, setupComplete, _ := decodeServerMessage(&msg)
		if setupComplete {
			c.guard.Open()
		}
		for _, m := range msgs {
			c.guard.Message(m)
		}
	}
}

func (c *channel) reportReadErr(err error) {
	c.mu.Lock()
	writeErr := c.writeErr
	c.mu.Unlock()

	switch {
	case writeErr != nil:
		c.guard.Fail(writeErr)
	case c.ctx.Err() != nil:
		// Closed locally.
	case websocket.CloseStatus(err) == websocket.StatusNormalClosure:
		// Closed by the remote without error.
	default:
		c.guard.Fail(&transport.Error{Op: "receive", Err: err})
	}
}

func (c *channel) write(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return transport.ErrNotOpen
	}
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// writeLoop drains the outbound queue. A write failure ends the channel: the
// error is recorded and the read loop is unblocked to report it.
func (c *channel) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.out:
			if err := c.write(data); err != nil {
				if c.ctx.Err() != nil {
					return
				}
				c.mu.Lock()
				if c.writeErr == nil {
					c.writeErr = &transport.Error{Op: "send", Err: err}
				}
				c.mu.Unlock()
				c.cancel()
				return
			}
		}
	}
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (c *channel) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			pingCtx, cancel := context.WithTimeout(c.ctx, keepaliveTimeout)
			_ = conn.Ping(pingCtx)
			cancel()
		}
	}
}

// ── Handle methods ─────────────────────────────────────────────────────────────

// Send queues msg for transmission. Audio goes out as realtimeInput media
// chunks; text as a completed user turn.
func (c *channel) Send(msg transport.Message) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed || c.ctx.Err() != nil {
		return transport.ErrClosed
	}
	if !c.guard.IsOpen() {
		return transport.ErrNotOpen
	}

	data, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	select {
	case c.out <- data:
		return nil
	default:
		return transport.ErrQueueFull
	}
}

// Close terminates the channel and releases all resources. Idempotent.
func (c *channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.cancel() // unblocks the dial, read, write and keepalive loops
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "session closed")
	}
	return nil
}
