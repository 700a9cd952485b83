// Package session maintains the duplex channel to the realtime guidance
// endpoint and the protocol state machine on top of it.
//
// A Client owns one connection at a time. One reader goroutine decodes
// inbound frames, folds them into the session ledger, and delivers them
// to subscribers in arrival order. Outbound frames are serialized by a
// write mutex so multi-frame operations cannot interleave. Connection
// loss triggers a bounded exponential-backoff reconnect unless the
// caller disconnected explicitly.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/setuplens/setuplens-go/pkg/realtime/protocol"
)

// Conn is the subset of *websocket.Conn the client uses. Tests substitute
// in-memory fakes.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	Close() error
}

// Dialer opens the channel. The default wraps gorilla's dialer.
type Dialer func(ctx context.Context, url string, header http.Header) (Conn, error)

// Handler receives one event. Handlers run synchronously on the reader
// goroutine; a panicking handler is recovered and logged.
type Handler func(protocol.ServerEvent)

type Config struct {
	// URL is the realtime endpoint, ws:// or wss://.
	URL string
	// APIKey, when set, is sent as a bearer Authorization header.
	APIKey string

	// SystemPrompt, Modalities, InputAudioFormat, NoiseReduction, and
	// TurnDetection populate the session.update sent after each open.
	SystemPrompt     string
	Modalities       []string
	InputAudioFormat string
	NoiseReduction   string
	TurnDetection    protocol.TurnDetection

	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	DialTimeout          time.Duration
	WriteTimeout         time.Duration
	ReadLimit            int64

	Logger     *slog.Logger
	Now        func() time.Time
	Dial       Dialer
	NewEventID func() string
}

type Client struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	dial   Dialer
	newID  func() string

	mu          sync.Mutex
	conn        Conn
	connecting  bool
	manualClose bool
	ledger      *ledger
	reconnect   *reconnectState
	handlers    map[string][]Handler
	subscribers []Handler

	// writeMu serializes every outbound frame. SendTextMessage holds it
	// across both of its frames so nothing interleaves between them.
	writeMu sync.Mutex
}

func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("endpoint url is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewEventID == nil {
		cfg.NewEventID = uuid.NewString
	}
	if len(cfg.Modalities) == 0 {
		cfg.Modalities = []string{"text", "audio", "video"}
	}
	if cfg.InputAudioFormat == "" {
		cfg.InputAudioFormat = "pcm16"
	}
	if cfg.NoiseReduction == "" {
		cfg.NoiseReduction = "far_field"
	}
	if cfg.TurnDetection.Type == "" {
		cfg.TurnDetection = protocol.TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMS:   300,
			SilenceDurationMS: 500,
			CreateResponse:    true,
			InterruptResponse: true,
		}
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 5
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 4 << 20
	}
	if cfg.Dial == nil {
		cfg.Dial = gorillaDialer(cfg.DialTimeout)
	}

	return &Client{
		cfg:       cfg,
		logger:    cfg.Logger,
		now:       cfg.Now,
		dial:      cfg.Dial,
		newID:     cfg.NewEventID,
		ledger:    newLedger(cfg.Logger, cfg.Now),
		reconnect: newReconnectState(cfg.MaxReconnectAttempts, cfg.ReconnectBaseDelay),
		handlers:  make(map[string][]Handler),
	}, nil
}

func gorillaDialer(handshakeTimeout time.Duration) Dialer {
	return func(ctx context.Context, rawURL string, header http.Header) (Conn, error) {
		d := websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		}
		conn, resp, err := d.DialContext(ctx, rawURL, header)
		if err != nil {
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
			return nil, err
		}
		return conn, nil
	}
}

// Connect opens the channel asynchronously. A no-op while a connection is
// open or a dial is in flight. Failures surface as CONNECTION_ERROR
// events followed by a scheduled reconnect; Connect itself never blocks.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.conn != nil || c.connecting {
		c.mu.Unlock()
		return
	}
	c.connecting = true
	c.manualClose = false
	c.reconnect.stop()
	c.mu.Unlock()

	go c.open()
}

func (c *Client) open() {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
	defer cancel()

	header := http.Header{}
	if c.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	conn, err := c.dial(ctx, c.cfg.URL, header)
	if err != nil {
		c.logger.Warn("realtime dial failed", "url", c.cfg.URL, "error", err)
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
		c.emit(ErrorEvent{Type: ErrConnection, Message: "failed to open realtime channel: " + err.Error()})
		c.scheduleReconnect()
		return
	}
	conn.SetReadLimit(c.cfg.ReadLimit)

	c.mu.Lock()
	if c.manualClose {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.connecting = false
	c.ledger.connected = true
	c.reconnect.reset()
	c.mu.Unlock()

	c.logger.Info("realtime channel open", "url", c.cfg.URL)
	c.emit(ConnectedEvent{})

	if err := c.write(conn, c.sessionUpdateEvent()); err != nil {
		c.logger.Warn("session.update send failed", "error", err)
	}

	go c.readLoop(conn)
}

// Disconnect closes the channel and suppresses automatic reconnection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manualClose = true
	c.reconnect.reset()
	conn := c.conn
	c.conn = nil
	wasOpen := c.ledger.connected
	c.ledger.reset()
	c.mu.Unlock()

	if conn == nil {
		return
	}
	deadline := c.now().Add(c.cfg.WriteTimeout)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
	if wasOpen {
		c.emit(DisconnectedEvent{Code: websocket.CloseNormalClosure, Reason: "client disconnect"})
	}
}

// IsConnected reports whether the channel is open and the remote side has
// acknowledged the session configuration with session.updated.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.ledger.authenticated
}

// SendTextMessage sends a user message and asks for a response. The two
// frames go out back to back with no frame in between. Returns false,
// with nothing sent, when the session is not open and authenticated.
func (c *Client) SendTextMessage(text string) bool {
	conn := c.openConn("conversation.item.create")
	if conn == nil {
		return false
	}

	item := protocol.ConversationItemCreate{
		Envelope: c.envelope("conversation.item.create"),
		Item: protocol.ConversationItem{
			ID:     "msg_" + c.newID(),
			Type:   "message",
			Object: "realtime.item",
			Status: "completed",
			Role:   "user",
			Content: []protocol.MessageContent{
				{Type: "input_text", Text: text},
			},
		},
	}
	create := protocol.ResponseCreate{Envelope: c.envelope("response.create")}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if !c.writeLocked(conn, item) {
		return false
	}
	return c.writeLocked(conn, create)
}

// SendAudioData appends one base64 PCM16 fragment to the remote input
// buffer.
func (c *Client) SendAudioData(data, format string, sampleRate int) bool {
	return c.send(protocol.InputAudioBufferAppend{
		Envelope: c.envelope("input_audio_buffer.append"),
		Audio:    protocol.AudioPayload{Data: data, Format: format, SampleRate: sampleRate},
	})
}

// SendVideoFrame appends one base64 JPEG frame.
func (c *Client) SendVideoFrame(data, format string, width, height int) bool {
	return c.send(protocol.InputAudioBufferAppendVideoFrame{
		Envelope: c.envelope("input_audio_buffer.append_video_frame"),
		Video: protocol.VideoFramePayload{
			Data:      data,
			Format:    format,
			Width:     width,
			Height:    height,
			Timestamp: protocol.UnixMilli(c.now()),
		},
	})
}

// CommitAudioBuffer marks the appended audio as a complete utterance.
func (c *Client) CommitAudioBuffer() bool {
	return c.send(protocol.InputAudioBufferCommit{Envelope: c.envelope("input_audio_buffer.commit")})
}

// ClearAudioBuffer discards uncommitted remote input audio.
func (c *Client) ClearAudioBuffer() bool {
	return c.send(protocol.InputAudioBufferClear{Envelope: c.envelope("input_audio_buffer.clear")})
}

// State returns a copy of the session flags.
func (c *Client) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.state()
}

// Response returns a copy of one tracked response.
func (c *Client) Response(id string) (ResponseSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.snapshot(id)
}

// Responses returns copies of every tracked response in creation order.
func (c *Client) Responses() []ResponseSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.snapshots()
}

// On registers a handler for one event type. Use the wire type string for
// remote events ("response.text.delta") or the lifecycle type for local
// ones ("connected", "disconnected", "reconnecting", "error").
func (c *Client) On(eventType string, h Handler) {
	if h == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[eventType] = append(c.handlers[eventType], h)
}

// Off removes every handler for one event type.
func (c *Client) Off(eventType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, eventType)
}

// Subscribe registers a handler for every event the client emits.
func (c *Client) Subscribe(h Handler) {
	if h == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, h)
}

func (c *Client) envelope(typ string) protocol.Envelope {
	return protocol.Envelope{
		EventID:         c.newID(),
		Type:            typ,
		ClientTimestamp: protocol.UnixMilli(c.now()),
	}
}

func (c *Client) sessionUpdateEvent() protocol.SessionUpdate {
	return protocol.SessionUpdate{
		Envelope: c.envelope("session.update"),
		Session: protocol.SessionConfigPayload{
			InputAudioFormat:         c.cfg.InputAudioFormat,
			InputAudioNoiseReduction: protocol.NoiseReduction{Type: c.cfg.NoiseReduction},
			Modalities:               c.cfg.Modalities,
			TurnDetection:            c.cfg.TurnDetection,
			SystemPrompt:             c.cfg.SystemPrompt,
		},
	}
}

// openConn returns the connection when the channel is open, or emits
// CONNECTION_ERROR and returns nil. Sends are allowed as soon as the
// socket is up, even before the configuration acknowledgement arrives.
func (c *Client) openConn(eventType string) Conn {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		c.emit(ErrorEvent{Type: ErrConnection, Message: "cannot send " + eventType + ": channel is not open"})
		return nil
	}
	return conn
}

func (c *Client) send(ev protocol.ClientEvent) bool {
	conn := c.openConn(ev.EventType())
	if conn == nil {
		return false
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeLocked(conn, ev)
}

func (c *Client) write(conn Conn, ev protocol.ClientEvent) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeFrame(conn, ev)
}

func (c *Client) writeLocked(conn Conn, ev protocol.ClientEvent) bool {
	if err := c.writeFrame(conn, ev); err != nil {
		c.logger.Warn("frame write failed", "event", ev.EventType(), "error", err)
		c.emit(ErrorEvent{Type: ErrConnection, Message: "failed to send " + ev.EventType() + ": " + err.Error()})
		return false
	}
	return true
}

func (c *Client) writeFrame(conn Conn, ev protocol.ClientEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.EventType(), err)
	}
	if err := conn.SetWriteDeadline(c.now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.connLost(conn, err)
			return
		}
		ev, derr := protocol.DecodeServerEvent(data)
		if derr != nil {
			c.logger.Warn("dropping malformed frame", "error", derr)
			c.emit(ErrorEvent{Type: ErrParse, Message: derr.Error()})
			continue
		}
		if u, ok := ev.(protocol.UnknownEvent); ok {
			c.logger.Debug("unrecognized event type", "type", u.Type)
		}

		c.mu.Lock()
		c.ledger.apply(ev)
		c.mu.Unlock()

		c.emit(ev)

		if se, ok := ev.(*protocol.ServerError); ok {
			if t := classifyErrorInfo(se.Error.Type, se.Error.Code); t != "" {
				c.emit(ErrorEvent{Type: t, Message: se.Error.Message})
			}
		}
	}
}

func (c *Client) connLost(conn Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// A newer connection replaced this one; nothing to report.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.ledger.reset()
	manual := c.manualClose
	c.mu.Unlock()
	_ = conn.Close()

	code, reason := closeDetails(err)
	c.logger.Info("realtime channel closed", "code", code, "reason", reason)
	c.emit(DisconnectedEvent{Code: code, Reason: reason})
	if manual {
		return
	}
	c.scheduleReconnect()
}

func closeDetails(err error) (int, string) {
	if ce, ok := err.(*websocket.CloseError); ok {
		return ce.Code, ce.Text
	}
	return websocket.CloseAbnormalClosure, err.Error()
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.manualClose {
		c.mu.Unlock()
		return
	}
	attempt, delay, ok := c.reconnect.next()
	if !ok {
		c.mu.Unlock()
		c.logger.Info("reconnect attempts exhausted", "max", c.cfg.MaxReconnectAttempts)
		return
	}
	max := c.reconnect.max
	c.reconnect.timer = time.AfterFunc(delay, c.Connect)
	c.mu.Unlock()

	c.logger.Info("scheduling reconnect", "attempt", attempt, "max", max, "delay", delay)
	c.emit(ReconnectingEvent{Attempt: attempt, Max: max})
}

func (c *Client) emit(ev protocol.ServerEvent) {
	c.mu.Lock()
	subs := append([]Handler(nil), c.subscribers...)
	typed := append([]Handler(nil), c.handlers[ev.EventType()]...)
	c.mu.Unlock()

	for _, h := range subs {
		c.invoke(h, ev)
	}
	for _, h := range typed {
		c.invoke(h, ev)
	}
}

func (c *Client) invoke(h Handler, ev protocol.ServerEvent) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event handler panicked", "event", ev.EventType(), "panic", r)
		}
	}()
	h(ev)
}
