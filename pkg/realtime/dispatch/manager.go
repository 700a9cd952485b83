// Package dispatch is the surface UI code talks to: one Manager wiring a
// session client to the audio playback engine, with named-event
// subscriptions, message and error fan-out, and a convenience view of
// in-flight responses.
package dispatch

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/setuplens/setuplens-go/pkg/realtime/audio"
	"github.com/setuplens/setuplens-go/pkg/realtime/protocol"
	"github.com/setuplens/setuplens-go/pkg/realtime/session"
)

// Session is the subset of the session client the manager drives.
type Session interface {
	Connect()
	Disconnect()
	SendTextMessage(text string) bool
	SendAudioData(data, format string, sampleRate int) bool
	SendVideoFrame(data, format string, width, height int) bool
	CommitAudioBuffer() bool
	ClearAudioBuffer() bool
	State() session.SessionState
	IsConnected() bool
	Subscribe(session.Handler)
}

// Player is the playback surface remote audio routes into.
type Player interface {
	ProcessDelta(data string)
	CompletePlayback()
	Stop()
	Destroy()
}

// AudioCapture is the microphone pipeline surface the manager drives.
type AudioCapture interface {
	Start(audio.Sender) error
	Stop()
}

// Handler receives one event for a named subscription.
type Handler func(protocol.ServerEvent)

// MessageHandler receives assistant text as it streams.
type MessageHandler func(delta string)

// ErrorHandler receives local and remote error events.
type ErrorHandler func(error)

// ActiveResponse is the read-side convenience view of one response.
type ActiveResponse struct {
	ID           string
	StartTime    time.Time
	Content      string
	Status       string
	ResponseTime time.Duration
}

type registration struct {
	id   uintptr
	fn   Handler
	once bool
}

type Config struct {
	Session Session
	// Player may be nil for text-only deployments; audio deltas are then
	// dropped.
	Player Player
	Logger *slog.Logger
	Now    func() time.Time
}

type Manager struct {
	sess   Session
	player Player
	logger *slog.Logger
	now    func() time.Time

	mu              sync.Mutex
	handlers        map[string][]registration
	messageHandlers []registration
	errorHandlers   []registration
	active          map[string]*ActiveResponse
	destroyed       bool
}

func New(cfg Config) (*Manager, error) {
	if cfg.Session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	m := &Manager{
		sess:     cfg.Session,
		player:   cfg.Player,
		logger:   cfg.Logger,
		now:      cfg.Now,
		handlers: make(map[string][]registration),
		active:   make(map[string]*ActiveResponse),
	}
	cfg.Session.Subscribe(m.handleEvent)
	return m, nil
}

// On registers a handler for one event type string, e.g.
// "response.text.delta" or the lifecycle types "connected" and
// "disconnected".
func (m *Manager) On(event string, h Handler) {
	m.register(event, h, false)
}

// Once registers a handler removed after its first delivery.
func (m *Manager) Once(event string, h Handler) {
	m.register(event, h, true)
}

func (m *Manager) register(event string, h Handler, once bool) {
	if h == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return
	}
	m.handlers[event] = append(m.handlers[event], registration{
		id:   reflect.ValueOf(h).Pointer(),
		fn:   h,
		once: once,
	})
}

// Off removes one handler by function identity, or every handler for the
// event when h is nil.
func (m *Manager) Off(event string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h == nil {
		delete(m.handlers, event)
		return
	}
	m.handlers[event] = removeByID(m.handlers[event], reflect.ValueOf(h).Pointer())
}

func removeByID(regs []registration, id uintptr) []registration {
	out := regs[:0]
	for _, r := range regs {
		if r.id != id {
			out = append(out, r)
		}
	}
	return out
}

// OnMessage subscribes to streamed assistant text.
func (m *Manager) OnMessage(h MessageHandler) {
	if h == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return
	}
	wrapped := func(ev protocol.ServerEvent) {
		if d, ok := ev.(*protocol.TextDelta); ok {
			h(d.Delta)
		}
	}
	m.messageHandlers = append(m.messageHandlers, registration{
		id: reflect.ValueOf(h).Pointer(),
		fn: wrapped,
	})
}

// OffMessage removes a message handler, or all of them when h is nil.
func (m *Manager) OffMessage(h MessageHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h == nil {
		m.messageHandlers = nil
		return
	}
	m.messageHandlers = removeByID(m.messageHandlers, reflect.ValueOf(h).Pointer())
}

// OnError subscribes to local and remote error events.
func (m *Manager) OnError(h ErrorHandler) {
	if h == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return
	}
	wrapped := func(ev protocol.ServerEvent) {
		if err := asError(ev); err != nil {
			h(err)
		}
	}
	m.errorHandlers = append(m.errorHandlers, registration{
		id: reflect.ValueOf(h).Pointer(),
		fn: wrapped,
	})
}

// OffError removes an error handler, or all of them when h is nil.
func (m *Manager) OffError(h ErrorHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h == nil {
		m.errorHandlers = nil
		return
	}
	m.errorHandlers = removeByID(m.errorHandlers, reflect.ValueOf(h).Pointer())
}

func asError(ev protocol.ServerEvent) error {
	switch e := ev.(type) {
	case session.ErrorEvent:
		return e
	case *protocol.ServerError:
		return fmt.Errorf("remote error %s: %s", e.Error.Type, e.Error.Message)
	}
	return nil
}

// handleEvent runs on the session's reader goroutine: built-in routing
// first, then user subscriptions in registration order.
func (m *Manager) handleEvent(ev protocol.ServerEvent) {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.trackResponse(ev)

	var toRun []registration
	switch ev.EventType() {
	case "error":
		toRun = append(toRun, m.errorHandlers...)
	case "response.text.delta":
		toRun = append(toRun, m.messageHandlers...)
	}

	regs := m.handlers[ev.EventType()]
	toRun = append(toRun, regs...)
	kept := regs[:0]
	for _, r := range regs {
		if !r.once {
			kept = append(kept, r)
		}
	}
	m.handlers[ev.EventType()] = kept
	player := m.player
	m.mu.Unlock()

	if player != nil {
		switch e := ev.(type) {
		case *protocol.AudioDelta:
			player.ProcessDelta(e.Delta)
		case *protocol.AudioDone:
			player.CompletePlayback()
		}
	}

	for _, r := range toRun {
		m.invoke(r.fn, ev)
	}
}

// invoke isolates one subscriber: its panic is logged and the rest of the
// dispatch continues.
func (m *Manager) invoke(h Handler, ev protocol.ServerEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("subscriber panicked", "event", ev.EventType(), "panic", r)
		}
	}()
	h(ev)
}

func (m *Manager) trackResponse(ev protocol.ServerEvent) {
	switch e := ev.(type) {
	case *protocol.ResponseCreated:
		if e.Response.ID == "" || m.active[e.Response.ID] != nil {
			return
		}
		m.active[e.Response.ID] = &ActiveResponse{
			ID:        e.Response.ID,
			StartTime: m.now(),
			Status:    session.StatusInProgress,
		}
	case *protocol.TextDelta:
		if r := m.active[e.ResponseID]; r != nil {
			r.Content += e.Delta
		}
	case *protocol.AudioTranscriptDelta:
		if r := m.active[e.ResponseID]; r != nil {
			r.Content += e.Delta
		}
	case *protocol.TextDone:
		// The done event carries the authoritative full text; it replaces
		// whatever the deltas accumulated.
		if r := m.active[e.ResponseID]; r != nil {
			r.Content = e.Text
			r.Status = session.StatusCompleted
		}
	case *protocol.ResponseDone:
		r := m.active[e.Response.ID]
		if r == nil || r.ResponseTime != 0 {
			return
		}
		r.Status = e.Response.Status
		if r.Status == "" {
			r.Status = session.StatusCompleted
		}
		r.ResponseTime = m.now().Sub(r.StartTime)
	}
}

// ActiveResponse returns a copy of one tracked response.
func (m *Manager) ActiveResponse(id string) (ActiveResponse, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.active[id]
	if r == nil {
		return ActiveResponse{}, false
	}
	return *r, true
}

// ActiveResponses returns copies of every tracked response.
func (m *Manager) ActiveResponses() []ActiveResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ActiveResponse, 0, len(m.active))
	for _, r := range m.active {
		out = append(out, *r)
	}
	return out
}

// ClearActiveResponse drops one tracked response.
func (m *Manager) ClearActiveResponse(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, id)
}

// ClearAllActiveResponses drops every tracked response.
func (m *Manager) ClearAllActiveResponses() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = make(map[string]*ActiveResponse)
}

// StartAudioCapture wires the microphone pipeline into the session. A
// device or permission failure surfaces as DEVICE_ERROR on the error
// channel and returns false; the rest of the session stays usable, so
// text input keeps working without a microphone.
func (m *Manager) StartAudioCapture(c AudioCapture) bool {
	if c == nil {
		return false
	}
	if err := c.Start(m.SendAudioData); err != nil {
		m.logger.Warn("audio capture unavailable", "error", err)
		m.handleEvent(session.ErrorEvent{Type: session.ErrDevice, Message: err.Error()})
		return false
	}
	return true
}

// Session passthroughs.

func (m *Manager) Connect()    { m.sess.Connect() }
func (m *Manager) Disconnect() { m.sess.Disconnect() }

func (m *Manager) SendTextMessage(text string) bool { return m.sess.SendTextMessage(text) }

func (m *Manager) SendAudioData(data, format string, sampleRate int) bool {
	return m.sess.SendAudioData(data, format, sampleRate)
}

func (m *Manager) SendVideoFrame(data, format string, width, height int) bool {
	return m.sess.SendVideoFrame(data, format, width, height)
}

func (m *Manager) CommitAudioBuffer() bool { return m.sess.CommitAudioBuffer() }
func (m *Manager) ClearAudioBuffer() bool  { return m.sess.ClearAudioBuffer() }

func (m *Manager) SessionState() session.SessionState { return m.sess.State() }
func (m *Manager) IsConnected() bool                  { return m.sess.IsConnected() }

// Destroy disconnects, releases the player, and clears every
// subscription and tracked response. Safe to call repeatedly.
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	m.handlers = make(map[string][]registration)
	m.messageHandlers = nil
	m.errorHandlers = nil
	m.active = make(map[string]*ActiveResponse)
	player := m.player
	m.mu.Unlock()

	m.sess.Disconnect()
	if player != nil {
		player.Destroy()
	}
}
