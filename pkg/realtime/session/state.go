package session

import (
	"log/slog"
	"time"

	"github.com/setuplens/setuplens-go/pkg/realtime/protocol"
)

// Response and item statuses as they appear on the wire.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
	StatusFailed     = "failed"
)

// SessionState is a point-in-time snapshot of the session flags.
type SessionState struct {
	SessionID     string
	Connected     bool
	Authenticated bool
	Speaking      bool
	Listening     bool
	Processing    bool
	RateLimits    protocol.RateLimits
}

// ResponseSnapshot is a copy of one tracked response and its output tree.
type ResponseSnapshot struct {
	ID        string
	Status    string
	StartTime time.Time
	EndTime   time.Time
	Items     []OutputItemSnapshot
}

type OutputItemSnapshot struct {
	ID     string
	Type   string
	Status string
	Parts  []ContentPartSnapshot
}

type ContentPartSnapshot struct {
	Type       string
	Text       string
	Transcript string
	AudioBytes int
	Done       bool
}

type contentPart struct {
	typ        string
	text       string
	transcript string
	audioBytes int
	done       bool
}

type outputItem struct {
	id     string
	typ    string
	status string
	parts  []*contentPart
}

type responseRecord struct {
	id        string
	status    string
	startTime time.Time
	endTime   time.Time
	items     []*outputItem
	byItemID  map[string]*outputItem
}

// ledger holds everything the reader goroutine mutates while applying
// inbound events in arrival order. The owning client serializes access.
type ledger struct {
	sessionID     string
	connected     bool
	authenticated bool
	speaking      bool
	listening     bool
	processing    bool
	rateLimits    protocol.RateLimits

	responses map[string]*responseRecord
	order     []string

	droppedDeltas int

	logger *slog.Logger
	now    func() time.Time
}

func newLedger(logger *slog.Logger, now func() time.Time) *ledger {
	return &ledger{
		responses: make(map[string]*responseRecord),
		logger:    logger,
		now:       now,
	}
}

// terminalStatus reports whether a status ends a response's lifecycle.
// Terminal statuses are frozen: no later event may overwrite them.
func terminalStatus(s string) bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// apply folds one inbound event into the ledger. Events must arrive in
// receipt order; apply never reorders or defers.
func (l *ledger) apply(ev protocol.ServerEvent) {
	switch e := ev.(type) {
	case *protocol.SessionCreated:
		// Only the id is captured here; authentication completes when the
		// remote side acknowledges the configuration.
		l.sessionID = e.Session.ID
	case *protocol.SessionUpdated:
		l.authenticated = true
		l.listening = true
	case *protocol.SpeechStarted:
		l.speaking = true
	case *protocol.SpeechStopped:
		l.speaking = false
	case *protocol.RateLimitsUpdated:
		l.rateLimits = e.RateLimits
	case *protocol.ResponseCreated:
		l.trackResponse(e.Response.ID)
		l.processing = true
	case *protocol.OutputItemAdded:
		r := l.response(e.ResponseID, "response.output_item.added")
		if r == nil {
			return
		}
		r.addItem(e.Item)
	case *protocol.OutputItemDone:
		r := l.response(e.ResponseID, "response.output_item.done")
		if r == nil {
			return
		}
		if item := r.byItemID[e.Item.ID]; item != nil && !terminalStatus(item.status) {
			item.status = itemStatus(e.Item.Status)
		}
	case *protocol.ContentPartAdded:
		r := l.response(e.ResponseID, "response.content_part.added")
		if r == nil {
			return
		}
		r.addPart(e.ItemID, e.ContentIndex, e.Part.Type)
	case *protocol.ContentPartDone:
		if p := l.part(e.ResponseID, e.ItemID, e.ContentIndex, "response.content_part.done"); p != nil {
			p.done = true
		}
	case *protocol.TextDelta:
		if p := l.part(e.ResponseID, e.ItemID, e.ContentIndex, "response.text.delta"); p != nil {
			p.text += e.Delta
		}
	case *protocol.TextDone:
		if p := l.part(e.ResponseID, e.ItemID, e.ContentIndex, "response.text.done"); p != nil {
			p.text = e.Text
		}
	case *protocol.AudioTranscriptDelta:
		if p := l.part(e.ResponseID, e.ItemID, e.ContentIndex, "response.audio_transcript.delta"); p != nil {
			p.transcript += e.Delta
		}
	case *protocol.AudioTranscriptDone:
		if p := l.part(e.ResponseID, e.ItemID, e.ContentIndex, "response.audio_transcript.done"); p != nil {
			p.transcript = e.Transcript
		}
	case *protocol.AudioDelta:
		if p := l.part(e.ResponseID, e.ItemID, e.ContentIndex, "response.audio.delta"); p != nil {
			p.audioBytes += base64DecodedLen(len(e.Delta))
		}
	case *protocol.ResponseDone:
		r := l.responses[e.Response.ID]
		if r == nil {
			l.logger.Warn("response.done for untracked response", "response_id", e.Response.ID)
			return
		}
		if !terminalStatus(r.status) {
			status := e.Response.Status
			if !terminalStatus(status) {
				status = StatusCompleted
			}
			r.status = status
			r.endTime = l.now()
		}
		l.processing = l.anyInProgress()
	}
}

func itemStatus(s string) string {
	if s == "" {
		return StatusCompleted
	}
	return s
}

func base64DecodedLen(n int) int { return n / 4 * 3 }

func (l *ledger) trackResponse(id string) {
	if id == "" || l.responses[id] != nil {
		return
	}
	l.responses[id] = &responseRecord{
		id:        id,
		status:    StatusInProgress,
		startTime: l.now(),
		byItemID:  make(map[string]*outputItem),
	}
	l.order = append(l.order, id)
}

func (l *ledger) anyInProgress() bool {
	for _, r := range l.responses {
		if !terminalStatus(r.status) {
			return true
		}
	}
	return false
}

// response resolves a response id for a structural event. A miss is
// logged and counted so a misbehaving remote side is visible without
// killing the stream.
func (l *ledger) response(id, eventType string) *responseRecord {
	r := l.responses[id]
	if r == nil {
		l.droppedDeltas++
		l.logger.Warn("event for unknown response dropped", "event", eventType, "response_id", id)
	}
	return r
}

// part resolves a (response, item, content index) triple. Deltas for
// parts the ledger has never seen are dropped, never buffered for later.
func (l *ledger) part(responseID, itemID string, contentIndex int, eventType string) *contentPart {
	r := l.responses[responseID]
	if r != nil {
		if item := r.byItemID[itemID]; item != nil {
			if contentIndex >= 0 && contentIndex < len(item.parts) {
				return item.parts[contentIndex]
			}
		}
	}
	l.droppedDeltas++
	l.logger.Warn("delta for unknown content part dropped",
		"event", eventType,
		"response_id", responseID,
		"item_id", itemID,
		"content_index", contentIndex)
	return nil
}

func (r *responseRecord) addItem(info protocol.ItemInfo) {
	if info.ID == "" || r.byItemID[info.ID] != nil {
		return
	}
	item := &outputItem{id: info.ID, typ: info.Type, status: StatusInProgress}
	r.items = append(r.items, item)
	r.byItemID[info.ID] = item
}

func (r *responseRecord) addPart(itemID string, contentIndex int, partType string) {
	item := r.byItemID[itemID]
	if item == nil {
		return
	}
	// Content indexes arrive dense and ascending; pad defensively so a
	// sparse index from a misbehaving remote cannot panic the reader.
	for len(item.parts) <= contentIndex {
		item.parts = append(item.parts, &contentPart{})
	}
	item.parts[contentIndex].typ = partType
}

func (l *ledger) state() SessionState {
	return SessionState{
		SessionID:     l.sessionID,
		Connected:     l.connected,
		Authenticated: l.authenticated,
		Speaking:      l.speaking,
		Listening:     l.listening,
		Processing:    l.processing,
		RateLimits:    l.rateLimits,
	}
}

func (l *ledger) snapshot(id string) (ResponseSnapshot, bool) {
	r := l.responses[id]
	if r == nil {
		return ResponseSnapshot{}, false
	}
	return r.snapshot(), true
}

func (l *ledger) snapshots() []ResponseSnapshot {
	out := make([]ResponseSnapshot, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.responses[id].snapshot())
	}
	return out
}

func (r *responseRecord) snapshot() ResponseSnapshot {
	snap := ResponseSnapshot{
		ID:        r.id,
		Status:    r.status,
		StartTime: r.startTime,
		EndTime:   r.endTime,
		Items:     make([]OutputItemSnapshot, 0, len(r.items)),
	}
	for _, item := range r.items {
		is := OutputItemSnapshot{
			ID:     item.id,
			Type:   item.typ,
			Status: item.status,
			Parts:  make([]ContentPartSnapshot, 0, len(item.parts)),
		}
		for _, p := range item.parts {
			is.Parts = append(is.Parts, ContentPartSnapshot{
				Type:       p.typ,
				Text:       p.text,
				Transcript: p.transcript,
				AudioBytes: p.audioBytes,
				Done:       p.done,
			})
		}
		snap.Items = append(snap.Items, is)
	}
	return snap
}

// reset clears connection-scoped flags while keeping the response history
// so callers can still inspect completed responses after a drop.
func (l *ledger) reset() {
	l.connected = false
	l.authenticated = false
	l.speaking = false
	l.listening = false
	l.processing = false
}
