package session

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/setuplens/setuplens-go/pkg/realtime/protocol"
)

func testLedger(clk *fakeClock) *ledger {
	return newLedger(slog.New(slog.NewTextHandler(io.Discard, nil)), clk.Now)
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func seedResponse(l *ledger) {
	l.apply(&protocol.ResponseCreated{Response: protocol.ResponseInfo{ID: "resp_1"}})
	l.apply(&protocol.OutputItemAdded{ResponseID: "resp_1", Item: protocol.ItemInfo{ID: "item_1", Type: "message"}})
	l.apply(&protocol.ContentPartAdded{ResponseID: "resp_1", ItemID: "item_1", ContentIndex: 0, Part: protocol.PartInfo{Type: "text"}})
}

func TestLedger_AuthenticationRequiresSessionUpdated(t *testing.T) {
	l := testLedger(&fakeClock{t: time.Unix(1000, 0)})

	l.apply(&protocol.SessionCreated{Session: protocol.SessionInfo{ID: "sess_1"}})
	if l.sessionID != "sess_1" {
		t.Fatalf("sessionID = %q, want sess_1", l.sessionID)
	}
	if l.authenticated {
		t.Fatalf("authenticated after session.created alone")
	}

	l.apply(&protocol.SessionUpdated{})
	if !l.authenticated {
		t.Fatalf("not authenticated after session.updated")
	}
	if !l.listening {
		t.Fatalf("not listening after session.updated")
	}
}

func TestLedger_DeltasApplyInReceiptOrder(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	l := testLedger(clk)
	seedResponse(l)

	for _, delta := range []string{"Step ", "one: ", "unbox ", "the ", "router."} {
		l.apply(&protocol.TextDelta{ResponseID: "resp_1", ItemID: "item_1", ContentIndex: 0, Delta: delta})
	}

	snap, ok := l.snapshot("resp_1")
	if !ok {
		t.Fatalf("response not tracked")
	}
	got := snap.Items[0].Parts[0].Text
	if got != "Step one: unbox the router." {
		t.Fatalf("accumulated text = %q", got)
	}
}

func TestLedger_UnknownPartDeltaDropped(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	l := testLedger(clk)
	seedResponse(l)

	l.apply(&protocol.TextDelta{ResponseID: "resp_1", ItemID: "item_1", ContentIndex: 0, Delta: "kept"})
	l.apply(&protocol.TextDelta{ResponseID: "resp_1", ItemID: "item_9", ContentIndex: 0, Delta: "dropped"})
	l.apply(&protocol.TextDelta{ResponseID: "resp_9", ItemID: "item_1", ContentIndex: 0, Delta: "dropped"})

	if l.droppedDeltas != 2 {
		t.Fatalf("droppedDeltas = %d, want 2", l.droppedDeltas)
	}
	snap, _ := l.snapshot("resp_1")
	if got := snap.Items[0].Parts[0].Text; got != "kept" {
		t.Fatalf("text = %q, want kept", got)
	}
}

func TestLedger_StatusTransitionsAreMonotonic(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	l := testLedger(clk)
	seedResponse(l)

	clk.t = clk.t.Add(250 * time.Millisecond)
	l.apply(&protocol.ResponseDone{Response: protocol.ResponseInfo{ID: "resp_1", Status: StatusCancelled}})

	snap, _ := l.snapshot("resp_1")
	if snap.Status != StatusCancelled {
		t.Fatalf("status = %q, want %q", snap.Status, StatusCancelled)
	}
	endTime := snap.EndTime
	if endTime.IsZero() {
		t.Fatalf("end time not set")
	}

	// A terminal status is frozen: a duplicate done must change nothing.
	clk.t = clk.t.Add(time.Second)
	l.apply(&protocol.ResponseDone{Response: protocol.ResponseInfo{ID: "resp_1", Status: StatusCompleted}})
	snap, _ = l.snapshot("resp_1")
	if snap.Status != StatusCancelled {
		t.Fatalf("terminal status overwritten: %q", snap.Status)
	}
	if !snap.EndTime.Equal(endTime) {
		t.Fatalf("end time moved from %v to %v", endTime, snap.EndTime)
	}
}

func TestLedger_ProcessingTracksOpenResponses(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	l := testLedger(clk)

	l.apply(&protocol.ResponseCreated{Response: protocol.ResponseInfo{ID: "resp_1"}})
	l.apply(&protocol.ResponseCreated{Response: protocol.ResponseInfo{ID: "resp_2"}})
	if !l.processing {
		t.Fatalf("processing = false with open responses")
	}

	l.apply(&protocol.ResponseDone{Response: protocol.ResponseInfo{ID: "resp_1"}})
	if !l.processing {
		t.Fatalf("processing = false with resp_2 still open")
	}
	l.apply(&protocol.ResponseDone{Response: protocol.ResponseInfo{ID: "resp_2"}})
	if l.processing {
		t.Fatalf("processing = true with no open responses")
	}
}

func TestLedger_SpeechFlags(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	l := testLedger(clk)

	l.apply(&protocol.SpeechStarted{AudioStartMS: 10})
	if !l.speaking {
		t.Fatalf("speaking = false after speech_started")
	}
	l.apply(&protocol.SpeechStopped{AudioEndMS: 900})
	if l.speaking {
		t.Fatalf("speaking = true after speech_stopped")
	}
}

func TestLedger_TranscriptAndAudioAccumulate(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	l := testLedger(clk)
	seedResponse(l)

	l.apply(&protocol.AudioTranscriptDelta{ResponseID: "resp_1", ItemID: "item_1", ContentIndex: 0, Delta: "Plug in "})
	l.apply(&protocol.AudioTranscriptDelta{ResponseID: "resp_1", ItemID: "item_1", ContentIndex: 0, Delta: "the cable."})
	// 8 base64 chars decode to 6 PCM bytes.
	l.apply(&protocol.AudioDelta{ResponseID: "resp_1", ItemID: "item_1", ContentIndex: 0, Delta: "AAAAAAAA"})

	snap, _ := l.snapshot("resp_1")
	part := snap.Items[0].Parts[0]
	if part.Transcript != "Plug in the cable." {
		t.Fatalf("transcript = %q", part.Transcript)
	}
	if part.AudioBytes != 6 {
		t.Fatalf("audio bytes = %d, want 6", part.AudioBytes)
	}
}
