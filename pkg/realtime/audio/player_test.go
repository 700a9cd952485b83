package audio

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// fakeSink records scheduled chunks. Completion callbacks fire only when
// the test calls finish, so chunk chaining is fully deterministic.
type fakeSink struct {
	mu      sync.Mutex
	chunks  [][]float32
	pending func()
	stops   int
	closes  int
	failAll bool
}

func (s *fakeSink) Play(samples []float32, done func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errors.New("sink rejected chunk")
	}
	s.chunks = append(s.chunks, append([]float32(nil), samples...))
	s.pending = done
	return nil
}

func (s *fakeSink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.pending = nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSink) finish(t *testing.T) {
	s.mu.Lock()
	done := s.pending
	s.pending = nil
	s.mu.Unlock()
	if done == nil {
		t.Fatalf("no chunk in flight")
	}
	done()
}

func (s *fakeSink) chunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPlayer(t *testing.T, sink Sink) *Player {
	t.Helper()
	p, err := NewPlayer(sink, PlayerConfig{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewPlayer: %v", err)
	}
	return p
}

// silence returns a base64 fragment decoding to n zero samples.
func silence(n int) string {
	return EncodeBase64PCM16(make([]float32, n))
}

func TestPlayer_StartsOnlyAtMinimumThreshold(t *testing.T) {
	sink := &fakeSink{}
	p := testPlayer(t, sink)

	p.ProcessDelta(silence(2048))
	if p.IsActive() {
		t.Fatalf("active after 2048 samples, below the 4096 minimum")
	}

	p.ProcessDelta(silence(2048))
	if !p.IsActive() {
		t.Fatalf("not active after 4096 buffered samples")
	}

	p.ProcessDelta(silence(2048))
	// 6144 buffered is still short of one 8192-sample chunk, so the
	// engine is polling rather than playing.
	if sink.chunkCount() != 0 {
		t.Fatalf("chunk scheduled with only %d samples buffered", p.BufferedSamples())
	}

	p.ProcessDelta(silence(4096))
	waitFor(t, func() bool { return sink.chunkCount() == 1 })
	sink.mu.Lock()
	got := len(sink.chunks[0])
	sink.mu.Unlock()
	if got != 8192 {
		t.Fatalf("chunk size = %d, want 8192", got)
	}
	p.Destroy()
}

func TestPlayer_ChainsChunksFromCompletionCallback(t *testing.T) {
	sink := &fakeSink{}
	p := testPlayer(t, sink)

	p.ProcessDelta(silence(16384))
	waitFor(t, func() bool { return sink.chunkCount() == 1 })

	sink.finish(t)
	waitFor(t, func() bool { return sink.chunkCount() == 2 })

	// Buffer is now empty; completing the second chunk ends the chain.
	sink.finish(t)
	waitFor(t, func() bool { return !p.IsActive() })
	if got := p.Stats().PlayedSamples; got != 16384 {
		t.Fatalf("played samples = %d, want 16384", got)
	}
	p.Destroy()
}

func TestPlayer_CompletePlaybackFlushesRemainder(t *testing.T) {
	sink := &fakeSink{}
	p := testPlayer(t, sink)

	p.ProcessDelta(silence(3000))
	if p.IsActive() {
		t.Fatalf("active below minimum threshold")
	}

	p.CompletePlayback()
	waitFor(t, func() bool { return sink.chunkCount() == 1 })
	sink.mu.Lock()
	got := len(sink.chunks[0])
	sink.mu.Unlock()
	if got != 3000 {
		t.Fatalf("remainder chunk size = %d, want 3000", got)
	}
	p.Destroy()
}

func TestPlayer_PauseDiscardsInFlightChunk(t *testing.T) {
	sink := &fakeSink{}
	p := testPlayer(t, sink)

	p.ProcessDelta(silence(20480))
	waitFor(t, func() bool { return sink.chunkCount() == 1 })

	p.Pause()
	sink.mu.Lock()
	stops, pending := sink.stops, sink.pending
	sink.mu.Unlock()
	if stops != 1 || pending != nil {
		t.Fatalf("in-flight chunk not discarded (stops=%d)", stops)
	}

	p.Resume()
	waitFor(t, func() bool { return sink.chunkCount() == 2 })
	// The 8192 samples of the first chunk are gone; the second chunk
	// starts from what remained in the buffer.
	if got := p.BufferedSamples(); got != 20480-2*8192 {
		t.Fatalf("buffered after resume = %d, want %d", got, 20480-2*8192)
	}
	p.Destroy()
}

func TestPlayer_SinkErrorTriggersFullStop(t *testing.T) {
	sink := &fakeSink{failAll: true}
	var reported error
	p, err := NewPlayer(sink, PlayerConfig{
		Logger:  quietLogger(),
		OnError: func(e error) { reported = e },
	})
	if err != nil {
		t.Fatalf("NewPlayer: %v", err)
	}

	p.ProcessDelta(silence(8192))
	waitFor(t, func() bool { return !p.IsActive() })
	if reported == nil {
		t.Fatalf("scheduling failure not reported")
	}
	if p.BufferedSamples() != 0 {
		t.Fatalf("buffer not cleared on stop")
	}
}

func TestPlayer_SetVolumeClampsAndScales(t *testing.T) {
	sink := &fakeSink{}
	p := testPlayer(t, sink)

	p.SetVolume(2.5)
	if p.Volume() != 1 {
		t.Fatalf("volume = %v, want clamp to 1", p.Volume())
	}
	p.SetVolume(-0.5)
	if p.Volume() != 0 {
		t.Fatalf("volume = %v, want clamp to 0", p.Volume())
	}

	p.SetVolume(0.5)
	loud := make([]float32, 8192)
	for i := range loud {
		loud[i] = 0.8
	}
	p.ProcessDelta(EncodeBase64PCM16(loud))
	waitFor(t, func() bool { return sink.chunkCount() == 1 })
	sink.mu.Lock()
	sample := sink.chunks[0][0]
	sink.mu.Unlock()
	if sample < 0.35 || sample > 0.45 {
		t.Fatalf("scaled sample = %v, want ~0.4", sample)
	}
	p.Destroy()
}

func TestPlayer_DestroyIsIdempotent(t *testing.T) {
	sink := &fakeSink{}
	p := testPlayer(t, sink)

	p.ProcessDelta(silence(8192))
	p.Destroy()
	p.Destroy()
	p.Destroy()

	sink.mu.Lock()
	closes := sink.closes
	sink.mu.Unlock()
	if closes != 1 {
		t.Fatalf("sink closed %d times, want 1", closes)
	}

	// A delta after destruction is ignored.
	p.ProcessDelta(silence(8192))
	if p.IsActive() || p.BufferedSamples() != 0 {
		t.Fatalf("player accepted audio after Destroy")
	}
}

func TestPlayer_UndecodableFragmentDropped(t *testing.T) {
	sink := &fakeSink{}
	p := testPlayer(t, sink)

	p.ProcessDelta("not base64!!!")
	if p.BufferedSamples() != 0 {
		t.Fatalf("undecodable fragment buffered")
	}

	// The stream stays alive for the next valid fragment.
	p.ProcessDelta(silence(4096))
	if !p.IsActive() {
		t.Fatalf("player dead after one bad fragment")
	}
	p.Destroy()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}
