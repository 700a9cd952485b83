package audio

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSource struct {
	mu        sync.Mutex
	frames    chan []float32
	starts    int
	stops     int
	failStart error
}

func (s *fakeSource) Start() (<-chan []float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failStart != nil {
		return nil, s.failStart
	}
	s.starts++
	s.frames = make(chan []float32, 64)
	return s.frames, nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return nil
}

func (s *fakeSource) feed(frame []float32) {
	s.mu.Lock()
	ch := s.frames
	s.mu.Unlock()
	ch <- frame
}

type sentBatch struct {
	data   string
	format string
	rate   int
}

func recordingSender(batches chan sentBatch) Sender {
	return func(data, format string, sampleRate int) bool {
		batches <- sentBatch{data: data, format: format, rate: sampleRate}
		return true
	}
}

func voicedFrame(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = 0.5
	}
	return out
}

func awaitBatch(t *testing.T, batches chan sentBatch) sentBatch {
	t.Helper()
	select {
	case b := <-batches:
		return b
	case <-time.After(2 * time.Second):
		t.Fatalf("no batch sent")
		return sentBatch{}
	}
}

func TestCapture_SilenceEndsUtterance(t *testing.T) {
	src := &fakeSource{}
	c, err := NewCapture(src, CaptureConfig{
		SilenceDuration: 30 * time.Millisecond,
		FlushInterval:   5 * time.Millisecond,
		Logger:          quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewCapture: %v", err)
	}
	batches := make(chan sentBatch, 8)
	if err := c.Start(recordingSender(batches)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	src.feed(voicedFrame(1024))
	// No further voice: after the silence window the utterance flushes.
	b := awaitBatch(t, batches)
	if b.format != "pcm16" || b.rate != 16000 {
		t.Fatalf("batch = %q @ %d, want pcm16 @ 16000", b.format, b.rate)
	}
	samples, err := DecodeBase64PCM16(b.data)
	if err != nil {
		t.Fatalf("decode sent batch: %v", err)
	}
	if len(samples) != 1024 {
		t.Fatalf("batch samples = %d, want 1024", len(samples))
	}
}

func TestCapture_HalfCapacityBoundsLatency(t *testing.T) {
	src := &fakeSource{}
	c, err := NewCapture(src, CaptureConfig{
		MaxBufferedSamples: 2048,
		SilenceDuration:    time.Hour,
		FlushInterval:      5 * time.Millisecond,
		Logger:             quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewCapture: %v", err)
	}
	batches := make(chan sentBatch, 8)
	if err := c.Start(recordingSender(batches)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	// Continuous speech never crosses the silence trigger, but half the
	// buffer capacity forces a flush anyway.
	src.feed(voicedFrame(512))
	src.feed(voicedFrame(512))
	b := awaitBatch(t, batches)
	samples, err := DecodeBase64PCM16(b.data)
	if err != nil {
		t.Fatalf("decode sent batch: %v", err)
	}
	if len(samples) < 1024 {
		t.Fatalf("batch samples = %d, want >= 1024", len(samples))
	}
}

func TestCapture_StopFlushesRemainderAndIsIdempotent(t *testing.T) {
	src := &fakeSource{}
	c, err := NewCapture(src, CaptureConfig{
		SilenceDuration: time.Hour,
		FlushInterval:   time.Hour,
		Logger:          quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewCapture: %v", err)
	}
	batches := make(chan sentBatch, 8)
	if err := c.Start(recordingSender(batches)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	src.feed(voicedFrame(256))
	waitFor(t, func() bool { return c.Flushes() == 0 && !capturedEmpty(c) })

	c.Stop()
	b := awaitBatch(t, batches)
	samples, _ := DecodeBase64PCM16(b.data)
	if len(samples) != 256 {
		t.Fatalf("remainder samples = %d, want 256", len(samples))
	}

	c.Stop()
	c.Stop()
	src.mu.Lock()
	stops := src.stops
	src.mu.Unlock()
	if stops != 1 {
		t.Fatalf("source stopped %d times, want 1", stops)
	}
}

func capturedEmpty(c *Capture) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Len() == 0
}

func TestCapture_StartWhileActiveIsNoop(t *testing.T) {
	src := &fakeSource{}
	c, err := NewCapture(src, CaptureConfig{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewCapture: %v", err)
	}
	batches := make(chan sentBatch, 8)
	if err := c.Start(recordingSender(batches)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	if err := c.Start(recordingSender(batches)); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	src.mu.Lock()
	starts := src.starts
	src.mu.Unlock()
	if starts != 1 {
		t.Fatalf("source started %d times, want 1", starts)
	}
}

func TestCapture_SourceFailurePropagates(t *testing.T) {
	src := &fakeSource{failStart: errors.New("microphone permission denied")}
	c, err := NewCapture(src, CaptureConfig{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewCapture: %v", err)
	}
	if err := c.Start(recordingSender(make(chan sentBatch, 1))); err == nil {
		t.Fatalf("Start succeeded with a failing source")
	}
	if c.IsActive() {
		t.Fatalf("capture active after failed Start")
	}
}

func TestCapture_SampleRateLockedWhileActive(t *testing.T) {
	src := &fakeSource{}
	c, err := NewCapture(src, CaptureConfig{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewCapture: %v", err)
	}
	if err := c.SetSampleRate(8000); err != nil {
		t.Fatalf("SetSampleRate while inactive: %v", err)
	}
	if c.SampleRate() != 8000 {
		t.Fatalf("sample rate = %d, want 8000", c.SampleRate())
	}

	if err := c.Start(recordingSender(make(chan sentBatch, 8))); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()
	if err := c.SetSampleRate(44100); err == nil {
		t.Fatalf("SetSampleRate succeeded while active")
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Fatalf("RMS(nil) = %v, want 0", got)
	}
	if got := RMS(make([]float32, 100)); got != 0 {
		t.Fatalf("RMS(silence) = %v, want 0", got)
	}
	got := RMS([]float32{0.5, -0.5, 0.5, -0.5})
	if got < 0.499 || got > 0.501 {
		t.Fatalf("RMS = %v, want 0.5", got)
	}
}
