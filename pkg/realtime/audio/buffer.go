package audio

import "sync"

// SampleBuffer is a bounded FIFO of float32 samples. When an append would
// exceed capacity the oldest samples are evicted so the newest audio is
// always retained. Safe for one producer and one consumer.
type SampleBuffer struct {
	mu       sync.Mutex
	samples  []float32
	capacity int
	evicted  int64
}

func NewSampleBuffer(capacity int) *SampleBuffer {
	return &SampleBuffer{capacity: capacity}
}

// Append adds samples, evicting from the front when over capacity.
func (b *SampleBuffer) Append(samples []float32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = append(b.samples, samples...)
	if over := len(b.samples) - b.capacity; over > 0 {
		b.evicted += int64(over)
		b.samples = append(b.samples[:0], b.samples[over:]...)
	}
}

// Take removes and returns up to n samples from the front.
func (b *SampleBuffer) Take(n int) []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > len(b.samples) {
		n = len(b.samples)
	}
	out := make([]float32, n)
	copy(out, b.samples[:n])
	b.samples = append(b.samples[:0], b.samples[n:]...)
	return out
}

// TakeAll removes and returns everything buffered.
func (b *SampleBuffer) TakeAll() []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.samples
	b.samples = nil
	return out
}

func (b *SampleBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

func (b *SampleBuffer) Cap() int { return b.capacity }

// Evicted reports the total samples dropped to stay within capacity.
func (b *SampleBuffer) Evicted() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evicted
}

func (b *SampleBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = nil
}
