package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Source delivers microphone input as fixed-size frames of normalized
// samples. Echo cancellation, noise suppression, and auto gain are the
// source's concern; the pipeline only sees floats.
type Source interface {
	// Start begins delivery. The returned channel closes when the device
	// stops or fails.
	Start() (<-chan []float32, error)
	Stop() error
}

// Sender forwards one flushed batch. It matches the session client's
// SendAudioData signature.
type Sender func(data, format string, sampleRate int) bool

type CaptureConfig struct {
	// SampleRate of the input stream. Default 16000. Changeable only
	// while the pipeline is inactive.
	SampleRate int
	// MaxBufferedSamples caps the capture buffer; a flush fires at half
	// this to bound latency. Default 16384.
	MaxBufferedSamples int
	// SilenceThreshold is the RMS level below which a frame counts as
	// silence. Default 0.01.
	SilenceThreshold float64
	// SilenceDuration without voice activity that ends an utterance.
	// Default 1s.
	SilenceDuration time.Duration
	// FlushInterval is the trigger-check cadence. Default 100ms.
	FlushInterval time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
}

// Capture scores every input frame by RMS energy for voice activity and
// batches all frames, voiced or not, toward the session. A flush happens
// on end-of-utterance (silence long enough) or when the buffer reaches
// half capacity, whichever comes first.
type Capture struct {
	source Source
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	cfg       CaptureConfig
	sender    Sender
	buf       *SampleBuffer
	lastVoice time.Time
	active    bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	flushes   int64
}

func NewCapture(source Source, cfg CaptureConfig) (*Capture, error) {
	if source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.MaxBufferedSamples <= 0 {
		cfg.MaxBufferedSamples = 16384
	}
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = 0.01
	}
	if cfg.SilenceDuration <= 0 {
		cfg.SilenceDuration = time.Second
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 100 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Capture{
		source: source,
		logger: cfg.Logger,
		now:    cfg.Now,
		cfg:    cfg,
	}, nil
}

// Start acquires the source and begins capturing. A device or permission
// failure is returned to the caller, which owns the fallback UX. Calling
// Start while already active is a no-op.
func (c *Capture) Start(sender Sender) error {
	if sender == nil {
		return fmt.Errorf("sender is required")
	}
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return nil
	}
	frames, err := c.source.Start()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("open capture source: %w", err)
	}
	c.sender = sender
	c.buf = NewSampleBuffer(c.cfg.MaxBufferedSamples)
	c.lastVoice = c.now()
	c.active = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	stop, done := c.stopCh, c.doneCh
	interval := c.cfg.FlushInterval
	c.mu.Unlock()

	c.logger.Info("audio capture started", "sample_rate", c.cfg.SampleRate)
	go c.run(frames, stop, done, interval)
	return nil
}

func (c *Capture) run(frames <-chan []float32, stop <-chan struct{}, done chan<- struct{}, interval time.Duration) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			c.flush()
			return
		case frame, ok := <-frames:
			if !ok {
				c.logger.Warn("capture source closed its frame channel")
				c.flush()
				return
			}
			c.ingest(frame)
		case <-ticker.C:
			c.checkFlush()
		}
	}
}

func (c *Capture) ingest(frame []float32) {
	energy := RMS(frame)
	c.mu.Lock()
	if energy >= c.cfg.SilenceThreshold {
		c.lastVoice = c.now()
	}
	c.buf.Append(frame)
	c.mu.Unlock()
}

func (c *Capture) checkFlush() {
	c.mu.Lock()
	n := c.buf.Len()
	if n == 0 {
		c.mu.Unlock()
		return
	}
	latencyBound := n >= c.cfg.MaxBufferedSamples/2
	utteranceEnd := c.now().Sub(c.lastVoice) >= c.cfg.SilenceDuration
	if !latencyBound && !utteranceEnd {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.flush()
}

// flush drains the buffer and sends it as one base64 PCM16 batch.
func (c *Capture) flush() {
	c.mu.Lock()
	samples := c.buf.TakeAll()
	sender := c.sender
	rate := c.cfg.SampleRate
	if len(samples) > 0 {
		c.flushes++
	}
	c.mu.Unlock()

	if len(samples) == 0 || sender == nil {
		return
	}
	if !sender(EncodeBase64PCM16(samples), "pcm16", rate) {
		c.logger.Warn("audio batch send refused", "samples", len(samples))
	}
}

// Stop flushes the remainder and releases the source. Idempotent.
func (c *Capture) Stop() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	close(c.stopCh)
	done := c.doneCh
	c.mu.Unlock()

	<-done
	if err := c.source.Stop(); err != nil {
		c.logger.Warn("capture source stop failed", "error", err)
	}
	c.logger.Info("audio capture stopped")
}

// Restart stops and reacquires the source with the same sender.
func (c *Capture) Restart() error {
	c.mu.Lock()
	sender := c.sender
	c.mu.Unlock()
	if sender == nil {
		return fmt.Errorf("capture was never started")
	}
	c.Stop()
	return c.Start(sender)
}

func (c *Capture) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// SetSilenceThreshold takes effect immediately.
func (c *Capture) SetSilenceThreshold(v float64) {
	if v <= 0 {
		return
	}
	c.mu.Lock()
	c.cfg.SilenceThreshold = v
	c.mu.Unlock()
}

// SetSilenceDuration takes effect immediately.
func (c *Capture) SetSilenceDuration(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.cfg.SilenceDuration = d
	c.mu.Unlock()
}

// SetSampleRate is only honored while the pipeline is inactive.
func (c *Capture) SetSampleRate(rate int) error {
	if rate <= 0 {
		return fmt.Errorf("sample rate must be positive")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return fmt.Errorf("cannot change sample rate while capturing")
	}
	c.cfg.SampleRate = rate
	return nil
}

// Flushes reports how many non-empty batches have been sent.
func (c *Capture) Flushes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushes
}

func (c *Capture) SampleRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.SampleRate
}
