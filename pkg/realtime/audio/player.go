// Package audio holds the two halves of the voice path: the playback
// engine draining remote audio deltas into a sink, and the capture
// pipeline batching microphone samples toward the session.
package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Sink renders one chunk of normalized samples at a time. Play invokes
// done once the chunk has finished rendering; only one chunk is in flight
// at any moment. Stop halts the in-flight chunk, discarding its remainder
// without invoking done.
type Sink interface {
	Play(samples []float32, done func()) error
	Stop()
	Close() error
}

type PlayerConfig struct {
	// SampleRate of the output stream. Default 24000.
	SampleRate int
	// ChunkSize is the number of samples handed to the sink per playable
	// unit. Default 8192.
	ChunkSize int
	// MinStartSamples is how much must be buffered before an idle engine
	// starts the playback chain. Default 4096.
	MinStartSamples int
	// MaxBufferedSamples caps the buffer; on overflow the oldest audio is
	// evicted. Default 32768.
	MaxBufferedSamples int
	// PollInterval is the wait when the buffer holds data but less than a
	// full chunk. Default 10ms.
	PollInterval time.Duration
	Logger       *slog.Logger
	// OnError receives playback scheduling failures after the engine has
	// hard-stopped itself.
	OnError func(error)
}

// Player converts base64 PCM16 deltas into gapless chained playback.
// Fragments arrive at irregular intervals, so chunks are scheduled one at
// a time from each completion callback rather than as one stream.
type Player struct {
	cfg    PlayerConfig
	sink   Sink
	logger *slog.Logger

	mu        sync.Mutex
	buf       *SampleBuffer
	playing   bool
	paused    bool
	ended     bool
	destroyed bool
	volume    float64
	played    int64
	poll      *time.Timer
}

// PlayerStats is a point-in-time snapshot of playback progress.
type PlayerStats struct {
	Playing         bool
	Paused          bool
	Volume          float64
	SampleRate      int
	BufferedSamples int
	PlayedSamples   int64
	PlaybackSeconds float64
}

func NewPlayer(sink Sink, cfg PlayerConfig) (*Player, error) {
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 8192
	}
	if cfg.MinStartSamples <= 0 {
		cfg.MinStartSamples = 4096
	}
	if cfg.MaxBufferedSamples <= 0 {
		cfg.MaxBufferedSamples = 32768
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Player{
		cfg:    cfg,
		sink:   sink,
		logger: cfg.Logger,
		buf:    NewSampleBuffer(cfg.MaxBufferedSamples),
		volume: 1,
	}, nil
}

// ProcessDelta decodes one inbound audio fragment and appends it to the
// buffer, starting the playback chain when the engine is idle and enough
// is buffered. A fragment that fails to decode is dropped; the stream
// stays alive.
func (p *Player) ProcessDelta(data string) {
	samples, err := DecodeBase64PCM16(data)
	if err != nil {
		p.logger.Warn("dropping undecodable audio fragment", "error", err)
		return
	}

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.buf.Append(samples)
	p.ended = false
	start := !p.playing && !p.paused && p.buf.Len() >= p.cfg.MinStartSamples
	if start {
		p.playing = true
	}
	p.mu.Unlock()

	if start {
		p.playNext()
	}
}

// CompletePlayback signals end-of-audio from the far side: whatever is
// buffered plays out, including a final chunk smaller than ChunkSize.
func (p *Player) CompletePlayback() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.ended = true
	start := !p.playing && !p.paused && p.buf.Len() > 0
	if start {
		p.playing = true
	}
	p.mu.Unlock()

	if start {
		p.playNext()
	}
}

func (p *Player) playNext() {
	p.mu.Lock()
	if p.destroyed || !p.playing || p.paused {
		p.mu.Unlock()
		return
	}
	n := p.buf.Len()
	if n == 0 {
		p.playing = false
		p.ended = false
		p.mu.Unlock()
		return
	}
	take := p.cfg.ChunkSize
	if n < take {
		if !p.ended {
			// Less than a chunk buffered mid-stream: wait out the arrival
			// jitter instead of terminating the chain.
			p.poll = time.AfterFunc(p.cfg.PollInterval, p.playNext)
			p.mu.Unlock()
			return
		}
		take = n
	}
	chunk := p.buf.Take(take)
	vol := float32(p.volume)
	p.mu.Unlock()

	if vol != 1 {
		for i := range chunk {
			chunk[i] *= vol
		}
	}

	err := p.sink.Play(chunk, func() {
		p.mu.Lock()
		p.played += int64(len(chunk))
		p.mu.Unlock()
		p.playNext()
	})
	if err != nil {
		p.logger.Warn("chunk scheduling failed, stopping playback", "error", err)
		p.Stop()
		if p.cfg.OnError != nil {
			p.cfg.OnError(fmt.Errorf("schedule playback chunk: %w", err))
		}
	}
}

// Pause discards the in-flight chunk and holds the rest of the buffer.
// The loss of the in-flight unit is accepted; Resume restarts from the
// buffer.
func (p *Player) Pause() {
	p.mu.Lock()
	if !p.playing || p.paused {
		p.mu.Unlock()
		return
	}
	p.paused = true
	p.stopPollLocked()
	p.mu.Unlock()
	p.sink.Stop()
}

// Resume continues playback from the buffered samples.
func (p *Player) Resume() {
	p.mu.Lock()
	if !p.playing || !p.paused {
		p.mu.Unlock()
		return
	}
	p.paused = false
	p.mu.Unlock()
	p.playNext()
}

// Stop hard-resets the engine: halts the sink and clears the buffer.
func (p *Player) Stop() {
	p.mu.Lock()
	p.playing = false
	p.paused = false
	p.ended = false
	p.played = 0
	p.stopPollLocked()
	p.buf.Clear()
	p.mu.Unlock()
	p.sink.Stop()
}

func (p *Player) stopPollLocked() {
	if p.poll != nil {
		p.poll.Stop()
		p.poll = nil
	}
}

// SetVolume clamps to [0, 1] and applies to subsequently scheduled chunks.
func (p *Player) SetVolume(v float64) {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	p.mu.Lock()
	p.volume = v
	p.mu.Unlock()
}

func (p *Player) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// IsActive reports whether the playback chain is running (including while
// paused or polling for more data).
func (p *Player) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *Player) BufferedSamples() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Len()
}

func (p *Player) Stats() PlayerStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PlayerStats{
		Playing:         p.playing,
		Paused:          p.paused,
		Volume:          p.volume,
		SampleRate:      p.cfg.SampleRate,
		BufferedSamples: p.buf.Len(),
		PlayedSamples:   p.played,
		PlaybackSeconds: float64(p.played) / float64(p.cfg.SampleRate),
	}
}

// Destroy stops playback and closes the sink. Safe to call repeatedly.
func (p *Player) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	p.playing = false
	p.paused = false
	p.ended = false
	p.stopPollLocked()
	p.buf.Clear()
	p.mu.Unlock()

	p.sink.Stop()
	if err := p.sink.Close(); err != nil {
		p.logger.Warn("sink close failed", "error", err)
	}
}
