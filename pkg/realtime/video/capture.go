// Package video produces a steady-rate stream of compressed frames for
// the session, sourced from a live camera when one is available or from a
// synthesized placeholder or animated avatar when not. Kiosk and demo
// deployments often must not show a live face, so the synthesized modes
// are first-class, not an error path.
package video

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"
)

// Mode selects where frames come from.
type Mode string

const (
	// ModeCamera draws live frames from the FrameSource.
	ModeCamera Mode = "camera"
	// ModeStatic re-encodes a fixed image every tick.
	ModeStatic Mode = "static"
	// ModeAvatar renders the animated assistant illustration.
	ModeAvatar Mode = "avatar"
)

// FrameSource is the camera capability. Open acquires the device; Frame
// grabs the current image. Tests and non-camera deployments leave it
// unused or inject fakes.
type FrameSource interface {
	Open(width, height, frameRate int) error
	Frame() (image.Image, error)
	Close() error
}

// Sender forwards one encoded frame. It matches the session client's
// SendVideoFrame signature.
type Sender func(data, format string, width, height int) bool

// Options configure one capture run.
type Options struct {
	Mode Mode
	// Width and Height of the outgoing frames. Defaults 640x480.
	Width, Height int
	// FrameRate in frames per second. Default 10.
	FrameRate int
	// Quality is the JPEG quality in (0, 1]. Default 0.7.
	Quality float64
	// StaticImage is drawn in ModeStatic; nil renders a generated
	// placeholder.
	StaticImage image.Image
	// AvatarImage replaces the generated avatar face in ModeAvatar.
	AvatarImage image.Image
}

type CaptureConfig struct {
	Logger *slog.Logger
	Now    func() time.Time
	// Ticks overrides the internal pacing ticker. Tests drive frames
	// deterministically through it.
	Ticks <-chan time.Time
}

// Stats is a point-in-time snapshot of capture throughput.
type Stats struct {
	Active        bool
	Mode          Mode
	FrameRate     int
	Width, Height int
	Quality       float64
	Frames        int64
	Dropped       int64
	DropRate      float64
	ActualFPS     float64
}

// Capture paces, renders, and sends frames. One goroutine owns the
// canvas; every public mutator goes through the mutex.
type Capture struct {
	logger *slog.Logger
	now    func() time.Time
	ticks  <-chan time.Time

	mu        sync.Mutex
	opts      Options
	source    FrameSource
	sender    Sender
	canvas    *image.RGBA
	mode      Mode
	speaking  bool
	animFrame int
	frames    int64
	dropped   int64
	lastFrame time.Time
	startedAt time.Time
	active    bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	ticker    *time.Ticker
}

func NewCapture(cfg CaptureConfig) *Capture {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Capture{
		logger: cfg.Logger,
		now:    cfg.Now,
		ticks:  cfg.Ticks,
	}
}

// Start begins emitting frames. In ModeCamera a device acquisition
// failure (permission denied, no device, busy) silently re-initializes in
// avatar mode; Start only errors on misuse, never on a missing camera.
// Calling Start while active is a no-op.
func (c *Capture) Start(src FrameSource, sender Sender, opts Options) error {
	if sender == nil {
		return fmt.Errorf("sender is required")
	}
	normalizeOptions(&opts)
	if opts.Mode == ModeCamera && src == nil {
		return fmt.Errorf("camera mode requires a frame source")
	}

	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return nil
	}
	c.opts = opts
	c.source = src
	c.sender = sender
	c.mode = opts.Mode
	c.canvas = image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height))

	if c.mode == ModeCamera {
		if err := src.Open(opts.Width, opts.Height, opts.FrameRate); err != nil {
			c.logger.Warn("camera unavailable, continuing with virtual avatar", "error", err)
			c.mode = ModeAvatar
		}
	}
	if c.mode == ModeStatic {
		drawStatic(c.canvas, opts.StaticImage)
	}

	c.active = true
	c.frames = 0
	c.dropped = 0
	c.animFrame = 0
	c.lastFrame = time.Time{}
	c.startedAt = c.now()
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})

	ticks := c.ticks
	if ticks == nil {
		c.ticker = time.NewTicker(frameInterval(opts.FrameRate))
		ticks = c.ticker.C
	}
	stop, done := c.stopCh, c.doneCh
	c.mu.Unlock()

	c.logger.Info("video capture started",
		"mode", c.Mode(),
		"resolution", fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"frame_rate", opts.FrameRate)
	go c.run(ticks, stop, done)
	return nil
}

func normalizeOptions(opts *Options) {
	if opts.Mode == "" {
		opts.Mode = ModeCamera
	}
	if opts.Width <= 0 {
		opts.Width = 640
	}
	if opts.Height <= 0 {
		opts.Height = 480
	}
	if opts.FrameRate <= 0 {
		opts.FrameRate = 10
	}
	if opts.Quality <= 0 || opts.Quality > 1 {
		opts.Quality = 0.7
	}
}

func frameInterval(fps int) time.Duration {
	return time.Second / time.Duration(fps)
}

func (c *Capture) run(ticks <-chan time.Time, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-ticks:
			c.tick()
		}
	}
}

// tick renders and sends at most one frame. A tick arriving sooner than
// the inter-frame interval since the last accepted frame counts as
// dropped.
func (c *Capture) tick() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	now := c.now()
	if !c.lastFrame.IsZero() && now.Sub(c.lastFrame) < frameInterval(c.opts.FrameRate) {
		c.dropped++
		c.mu.Unlock()
		return
	}

	switch c.mode {
	case ModeAvatar:
		c.animFrame = (c.animFrame + 1) % 360
		drawAvatar(c.canvas, c.opts.AvatarImage, c.speaking, c.animFrame)
	case ModeStatic:
		// Canvas was drawn once at Start; re-encode as is.
	case ModeCamera:
		frame, err := c.source.Frame()
		if err != nil {
			c.dropped++
			c.logger.Warn("camera frame grab failed", "error", err)
			c.mu.Unlock()
			return
		}
		drawStretched(c.canvas, frame)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, c.canvas, &jpeg.Options{Quality: int(c.opts.Quality * 100)}); err != nil {
		c.dropped++
		c.logger.Warn("frame encode failed", "error", err)
		c.mu.Unlock()
		return
	}
	c.lastFrame = now
	c.frames++
	sender := c.sender
	w, h := c.opts.Width, c.opts.Height
	c.mu.Unlock()

	sender(base64.StdEncoding.EncodeToString(buf.Bytes()), "jpeg", w, h)
}

// Stop halts frame emission and releases the camera. Idempotent.
func (c *Capture) Stop() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	close(c.stopCh)
	done := c.doneCh
	ticker := c.ticker
	c.ticker = nil
	wasCamera := c.mode == ModeCamera
	src := c.source
	c.mu.Unlock()

	<-done
	if ticker != nil {
		ticker.Stop()
	}
	if wasCamera && src != nil {
		if err := src.Close(); err != nil {
			c.logger.Warn("camera close failed", "error", err)
		}
	}
	c.logger.Info("video capture stopped")
}

// SwitchToCamera restarts in camera mode, keeping source, sender, and
// options. The usual avatar fallback applies if the device fails again.
func (c *Capture) SwitchToCamera() error {
	return c.restartAs(ModeCamera, nil)
}

// SwitchToVirtualAvatar restarts in avatar mode. A non-nil image replaces
// the generated face.
func (c *Capture) SwitchToVirtualAvatar(img image.Image) error {
	return c.restartAs(ModeAvatar, img)
}

func (c *Capture) restartAs(mode Mode, avatar image.Image) error {
	c.mu.Lock()
	sender := c.sender
	src := c.source
	opts := c.opts
	c.mu.Unlock()
	if sender == nil {
		return fmt.Errorf("capture was never started")
	}

	c.Stop()
	opts.Mode = mode
	if avatar != nil {
		opts.AvatarImage = avatar
	}
	return c.Start(src, sender, opts)
}

// SetFrameRate takes effect immediately, resetting the pacing ticker.
func (c *Capture) SetFrameRate(fps int) {
	if fps <= 0 {
		return
	}
	c.mu.Lock()
	c.opts.FrameRate = fps
	if c.ticker != nil {
		c.ticker.Reset(frameInterval(fps))
	}
	c.mu.Unlock()
}

// SetResolution is only honored while inactive.
func (c *Capture) SetResolution(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("resolution must be positive")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return fmt.Errorf("cannot change resolution while capturing")
	}
	c.opts.Width, c.opts.Height = width, height
	return nil
}

// SetQuality takes effect on the next encoded frame.
func (c *Capture) SetQuality(q float64) {
	if q <= 0 || q > 1 {
		return
	}
	c.mu.Lock()
	c.opts.Quality = q
	c.mu.Unlock()
}

// SetSpeaking drives the avatar's talking animation.
func (c *Capture) SetSpeaking(speaking bool) {
	c.mu.Lock()
	c.speaking = speaking
	c.mu.Unlock()
}

func (c *Capture) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Mode reports the effective mode, which differs from the requested one
// after a camera fallback.
func (c *Capture) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Capture) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Active:    c.active,
		Mode:      c.mode,
		FrameRate: c.opts.FrameRate,
		Width:     c.opts.Width,
		Height:    c.opts.Height,
		Quality:   c.opts.Quality,
		Frames:    c.frames,
		Dropped:   c.dropped,
	}
	if total := c.frames + c.dropped; total > 0 {
		s.DropRate = float64(c.dropped) / float64(total)
	}
	if elapsed := c.now().Sub(c.startedAt).Seconds(); elapsed > 0 && c.frames > 0 {
		s.ActualFPS = float64(c.frames) / elapsed
	}
	return s
}

// drawStretched scales src to fill the whole canvas, nearest neighbor,
// ignoring aspect ratio the way a camera preview fills its viewport.
func drawStretched(dst *image.RGBA, src image.Image) {
	db := dst.Bounds()
	sb := src.Bounds()
	for y := db.Min.Y; y < db.Max.Y; y++ {
		sy := sb.Min.Y + (y-db.Min.Y)*sb.Dy()/db.Dy()
		for x := db.Min.X; x < db.Max.X; x++ {
			sx := sb.Min.X + (x-db.Min.X)*sb.Dx()/db.Dx()
			dst.Set(x, y, src.At(sx, sy))
		}
	}
}

// drawStatic renders the caller's image aspect-fit with a margin, or the
// generated placeholder when none was supplied.
func drawStatic(dst *image.RGBA, src image.Image) {
	drawBackground(dst)
	if src == nil {
		drawPlaceholder(dst)
		return
	}
	db := dst.Bounds()
	sb := src.Bounds()
	scale := minf(
		float64(db.Dx())/float64(sb.Dx()),
		float64(db.Dy())/float64(sb.Dy()),
		0.8)
	w := int(float64(sb.Dx()) * scale)
	h := int(float64(sb.Dy()) * scale)
	x0 := db.Min.X + (db.Dx()-w)/2
	y0 := db.Min.Y + (db.Dy()-h)/2
	for y := 0; y < h; y++ {
		sy := sb.Min.Y + y*sb.Dy()/h
		for x := 0; x < w; x++ {
			sx := sb.Min.X + x*sb.Dx()/w
			dst.Set(x0+x, y0+y, src.At(sx, sy))
		}
	}
}

func minf(vals ...float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
