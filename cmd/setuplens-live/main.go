// Command setuplens-live is a terminal client for the realtime guidance
// endpoint: type questions on stdin, read assistant text as it streams,
// and optionally record assistant audio and send a synthetic video feed.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/setuplens/setuplens-go/internal/dotenv"
	"github.com/setuplens/setuplens-go/pkg/realtime/audio"
	"github.com/setuplens/setuplens-go/pkg/realtime/dispatch"
	"github.com/setuplens/setuplens-go/pkg/realtime/protocol"
	"github.com/setuplens/setuplens-go/pkg/realtime/session"
	"github.com/setuplens/setuplens-go/pkg/realtime/video"
)

type options struct {
	url       string
	apiKey    string
	prompt    string
	audioOut  string
	sendVideo bool
	videoFPS  int
	videoSize string
	logLevel  string
}

func main() {
	os.Exit(runMain())
}

func runMain() int {
	if err := dotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "load .env:", err)
		return 2
	}

	var opt options
	flag.StringVar(&opt.url, "url", strings.TrimSpace(os.Getenv("SETUPLENS_URL")), "Realtime endpoint, ws(s)://host/path (also reads SETUPLENS_URL)")
	flag.StringVar(&opt.apiKey, "api-key", strings.TrimSpace(os.Getenv("SETUPLENS_API_KEY")), "API key sent as a bearer token (also reads SETUPLENS_API_KEY)")
	flag.StringVar(&opt.prompt, "prompt", "", "System prompt override for the session")
	flag.StringVar(&opt.audioOut, "audio-out", "", "If set, write assistant audio to this file (raw pcm16le @24kHz mono)")
	flag.BoolVar(&opt.sendVideo, "video", false, "Stream a synthetic presenter feed alongside the conversation")
	flag.IntVar(&opt.videoFPS, "video-fps", 0, "Video frame rate (default 10)")
	flag.StringVar(&opt.videoSize, "video-size", "", "Video resolution as WxH (default 640x480)")
	flag.StringVar(&opt.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	if strings.TrimSpace(opt.url) == "" {
		fmt.Fprintln(os.Stderr, "missing -url (or SETUPLENS_URL)")
		return 2
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(opt.logLevel),
	}))

	sink, err := newPCMSink(opt.audioOut)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open audio output:", err)
		return 2
	}

	player, err := audio.NewPlayer(sink, audio.PlayerConfig{
		Logger: logger,
		OnError: func(err error) {
			fmt.Fprintln(os.Stderr, "error:", session.ErrorEvent{
				Type:    session.ErrPlayback,
				Message: err.Error(),
			})
		},
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "init player:", err)
		return 2
	}

	client, err := session.New(session.Config{
		URL:          opt.url,
		APIKey:       opt.apiKey,
		SystemPrompt: opt.prompt,
		Logger:       logger,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "init session:", err)
		return 2
	}

	mgr, err := dispatch.New(dispatch.Config{
		Session: client,
		Player:  player,
		Logger:  logger,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "init dispatch:", err)
		return 2
	}
	defer mgr.Destroy()

	mgr.On("connected", func(protocol.ServerEvent) {
		fmt.Fprintln(os.Stderr, "connected, waiting for session")
	})
	mgr.On("session.updated", func(protocol.ServerEvent) {
		fmt.Fprintln(os.Stderr, "session ready, type a question (ctrl-c to quit)")
		fmt.Print("> ")
	})
	mgr.On("disconnected", func(ev protocol.ServerEvent) {
		d := ev.(session.DisconnectedEvent)
		fmt.Fprintf(os.Stderr, "disconnected (%d %s)\n", d.Code, d.Reason)
	})
	mgr.OnMessage(func(delta string) { fmt.Print(delta) })
	mgr.On("response.done", func(protocol.ServerEvent) {
		fmt.Println()
		fmt.Print("> ")
	})
	mgr.OnError(func(err error) {
		fmt.Fprintln(os.Stderr, "error:", err)
	})

	vid := startVideo(mgr, opt, logger)
	if vid != nil {
		defer vid.Stop()
	}

	mgr.Connect()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	lines := readLines(os.Stdin)

	for {
		select {
		case <-sig:
			fmt.Fprintln(os.Stderr, "\nshutting down")
			return 0
		case line, ok := <-lines:
			if !ok {
				return 0
			}
			line = strings.TrimSpace(line)
			if line == "" {
				fmt.Print("> ")
				continue
			}
			if !mgr.SendTextMessage(line) {
				fmt.Fprintln(os.Stderr, "not connected yet, message dropped")
				fmt.Print("> ")
			}
		}
	}
}

// startVideo attaches the synthetic presenter feed when -video is set,
// animating the avatar while assistant audio is streaming.
func startVideo(mgr *dispatch.Manager, opt options, logger *slog.Logger) *video.Capture {
	if !opt.sendVideo {
		return nil
	}
	opts := video.Options{
		Mode:      video.ModeAvatar,
		FrameRate: opt.videoFPS,
	}
	if opt.videoSize != "" {
		if _, err := fmt.Sscanf(opt.videoSize, "%dx%d", &opts.Width, &opts.Height); err != nil {
			fmt.Fprintf(os.Stderr, "bad -video-size %q, using default\n", opt.videoSize)
			opts.Width, opts.Height = 0, 0
		}
	}

	vid := video.NewCapture(video.CaptureConfig{Logger: logger})
	if err := vid.Start(nil, mgr.SendVideoFrame, opts); err != nil {
		fmt.Fprintln(os.Stderr, "start video:", err)
		return nil
	}
	mgr.On("response.audio.delta", func(protocol.ServerEvent) { vid.SetSpeaking(true) })
	mgr.On("response.audio.done", func(protocol.ServerEvent) { vid.SetSpeaking(false) })
	return vid
}

func readLines(f *os.File) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			out <- scanner.Text()
		}
	}()
	return out
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// pcmSink renders assistant audio by appending raw pcm16 to a file, or
// discarding it when no path was given. Completion callbacks fire after a
// short pacing delay so playback drains at roughly realtime speed without
// a sound device.
type pcmSink struct {
	mu      sync.Mutex
	file    *os.File
	stopped bool
}

func newPCMSink(path string) (*pcmSink, error) {
	s := &pcmSink{}
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		s.file = f
	}
	return s, nil
}

func (s *pcmSink) Play(samples []float32, done func()) error {
	s.mu.Lock()
	s.stopped = false
	if s.file != nil {
		if _, err := s.file.Write(audio.Float32ToPCM16(samples)); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.mu.Unlock()

	wait := time.Duration(len(samples)) * time.Second / 24000
	go func() {
		time.Sleep(wait)
		s.mu.Lock()
		stopped := s.stopped
		s.mu.Unlock()
		if !stopped {
			done()
		}
	}()
	return nil
}

func (s *pcmSink) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *pcmSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
