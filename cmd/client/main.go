package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"voicelink/internal/atlink"
	"voicelink/internal/capture"
	"voicelink/internal/config"
	"voicelink/internal/logging"
	"voicelink/internal/protocol"
	"voicelink/internal/storage"
	"voicelink/internal/tcplink"
)

const defaultConfigPath = "configs/client.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	inputPath := flag.String("input", "", "WAV file to stream (silence when empty)")
	duration := flag.Duration("duration", 5*time.Second, "Recording duration (ignored when -input is set)")
	flag.Parse()

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	logger.Info("Client starting",
		slog.String("transport", cfg.Transport.Mode),
		slog.String("remote", fmt.Sprintf("%s:%d", cfg.Remote.Host, cfg.Remote.Port)),
	)

	link, cleanup, err := newLink(cfg, logger)
	if err != nil {
		logger.Error("Transport setup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer cleanup()

	source, recordFor, err := newSource(*inputPath, *duration)
	if err != nil {
		logger.Error("Audio source setup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	control := newTimedControl(recordFor)
	display := &terminalDisplay{}

	recorder := capture.NewRecorder(capture.Config{
		Host:            cfg.Remote.Host,
		Port:            cfg.Remote.Port,
		StagingCapacity: cfg.Stream.StagingCapacity,
		SendThreshold:   cfg.Stream.SendThreshold,
		StopGrace:       cfg.Stream.GetStopGraceDuration(),
		DisplayInterval: cfg.Stream.GetDisplayIntervalDuration(),
	}, link, source, display, control, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Leave time for the stop flush and the transcript grace window
	// before tearing the recorder down.
	settle := cfg.Stream.GetStopGraceDuration() + 2*time.Second
	runCtx, cancel := context.WithTimeout(ctx, recordFor+settle)
	defer cancel()

	if err := recorder.Run(runCtx); err != nil {
		logger.Error("Recorder failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Client stopped")
}

// newLink builds the transport selected by configuration. The cleanup
// function releases the serial port when one was opened.
func newLink(cfg *config.ClientConfig, logger *slog.Logger) (capture.Link, func(), error) {
	switch cfg.Transport.Mode {
	case "tcp":
		return tcplink.New(), func() {}, nil
	case "modem":
		port, err := atlink.OpenSerial(cfg.Modem.Device, cfg.Modem.Baud)
		if err != nil {
			return nil, nil, fmt.Errorf("open serial %s: %w", cfg.Modem.Device, err)
		}
		modem := atlink.New(port, logger)
		if err := modem.Init(atlink.Config{
			SSID:        cfg.Modem.SSID,
			Password:    cfg.Modem.Password,
			FastBaud:    cfg.Modem.FastBaud,
			JoinTimeout: cfg.Modem.GetJoinTimeoutDuration(),
		}); err != nil {
			port.Close()
			return nil, nil, fmt.Errorf("modem init: %w", err)
		}
		return atlink.NewStreamLink(modem, 0), func() { port.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport mode %q", cfg.Transport.Mode)
	}
}

// newSource returns the audio source and how long to keep the
// recording switch on. A WAV input plays for its own duration.
func newSource(inputPath string, fallback time.Duration) (capture.Source, time.Duration, error) {
	if inputPath == "" {
		return newPacedSource(nil), fallback, nil
	}

	pcm, rate, err := storage.LoadWAV(inputPath)
	if err != nil {
		return nil, 0, err
	}
	if rate != protocol.SampleRate {
		return nil, 0, fmt.Errorf("input sampled at %d Hz, need %d Hz", rate, protocol.SampleRate)
	}

	length := time.Duration(storage.Duration(len(pcm), rate) * float64(time.Second))
	return newPacedSource(pcm), length, nil
}

// pacedSource releases PCM at the real-time sample rate so the staging
// buffer fills the way a live microphone would. A nil pcm slice plays
// silence indefinitely.
type pacedSource struct {
	mu    sync.Mutex
	pcm   []byte
	start time.Time
	pos   int
}

func newPacedSource(pcm []byte) *pacedSource {
	return &pacedSource{pcm: pcm, start: time.Now()}
}

func (s *pacedSource) ReadInto(p []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := time.Since(s.start).Seconds()
	due := int(elapsed*protocol.SampleRate) * 2
	avail := due - s.pos
	if avail <= 0 {
		return 0
	}
	if avail > len(p) {
		avail = len(p)
	}

	if s.pcm == nil {
		for i := 0; i < avail; i++ {
			p[i] = 0
		}
		s.pos += avail
		return avail
	}

	remaining := len(s.pcm) - s.pos
	if remaining <= 0 {
		return 0
	}
	if avail > remaining {
		avail = remaining
	}
	copy(p[:avail], s.pcm[s.pos:s.pos+avail])
	s.pos += avail
	return avail
}

// timedControl keeps the recording switch on for a fixed window.
type timedControl struct {
	until time.Time
}

func newTimedControl(d time.Duration) *timedControl {
	return &timedControl{until: time.Now().Add(d)}
}

func (c *timedControl) Recording() bool {
	return time.Now().Before(c.until)
}

// terminalDisplay writes status and transcript lines to stdout.
type terminalDisplay struct{}

func (d *terminalDisplay) Status(line string) {
	fmt.Printf("[%s]\n", line)
}

func (d *terminalDisplay) Transcript(text string) {
	if text != "" {
		fmt.Println(text)
	}
}
