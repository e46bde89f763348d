package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"voicelink/internal/protocol"
)

// Recorder states.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateHandshaking
	StateStreaming
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateStreaming:
		return "streaming"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Source provides captured PCM. ReadInto copies whatever is currently
// available into p without blocking and returns the byte count.
type Source interface {
	ReadInto(p []byte) int
}

// Display receives recorder status lines and the running transcript.
type Display interface {
	Status(line string)
	Transcript(text string)
}

// Control reports whether recording should be active. Polled once per
// loop iteration.
type Control interface {
	Recording() bool
}

// Link is the transport the recorder streams over. Both the modem link
// and the native TCP link satisfy it.
type Link interface {
	Open(host string, port int, timeout time.Duration) error
	Send(data []byte, pump func(), timeout time.Duration) error
	Poll() (protocol.Frame, bool)
	Close()
}

// Config holds recorder parameters. Zero values select the defaults.
type Config struct {
	Host string
	Port int

	// StagingCapacity bounds staged audio; SendThreshold triggers a
	// send. Defaults: 8192 and 3200 bytes (100 ms at 16 kHz mono s16le).
	StagingCapacity int
	SendThreshold   int

	ConnectTimeout  time.Duration // default 5s
	SendTimeout     time.Duration // default 5s
	StopGrace       time.Duration // default 3s
	DisplayInterval time.Duration // default 200ms
}

func (c *Config) applyDefaults() {
	if c.StagingCapacity <= 0 {
		c.StagingCapacity = protocol.MaxAudioPayload
	}
	if c.SendThreshold <= 0 {
		c.SendThreshold = 3200
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 5 * time.Second
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 3 * time.Second
	}
	if c.DisplayInterval <= 0 {
		c.DisplayInterval = 200 * time.Millisecond
	}
}

// Recorder drives one recording at a time over the link: open and
// handshake on the start signal, stream staged audio while active,
// flush and stop on the stop signal, return to idle. A transport
// failure mid-stream aborts the recording; it does not auto-resume.
type Recorder struct {
	cfg     Config
	link    Link
	source  Source
	display Display
	control Control
	logger  *slog.Logger

	staging *StagingBuffer
	tracker Tracker
	state   State

	readBuf     []byte
	discard     bool
	lastDisplay time.Time
	idleDelay   time.Duration
}

func NewRecorder(cfg Config, link Link, source Source, display Display, control Control, logger *slog.Logger) *Recorder {
	cfg.applyDefaults()
	return &Recorder{
		cfg:       cfg,
		link:      link,
		source:    source,
		display:   display,
		control:   control,
		logger:    logger,
		staging:   NewStagingBuffer(cfg.StagingCapacity, cfg.SendThreshold),
		readBuf:   make([]byte, 512),
		idleDelay: 10 * time.Millisecond,
	}
}

// State reports the current recorder state.
func (r *Recorder) State() State { return r.state }

// Run executes the recorder loop until the context is canceled. An
// active recording is stopped cleanly on cancellation.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			if r.state == StateStreaming {
				r.stop()
			}
			return ctx.Err()
		default:
		}
		r.Step()
	}
}

// Step executes one loop iteration. Exposed so tests can drive the
// recorder without real time.
func (r *Recorder) Step() {
	switch r.state {
	case StateIdle:
		if r.control.Recording() {
			r.start()
			return
		}
		time.Sleep(r.idleDelay)

	case StateStreaming:
		r.pump()

		if !r.control.Recording() {
			r.stop()
			return
		}

		if r.staging.Ready() {
			if err := r.sendStaged(); err != nil {
				r.abort(err)
				return
			}
		}

		r.pollTranscript()
		r.showTranscript(false)
	}
}

// start opens the link, performs the handshake, and enters Streaming.
// Any failure reports status and returns to Idle.
func (r *Recorder) start() {
	r.state = StateConnecting
	r.staging.Take()
	r.tracker.Reset()
	r.discard = false
	r.display.Status("connecting")

	if err := r.link.Open(r.cfg.Host, r.cfg.Port, r.cfg.ConnectTimeout); err != nil {
		r.logger.Warn("Connect failed", slog.String("error", err.Error()))
		r.display.Status("connect failed")
		r.state = StateIdle
		return
	}

	r.state = StateHandshaking
	if err := r.link.Send([]byte(protocol.Handshake), r.pump, r.cfg.SendTimeout); err != nil {
		r.logger.Warn("Handshake failed", slog.String("error", err.Error()))
		r.display.Status("handshake failed")
		r.link.Close()
		r.state = StateIdle
		return
	}

	r.state = StateStreaming
	r.display.Status("recording")
	r.logger.Info("Recording started",
		slog.String("host", r.cfg.Host),
		slog.Int("port", r.cfg.Port),
	)
}

// stop flushes remaining audio, sends the stop frame, waits a bounded
// grace period for the terminal transcript, and returns to Idle.
func (r *Recorder) stop() {
	r.state = StateStopping
	r.display.Status("finishing")

	// Flush whatever is staged below the threshold.
	if r.staging.Len() > 0 {
		if err := r.sendStaged(); err != nil {
			r.abort(err)
			return
		}
	}
	// Capture after this point is drained but discarded.
	r.discard = true

	if err := r.link.Send(protocol.EncodeStopFrame(), r.pump, r.cfg.SendTimeout); err != nil {
		r.abort(err)
		return
	}

	deadline := time.Now().Add(r.cfg.StopGrace)
	for time.Now().Before(deadline) {
		r.pump()
		r.pollTranscript()
		if r.tracker.Final() {
			break
		}
		time.Sleep(time.Millisecond)
	}

	r.link.Close()
	r.showTranscript(true)
	r.display.Status("done")
	r.logger.Info("Recording finished", slog.Bool("got_final", r.tracker.Final()))
	r.state = StateIdle
}

// abort tears the link down after a transport failure and returns to
// Idle without waiting for a transcript.
func (r *Recorder) abort(err error) {
	r.logger.Warn("Recording aborted", slog.String("error", err.Error()))
	r.link.Close()
	r.showTranscript(true)
	r.display.Status("transport lost")
	r.discard = false
	r.state = StateIdle
}

// pump drains the capture source into the staging buffer. It is also
// passed to the link so capture continues during send waits.
func (r *Recorder) pump() {
	for {
		n := r.source.ReadInto(r.readBuf)
		if n == 0 {
			return
		}
		if !r.discard {
			r.staging.Append(r.readBuf[:n])
		}
	}
}

func (r *Recorder) sendStaged() error {
	frame, err := protocol.EncodeAudioFrame(r.staging.Take())
	if err != nil {
		return err
	}
	return r.link.Send(frame, r.pump, r.cfg.SendTimeout)
}

// pollTranscript drains inbound transcript frames into the tracker.
func (r *Recorder) pollTranscript() {
	for {
		frame, ok := r.link.Poll()
		if !ok {
			return
		}
		r.tracker.Apply(frame)
	}
}

// showTranscript refreshes the display, throttled unless forced.
func (r *Recorder) showTranscript(force bool) {
	if !force && time.Since(r.lastDisplay) < r.cfg.DisplayInterval {
		return
	}
	text := r.tracker.Text()
	if text == "" && !force {
		return
	}
	r.display.Transcript(text)
	r.lastDisplay = time.Now()
}
