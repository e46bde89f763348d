package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"voicelink/internal/metrics"
	"voicelink/internal/protocol"
	"voicelink/internal/recognition"
	"voicelink/internal/storage"
)

// NoSpeechText is the terminal transcript sent when recognition
// produced no final result for a session.
const NoSpeechText = "[No speech detected]"

// Config holds session engine parameters. Zero values select defaults.
type Config struct {
	// QueueDepth bounds audio frames queued ahead of the recognition
	// worker. Ingestion blocks briefly when full; audio is never
	// dropped mid-session. Default 32.
	QueueDepth int

	// IdleTimeout ends a session that stops receiving audio without a
	// stop frame. Default 10s.
	IdleTimeout time.Duration

	// StopGrace is the window after a stop frame during which late
	// audio frames are discarded. Default 2s.
	StopGrace time.Duration

	// OutDepth bounds transcript frames queued for delivery. Default 64.
	OutDepth int
}

func (c *Config) applyDefaults() {
	if c.QueueDepth <= 0 {
		c.QueueDepth = 32
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Second
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 2 * time.Second
	}
	if c.OutDepth <= 0 {
		c.OutDepth = 64
	}
}

// recording is one recognition session: a bounded audio queue feeding
// one worker goroutine, plus the PCM accumulated for the store.
type recording struct {
	id      string
	audio   chan []byte
	done    chan struct{}
	started time.Time
	pcm     []byte
}

// Stats is a point-in-time view of an engine for the monitoring API.
type Stats struct {
	ID              string    `json:"id"`
	SessionActive   bool      `json:"session_active"`
	SessionsStarted int64     `json:"sessions_started"`
	AudioBytes      int64     `json:"audio_bytes"`
	TranscriptsSent int64     `json:"transcripts_sent"`
	LastAudio       time.Time `json:"last_audio,omitempty"`
}

// Engine owns all session state for one client connection. HandleFrame
// and CheckIdle must be called from the connection's single ingestion
// goroutine; only the out queue and the stats counters are shared.
type Engine struct {
	id         string
	cfg        Config
	recognizer recognition.Recognizer
	store      *storage.Store
	metrics    *metrics.Metrics
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	out        chan []byte
	current    *recording
	prevDone   chan struct{}
	graceUntil time.Time
	seq        int

	sessionsStarted atomic.Int64
	audioBytes      atomic.Int64
	transcripts     atomic.Int64
	lastAudioNano   atomic.Int64
	active          atomic.Bool
}

// NewEngine creates the engine for one connection.
func NewEngine(id string, cfg Config, rec recognition.Recognizer, store *storage.Store, m *metrics.Metrics, logger *slog.Logger) *Engine {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		id:         id,
		cfg:        cfg,
		recognizer: rec,
		store:      store,
		metrics:    m,
		logger:     logger.With(slog.String("conn_id", id)),
		ctx:        ctx,
		cancel:     cancel,
		out:        make(chan []byte, cfg.OutDepth),
	}
}

// Transcripts is the queue of encoded transcript frames for the
// delivery loop. It closes when the engine shuts down.
func (e *Engine) Transcripts() <-chan []byte { return e.out }

// HandleFrame processes one inbound frame.
func (e *Engine) HandleFrame(frame protocol.Frame) error {
	switch frame.Type {
	case protocol.FrameAudio:
		return e.handleAudio(frame.Payload)
	case protocol.FrameStop:
		e.metrics.RecordStopFrame()
		e.endSession(false)
		e.graceUntil = time.Now().Add(e.cfg.StopGrace)
		return nil
	default:
		return fmt.Errorf("unexpected frame %s", frame.Type)
	}
}

func (e *Engine) handleAudio(pcm []byte) error {
	now := time.Now()
	e.metrics.RecordAudioFrame(len(pcm))

	if e.current == nil && now.Before(e.graceUntil) {
		e.metrics.RecordLateFrameDropped()
		return nil
	}

	if e.current == nil {
		e.startSession(now)
	}
	e.lastAudioNano.Store(now.UnixNano())
	e.audioBytes.Add(int64(len(pcm)))
	e.current.pcm = append(e.current.pcm, pcm...)

	// Bounded queue: block until the worker catches up rather than
	// dropping audio.
	select {
	case e.current.audio <- pcm:
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
	e.metrics.SetAudioQueueDepth(len(e.current.audio))
	return nil
}

// CheckIdle ends the current session if no audio arrived within the
// idle timeout. The server calls it on every read-deadline tick.
func (e *Engine) CheckIdle(now time.Time) {
	if e.current == nil {
		return
	}
	if now.Sub(time.Unix(0, e.lastAudioNano.Load())) >= e.cfg.IdleTimeout {
		e.logger.Info("Session idle timeout", slog.String("session_id", e.current.id))
		e.endSession(true)
	}
}

// Close ends any active session and shuts the engine down. The out
// queue closes once the last worker has finished.
func (e *Engine) Close() {
	e.endSession(false)
	if e.prevDone != nil {
		<-e.prevDone
	}
	e.cancel()
	close(e.out)
}

// startSession begins a new recording. It waits for the previous
// worker to observe its shutdown sentinel first, so at most one
// recognition stream exists per connection.
func (e *Engine) startSession(now time.Time) {
	if e.prevDone != nil {
		<-e.prevDone
		e.prevDone = nil
	}

	e.seq++
	rec := &recording{
		id:      fmt.Sprintf("%s-%d", e.id, e.seq),
		audio:   make(chan []byte, e.cfg.QueueDepth),
		done:    make(chan struct{}),
		started: now,
	}
	e.current = rec
	e.sessionsStarted.Add(1)
	e.active.Store(true)
	e.metrics.RecordSessionStarted()
	e.logger.Info("Session started", slog.String("session_id", rec.id))

	go e.runWorker(rec)
}

// endSession closes the audio queue (the worker's shutdown sentinel)
// and hands the accumulated PCM to the store. Idempotent.
func (e *Engine) endSession(byIdle bool) {
	rec := e.current
	if rec == nil {
		return
	}
	e.current = nil
	e.active.Store(false)

	close(rec.audio)
	e.prevDone = rec.done

	duration := time.Since(rec.started)
	e.metrics.RecordSessionEnded(duration.Seconds(), byIdle)
	e.logger.Info("Session ended",
		slog.String("session_id", rec.id),
		slog.Duration("duration", duration),
		slog.Int("pcm_bytes", len(rec.pcm)),
		slog.Bool("by_idle", byIdle),
	)

	if path, err := e.store.SaveRecording(rec.id, rec.pcm); err != nil {
		e.logger.Error("Failed to save recording",
			slog.String("session_id", rec.id),
			slog.String("error", err.Error()),
		)
	} else if path != "" {
		e.metrics.RecordRecordingSaved(len(rec.pcm))
	}
}

// runWorker drives one recognition stream: audio queue in, transcript
// frames out, in engine order. If no final result arrives by stream
// end, the placeholder final is sent so the client always gets a
// terminal transcript.
func (e *Engine) runWorker(rec *recording) {
	defer close(rec.done)

	e.metrics.RecordRecognitionStream()
	events, err := e.recognizer.Stream(e.ctx, rec.audio)
	if err != nil {
		e.metrics.RecordRecognitionError()
		e.logger.Error("Recognition stream failed",
			slog.String("session_id", rec.id),
			slog.String("error", err.Error()),
		)
		// Unblock ingestion until the sentinel, then report failure.
		for range rec.audio {
		}
		e.deliver(NoSpeechText, true)
		return
	}

	gotFinal := false
	for ev := range events {
		e.metrics.RecordRecognitionEvent()
		if ev.Text == "" {
			continue
		}
		if ev.Final {
			gotFinal = true
		}
		e.deliver(ev.Text, ev.Final)
	}

	if !gotFinal {
		e.deliver(NoSpeechText, true)
	}
}

// deliver queues one encoded transcript frame, preserving order.
func (e *Engine) deliver(text string, final bool) {
	data := protocol.EncodeTranscript(text, final)
	select {
	case e.out <- data:
		e.transcripts.Add(1)
		e.metrics.RecordTranscriptSent(final)
	case <-e.ctx.Done():
	}
}

// Snapshot returns current engine statistics. Safe from any goroutine.
func (e *Engine) Snapshot() Stats {
	stats := Stats{
		ID:              e.id,
		SessionActive:   e.active.Load(),
		SessionsStarted: e.sessionsStarted.Load(),
		AudioBytes:      e.audioBytes.Load(),
		TranscriptsSent: e.transcripts.Load(),
	}
	if nano := e.lastAudioNano.Load(); nano > 0 {
		stats.LastAudio = time.Unix(0, nano)
	}
	return stats
}
