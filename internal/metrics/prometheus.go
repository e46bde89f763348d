package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the session server
type Metrics struct {
	// Connection metrics
	ConnectionsAccepted prometheus.Counter
	ActiveConnections   prometheus.Gauge
	HandshakeRejects    prometheus.Counter

	// Frame metrics
	AudioFramesReceived prometheus.Counter
	AudioBytesReceived  prometheus.Counter
	StopFramesReceived  prometheus.Counter
	FrameErrors         prometheus.Counter

	// Session metrics
	ActiveSessions   prometheus.Gauge
	SessionsStarted  prometheus.Counter
	SessionsByIdle   prometheus.Counter
	SessionDuration  prometheus.Histogram
	AudioQueueDepth  prometheus.Gauge
	LateFramesDropped prometheus.Counter

	// Transcript metrics
	TranscriptsSent *prometheus.CounterVec

	// Recognition metrics
	RecognitionStreams prometheus.Counter
	RecognitionEvents  prometheus.Counter
	RecognitionErrors  prometheus.Counter

	// Recording store metrics
	RecordingsSaved prometheus.Counter
	RecordingBytes  prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on the default registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics on the given registerer
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		// Connection metrics
		ConnectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_connections_accepted_total",
			Help: "Total number of TCP connections accepted",
		}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicelink_active_connections",
			Help: "Current number of live client connections",
		}),
		HandshakeRejects: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_handshake_rejects_total",
			Help: "Total number of connections rejected at handshake",
		}),

		// Frame metrics
		AudioFramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_audio_frames_received_total",
			Help: "Total number of audio frames received",
		}),
		AudioBytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_audio_bytes_received_total",
			Help: "Total PCM bytes received in audio frames",
		}),
		StopFramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_stop_frames_received_total",
			Help: "Total number of stop frames received",
		}),
		FrameErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_frame_errors_total",
			Help: "Total number of malformed or oversized frames",
		}),

		// Session metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicelink_active_sessions",
			Help: "Current number of active recognition sessions",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_sessions_started_total",
			Help: "Total number of recognition sessions started",
		}),
		SessionsByIdle: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_sessions_idle_timeout_total",
			Help: "Total number of sessions ended by idle timeout",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicelink_session_duration_seconds",
			Help:    "Duration of recognition sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),
		AudioQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicelink_audio_queue_depth",
			Help: "Current number of audio frames queued for recognition",
		}),
		LateFramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_late_frames_dropped_total",
			Help: "Total number of audio frames discarded after session end",
		}),

		// Transcript metrics
		TranscriptsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicelink_transcripts_sent_total",
			Help: "Total number of transcript frames sent to clients",
		}, []string{"kind"}),

		// Recognition metrics
		RecognitionStreams: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_recognition_streams_total",
			Help: "Total number of recognition streams opened",
		}),
		RecognitionEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_recognition_events_total",
			Help: "Total number of recognition events received",
		}),
		RecognitionErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_recognition_errors_total",
			Help: "Total number of recognition streams that failed to open",
		}),

		// Recording store metrics
		RecordingsSaved: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_recordings_saved_total",
			Help: "Total number of recordings persisted",
		}),
		RecordingBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicelink_recording_size_bytes",
			Help:    "Size of persisted recordings in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 14), // 1KB to ~16MB
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicelink_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicelink_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordConnection increments accepted connections and the live gauge
func (m *Metrics) RecordConnection() {
	m.ConnectionsAccepted.Inc()
	m.ActiveConnections.Inc()
}

// RecordDisconnect decrements the live connection gauge
func (m *Metrics) RecordDisconnect() {
	m.ActiveConnections.Dec()
}

// RecordHandshakeReject increments the handshake reject counter
func (m *Metrics) RecordHandshakeReject() {
	m.HandshakeRejects.Inc()
}

// RecordAudioFrame records one received audio frame and its payload size
func (m *Metrics) RecordAudioFrame(payloadBytes int) {
	m.AudioFramesReceived.Inc()
	m.AudioBytesReceived.Add(float64(payloadBytes))
}

// RecordStopFrame increments the stop frame counter
func (m *Metrics) RecordStopFrame() {
	m.StopFramesReceived.Inc()
}

// RecordFrameError increments the frame error counter
func (m *Metrics) RecordFrameError() {
	m.FrameErrors.Inc()
}

// RecordSessionStarted increments session counters and the active gauge
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionEnded records a finished session and its duration
func (m *Metrics) RecordSessionEnded(durationSeconds float64, byIdle bool) {
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(durationSeconds)
	if byIdle {
		m.SessionsByIdle.Inc()
	}
}

// SetAudioQueueDepth sets the current recognition queue depth
func (m *Metrics) SetAudioQueueDepth(depth int) {
	m.AudioQueueDepth.Set(float64(depth))
}

// RecordLateFrameDropped counts an audio frame discarded after session end
func (m *Metrics) RecordLateFrameDropped() {
	m.LateFramesDropped.Inc()
}

// RecordTranscriptSent counts one transcript frame by kind
func (m *Metrics) RecordTranscriptSent(final bool) {
	kind := "interim"
	if final {
		kind = "final"
	}
	m.TranscriptsSent.WithLabelValues(kind).Inc()
}

// RecordRecognitionStream counts an opened recognition stream
func (m *Metrics) RecordRecognitionStream() {
	m.RecognitionStreams.Inc()
}

// RecordRecognitionEvent counts a received recognition event
func (m *Metrics) RecordRecognitionEvent() {
	m.RecognitionEvents.Inc()
}

// RecordRecognitionError counts a recognition stream that failed to open
func (m *Metrics) RecordRecognitionError() {
	m.RecognitionErrors.Inc()
}

// RecordRecordingSaved records one persisted recording and its size
func (m *Metrics) RecordRecordingSaved(sizeBytes int) {
	m.RecordingsSaved.Inc()
	m.RecordingBytes.Observe(float64(sizeBytes))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
