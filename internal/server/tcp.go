package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"voicelink/internal/config"
	"voicelink/internal/metrics"
	"voicelink/internal/protocol"
	"voicelink/internal/recognition"
	"voicelink/internal/session"
	"voicelink/internal/storage"
)

// ErrHandshakeRejected is returned when a connection fails to present
// the handshake line within the timeout.
var ErrHandshakeRejected = errors.New("handshake rejected")

// readTick bounds each blocking read so the ingestion loop can check
// shutdown and the session idle timeout.
const readTick = time.Second

// TCPServer accepts client connections and runs one session engine per
// connection: a single ingestion goroutine reading frames and a single
// delivery goroutine writing transcripts, sharing only a liveness flag.
type TCPServer struct {
	listener net.Listener
	config   *config.Config
	logger   *slog.Logger

	recognizer recognition.Recognizer
	store      *storage.Store
	metrics    *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	engines map[string]*session.Engine
	connSeq atomic.Int64

	connectionsAccepted atomic.Uint64
	handshakeRejects    atomic.Uint64
	connectionsRefused  atomic.Uint64
}

// NewTCPServer creates a new session server instance
func NewTCPServer(cfg *config.Config, logger *slog.Logger, rec recognition.Recognizer, store *storage.Store, m *metrics.Metrics) *TCPServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &TCPServer{
		config:     cfg,
		logger:     logger,
		recognizer: rec,
		store:      store,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
		engines:    make(map[string]*session.Engine),
	}
}

// Start begins accepting client connections
func (s *TCPServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.BindAddress, s.config.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	s.logger.Info("Session server started",
		slog.String("address", listener.Addr().String()),
		slog.Int("max_connections", s.config.Server.MaxConnections),
	)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the bound listen address.
func (s *TCPServer) Addr() net.Addr {
	return s.listener.Addr()
}

// Stop gracefully stops the server: no new connections, existing ones
// are torn down, all goroutines joined.
func (s *TCPServer) Stop() error {
	s.logger.Info("Stopping session server...")

	s.cancel()
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.logger.Warn("Error closing listener", slog.String("error", err.Error()))
		}
	}

	s.wg.Wait()

	s.logger.Info("Session server stopped",
		slog.Uint64("connections_accepted", s.connectionsAccepted.Load()),
		slog.Uint64("handshake_rejects", s.handshakeRejects.Load()),
	)

	return nil
}

// acceptLoop is the main connection accepting loop
func (s *TCPServer) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Accept failed", slog.String("error", err.Error()))
				continue
			}
		}

		if s.activeConnections() >= s.config.Server.MaxConnections {
			s.connectionsRefused.Add(1)
			s.logger.Warn("Connection limit reached, refusing",
				slog.String("remote_addr", conn.RemoteAddr().String()),
			)
			conn.Close()
			continue
		}

		s.connectionsAccepted.Add(1)
		s.metrics.RecordConnection()

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection runs the ingestion loop for one client. The
// delivery loop runs alongside; the two share only the liveness flag.
func (s *TCPServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	defer s.metrics.RecordDisconnect()

	id := fmt.Sprintf("conn-%d", s.connSeq.Add(1))
	logger := s.logger.With(
		slog.String("conn_id", id),
		slog.String("remote_addr", conn.RemoteAddr().String()),
	)

	reader := bufio.NewReaderSize(conn, protocol.MaxAudioPayload+protocol.AudioHeaderSize)

	if err := s.handshake(conn, reader); err != nil {
		s.handshakeRejects.Add(1)
		s.metrics.RecordHandshakeReject()
		logger.Warn("Handshake rejected", slog.String("error", err.Error()))
		return
	}
	logger.Info("Client connected")

	engine := session.NewEngine(id, session.Config{
		QueueDepth:  s.config.Session.QueueDepth,
		IdleTimeout: s.config.Session.GetIdleTimeoutDuration(),
		StopGrace:   s.config.Session.GetStopGraceDuration(),
	}, s.recognizer, s.store, s.metrics, s.logger)

	s.mu.Lock()
	s.engines[id] = engine
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.engines, id)
		s.mu.Unlock()
	}()

	// Liveness flag: ingestion clears it on read failure, delivery
	// clears it on write failure. Each side checks it before working.
	var alive atomic.Bool
	alive.Store(true)

	var deliveryWG sync.WaitGroup
	deliveryWG.Add(1)
	go func() {
		defer deliveryWG.Done()
		s.deliveryLoop(conn, engine, &alive, logger)
	}()

	s.ingestLoop(conn, reader, engine, &alive, logger)

	// Closing the engine closes its out queue, which ends the delivery
	// loop once drained.
	engine.Close()
	deliveryWG.Wait()
	logger.Info("Client disconnected")
}

// handshake requires the client to present the handshake line before
// any frame.
func (s *TCPServer) handshake(conn net.Conn, reader *bufio.Reader) error {
	if err := conn.SetReadDeadline(time.Now().Add(s.config.Server.GetHandshakeTimeoutDuration())); err != nil {
		return err
	}

	buf := make([]byte, len(protocol.Handshake))
	if _, err := io.ReadFull(reader, buf); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeRejected, err)
	}
	if string(buf) != protocol.Handshake {
		return fmt.Errorf("%w: got %q", ErrHandshakeRejected, buf)
	}
	return nil
}

// ingestLoop reads frames until the connection dies or the server
// shuts down. Read deadlines tick once a second so the loop can check
// shutdown and drive the session idle timeout. Frames are only decoded
// once fully buffered, so a deadline tick mid-frame never strands
// half-consumed bytes.
func (s *TCPServer) ingestLoop(conn net.Conn, reader *bufio.Reader, engine *session.Engine, alive *atomic.Bool, logger *slog.Logger) {
	// Set once a stop frame arrives; the connection closes when it
	// passes. Audio read until then is discarded by the engine.
	var closeAt time.Time

	for alive.Load() {
		select {
		case <-s.ctx.Done():
			alive.Store(false)
			return
		default:
		}

		if !closeAt.IsZero() && time.Now().After(closeAt) {
			logger.Info("Stop grace elapsed, closing connection")
			return
		}

		deadline := time.Now().Add(readTick)
		if !closeAt.IsZero() && closeAt.Before(deadline) {
			deadline = closeAt
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			alive.Store(false)
			return
		}

		err := waitFrameBuffered(reader)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				engine.CheckIdle(time.Now())
				continue
			}
			if errors.Is(err, protocol.ErrFrameTooLarge) || errors.Is(err, protocol.ErrMalformedFrame) {
				// Framing cannot resync on a byte stream; drop the
				// connection.
				s.metrics.RecordFrameError()
				logger.Warn("Bad frame, closing connection", slog.String("error", err.Error()))
			} else if !errors.Is(err, io.EOF) {
				logger.Warn("Read failed", slog.String("error", err.Error()))
			}
			alive.Store(false)
			return
		}

		// The full frame is buffered; decoding cannot block or fail on
		// the transport.
		frame, err := protocol.ReadFrame(reader)
		if err != nil {
			s.metrics.RecordFrameError()
			logger.Warn("Bad frame, closing connection", slog.String("error", err.Error()))
			alive.Store(false)
			return
		}

		if err := engine.HandleFrame(frame); err != nil {
			logger.Warn("Frame rejected", slog.String("error", err.Error()))
			alive.Store(false)
			return
		}

		if frame.Type == protocol.FrameStop && closeAt.IsZero() {
			closeAt = time.Now().Add(s.config.Session.GetStopGraceDuration())
		}
	}
}

// waitFrameBuffered peeks until one complete frame is in the buffer,
// without consuming anything. Length-field validation happens here so
// oversized frames are rejected before waiting on their payload.
func waitFrameBuffered(reader *bufio.Reader) error {
	head, err := reader.Peek(1)
	if err != nil {
		return err
	}

	switch head[0] {
	case protocol.MsgStop:
		return nil
	case protocol.MsgAudio:
		hdr, err := reader.Peek(protocol.AudioHeaderSize)
		if err != nil {
			return err
		}
		length := int(hdr[1]) | int(hdr[2])<<8
		if length == 0 {
			return fmt.Errorf("%w: zero-length audio chunk", protocol.ErrMalformedFrame)
		}
		if length > protocol.MaxAudioPayload {
			return fmt.Errorf("%w: declared %d bytes, limit %d", protocol.ErrFrameTooLarge, length, protocol.MaxAudioPayload)
		}
		_, err = reader.Peek(protocol.AudioHeaderSize + length)
		return err
	default:
		return fmt.Errorf("%w: unknown tag 0x%02x", protocol.ErrMalformedFrame, head[0])
	}
}

// deliveryLoop writes transcript frames back to the client in engine
// order. It always drains to channel close so the engine never blocks;
// once the connection is dead, frames are discarded.
func (s *TCPServer) deliveryLoop(conn net.Conn, engine *session.Engine, alive *atomic.Bool, logger *slog.Logger) {
	for data := range engine.Transcripts() {
		if !alive.Load() {
			continue
		}
		if err := conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
			alive.Store(false)
			continue
		}
		if _, err := conn.Write(data); err != nil {
			logger.Warn("Transcript write failed", slog.String("error", err.Error()))
			alive.Store(false)
		}
	}
}

func (s *TCPServer) activeConnections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.engines)
}

// EngineStats returns a snapshot of every live connection's engine.
func (s *TCPServer) EngineStats() []session.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make([]session.Stats, 0, len(s.engines))
	for _, engine := range s.engines {
		stats = append(stats, engine.Snapshot())
	}
	return stats
}

// EngineStat returns the snapshot for one connection id.
func (s *TCPServer) EngineStat(id string) (session.Stats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	engine, ok := s.engines[id]
	if !ok {
		return session.Stats{}, false
	}
	return engine.Snapshot(), true
}

// GetStatistics returns current server statistics
func (s *TCPServer) GetStatistics() ServerStatistics {
	return ServerStatistics{
		ConnectionsAccepted: s.connectionsAccepted.Load(),
		ConnectionsRefused:  s.connectionsRefused.Load(),
		HandshakeRejects:    s.handshakeRejects.Load(),
		ActiveConnections:   uint64(s.activeConnections()),
	}
}

// ServerStatistics represents server performance metrics
type ServerStatistics struct {
	ConnectionsAccepted uint64 `json:"connections_accepted"`
	ConnectionsRefused  uint64 `json:"connections_refused"`
	HandshakeRejects    uint64 `json:"handshake_rejects"`
	ActiveConnections   uint64 `json:"active_connections"`
}
