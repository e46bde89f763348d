package atlink

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Command/response engine constants
const (
	// MaxLinks is the number of multiplexed links the modem supports.
	MaxLinks = 4

	// MaxSendChunk is the modem's maximum atomic send size. Larger
	// payloads are split into sequential AT+CIPSEND exchanges.
	MaxSendChunk = 2048

	// writeBurst keeps individual UART writes short so the caller's
	// pump runs between bursts and the receive FIFO is drained in time.
	writeBurst = 64

	promptTimeout    = 3 * time.Second
	closeAckTimeout  = 2 * time.Second
	initProbeTimeout = 2 * time.Second
)

// Transport errors surfaced by the engine.
var (
	ErrCommandTimeout = errors.New("command timed out")
	ErrCommandFailed  = errors.New("command failed")
	ErrTransportLost  = errors.New("transport lost")
	ErrLinkClosed     = errors.New("link is closed")
	ErrCommandPending = errors.New("command already pending")
)

// Pump is invoked repeatedly while the engine waits on a modem
// acknowledgement, so the caller can drain its own I/O source (audio
// capture) without exceeding the step latency budget. Nil is allowed.
type Pump = func()

// Config holds modem initialization parameters.
type Config struct {
	SSID     string
	Password string

	// FastBaud, when non-zero, is negotiated after joining the network.
	// A failed switch is tolerated and the initial baud rate is kept.
	FastBaud int

	JoinTimeout time.Duration
}

// Modem is the AT command/response engine. It owns the byte port and
// enforces the single-pending-command invariant: responses are matched
// strictly in issue order, never pipelined.
type Modem struct {
	port   Port
	logger *slog.Logger

	links   [MaxLinks]LinkState
	pending bool

	pollInterval time.Duration
}

// New creates an engine over the given port.
func New(port Port, logger *slog.Logger) *Modem {
	return &Modem{
		port:         port,
		logger:       logger,
		pollInterval: 2 * time.Millisecond,
	}
}

// Init resets the modem and joins the configured network:
// command echo probe, station mode, credential join, optional baud
// escalation, explicit transfer mode, link multiplexing. Unsolicited
// bytes are discarded throughout; no application session exists yet.
func (m *Modem) Init(cfg Config) error {
	// Leave transparent mode if a previous run left the modem in it.
	if _, err := m.port.Write([]byte("+++")); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportLost, err)
	}
	time.Sleep(time.Second)
	m.discardPending()

	if err := m.command("AT", initProbeTimeout); err != nil {
		return fmt.Errorf("modem not responding: %w", err)
	}

	if err := m.command("AT+CWMODE=1", 5*time.Second); err != nil {
		return fmt.Errorf("station mode: %w", err)
	}

	joinTimeout := cfg.JoinTimeout
	if joinTimeout <= 0 {
		joinTimeout = 20 * time.Second
	}
	join := fmt.Sprintf("AT+CWJAP=%q,%q", cfg.SSID, cfg.Password)
	if err := m.command(join, joinTimeout); err != nil {
		return fmt.Errorf("network join: %w", err)
	}

	if cfg.FastBaud > 0 {
		m.escalateBaud(cfg.FastBaud)
	}

	if err := m.command("AT+CIPMODE=0", initProbeTimeout); err != nil {
		return fmt.Errorf("transfer mode: %w", err)
	}
	if err := m.command("AT+CIPMUX=1", initProbeTimeout); err != nil {
		return fmt.Errorf("link multiplexing: %w", err)
	}

	m.logger.Info("Modem initialized", slog.String("ssid", cfg.SSID))
	return nil
}

// escalateBaud switches the UART to a faster rate. The switch is best
// effort: if the modem does not acknowledge, the current rate stays.
func (m *Modem) escalateBaud(baud int) {
	cmd := fmt.Sprintf("AT+UART_CUR=%d,8,1,0,0", baud)
	if err := m.command(cmd, time.Second); err != nil {
		m.logger.Warn("Baud switch rejected, keeping current rate",
			slog.Int("baud", baud),
			slog.String("error", err.Error()),
		)
		return
	}

	time.Sleep(150 * time.Millisecond)
	if err := m.port.SetBaud(baud); err != nil {
		m.logger.Warn("Failed to retune port", slog.String("error", err.Error()))
		return
	}
	time.Sleep(100 * time.Millisecond)
	m.discardPending()

	if err := m.command("AT", initProbeTimeout); err != nil {
		m.logger.Warn("No echo after baud switch, continuing", slog.Int("baud", baud))
		return
	}
	m.logger.Info("Switched UART baud", slog.Int("baud", baud))
}

// Open opens logical link id to host:port via AT+CIPSTART.
func (m *Modem) Open(id int, host string, port int, timeout time.Duration) error {
	if err := m.checkLink(id, LinkClosed); err != nil {
		return err
	}

	m.links[id] = LinkOpening
	cmd := fmt.Sprintf("AT+CIPSTART=%d,\"TCP\",%q,%d", id, host, port)
	if err := m.writeCommand(cmd); err != nil {
		m.links[id] = LinkClosed
		return err
	}

	_, _, err := m.waitToken("OK", nil, timeout, nil)
	m.pending = false
	if err != nil {
		m.links[id] = LinkClosed
		return fmt.Errorf("open link %d to %s:%d: %w", id, host, port, err)
	}

	m.links[id] = LinkOpen
	m.logger.Info("Link opened",
		slog.Int("link_id", id),
		slog.String("host", host),
		slog.Int("port", port),
	)
	return nil
}

// Send transmits data over an open link, chunked to the modem's
// maximum atomic send. Every byte read from the port while waiting for
// the ready prompt or the completion token, other than the tokens
// themselves, is returned as leftover for the inbound frame
// assembler: unsolicited frames routinely interleave with
// acknowledgements and must not be dropped. A missing prompt or an
// explicit failure token aborts the remaining chunks; leftover
// collected so far is still returned.
func (m *Modem) Send(id int, data []byte, pump Pump, timeout time.Duration) ([]byte, error) {
	if err := m.checkLink(id, LinkOpen); err != nil {
		return nil, err
	}

	var leftover []byte
	for offset := 0; offset < len(data); offset += MaxSendChunk {
		end := offset + MaxSendChunk
		if end > len(data) {
			end = len(data)
		}
		chunk := data[offset:end]

		extra, err := m.sendChunk(id, chunk, pump, timeout)
		leftover = append(leftover, extra...)
		if err != nil {
			if errors.Is(err, ErrTransportLost) {
				m.links[id] = LinkClosed
			}
			return leftover, fmt.Errorf("send chunk at offset %d on link %d: %w", offset, id, err)
		}
	}
	return leftover, nil
}

// sendChunk performs one AT+CIPSEND exchange: request, ready prompt,
// burst writes with pumping, completion token.
func (m *Modem) sendChunk(id int, chunk []byte, pump Pump, timeout time.Duration) ([]byte, error) {
	if err := m.writeCommand(fmt.Sprintf("AT+CIPSEND=%d,%d", id, len(chunk))); err != nil {
		return nil, err
	}

	var leftover []byte
	before, after, err := m.waitToken(">", nil, promptTimeout, pump)
	leftover = append(leftover, before...)
	leftover = append(leftover, after...)
	if err != nil {
		m.pending = false
		return leftover, err
	}

	// Write in short bursts, pumping the caller and polling the port
	// between bursts so neither FIFO overruns during the transfer. Bytes
	// drained here may already hold the completion token, so they seed
	// the token wait instead of going straight to leftover.
	var drained []byte
	readBuf := make([]byte, 256)
	for idx := 0; idx < len(chunk); idx += writeBurst {
		end := idx + writeBurst
		if end > len(chunk) {
			end = len(chunk)
		}
		if _, err := m.port.Write(chunk[idx:end]); err != nil {
			m.pending = false
			return leftover, fmt.Errorf("%w: %v", ErrTransportLost, err)
		}

		if pump != nil {
			pump()
		}
		if n, _ := m.port.Read(readBuf); n > 0 {
			drained = append(drained, readBuf[:n]...)
		}
	}

	before, after, err = m.waitToken("SEND OK", drained, timeout, pump)
	m.pending = false
	leftover = append(leftover, before...)
	leftover = append(leftover, after...)
	if err != nil {
		return leftover, err
	}
	return leftover, nil
}

// CloseLink closes the link via AT+CIPCLOSE. The acknowledgement wait
// is best effort; the local state always ends Closed.
func (m *Modem) CloseLink(id int) {
	if id < 0 || id >= MaxLinks || m.links[id] == LinkClosed {
		return
	}

	m.links[id] = LinkClosing
	if err := m.writeCommand(fmt.Sprintf("AT+CIPCLOSE=%d", id)); err == nil {
		m.waitToken("OK", nil, closeAckTimeout, nil)
		m.pending = false
	}
	m.links[id] = LinkClosed
	m.logger.Info("Link closed", slog.Int("link_id", id))
}

// Drain reads and returns all bytes currently pending on the port.
func (m *Modem) Drain() []byte {
	var out []byte
	buf := make([]byte, 256)
	for {
		n, err := m.port.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if n == 0 || err != nil {
			return out
		}
	}
}

// LinkState reports the current state of a link.
func (m *Modem) LinkState(id int) LinkState {
	if id < 0 || id >= MaxLinks {
		return LinkClosed
	}
	return m.links[id]
}

// checkLink validates the link id and required state.
func (m *Modem) checkLink(id int, want LinkState) error {
	if id < 0 || id >= MaxLinks {
		return fmt.Errorf("invalid link id %d", id)
	}
	if m.links[id] != want {
		if want == LinkOpen {
			return fmt.Errorf("%w: link %d is %s", ErrLinkClosed, id, m.links[id])
		}
		return fmt.Errorf("link %d is %s, expected %s", id, m.links[id], want)
	}
	return nil
}

// writeCommand issues one command line, enforcing the single
// outstanding command invariant.
func (m *Modem) writeCommand(cmd string) error {
	if m.pending {
		return ErrCommandPending
	}
	if _, err := m.port.Write([]byte(cmd + "\r\n")); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportLost, err)
	}
	m.pending = true
	return nil
}

// command issues an initialization-only command and waits for OK.
// Unsolicited bytes before and during the exchange are discarded; no
// application session exists during initialization.
func (m *Modem) command(cmd string, timeout time.Duration) error {
	m.discardPending()
	if err := m.writeCommand(cmd); err != nil {
		return err
	}
	_, _, err := m.waitToken("OK", nil, timeout, nil)
	m.pending = false
	if err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	return nil
}

// waitToken accumulates port bytes until the expected token, a failure
// token, or the deadline. Accumulation starts from seed, which may
// already contain the token. It returns the accumulated bytes before
// and after the matched token so the caller can preserve interleaved
// unsolicited data. The pump runs every poll iteration.
func (m *Modem) waitToken(token string, seed []byte, timeout time.Duration, pump Pump) (before, after []byte, err error) {
	deadline := time.Now().Add(timeout)
	acc := append([]byte(nil), seed...)
	buf := make([]byte, 256)

	for {
		if idx := bytes.Index(acc, []byte(token)); idx >= 0 {
			return acc[:idx], acc[idx+len(token):], nil
		}
		if bytes.Contains(acc, []byte("link is not valid")) {
			return acc, nil, fmt.Errorf("%w: link is not valid", ErrTransportLost)
		}
		if bytes.Contains(acc, []byte("SEND FAIL")) {
			return acc, nil, fmt.Errorf("%w: SEND FAIL", ErrCommandFailed)
		}
		if bytes.Contains(acc, []byte("ERROR")) {
			return acc, nil, fmt.Errorf("%w: ERROR", ErrCommandFailed)
		}
		if !time.Now().Before(deadline) {
			return acc, nil, fmt.Errorf("%w: no %q within %v", ErrCommandTimeout, token, timeout)
		}

		if pump != nil {
			pump()
		}
		n, rerr := m.port.Read(buf)
		if n > 0 {
			acc = append(acc, buf[:n]...)
			continue
		}
		if rerr != nil {
			return acc, nil, fmt.Errorf("%w: %v", ErrTransportLost, rerr)
		}
		time.Sleep(m.pollInterval)
	}
}

// discardPending drops all bytes currently buffered on the port.
func (m *Modem) discardPending() {
	buf := make([]byte, 256)
	for {
		n, err := m.port.Read(buf)
		if n == 0 || err != nil {
			return
		}
	}
}
