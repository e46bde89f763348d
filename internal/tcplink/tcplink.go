package tcplink

import (
	"errors"
	"fmt"
	"net"
	"time"

	"voicelink/internal/assemble"
	"voicelink/internal/protocol"
)

const pollReadTimeout = time.Millisecond

// ErrNotConnected is returned for operations on an unopened link.
var ErrNotConnected = errors.New("link is not connected")

// Link is a plain TCP connection carrying the session wire protocol.
// Transcript lines from the server arrive unframed, so inbound parsing
// is a single newline-splitting pass.
type Link struct {
	conn  net.Conn
	lines assemble.LineSplitter
	buf   []byte
}

func New() *Link {
	return &Link{buf: make([]byte, 4096)}
}

// Open dials the server and resets inbound state.
func (l *Link) Open(host string, port int, timeout time.Duration) error {
	if l.conn != nil {
		return errors.New("link already open")
	}

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	l.conn = conn
	l.lines.Reset()
	return nil
}

// Send writes data to the connection. The pump runs once per call for
// parity with the modem link, where sends are slow enough that capture
// must be drained mid-transfer.
func (l *Link) Send(data []byte, pump func(), timeout time.Duration) error {
	if l.conn == nil {
		return ErrNotConnected
	}
	if pump != nil {
		pump()
	}

	if err := l.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	if _, err := l.conn.Write(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Poll performs one short non-blocking read and returns the oldest
// complete transcript frame, if any.
func (l *Link) Poll() (protocol.Frame, bool) {
	if l.conn == nil {
		return protocol.Frame{}, false
	}

	if frame, ok := l.lines.Next(); ok {
		return frame, true
	}

	l.conn.SetReadDeadline(time.Now().Add(pollReadTimeout))
	n, err := l.conn.Read(l.buf)
	if n > 0 {
		l.lines.Feed(l.buf[:n])
	}
	if err != nil {
		var nerr net.Error
		if !errors.As(err, &nerr) || !nerr.Timeout() {
			// Connection gone. Buffered frames stay pollable.
			l.conn.Close()
			l.conn = nil
		}
	}
	return l.lines.Next()
}

// Close shuts the connection down.
func (l *Link) Close() {
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
}
