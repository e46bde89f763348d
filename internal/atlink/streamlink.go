package atlink

import (
	"time"

	"voicelink/internal/assemble"
	"voicelink/internal/protocol"
)

// StreamLink binds one modem link to an inbound frame assembler,
// presenting the logical channel the capture scheduler streams over.
// Leftover bytes preserved by the command engine are routed into the
// assembler instead of being dropped.
type StreamLink struct {
	modem *Modem
	id    int
	asm   *assemble.Assembler
}

// NewStreamLink creates a stream link for the given link id.
func NewStreamLink(modem *Modem, id int) *StreamLink {
	return &StreamLink{
		modem: modem,
		id:    id,
		asm:   assemble.New(id),
	}
}

// Open connects the link and resets inbound reassembly state.
func (l *StreamLink) Open(host string, port int, timeout time.Duration) error {
	l.asm.Reset()
	return l.modem.Open(l.id, host, port, timeout)
}

// Send transmits data over the link, feeding preserved unsolicited
// bytes to the assembler.
func (l *StreamLink) Send(data []byte, pump Pump, timeout time.Duration) error {
	leftover, err := l.modem.Send(l.id, data, pump, timeout)
	l.asm.Feed(leftover)
	return err
}

// Poll drains the port into the assembler and returns the oldest
// complete inbound frame, if any.
func (l *StreamLink) Poll() (protocol.Frame, bool) {
	l.asm.Feed(l.modem.Drain())
	return l.asm.Poll()
}

// Close closes the underlying modem link.
func (l *StreamLink) Close() {
	l.modem.CloseLink(l.id)
}
