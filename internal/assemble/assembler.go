package assemble

import (
	"bytes"
	"strconv"
	"time"

	"voicelink/internal/protocol"
)

const (
	// marker starts every unsolicited data notification from the modem:
	// +IPD,<link>,<length>:<payload>
	marker = "+IPD"

	// maxHeaderLen bounds the header between marker and colon. A marker
	// with no colon inside this window is treated as malformed.
	maxHeaderLen = 24

	// malformedSkip is the fixed number of bytes discarded when a header
	// cannot be parsed, guaranteeing forward progress on corrupt input.
	malformedSkip = 4

	// DefaultStaleAfter clears a non-empty buffer that held no
	// recognizable frame start for this long (noise/echo retention bound).
	DefaultStaleAfter = 2 * time.Second
)

// Assembler demultiplexes the raw modem byte stream into complete
// transcript frames addressed to one logical link. Payloads for other
// links and non-frame noise are discarded.
type Assembler struct {
	linkID     int
	staleAfter time.Duration
	now        func() time.Time

	raw        []byte
	lines      LineSplitter
	staleSince time.Time
}

// New creates an assembler for the given link id.
func New(linkID int) *Assembler {
	return &Assembler{
		linkID:     linkID,
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
	}
}

// Feed appends raw transport bytes to the reassembly buffer.
func (a *Assembler) Feed(data []byte) {
	if len(data) == 0 {
		return
	}
	a.raw = append(a.raw, data...)
	a.extract()
}

// Poll returns the oldest complete frame, if any. Frames are returned
// one per call, in arrival order.
func (a *Assembler) Poll() (protocol.Frame, bool) {
	a.extract()
	return a.lines.Next()
}

// Reset discards all buffered bytes and partial state.
func (a *Assembler) Reset() {
	a.raw = nil
	a.lines.Reset()
	a.staleSince = time.Time{}
}

// extract resolves as many complete +IPD payloads as the buffer holds.
func (a *Assembler) extract() {
	for {
		idx := bytes.Index(a.raw, []byte(marker))
		if idx < 0 {
			// No frame start anywhere. Bound how long noise is retained.
			if len(a.raw) == 0 {
				a.staleSince = time.Time{}
				return
			}
			if a.staleSince.IsZero() {
				a.staleSince = a.now()
			} else if a.now().Sub(a.staleSince) >= a.staleAfter {
				a.raw = nil
				a.staleSince = time.Time{}
			}
			return
		}

		// Bytes before the marker are noise (command echo, status lines).
		if idx > 0 {
			a.raw = a.raw[idx:]
		}
		a.staleSince = time.Time{}

		colon := bytes.IndexByte(a.raw, ':')
		if colon < 0 {
			if len(a.raw) > maxHeaderLen {
				a.raw = a.raw[malformedSkip:]
				continue
			}
			return // header still arriving
		}
		if colon > maxHeaderLen {
			a.raw = a.raw[malformedSkip:]
			continue
		}

		link, length, ok := parseHeader(a.raw[:colon])
		if !ok {
			a.raw = a.raw[malformedSkip:]
			continue
		}

		start := colon + 1
		end := start + length
		if len(a.raw) < end {
			return // payload still arriving; do not consume the header
		}

		payload := a.raw[start:end]
		if link == a.linkID {
			a.lines.Feed(payload)
		}
		a.raw = a.raw[end:]
	}
}

// parseHeader decodes "+IPD,<link>,<length>" into its integer fields.
func parseHeader(hdr []byte) (link, length int, ok bool) {
	rest, found := bytes.CutPrefix(hdr, []byte(marker+","))
	if !found {
		return 0, 0, false
	}

	parts := bytes.Split(rest, []byte(","))
	if len(parts) < 2 {
		return 0, 0, false
	}

	link, err := strconv.Atoi(string(bytes.TrimSpace(parts[0])))
	if err != nil {
		return 0, 0, false
	}
	length, err = strconv.Atoi(string(bytes.TrimSpace(parts[1])))
	if err != nil || length < 0 {
		return 0, 0, false
	}
	return link, length, true
}

// LineSplitter buffers payload bytes and splits them on newlines into
// transcript frames. It is the second parsing pass shared by the modem
// path (after +IPD extraction) and the native TCP path (where payload
// bytes arrive unframed).
type LineSplitter struct {
	buf []byte
}

// Feed appends payload bytes awaiting a newline.
func (s *LineSplitter) Feed(p []byte) {
	s.buf = append(s.buf, p...)
}

// Next returns the oldest complete transcript frame, skipping lines
// that do not parse.
func (s *LineSplitter) Next() (protocol.Frame, bool) {
	for {
		nl := bytes.IndexByte(s.buf, '\n')
		if nl < 0 {
			return protocol.Frame{}, false
		}

		line := s.buf[:nl]
		s.buf = s.buf[nl+1:]

		if frame, ok := protocol.ParseTranscriptLine(line); ok {
			return frame, true
		}
	}
}

// Reset discards buffered payload bytes.
func (s *LineSplitter) Reset() {
	s.buf = nil
}
