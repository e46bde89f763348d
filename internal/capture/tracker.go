package capture

import (
	"strings"

	"voicelink/internal/protocol"
)

// Tracker accumulates the displayed transcript: final results are
// appended to the running text, interim results replace the trailing
// provisional segment.
type Tracker struct {
	finals  []string
	interim string
}

// Apply folds one transcript frame into the accumulated text and
// reports whether the text changed.
func (t *Tracker) Apply(frame protocol.Frame) bool {
	switch frame.Type {
	case protocol.FrameFinal:
		t.finals = append(t.finals, frame.Text())
		t.interim = ""
		return true
	case protocol.FrameInterim:
		if frame.Text() == t.interim {
			return false
		}
		t.interim = frame.Text()
		return true
	}
	return false
}

// Text returns the accumulated transcript, provisional segment last.
func (t *Tracker) Text() string {
	parts := t.finals
	if t.interim != "" {
		parts = append(parts[:len(parts):len(parts)], t.interim)
	}
	return strings.Join(parts, " ")
}

// Final reports whether at least one final result has arrived.
func (t *Tracker) Final() bool { return len(t.finals) > 0 }

// Reset clears the accumulated transcript for a new recording.
func (t *Tracker) Reset() {
	t.finals = nil
	t.interim = ""
}
