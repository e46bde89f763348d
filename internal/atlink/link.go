package atlink

import "fmt"

// LinkState tracks the lifecycle of one multiplexed TCP link.
type LinkState int

const (
	LinkClosed LinkState = iota
	LinkOpening
	LinkOpen
	LinkClosing
)

// String returns a human-readable representation of the link state
func (s LinkState) String() string {
	switch s {
	case LinkClosed:
		return "Closed"
	case LinkOpening:
		return "Opening"
	case LinkOpen:
		return "Open"
	case LinkClosing:
		return "Closing"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}
