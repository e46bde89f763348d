package capture

import "voicelink/internal/protocol"

// StagingBuffer accumulates captured PCM between sends. Capacity is
// fixed at construction; bytes past it are dropped rather than blocking
// the capture path, since a stalled transport must not stall the
// microphone FIFO.
type StagingBuffer struct {
	buf       []byte
	threshold int
	dropped   int
}

// NewStagingBuffer creates a buffer with the given byte capacity and
// send threshold. Capacity is clamped to the maximum audio frame
// payload so a full take always encodes as one frame.
func NewStagingBuffer(capacity, threshold int) *StagingBuffer {
	if capacity > protocol.MaxAudioPayload {
		capacity = protocol.MaxAudioPayload
	}
	if threshold > capacity {
		threshold = capacity
	}
	return &StagingBuffer{
		buf:       make([]byte, 0, capacity),
		threshold: threshold,
	}
}

// Append stages as many of the given bytes as fit and returns that
// count. Overflow is dropped and counted.
func (b *StagingBuffer) Append(p []byte) int {
	room := cap(b.buf) - len(b.buf)
	n := len(p)
	if n > room {
		b.dropped += n - room
		n = room
	}
	b.buf = append(b.buf, p[:n]...)
	return n
}

// Len reports the number of staged bytes.
func (b *StagingBuffer) Len() int { return len(b.buf) }

// Ready reports whether enough audio is staged for a send.
func (b *StagingBuffer) Ready() bool { return len(b.buf) >= b.threshold }

// Take returns the staged bytes and resets the buffer. The returned
// slice is a copy; capture may resume appending immediately.
func (b *StagingBuffer) Take() []byte {
	if len(b.buf) == 0 {
		return nil
	}
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	b.buf = b.buf[:0]
	return out
}

// Dropped reports the total bytes discarded to overflow.
func (b *StagingBuffer) Dropped() int { return b.dropped }
