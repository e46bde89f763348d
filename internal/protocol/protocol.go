package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Wire protocol constants
const (
	// Client-to-server message tags
	MsgAudio = 0x01 // [0x01][u16-LE length][PCM bytes]
	MsgStop  = 0x02 // [0x02]

	// Server-to-client transcript tags (newline-delimited text)
	TagInterim = 0x01 // [0x01] text \n
	TagFinal   = 0x02 // [0x02] text \n

	// Handshake literal sent by the client before the first frame
	Handshake = "START\n"

	// Audio frame structure sizes
	AudioHeaderSize = 3 // tag byte + 2-byte little-endian length

	// MaxAudioPayload bounds a single audio frame payload.
	MaxAudioPayload = 8192

	// Fixed audio contract: 16-bit little-endian PCM, mono, 16 kHz.
	SampleRate    = 16000
	BitsPerSample = 16
	NumChannels   = 1
)

// Frame errors. ErrMalformedFrame and ErrFrameTooLarge are recoverable
// where the byte stream can be resynchronized.
var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrFrameTooLarge  = errors.New("frame too large")
	ErrEmptyFrame     = errors.New("empty frame payload")
)

// FrameType identifies one complete application message.
type FrameType uint8

const (
	FrameHandshake FrameType = iota
	FrameAudio
	FrameStop
	FrameInterim
	FrameFinal
)

// Frame represents a fully parsed application message.
// AudioChunk frames carry raw PCM in Payload; transcript frames carry
// UTF-8 text.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// Text returns the frame payload as a string (transcript frames).
func (f Frame) Text() string {
	return string(f.Payload)
}

// String returns a human-readable representation of the frame type
func (t FrameType) String() string {
	switch t {
	case FrameHandshake:
		return "Handshake"
	case FrameAudio:
		return "AudioChunk"
	case FrameStop:
		return "Stop"
	case FrameInterim:
		return "TranscriptInterim"
	case FrameFinal:
		return "TranscriptFinal"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// EncodeAudioFrame builds an audio chunk frame: tag, u16-LE length, PCM.
func EncodeAudioFrame(pcm []byte) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, ErrEmptyFrame
	}
	if len(pcm) > MaxAudioPayload {
		return nil, fmt.Errorf("%w: payload %d bytes exceeds %d", ErrFrameTooLarge, len(pcm), MaxAudioPayload)
	}

	frame := make([]byte, AudioHeaderSize+len(pcm))
	frame[0] = MsgAudio
	binary.LittleEndian.PutUint16(frame[1:3], uint16(len(pcm)))
	copy(frame[AudioHeaderSize:], pcm)
	return frame, nil
}

// EncodeStopFrame builds the single-byte stop marker.
func EncodeStopFrame() []byte {
	return []byte{MsgStop}
}

// EncodeTranscript builds a transcript frame: tag byte, UTF-8 text, newline.
// Newlines inside the text would break the framing and are replaced.
func EncodeTranscript(text string, final bool) []byte {
	tag := byte(TagInterim)
	if final {
		tag = TagFinal
	}
	text = strings.ReplaceAll(text, "\n", " ")

	frame := make([]byte, 0, 2+len(text))
	frame = append(frame, tag)
	frame = append(frame, text...)
	frame = append(frame, '\n')
	return frame
}

// ReadFrame reads one complete client frame from the stream. The frame
// is not returned until its full declared payload has arrived. A read
// error mid-frame is returned as-is so the caller can distinguish a
// lost transport from a malformed frame.
func ReadFrame(r *bufio.Reader) (Frame, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return Frame{}, err
	}

	switch tag {
	case MsgAudio:
		var hdr [2]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return Frame{}, err
		}
		length := binary.LittleEndian.Uint16(hdr[:])
		if length == 0 {
			return Frame{}, fmt.Errorf("%w: zero-length audio chunk", ErrMalformedFrame)
		}
		if int(length) > MaxAudioPayload {
			return Frame{}, fmt.Errorf("%w: declared %d bytes, limit %d", ErrFrameTooLarge, length, MaxAudioPayload)
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
		return Frame{Type: FrameAudio, Payload: payload}, nil

	case MsgStop:
		return Frame{Type: FrameStop}, nil

	default:
		return Frame{}, fmt.Errorf("%w: unknown tag 0x%02x", ErrMalformedFrame, tag)
	}
}

// ParseTranscriptLine parses one newline-delimited transcript line
// (without the trailing newline) into a frame. Lines too short to
// carry a tag and text, or with an unknown tag, are reported as not ok
// and should be skipped.
func ParseTranscriptLine(line []byte) (Frame, bool) {
	if len(line) < 2 {
		return Frame{}, false
	}

	text := []byte(strings.TrimSpace(string(line[1:])))
	if len(text) == 0 {
		return Frame{}, false
	}

	switch line[0] {
	case TagInterim:
		return Frame{Type: FrameInterim, Payload: text}, true
	case TagFinal:
		return Frame{Type: FrameFinal, Payload: text}, true
	default:
		return Frame{}, false
	}
}
