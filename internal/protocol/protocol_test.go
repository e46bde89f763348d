package protocol

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestEncodeAudioFrame(t *testing.T) {
	tests := []struct {
		name        string
		payloadSize int
		expectError error
	}{
		{name: "single byte", payloadSize: 1},
		{name: "typical chunk", payloadSize: 3200},
		{name: "max payload", payloadSize: MaxAudioPayload},
		{name: "empty payload", payloadSize: 0, expectError: ErrEmptyFrame},
		{name: "over max", payloadSize: MaxAudioPayload + 1, expectError: ErrFrameTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pcm := make([]byte, tt.payloadSize)
			for i := range pcm {
				pcm[i] = byte(i)
			}

			frame, err := EncodeAudioFrame(pcm)

			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Fatalf("expected error %v, got %v", tt.expectError, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if frame[0] != MsgAudio {
				t.Errorf("expected tag 0x%02x, got 0x%02x", MsgAudio, frame[0])
			}
			if got := binary.LittleEndian.Uint16(frame[1:3]); int(got) != tt.payloadSize {
				t.Errorf("expected length %d, got %d", tt.payloadSize, got)
			}
			if !bytes.Equal(frame[AudioHeaderSize:], pcm) {
				t.Error("payload bytes do not match input")
			}
		})
	}
}

func TestAudioFrameRoundTrip(t *testing.T) {
	for _, n := range []int{1, 64, 3200, MaxAudioPayload} {
		pcm := make([]byte, n)
		for i := range pcm {
			pcm[i] = byte(i * 7)
		}

		encoded, err := EncodeAudioFrame(pcm)
		if err != nil {
			t.Fatalf("encode %d bytes: %v", n, err)
		}

		frame, err := ReadFrame(bufio.NewReader(bytes.NewReader(encoded)))
		if err != nil {
			t.Fatalf("decode %d bytes: %v", n, err)
		}
		if frame.Type != FrameAudio {
			t.Fatalf("expected FrameAudio, got %v", frame.Type)
		}
		if !bytes.Equal(frame.Payload, pcm) {
			t.Errorf("round trip of %d bytes did not reproduce payload", n)
		}
	}
}

func TestReadFrame(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expected    FrameType
		expectError error
	}{
		{
			name:     "stop frame",
			data:     []byte{MsgStop},
			expected: FrameStop,
		},
		{
			name:        "unknown tag",
			data:        []byte{0x7f, 0x00},
			expectError: ErrMalformedFrame,
		},
		{
			name:        "zero-length audio",
			data:        []byte{MsgAudio, 0x00, 0x00},
			expectError: ErrMalformedFrame,
		},
		{
			name:        "oversized declared length",
			data:        []byte{MsgAudio, 0xff, 0xff},
			expectError: ErrFrameTooLarge,
		},
		{
			name:        "truncated payload",
			data:        []byte{MsgAudio, 0x10, 0x00, 0x01, 0x02},
			expectError: io.ErrUnexpectedEOF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := ReadFrame(bufio.NewReader(bytes.NewReader(tt.data)))

			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Fatalf("expected error %v, got %v", tt.expectError, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if frame.Type != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, frame.Type)
			}
		})
	}
}

func TestEncodeTranscript(t *testing.T) {
	interim := EncodeTranscript("hello wor", false)
	if interim[0] != TagInterim {
		t.Errorf("expected interim tag, got 0x%02x", interim[0])
	}
	if interim[len(interim)-1] != '\n' {
		t.Error("transcript frame must end with newline")
	}

	final := EncodeTranscript("hello world", true)
	if final[0] != TagFinal {
		t.Errorf("expected final tag, got 0x%02x", final[0])
	}
	if string(final[1:len(final)-1]) != "hello world" {
		t.Errorf("unexpected text: %q", final[1:len(final)-1])
	}

	// Embedded newlines would terminate the frame early on the wire.
	embedded := EncodeTranscript("line one\nline two", true)
	if strings.Count(string(embedded), "\n") != 1 {
		t.Error("embedded newline was not sanitized")
	}
}

func TestParseTranscriptLine(t *testing.T) {
	tests := []struct {
		name     string
		line     []byte
		expected FrameType
		text     string
		ok       bool
	}{
		{name: "interim", line: append([]byte{TagInterim}, "partial text"...), expected: FrameInterim, text: "partial text", ok: true},
		{name: "final", line: append([]byte{TagFinal}, "done"...), expected: FrameFinal, text: "done", ok: true},
		{name: "whitespace trimmed", line: append([]byte{TagFinal}, "  padded \r"...), expected: FrameFinal, text: "padded", ok: true},
		{name: "too short", line: []byte{TagFinal}, ok: false},
		{name: "blank text", line: append([]byte{TagInterim}, "   "...), ok: false},
		{name: "unknown tag", line: append([]byte{0x09}, "text"...), ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, ok := ParseTranscriptLine(tt.line)
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, ok)
			}
			if !ok {
				return
			}
			if frame.Type != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, frame.Type)
			}
			if frame.Text() != tt.text {
				t.Errorf("expected text %q, got %q", tt.text, frame.Text())
			}
		})
	}
}

func TestTranscriptRoundTrip(t *testing.T) {
	encoded := EncodeTranscript("turn on the lights", true)

	// Strip the trailing newline the way the line splitter does.
	frame, ok := ParseTranscriptLine(encoded[:len(encoded)-1])
	if !ok {
		t.Fatal("expected frame")
	}
	if frame.Type != FrameFinal || frame.Text() != "turn on the lights" {
		t.Errorf("round trip mismatch: %v %q", frame.Type, frame.Text())
	}
}
