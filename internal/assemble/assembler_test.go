package assemble

import (
	"fmt"
	"testing"
	"time"

	"voicelink/internal/protocol"
)

// ipd builds a modem data notification for the given link.
func ipd(link int, payload []byte) []byte {
	hdr := fmt.Sprintf("+IPD,%d,%d:", link, len(payload))
	return append([]byte(hdr), payload...)
}

// transcript builds a newline-delimited transcript payload.
func transcript(tag byte, text string) []byte {
	return append(append([]byte{tag}, text...), '\n')
}

// drain collects every currently available frame.
func drain(a *Assembler) []protocol.Frame {
	var frames []protocol.Frame
	for {
		f, ok := a.Poll()
		if !ok {
			return frames
		}
		frames = append(frames, f)
	}
}

func TestExtractSingleFrame(t *testing.T) {
	a := New(0)
	a.Feed(ipd(0, transcript(protocol.TagFinal, "hello world")))

	frames := drain(a)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0].Type != protocol.FrameFinal || frames[0].Text() != "hello world" {
		t.Errorf("unexpected frame: %v %q", frames[0].Type, frames[0].Text())
	}
}

func TestChunkingInvariance(t *testing.T) {
	var input []byte
	input = append(input, "AT+CIPSEND=0,3200\r\nSEND OK\r\n"...) // echo noise
	input = append(input, ipd(0, transcript(protocol.TagInterim, "turn on"))...)
	input = append(input, "\r\nbusy p...\r\n"...)
	input = append(input, ipd(0, transcript(protocol.TagInterim, "turn on the"))...)
	input = append(input, ipd(1, transcript(protocol.TagFinal, "other link"))...)
	input = append(input, ipd(0, transcript(protocol.TagFinal, "turn on the lights"))...)

	// All at once.
	whole := New(0)
	whole.Feed(input)
	wholeFrames := drain(whole)

	// One byte at a time, polling after every byte.
	byteWise := New(0)
	var byteFrames []protocol.Frame
	for i := range input {
		byteWise.Feed(input[i : i+1])
		if f, ok := byteWise.Poll(); ok {
			byteFrames = append(byteFrames, f)
		}
	}
	byteFrames = append(byteFrames, drain(byteWise)...)

	if len(wholeFrames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(wholeFrames))
	}
	if len(byteFrames) != len(wholeFrames) {
		t.Fatalf("chunked feed yielded %d frames, whole feed %d", len(byteFrames), len(wholeFrames))
	}
	for i := range wholeFrames {
		if wholeFrames[i].Type != byteFrames[i].Type || wholeFrames[i].Text() != byteFrames[i].Text() {
			t.Errorf("frame %d differs: %v %q vs %v %q", i,
				wholeFrames[i].Type, wholeFrames[i].Text(),
				byteFrames[i].Type, byteFrames[i].Text())
		}
	}
}

func TestIncompletePayloadNotEmitted(t *testing.T) {
	full := ipd(0, transcript(protocol.TagFinal, "complete message"))

	a := New(0)
	a.Feed(full[:len(full)-5])
	if _, ok := a.Poll(); ok {
		t.Fatal("frame emitted before full payload arrived")
	}

	a.Feed(full[len(full)-5:])
	f, ok := a.Poll()
	if !ok {
		t.Fatal("expected frame after payload completed")
	}
	if f.Text() != "complete message" {
		t.Errorf("unexpected text %q", f.Text())
	}
}

func TestMalformedHeaderForwardProgress(t *testing.T) {
	a := New(0)
	a.Feed([]byte("+IPD,notanumber,xyz:garbage"))
	a.Feed(ipd(0, transcript(protocol.TagFinal, "recovered")))

	frames := drain(a)
	if len(frames) != 1 {
		t.Fatalf("expected exactly the valid frame, got %d frames", len(frames))
	}
	if frames[0].Text() != "recovered" {
		t.Errorf("unexpected text %q", frames[0].Text())
	}
}

func TestOtherLinkPayloadDiscarded(t *testing.T) {
	a := New(2)
	a.Feed(ipd(0, transcript(protocol.TagFinal, "not ours")))
	a.Feed(ipd(2, transcript(protocol.TagFinal, "ours")))

	frames := drain(a)
	if len(frames) != 1 || frames[0].Text() != "ours" {
		t.Fatalf("expected only the frame for link 2, got %v", frames)
	}
}

func TestOldestFirstOnePerPoll(t *testing.T) {
	a := New(0)
	a.Feed(ipd(0, transcript(protocol.TagInterim, "first")))
	a.Feed(ipd(0, transcript(protocol.TagFinal, "second")))

	f1, ok := a.Poll()
	if !ok || f1.Text() != "first" {
		t.Fatalf("expected first frame, got %v ok=%v", f1, ok)
	}
	f2, ok := a.Poll()
	if !ok || f2.Text() != "second" {
		t.Fatalf("expected second frame, got %v ok=%v", f2, ok)
	}
	if _, ok := a.Poll(); ok {
		t.Fatal("expected no more frames")
	}
}

func TestStaleNoiseCleared(t *testing.T) {
	current := time.Now()
	a := New(0)
	a.now = func() time.Time { return current }

	a.Feed([]byte("WIFI GOT IP\r\nOK\r\n")) // noise, no marker
	if len(a.raw) == 0 {
		t.Fatal("noise should be retained before the staleness threshold")
	}

	current = current.Add(DefaultStaleAfter + time.Millisecond)
	a.Feed([]byte("x"))
	if len(a.raw) != 0 {
		t.Fatalf("stale buffer not cleared, %d bytes retained", len(a.raw))
	}

	// A frame arriving afterwards still parses.
	a.Feed(ipd(0, transcript(protocol.TagFinal, "fresh")))
	if f, ok := a.Poll(); !ok || f.Text() != "fresh" {
		t.Fatalf("expected fresh frame after staleness clear, got %v ok=%v", f, ok)
	}
}

func TestPartialHeaderWaits(t *testing.T) {
	a := New(0)
	a.Feed([]byte("+IPD,0,1"))
	if _, ok := a.Poll(); ok {
		t.Fatal("partial header must not produce a frame")
	}

	a.Feed([]byte("4:"))
	a.Feed(transcript(protocol.TagFinal, "hello become")[:14])
	if f, ok := a.Poll(); !ok || f.Text() != "hello become" {
		t.Fatalf("expected frame once header and payload completed, got %v ok=%v", f, ok)
	}
}

func TestLineSplitterSkipsJunk(t *testing.T) {
	var s LineSplitter
	s.Feed([]byte("\n")) // empty line
	s.Feed(transcript(0x09, "unknown tag"))
	s.Feed(transcript(protocol.TagInterim, "valid"))

	f, ok := s.Next()
	if !ok || f.Text() != "valid" {
		t.Fatalf("expected the valid frame, got %v ok=%v", f, ok)
	}
	if _, ok := s.Next(); ok {
		t.Fatal("expected no more frames")
	}
}
