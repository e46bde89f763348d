package tcplink

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"

	"voicelink/internal/protocol"
)

func startEcho(t *testing.T) (addr *net.TCPAddr, accepted <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	ch := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		ch <- conn
	}()
	return ln.Addr().(*net.TCPAddr), ch
}

func TestSendDeliversBytes(t *testing.T) {
	addr, accepted := startEcho(t)

	link := New()
	if err := link.Open("127.0.0.1", addr.Port, time.Second); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer link.Close()

	payload := []byte("audio bytes")
	if err := link.Send(payload, nil, time.Second); err != nil {
		t.Fatalf("send: %v", err)
	}

	conn := <-accepted
	defer conn.Close()
	buf := make([]byte, len(payload))
	conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := conn.Read(buf); err != nil {
		t.Fatalf("server read: %v", err)
	}
	if !bytes.Equal(buf, payload) {
		t.Errorf("server received %q, want %q", buf, payload)
	}
}

func TestPollReturnsTranscriptFrames(t *testing.T) {
	addr, accepted := startEcho(t)

	link := New()
	if err := link.Open("127.0.0.1", addr.Port, time.Second); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer link.Close()

	// Trigger the accept so the server side exists.
	if err := link.Send([]byte("x"), nil, time.Second); err != nil {
		t.Fatalf("send: %v", err)
	}
	conn := <-accepted
	defer conn.Close()

	// Two frames delivered across a split write.
	conn.Write([]byte("\x01hel"))
	conn.Write([]byte("lo\n\x02hello world\n"))

	var frames []protocol.Frame
	deadline := time.Now().Add(2 * time.Second)
	for len(frames) < 2 && time.Now().Before(deadline) {
		if frame, ok := link.Poll(); ok {
			frames = append(frames, frame)
		}
	}

	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Type != protocol.FrameInterim || frames[0].Text() != "hello" {
		t.Errorf("first frame = %v %q", frames[0].Type, frames[0].Text())
	}
	if frames[1].Type != protocol.FrameFinal || frames[1].Text() != "hello world" {
		t.Errorf("second frame = %v %q", frames[1].Type, frames[1].Text())
	}
}

func TestPollAfterPeerCloseDrainsBufferedFrames(t *testing.T) {
	addr, accepted := startEcho(t)

	link := New()
	if err := link.Open("127.0.0.1", addr.Port, time.Second); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer link.Close()

	if err := link.Send([]byte("x"), nil, time.Second); err != nil {
		t.Fatalf("send: %v", err)
	}
	conn := <-accepted
	conn.Write([]byte("\x02goodbye\n"))
	conn.Close()

	var got *protocol.Frame
	deadline := time.Now().Add(2 * time.Second)
	for got == nil && time.Now().Before(deadline) {
		if frame, ok := link.Poll(); ok {
			got = &frame
		}
	}
	if got == nil || got.Text() != "goodbye" {
		t.Fatalf("buffered frame lost after peer close: %v", got)
	}

	// The dead link now fails sends immediately.
	err := link.Send([]byte("y"), nil, time.Second)
	if err == nil {
		deadline = time.Now().Add(2 * time.Second)
		for err == nil && time.Now().Before(deadline) {
			link.Poll()
			err = link.Send([]byte("y"), nil, time.Second)
		}
	}
	if !errors.Is(err, ErrNotConnected) && err == nil {
		t.Error("send on a dead link should fail")
	}
}

func TestOpenUnreachable(t *testing.T) {
	link := New()
	if err := link.Open("127.0.0.1", 1, 50*time.Millisecond); err == nil {
		link.Close()
		t.Fatal("expected dial error")
	}
}

func TestSendWhenClosed(t *testing.T) {
	link := New()
	if err := link.Send([]byte("x"), nil, time.Second); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}
