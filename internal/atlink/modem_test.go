package atlink

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"
)

// fakePort is a scripted modem endpoint. A written command line that
// matches a respond entry queues that reply for subsequent reads. A
// CIPSEND answered with the ready prompt arms a raw-byte counter for
// the declared length; once the transfer completes, sendReply is
// queued.
type fakePort struct {
	written bytes.Buffer // everything the engine wrote
	inbound bytes.Buffer // bytes waiting for the engine to read

	respond   map[string]string
	expectRaw int
	sendReply string

	writeErr error
}

func newFakePort() *fakePort {
	return &fakePort{respond: map[string]string{}}
}

func (f *fakePort) Read(p []byte) (int, error) {
	if f.inbound.Len() == 0 {
		return 0, nil
	}
	return f.inbound.Read(p)
}

func (f *fakePort) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.written.Write(p)

	if f.expectRaw > 0 {
		f.expectRaw -= len(p)
		if f.expectRaw <= 0 {
			f.inbound.WriteString(f.sendReply)
		}
		return len(p), nil
	}

	line := string(p)
	for cmd, reply := range f.respond {
		if strings.Contains(line, cmd) {
			f.inbound.WriteString(reply)
			if strings.HasPrefix(line, "AT+CIPSEND=") && strings.Contains(reply, ">") {
				f.expectRaw = cipsendLen(line)
			}
			break
		}
	}
	return len(p), nil
}

func (f *fakePort) SetBaud(int) error { return nil }
func (f *fakePort) Close() error      { return nil }

func cipsendLen(line string) int {
	line = strings.TrimSpace(line)
	n, _ := strconv.Atoi(line[strings.LastIndex(line, ",")+1:])
	return n
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestModem(port *fakePort) *Modem {
	m := New(port, testLogger())
	m.pollInterval = 100 * time.Microsecond
	return m
}

// openLink scripts a successful CIPSTART and opens link 0.
func openLink(t *testing.T, m *Modem, port *fakePort) {
	t.Helper()
	port.respond["AT+CIPSTART=0"] = "0,CONNECT\r\n\r\nOK\r\n"
	if err := m.Open(0, "192.168.1.50", 5000, time.Second); err != nil {
		t.Fatalf("open: %v", err)
	}
	if m.LinkState(0) != LinkOpen {
		t.Fatalf("expected LinkOpen, got %v", m.LinkState(0))
	}
}

func TestOpenSuccess(t *testing.T) {
	port := newFakePort()
	m := newTestModem(port)
	openLink(t, m, port)

	if !strings.Contains(port.written.String(), `AT+CIPSTART=0,"TCP","192.168.1.50",5000`) {
		t.Errorf("unexpected command: %q", port.written.String())
	}
}

func TestOpenFailureReturnsClosed(t *testing.T) {
	port := newFakePort()
	port.respond["AT+CIPSTART=1"] = "ERROR\r\n"
	m := newTestModem(port)

	err := m.Open(1, "192.168.1.50", 5000, time.Second)
	if !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("expected ErrCommandFailed, got %v", err)
	}
	if m.LinkState(1) != LinkClosed {
		t.Errorf("expected LinkClosed after failure, got %v", m.LinkState(1))
	}
}

func TestOpenDuplicateRejected(t *testing.T) {
	port := newFakePort()
	m := newTestModem(port)
	openLink(t, m, port)

	if err := m.Open(0, "192.168.1.50", 5000, time.Second); err == nil {
		t.Fatal("expected error opening an already-open link")
	}
}

func TestSendDeliversChunkAndLeftover(t *testing.T) {
	port := newFakePort()
	m := newTestModem(port)
	openLink(t, m, port)

	payload := []byte("hello audio payload")
	port.respond["AT+CIPSEND=0,19"] = "> "
	// Unsolicited transcript frame interleaved with the acknowledgement.
	port.sendReply = "Recv 19 bytes\r\nSEND OK\r\n+IPD,0,6:\x02done\n"

	leftover, err := m.Send(0, payload, nil, time.Second)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !bytes.Contains(port.written.Bytes(), payload) {
		t.Error("payload bytes were not written to the port")
	}
	if !bytes.Contains(leftover, []byte("+IPD,0,6:")) {
		t.Errorf("unsolicited frame was dropped, leftover %q", leftover)
	}
	if bytes.Contains(leftover, []byte("SEND OK")) {
		t.Errorf("completion token leaked into leftover: %q", leftover)
	}
}

func TestSendChunksLargePayload(t *testing.T) {
	port := newFakePort()
	m := newTestModem(port)
	openLink(t, m, port)

	payload := make([]byte, MaxSendChunk+100)
	port.respond["AT+CIPSEND=0,"] = "> "
	port.sendReply = "SEND OK\r\n"

	if _, err := m.Send(0, payload, nil, time.Second); err != nil {
		t.Fatalf("send: %v", err)
	}

	written := port.written.String()
	if !strings.Contains(written, "AT+CIPSEND=0,2048") || !strings.Contains(written, "AT+CIPSEND=0,100") {
		t.Errorf("payload was not split into expected chunks: %q", written)
	}
}

func TestSendPromptTimeoutLeavesLinkOpen(t *testing.T) {
	port := newFakePort()
	m := newTestModem(port)
	openLink(t, m, port)

	// No response scripted for CIPSEND: the ready prompt never arrives.
	_, err := m.Send(0, []byte("data"), nil, time.Second)
	if !errors.Is(err, ErrCommandTimeout) {
		t.Fatalf("expected ErrCommandTimeout, got %v", err)
	}
	if m.LinkState(0) != LinkOpen {
		t.Errorf("link state changed on timeout: %v", m.LinkState(0))
	}
	if m.pending {
		t.Error("pending flag not cleared after timeout")
	}
}

func TestSendFailToken(t *testing.T) {
	port := newFakePort()
	m := newTestModem(port)
	openLink(t, m, port)

	port.respond["AT+CIPSEND=0,4"] = "> "
	port.sendReply = "SEND FAIL\r\n"

	_, err := m.Send(0, []byte("data"), nil, time.Second)
	if !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("expected ErrCommandFailed, got %v", err)
	}
	if m.LinkState(0) != LinkOpen {
		t.Errorf("SEND FAIL should not close the link locally, got %v", m.LinkState(0))
	}
}

func TestSendInvalidLinkToken(t *testing.T) {
	port := newFakePort()
	m := newTestModem(port)
	openLink(t, m, port)

	port.respond["AT+CIPSEND=0,4"] = "link is not valid\r\n"

	_, err := m.Send(0, []byte("data"), nil, time.Second)
	if !errors.Is(err, ErrTransportLost) {
		t.Fatalf("expected ErrTransportLost, got %v", err)
	}
	if m.LinkState(0) != LinkClosed {
		t.Errorf("dead link should be marked closed, got %v", m.LinkState(0))
	}
}

func TestSendOnClosedLinkFailsImmediately(t *testing.T) {
	port := newFakePort()
	m := newTestModem(port)

	_, err := m.Send(0, []byte("data"), nil, time.Second)
	if !errors.Is(err, ErrLinkClosed) {
		t.Fatalf("expected ErrLinkClosed, got %v", err)
	}
	if port.written.Len() != 0 {
		t.Error("no bytes should reach the port for a closed link")
	}
}

func TestSendPumpRunsWhileWaiting(t *testing.T) {
	port := newFakePort()
	m := newTestModem(port)
	openLink(t, m, port)

	port.respond["AT+CIPSEND=0,4"] = "> "
	port.sendReply = "SEND OK\r\n"

	pumped := 0
	_, err := m.Send(0, []byte("data"), func() { pumped++ }, time.Second)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if pumped == 0 {
		t.Error("pump was never invoked during the send")
	}
}

func TestCloseLink(t *testing.T) {
	port := newFakePort()
	m := newTestModem(port)
	openLink(t, m, port)

	port.respond["AT+CIPCLOSE=0"] = "0,CLOSED\r\n\r\nOK\r\n"
	m.CloseLink(0)

	if m.LinkState(0) != LinkClosed {
		t.Errorf("expected LinkClosed, got %v", m.LinkState(0))
	}
	if _, err := m.Send(0, []byte("x"), nil, time.Second); !errors.Is(err, ErrLinkClosed) {
		t.Errorf("expected ErrLinkClosed after close, got %v", err)
	}
}

func TestInitSequence(t *testing.T) {
	port := newFakePort()
	for _, cmd := range []string{"AT\r\n", "AT+CWMODE=1", "AT+CWJAP", "AT+CIPMODE=0", "AT+CIPMUX=1"} {
		port.respond[cmd] = "OK\r\n"
	}
	// Baud switch rejected: the engine keeps the current rate.
	port.respond["AT+UART_CUR"] = "ERROR\r\n"

	m := newTestModem(port)
	err := m.Init(Config{SSID: "lab", Password: "secret", FastBaud: 921600, JoinTimeout: time.Second})
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	written := port.written.String()
	for _, cmd := range []string{"+++", "AT+CWMODE=1", `AT+CWJAP="lab","secret"`, "AT+CIPMODE=0", "AT+CIPMUX=1"} {
		if !strings.Contains(written, cmd) {
			t.Errorf("init did not issue %q", cmd)
		}
	}
}

func TestCommandPendingInvariant(t *testing.T) {
	port := newFakePort()
	m := newTestModem(port)

	if err := m.writeCommand("AT+CIPSEND=0,4"); err != nil {
		t.Fatalf("first command: %v", err)
	}
	if err := m.writeCommand("AT+CIPSEND=0,4"); !errors.Is(err, ErrCommandPending) {
		t.Fatalf("expected ErrCommandPending, got %v", err)
	}
}

func TestStreamLinkRoutesLeftoverToAssembler(t *testing.T) {
	port := newFakePort()
	m := newTestModem(port)
	link := NewStreamLink(m, 0)

	port.respond["AT+CIPSTART=0"] = "OK\r\n"
	if err := link.Open("192.168.1.50", 5000, time.Second); err != nil {
		t.Fatalf("open: %v", err)
	}

	port.respond["AT+CIPSEND=0,4"] = "> "
	port.sendReply = "SEND OK\r\n+IPD,0,9:\x01partial\n"

	if err := link.Send([]byte("data"), nil, time.Second); err != nil {
		t.Fatalf("send: %v", err)
	}

	frame, ok := link.Poll()
	if !ok {
		t.Fatal("expected the interleaved transcript frame")
	}
	if frame.Text() != "partial" {
		t.Errorf("unexpected text %q", frame.Text())
	}
}
