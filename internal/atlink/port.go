package atlink

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Port is the raw duplex byte channel to the modem. Read must not
// block: it returns (0, nil) when no bytes are pending.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetBaud(baud int) error
	Close() error
}

// serialPort adapts a UART device to the Port contract. A short read
// timeout approximates non-blocking reads within the scheduler's step
// latency budget.
type serialPort struct {
	port serial.Port
}

// OpenSerial opens the UART device the modem is wired to.
func OpenSerial(device string, baud int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial device %s: %w", device, err)
	}

	if err := p.SetReadTimeout(time.Millisecond); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", device, err)
	}

	return &serialPort{port: p}, nil
}

func (s *serialPort) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *serialPort) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *serialPort) SetBaud(baud int) error {
	return s.port.SetMode(&serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
}

func (s *serialPort) Close() error {
	return s.port.Close()
}
