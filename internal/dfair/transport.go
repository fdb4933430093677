package dfair

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"go.bug.st/serial"
)

// Dialer opens the byte stream used for one pass.
type Dialer interface {
	Dial(ctx context.Context) (io.ReadWriteCloser, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (io.ReadWriteCloser, error)

func (f DialerFunc) Dial(ctx context.Context) (io.ReadWriteCloser, error) { return f(ctx) }

// TCPDialer connects to the device over plain TCP.
type TCPDialer struct {
	Address string
	Timeout time.Duration
}

func (d TCPDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	nd := net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransport, d.Address, err)
	}
	return conn, nil
}

// SerialDialer opens a serial port (8N1) for setups where the controller is
// reached through a serial bridge.
type SerialDialer struct {
	PortPath string
	BaudRate int
}

func (d SerialDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	baud := d.BaudRate
	if baud == 0 {
		baud = 115200
	}
	port, err := serial.Open(d.PortPath, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrTransport, d.PortPath, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("%w: reset %s: %v", ErrTransport, d.PortPath, err)
	}
	return port, nil
}

// session wraps one connection with a reader goroutine that turns the byte
// stream into data and error events.
type session struct {
	conn io.ReadWriteCloser
	data chan []byte
	errc chan error
	done chan struct{}
}

func newSession(conn io.ReadWriteCloser) *session {
	s := &session{
		conn: conn,
		data: make(chan []byte, 16),
		errc: make(chan error, 1),
		done: make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *session) readLoop() {
	buf := make([]byte, 256)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.data <- chunk:
			case <-s.done:
				return
			}
		}
		if err != nil {
			select {
			case s.errc <- err:
			case <-s.done:
			}
			return
		}
	}
}

func (s *session) write(frame []byte) error {
	_, err := s.conn.Write(frame)
	return err
}

// discard drops bytes that arrived while no request was outstanding.
func (s *session) discard() int {
	n := 0
	for {
		select {
		case chunk := <-s.data:
			n += len(chunk)
		default:
			return n
		}
	}
}

func (s *session) close() error {
	close(s.done)
	return s.conn.Close()
}
