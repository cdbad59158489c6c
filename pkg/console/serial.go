package console

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/multierr"
)

// Serial serves a console on a serial port.
type Serial struct {
	port     string
	baudRate int
	console  *Console

	mu   sync.Mutex
	conn serial.Port
}

// NewSerial creates a serial console on port. A zero baud rate selects
// DefaultBaudRate.
func NewSerial(c *Console, port string, baudRate int) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	return &Serial{port: port, baudRate: baudRate, console: c}
}

// ListenAndServe opens the port and serves sessions until ctx is done. A
// session ends when the port errors out; the port is then reopened after
// retry.
func (s *Serial) ListenAndServe(ctx context.Context, retry time.Duration) error {
	for {
		err := s.serveOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		s.console.log.Warnw("serial console session ended", "port", s.port, "error", err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(retry):
		}
	}
}

func (s *Serial) serveOnce(ctx context.Context) (err error) {
	port, err := serial.Open(s.port, &serial.Mode{BaudRate: s.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.port, err)
	}
	s.mu.Lock()
	s.conn = port
	s.mu.Unlock()

	// Closing the port unblocks the reader.
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer func() {
		stop()
		err = multierr.Append(err, s.Close())
	}()

	return s.console.Serve(ctx, port)
}

// Close closes the port if open.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
