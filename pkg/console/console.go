// Package console serves operator commands over a line oriented stream,
// usually a serial port.
package console

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/itohio/instamp/pkg/command"
)

const (
	// DefaultBaudRate is the console line speed.
	DefaultBaudRate = 115200

	connectedCmd    = "_connected"
	disconnectedCmd = "_disconnected"
)

// Dispatcher executes a command line.
type Dispatcher interface {
	Dispatch(ctx context.Context, line string) (command.Result, bool)
}

var _ Dispatcher = (*command.Dispatcher)(nil)

// Port describes a serial port.
type Port struct {
	Name        string
	Description string
}

// Ports returns the serial ports present on the host.
func Ports() ([]Port, error) {
	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	out := make([]Port, 0, len(names))
	for _, name := range names {
		out = append(out, Port{Name: name, Description: name})
	}
	return out, nil
}

// Console reads one command per line and writes one JSON result per line.
// A session starts with _connected and ends with _disconnected, both
// dispatched without a reply.
type Console struct {
	d   Dispatcher
	log *zap.SugaredLogger

	mu        sync.Mutex
	w         io.Writer
	connected bool
}

// New creates a console dispatching to d.
func New(d Dispatcher, log *zap.SugaredLogger) *Console {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Console{d: d, log: log}
}

// IsConnected reports whether a session is being served.
func (c *Console) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Serve runs one session on rw until EOF, a read error or ctx is done.
// Cancelling ctx does not interrupt a blocked read; close the stream for that.
func (c *Console) Serve(ctx context.Context, rw io.ReadWriter) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return errors.New("console: already connected")
	}
	c.connected = true
	c.w = rw
	c.mu.Unlock()

	c.log.Infow("console connected")
	c.dispatch(ctx, connectedCmd)
	defer func() {
		c.dispatch(context.WithoutCancel(ctx), disconnectedCmd)
		c.mu.Lock()
		c.connected = false
		c.w = nil
		c.mu.Unlock()
		c.log.Infow("console disconnected")
	}()

	scanner := bufio.NewScanner(rw)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !scanner.Scan() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("console read: %w", err)
			}
			return nil
		}

		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := c.dispatch(ctx, line); err != nil {
			return err
		}
	}
}

func (c *Console) dispatch(ctx context.Context, line string) error {
	res, reply := c.d.Dispatch(ctx, line)
	c.log.Debugw("command", "line", line, "code", res.Code, "reply", reply)
	if !reply {
		return nil
	}
	return c.Send(res)
}

// Send writes v as a JSON line to the connected session.
func (c *Console) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("console encode: %w", err)
	}
	b = append(b, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.w == nil {
		return errors.New("console: not connected")
	}
	if _, err := c.w.Write(b); err != nil {
		return fmt.Errorf("console write: %w", err)
	}
	return nil
}
