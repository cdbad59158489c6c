package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrDuplicatePrefix is returned when a prefix is registered twice.
	ErrDuplicatePrefix = errors.New("command: duplicate prefix")
	// ErrEmptyPrefix is returned when registering an empty prefix.
	ErrEmptyPrefix = errors.New("command: empty prefix")
	// ErrNoReply is returned by handlers whose command gets no answer.
	ErrNoReply = errors.New("command: no reply")
)

// Handler executes a command. args is the trimmed text after the prefix, or
// the whole line for raw routes.
type Handler func(ctx context.Context, args string) (Result, error)

type route struct {
	prefix  string
	raw     bool // pass the whole line, prefix included
	handler Handler
}

// Dispatcher routes command lines by prefix. The longest matching prefix
// wins. Safe for concurrent use.
type Dispatcher struct {
	mu     sync.RWMutex
	routes []route
	log    *zap.SugaredLogger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(log *zap.SugaredLogger) *Dispatcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Dispatcher{log: log}
}

// Handle registers h for lines starting with prefix. Arguments are trimmed.
func (d *Dispatcher) Handle(prefix string, h Handler) error {
	return d.add(route{prefix: prefix, handler: h})
}

// HandleRaw registers h for lines starting with prefix. h receives the line
// exactly as received, prefix included.
func (d *Dispatcher) HandleRaw(prefix string, h Handler) error {
	return d.add(route{prefix: prefix, raw: true, handler: h})
}

func (d *Dispatcher) add(r route) error {
	if r.prefix == "" {
		return ErrEmptyPrefix
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, x := range d.routes {
		if x.prefix == r.prefix {
			return fmt.Errorf("%w: %q", ErrDuplicatePrefix, r.prefix)
		}
	}
	d.routes = append(d.routes, r)
	sort.SliceStable(d.routes, func(i, j int) bool {
		return len(d.routes[i].prefix) > len(d.routes[j].prefix)
	})
	return nil
}

// Prefixes lists the registered prefixes, longest first.
func (d *Dispatcher) Prefixes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.routes))
	for i, r := range d.routes {
		out[i] = r.prefix
	}
	return out
}

func (d *Dispatcher) match(line string) (route, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, r := range d.routes {
		if strings.HasPrefix(line, r.prefix) {
			return r, true
		}
	}
	return route{}, false
}

// Dispatch runs the handler for line. reply is false when the command must
// not be answered. Handler errors and panics become ExecutionError unless
// the error is classified by Classify.
func (d *Dispatcher) Dispatch(ctx context.Context, line string) (res Result, reply bool) {
	r, ok := d.match(line)
	if !ok {
		d.log.Debugw("unknown command", "line", line)
		return Result{Code: UnknownCommand, Message: fmt.Sprintf("unknown command %q", line)}, true
	}

	defer func() {
		if p := recover(); p != nil {
			d.log.Errorw("command panicked", "prefix", r.prefix, "panic", p)
			res, reply = Result{Code: ExecutionError, Message: fmt.Sprint(p)}, true
		}
	}()

	args := line
	if !r.raw {
		args = strings.TrimSpace(line[len(r.prefix):])
	}
	res, err := r.handler(ctx, args)
	switch {
	case errors.Is(err, ErrNoReply):
		return Result{}, false
	case err != nil:
		d.log.Debugw("command failed", "prefix", r.prefix, "error", err)
		return Classify(err), true
	}
	return res, true
}
