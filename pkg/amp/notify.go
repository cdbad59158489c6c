package amp

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Notifier delivers operator facing messages.
type Notifier interface {
	// Notify reports a fault or warning.
	Notify(msg string)
	// Retry reports a failed operation and blocks until the operator asks for
	// another attempt. It returns false to give up.
	Retry(ctx context.Context, msg string) bool
}

// LogNotifier writes messages to a logger and retries after a fixed delay.
type LogNotifier struct {
	Log   *zap.SugaredLogger
	Delay time.Duration
}

var _ Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a notifier that retries after delay.
func NewLogNotifier(log *zap.SugaredLogger, delay time.Duration) *LogNotifier {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &LogNotifier{Log: log, Delay: delay}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(msg string) {
	n.Log.Warn(msg)
}

// Retry implements Notifier.
func (n *LogNotifier) Retry(ctx context.Context, msg string) bool {
	n.Log.Errorw(msg, "retry_in", n.Delay)
	t := time.NewTimer(n.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
