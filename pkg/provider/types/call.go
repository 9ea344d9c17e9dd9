package types

import (
	"log/slog"
	"time"
)

// Call traces one provider request at debug level.
type Call struct {
	log       *slog.Logger
	startedAt time.Time
}

// StartCall logs the start of operation against the provider named by
// component.
func StartCall(component, operation string, attrs ...any) *Call {
	call := &Call{
		log:       slog.Default().With("component", component, "operation", operation),
		startedAt: time.Now(),
	}
	call.log.Debug("provider request started", attrs...)
	return call
}

// Fail logs err with the elapsed time and returns it unchanged.
func (c *Call) Fail(err error) error {
	c.log.Debug("provider request failed", "duration_ms", c.elapsed(), "error", err)
	return err
}

// Done logs completion with the elapsed time.
func (c *Call) Done(attrs ...any) {
	c.log.Debug("provider request completed", append([]any{"duration_ms", c.elapsed()}, attrs...)...)
}

func (c *Call) elapsed() int64 {
	return time.Since(c.startedAt).Milliseconds()
}
