package logger

import (
	"log"
	"log/slog"
)

// New bridges a slog.Logger to the stdlib *log.Logger that http.Server and other
// older APIs expect. Lines are emitted at level with a component attribute.
func New(base *slog.Logger, component string, level slog.Level) *log.Logger {
	if base == nil {
		base = slog.Default()
	}
	return slog.NewLogLogger(base.With("component", component).Handler(), level)
}
