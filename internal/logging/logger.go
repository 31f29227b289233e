// Package logging defines the minimal structured-logging interface used
// across PeerVault components. Implementations can wrap slog, zap, etc.
package logging

// Logger is a structured logger. The variadic args are interpreted as
// key-value pairs, e.g.:
//
//	log.Info("starting transport", "addr", addr)
type Logger interface {
	// Debug logs fine-grained events such as dropped protocol messages.
	Debug(msg string, args ...any)

	// Info logs an informational message.
	Info(msg string, args ...any)

	// Warn logs a warning message for unusual but non-fatal conditions.
	Warn(msg string, args ...any)

	// Error logs an error message for failures.
	Error(msg string, args ...any)

	// With returns a child logger that always includes the given key-value pairs.
	With(args ...any) Logger
}
