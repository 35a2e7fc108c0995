// Package logger defines the logging contract shared by the fitting core,
// the benchmark orchestrator, and the adapters.
package logger

// Logger exposes logging methods for common severity levels.
type Logger interface {
	Debugf(format string, args ...any)
	// Debugw logs a message with structured fields, such as a benchmark cell
	// outcome.
	Debugw(msg string, fields map[string]any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}
