package persistunit

import "log/slog"

// Logger defines the interface for pipeline logging.
// It uses structured logging with key-value pairs, the same shape popular
// libraries like slog, logrus or zap expose:
//
//	logger.Info("decorator registered", "name", "transaction", "priority", 2)
type Logger interface {
	// Info logs an informational message, e.g. a fixture that ran.
	Info(msg string, args ...any)

	// Error logs an error that did not become the reported failure of a test,
	// e.g. a suppressed teardown error.
	Error(msg string, args ...any)

	// Warn logs an unusual condition that does not stop the test.
	Warn(msg string, args ...any)

	// Debug logs diagnostic details such as chain order and resource acquisition.
	Debug(msg string, args ...any)
}

// SlogLogger adapts a *slog.Logger to Logger.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps l. A nil l uses slog.Default().
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{logger: l}
}

func (l *SlogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *SlogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l *SlogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *SlogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger { return nopLogger{} }

func orNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}
