package logger

import "context"

// LoggerContext carries a logger plus attributes accumulated over the course
// of a single operation. It lets call sites add attributes as they learn
// them without re-deriving a logger at every step.
type LoggerContext struct {
	logger *Logger
	attrs  []any
}

// NewLoggerContext creates a LoggerContext seeded with the given logger.
func NewLoggerContext(logger *Logger) *LoggerContext {
	return &LoggerContext{logger: logger}
}

// Add appends key/value attributes to the context for subsequent log calls.
func (lc *LoggerContext) Add(args ...any) { lc.attrs = append(lc.attrs, args...) }

// Debug logs at debug level with the accumulated attributes.
func (lc *LoggerContext) Debug(ctx context.Context, msg string, args ...any) {
	lc.logger.Debugc(ctx, 4, msg, append(lc.attrs, args...)...)
}

// Info logs at info level with the accumulated attributes.
func (lc *LoggerContext) Info(ctx context.Context, msg string, args ...any) {
	lc.logger.Infoc(ctx, 4, msg, append(lc.attrs, args...)...)
}

// Warn logs at warn level with the accumulated attributes.
func (lc *LoggerContext) Warn(ctx context.Context, msg string, args ...any) {
	lc.logger.Warnc(ctx, 4, msg, append(lc.attrs, args...)...)
}

// Error logs at error level with the accumulated attributes.
func (lc *LoggerContext) Error(ctx context.Context, msg string, args ...any) {
	lc.logger.Errorc(ctx, 4, msg, append(lc.attrs, args...)...)
}
