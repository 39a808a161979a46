package logger

import (
	"context"
	"fmt"
)

// stdLogger adapts a Logger to the standard library's printf-style
// interfaces used by packages like net/http for their error logs.
type stdLogger struct {
	logger *Logger
	level  Level
}

// Write implements io.Writer so the adapter can back a log.Logger.
func (s *stdLogger) Write(p []byte) (int, error) {
	s.Printf("%s", p)
	return len(p), nil
}

// Printf logs the formatted message at the configured level.
func (s *stdLogger) Printf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)

	ctx := context.Background()
	switch s.level {
	case LevelDebug:
		s.logger.Debugc(ctx, 4, msg)
	case LevelWarn:
		s.logger.Warnc(ctx, 4, msg)
	case LevelError:
		s.logger.Errorc(ctx, 4, msg)
	default:
		s.logger.Infoc(ctx, 4, msg)
	}
}
