// Package logger implements the result sink on the structured logger, for
// deployments that do not run a message broker.
package logger

import (
	"context"

	domain "github.com/devsweep/devsweep/internal/domain/sweep"
	"github.com/devsweep/devsweep/pkg/common/logger"
)

var _ domain.ResultSink = (*Sink)(nil)

// Sink writes each outcome as one structured log record.
type Sink struct {
	logger *logger.Logger
}

// NewSink creates a logger-backed result sink.
func NewSink(log *logger.Logger) *Sink {
	return &Sink{logger: log.With("component", "result_sink")}
}

// Record logs the outcome.
func (s *Sink) Record(ctx context.Context, kind domain.RunKind, outcome domain.Outcome) error {
	s.logger.Info(ctx, "Item outcome",
		"run_kind", kind.String(),
		"item", string(outcome.Item),
		"tag", string(outcome.Tag),
		"devices", outcome.Devices,
		"detail", outcome.Detail,
	)
	return nil
}
