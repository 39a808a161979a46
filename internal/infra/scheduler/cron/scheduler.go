// Package cron adapts a robfig/cron runner to the ContinuationScheduler
// contract: one-shot re-invocations of named engine entry points, with at
// most one pending continuation per entry point.
package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/devsweep/devsweep/internal/domain/sweep"
	"github.com/devsweep/devsweep/pkg/common/logger"
)

var _ domain.ContinuationScheduler = (*Scheduler)(nil)

// Handler is the engine entry point a continuation re-invokes.
type Handler func(ctx context.Context) error

// Scheduler wraps a cron runner with one-shot schedules. Entry points are
// registered up front; ScheduleAfter fires the matching handler once after
// the delay, cancelling any continuation already pending for that entry
// point so duplicate invocations cannot stack up.
type Scheduler struct {
	mu       sync.Mutex
	cron     *rcron.Cron
	handlers map[string]Handler
	pending  map[string]rcron.EntryID

	logger *logger.Logger
	tracer trace.Tracer
}

// NewScheduler creates a Scheduler. Call Start before scheduling and Stop
// on shutdown.
func NewScheduler(logger *logger.Logger, tracer trace.Tracer) *Scheduler {
	return &Scheduler{
		cron:     rcron.New(),
		handlers: make(map[string]Handler),
		pending:  make(map[string]rcron.EntryID),
		logger:   logger.With("component", "continuation_scheduler"),
		tracer:   tracer,
	}
}

// Register binds a handler to an entry-point name. Scheduling an
// unregistered entry point is an error.
func (s *Scheduler) Register(entryPoint string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[entryPoint] = handler
}

// Start begins the underlying cron runner.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the runner and waits for any running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// ScheduleAfter schedules one invocation of the entry point after delay.
// Any continuation already pending for the entry point is cancelled first.
func (s *Scheduler) ScheduleAfter(ctx context.Context, entryPoint string, delay time.Duration) error {
	_, span := s.tracer.Start(ctx, "continuation_scheduler.schedule_after",
		trace.WithAttributes(
			attribute.String("entry_point", entryPoint),
			attribute.String("delay", delay.String()),
		))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	handler, ok := s.handlers[entryPoint]
	if !ok {
		err := fmt.Errorf("no handler registered for entry point %q", entryPoint)
		span.RecordError(err)
		return err
	}

	if id, exists := s.pending[entryPoint]; exists {
		s.cron.Remove(id)
		delete(s.pending, entryPoint)
	}

	// The job reads id after taking the scheduler mutex, which this call
	// still holds, so the assignment below is visible before the job runs.
	var id rcron.EntryID
	id = s.cron.Schedule(&oneShotSchedule{at: time.Now().Add(delay)}, rcron.FuncJob(func() {
		s.completed(entryPoint, id)

		// Continuations outlive the invocation that scheduled them, so the
		// handler gets a fresh context rather than the caller's.
		runCtx := context.Background()
		if err := handler(runCtx); err != nil {
			s.logger.Error(runCtx, "continuation handler failed",
				"entry_point", entryPoint, "error", err)
		}
	}))
	s.pending[entryPoint] = id

	s.logger.Info(ctx, "Continuation scheduled",
		"entry_point", entryPoint, "delay", delay.String())
	return nil
}

// CancelAll removes every pending continuation.
func (s *Scheduler) CancelAll(ctx context.Context) error {
	_, span := s.tracer.Start(ctx, "continuation_scheduler.cancel_all")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	for entryPoint, id := range s.pending {
		s.cron.Remove(id)
		delete(s.pending, entryPoint)
	}
	return nil
}

// completed retires a fired one-shot entry. The cron runner never drops
// entries whose schedule returns the zero time, so the fired entry must be
// removed explicitly or a long-lived worker accumulates one dead entry per
// pause/resume cycle. The pending slot is only released when it still maps
// to the fired entry; a replacement scheduled in the meantime keeps its own.
func (s *Scheduler) completed(entryPoint string, id rcron.EntryID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cron.Remove(id)
	if s.pending[entryPoint] == id {
		delete(s.pending, entryPoint)
	}
}

// oneShotSchedule activates exactly once at its target time. After the
// activation, Next returns the zero time and the cron runner never fires
// the entry again.
type oneShotSchedule struct {
	at time.Time
}

func (o *oneShotSchedule) Next(t time.Time) time.Time {
	if t.Before(o.at) {
		return o.at
	}
	return time.Time{}
}
