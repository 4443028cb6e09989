// Package sweep periodically triggers the notification processor so matches
// whose instant trigger was skipped or lost still get notified.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/example/journey-matching/internal/observability"
)

// Trigger is satisfied by *dispatch.BatchTrigger.
type Trigger interface {
	Trigger(ctx context.Context) error
}

// Scheduler wraps robfig/cron and fires the trigger on a fixed spec.
type Scheduler struct {
	cron    *cron.Cron
	trigger Trigger
	spec    string
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Scheduler for a cron spec such as "@every 15m".
func New(trigger Trigger, spec string, timeout time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Scheduler{
		cron:    cron.New(),
		trigger: trigger,
		spec:    spec,
		timeout: timeout,
		logger:  logger,
	}
}

// Start registers the job and starts the scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.RunOnce); err != nil {
		return fmt.Errorf("cron.AddFunc(%q): %w", s.spec, err)
	}
	s.cron.Start()
	s.logger.Info("notification sweep started", "spec", s.spec)
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("notification sweep stopped")
}

// RunOnce fires the trigger a single time.
func (s *Scheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.trigger.Trigger(ctx); err != nil {
		observability.NotifyTriggers.WithLabelValues("sweep_error").Inc()
		s.logger.Error("notification sweep failed", "error", err)
		return
	}
	observability.NotifyTriggers.WithLabelValues("sweep_ok").Inc()
}
