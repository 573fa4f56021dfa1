package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Runner executes one full import pass over all configured sources.
type Runner interface {
	RunPass(ctx context.Context) error
}

type Scheduler struct {
	runner      Runner
	interval    time.Duration
	passTimeout time.Duration
	logger      *slog.Logger
}

func NewScheduler(runner Runner, interval, passTimeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:      runner,
		interval:    interval,
		passTimeout: passTimeout,
		logger:      logger,
	}
}

// Start runs a pass immediately, then on every interval tick until the
// context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)

	s.runPass(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runPass(ctx)
		}
	}
}

// RunOnce executes a single pass and returns its error.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	passCtx, cancel := context.WithTimeout(ctx, s.passTimeout)
	defer cancel()

	return s.runner.RunPass(passCtx)
}

func (s *Scheduler) runPass(ctx context.Context) {
	passCtx, cancel := context.WithTimeout(ctx, s.passTimeout)
	defer cancel()

	if err := s.runner.RunPass(passCtx); err != nil {
		s.logger.Error("import pass failed", "error", err)
	}
}
