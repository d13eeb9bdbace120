package scheduler

import (
	"context"
	"log/slog"
	"time"

	"agentsync/internal/domain"
)

// Planner enqueues sync tasks for agents that are due.
type Planner interface {
	ScheduleDue(ctx context.Context, platform domain.Platform) (int, error)
}

// Scheduler runs a planning pass over every platform on a fixed interval.
type Scheduler struct {
	planner   Planner
	platforms []domain.Platform
	interval  time.Duration
	timeout   time.Duration
	logger    *slog.Logger
}

func NewScheduler(planner Planner, platforms []domain.Platform, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		planner:   planner,
		platforms: platforms,
		interval:  interval,
		timeout:   time.Minute,
		logger:    logger,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval, "platforms", s.platforms)

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	for _, platform := range s.platforms {
		if ctx.Err() != nil {
			return
		}
		s.plan(ctx, platform)
	}
}

func (s *Scheduler) plan(ctx context.Context, platform domain.Platform) {
	planCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.planner.ScheduleDue(planCtx, platform)
	if err != nil {
		s.logger.Error("scheduling failed", "platform", platform, "scheduled", n, "error", err)
	}
}
