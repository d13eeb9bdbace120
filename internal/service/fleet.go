package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"agentsync/internal/config"
	"agentsync/internal/domain"
)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PlatformPolicy is the fleet pacing for one platform.
type PlatformPolicy struct {
	config.PlatformLimit
	AutoRecover bool
}

// PoliciesFromConfig collects the per-platform pacing settings.
func PoliciesFromConfig(cfg *config.Config) map[domain.Platform]PlatformPolicy {
	return map[domain.Platform]PlatformPolicy{
		domain.PlatformReddit:  {PlatformLimit: cfg.Reddit.PlatformLimits, AutoRecover: cfg.Reddit.AutoRecover},
		domain.PlatformYouTube: {PlatformLimit: cfg.YouTube.PlatformLimits, AutoRecover: cfg.YouTube.AutoRecover},
		domain.PlatformRSS:     {PlatformLimit: cfg.RSS.PlatformLimits, AutoRecover: cfg.RSS.AutoRecover},
	}
}

// FleetScheduler drives many agents of one platform, either inline and
// strictly sequential (SyncAll) or by enqueuing staggered tasks (ScheduleDue).
type FleetScheduler struct {
	agents   AgentStore
	syncer   AgentSyncer
	queue    TaskQueue
	policies map[domain.Platform]PlatformPolicy
	stagger  time.Duration
	logger   *slog.Logger

	sleep  Sleeper
	now    func() time.Time
	jitter func(max time.Duration) time.Duration
}

func NewFleetScheduler(
	agents AgentStore,
	syncer AgentSyncer,
	queue TaskQueue,
	policies map[domain.Platform]PlatformPolicy,
	cfg config.SyncConfig,
	logger *slog.Logger,
) *FleetScheduler {
	return &FleetScheduler{
		agents:   agents,
		syncer:   syncer,
		queue:    queue,
		policies: policies,
		stagger:  cfg.StaggerWindow,
		logger:   logger,
		sleep:    sleepContext,
		now:      time.Now,
		jitter:   randomDelay,
	}
}

func randomDelay(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

// SyncAll syncs every active agent of the platform one after another with a
// fixed delay between agents. A failing agent does not stop the run.
func (f *FleetScheduler) SyncAll(ctx context.Context, platform domain.Platform) (*domain.FleetStats, error) {
	policy := f.policies[platform]
	logger := f.logger.With("platform", platform)

	f.recover(ctx, platform, policy, logger)

	agents, err := f.agents.ListActive(ctx, platform)
	if err != nil {
		return nil, fmt.Errorf("list active agents: %w", err)
	}

	logger.Info("fleet sync started", "agents", len(agents), "inter_agent_delay", policy.InterAgentDelay)

	fleet := &domain.FleetStats{Platform: platform}
	for i, agent := range agents {
		if i > 0 {
			if err := f.sleep(ctx, policy.InterAgentDelay); err != nil {
				return fleet, err
			}
		}

		stats, err := f.syncer.SyncAgent(ctx, agent.ID, domain.SyncOptions{})
		if err != nil {
			fleet.Agents++
			fleet.Failed++
			logger.Error("agent sync failed", "agent_id", agent.ID, "error", err)
			continue
		}
		fleet.Add(stats)
	}

	logger.Info("fleet sync completed",
		"agents", fleet.Agents,
		"failed", fleet.Failed,
		"created", fleet.Created,
		"updated", fleet.Updated,
		"errors", fleet.Errors,
	)
	return fleet, nil
}

// ScheduleDue enqueues one task per due agent, capped to the oldest
// MaxAgents, each delayed by a random offset inside the stagger window.
func (f *FleetScheduler) ScheduleDue(ctx context.Context, platform domain.Platform) (int, error) {
	policy := f.policies[platform]
	logger := f.logger.With("platform", platform)

	f.recover(ctx, platform, policy, logger)

	agents, err := f.agents.ListActive(ctx, platform)
	if err != nil {
		return 0, fmt.Errorf("list active agents: %w", err)
	}

	now := f.now()
	var due []domain.SourceAgent
	for _, agent := range agents {
		if policy.MaxAgents > 0 && len(due) == policy.MaxAgents {
			break
		}
		if agent.Due(now, policy.SyncInterval) {
			due = append(due, agent)
		}
	}

	for i, agent := range due {
		task := domain.SyncTask{
			ID:        uuid.NewString(),
			AgentID:   agent.ID,
			Platform:  agent.Platform,
			NotBefore: now.Add(f.jitter(f.stagger)).UTC(),
		}
		if err := f.queue.Enqueue(ctx, task); err != nil {
			return i, fmt.Errorf("enqueue agent %d: %w", agent.ID, err)
		}
	}

	logger.Info("scheduled due agents", "active", len(agents), "scheduled", len(due))
	return len(due), nil
}

func (f *FleetScheduler) recover(ctx context.Context, platform domain.Platform, policy PlatformPolicy, logger *slog.Logger) {
	if !policy.AutoRecover {
		return
	}
	n, err := f.agents.ReactivateErrored(ctx, platform)
	if err != nil {
		logger.Error("auto recover failed", "error", err)
		return
	}
	if n > 0 {
		logger.Info("reactivated errored agents", "count", n)
	}
}

// Worker executes queued sync tasks.
type Worker struct {
	syncer AgentSyncer
	queue  TaskQueue
	cfg    config.SyncConfig
	logger *slog.Logger

	sleep Sleeper
	now   func() time.Time
}

func NewWorker(syncer AgentSyncer, queue TaskQueue, cfg config.SyncConfig, logger *slog.Logger) *Worker {
	return &Worker{
		syncer: syncer,
		queue:  queue,
		cfg:    cfg,
		logger: logger,
		sleep:  sleepContext,
		now:    time.Now,
	}
}

// Handle runs one task under the hard limit with a soft deadline. Failed
// tasks are re-enqueued with capped exponential delay until the retry budget
// is spent. A nil return acknowledges the task.
func (w *Worker) Handle(ctx context.Context, task domain.SyncTask) error {
	logger := w.logger.With("task_id", task.ID, "agent_id", task.AgentID, "attempt", task.Attempt)

	if wait := task.NotBefore.Sub(w.now()); wait > 0 {
		if err := w.sleep(ctx, wait); err != nil {
			return err
		}
	}

	start := w.now()
	runCtx, cancel := context.WithTimeout(ctx, w.cfg.HardLimit)
	defer cancel()

	stats, err := w.syncer.SyncAgent(runCtx, task.AgentID, domain.SyncOptions{
		SoftDeadline: start.Add(w.cfg.SoftLimit),
	})
	if err == nil {
		logger.Info("task completed", "status", stats.StatusLine())
		return nil
	}

	if errors.Is(err, domain.ErrAgentNotFound) || errors.Is(err, domain.ErrUnsupportedPlatform) {
		logger.Error("dropping task", "error", err)
		return nil
	}

	if task.Attempt >= w.cfg.TaskMaxRetries {
		logger.Error("task failed permanently", "error", err)
		return nil
	}

	retry := task
	retry.Attempt++
	retry.NotBefore = w.now().Add(w.retryDelay(retry.Attempt)).UTC()

	logger.Warn("task failed, retrying", "error", err, "not_before", retry.NotBefore)

	if err := w.queue.Enqueue(ctx, retry); err != nil {
		return fmt.Errorf("re-enqueue task: %w", err)
	}
	return nil
}

func (w *Worker) retryDelay(attempt int) time.Duration {
	delay := w.cfg.TaskRetryBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= w.cfg.TaskRetryMax {
			return w.cfg.TaskRetryMax
		}
	}
	return min(delay, w.cfg.TaskRetryMax)
}
