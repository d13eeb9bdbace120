package service

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"agentsync/internal/domain"
	"agentsync/internal/feed"
	"agentsync/internal/markup"
	"agentsync/internal/moderation"
	"agentsync/internal/tagging"
)

// Orchestrator syncs one agent at a time: fetch, recency filter, then per
// candidate dedup, metrics, moderation, persist and tag.
type Orchestrator struct {
	agents    AgentStore
	content   ContentStore
	deletions DeletionStore
	txManager TransactionManager
	sources   map[domain.Platform]Source
	moderator Moderator
	tagger    Tagger
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewOrchestrator(
	agents AgentStore,
	content ContentStore,
	deletions DeletionStore,
	txManager TransactionManager,
	sources []Source,
	moderator Moderator,
	tagger Tagger,
	publisher Publisher,
	logger *slog.Logger,
) *Orchestrator {
	bySource := make(map[domain.Platform]Source, len(sources))
	for _, src := range sources {
		bySource[src.Platform()] = src
	}

	return &Orchestrator{
		agents:    agents,
		content:   content,
		deletions: deletions,
		txManager: txManager,
		sources:   bySource,
		moderator: moderator,
		tagger:    tagger,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

func (o *Orchestrator) SyncAgent(ctx context.Context, agentID int64, opts domain.SyncOptions) (*domain.SyncStats, error) {
	startTime := o.now()

	agent, err := o.agents.Get(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}

	logger := o.logger.With("agent_id", agent.ID, "platform", agent.Platform, "source", agent.SourceIdentifier)

	source, ok := o.sources[agent.Platform]
	if !ok {
		return nil, fmt.Errorf("agent %d: %w: %s", agent.ID, domain.ErrUnsupportedPlatform, agent.Platform)
	}

	logger.Info("starting sync", "backfill", opts.Backfill)

	candidates, err := source.FetchCandidates(ctx, agent)
	if err != nil {
		logger.Error("feed fetch failed", "error", err)
		o.recordFeedFailure(ctx, agent, err, logger)
		return nil, fmt.Errorf("fetch candidates: %w", err)
	}

	stats := &domain.SyncStats{
		AgentID:  agent.ID,
		Platform: agent.Platform,
		Fetched:  len(candidates),
	}

	// Known items are refreshed whatever their age; the recency cutoff only
	// gates creation.
	var since *time.Time
	if !opts.Backfill {
		since = agent.LastSyncedAt
	}

	logger.Info("candidates to process", "count", len(candidates), "since", since)

	var firstErr error
	for i, cand := range candidates {
		if ctx.Err() != nil || (!opts.SoftDeadline.IsZero() && o.now().After(opts.SoftDeadline)) {
			logger.Warn("soft limit reached, stopping early", "remaining", len(candidates)-i)
			stats.Partial = true
			break
		}

		outcome, err := o.processItem(ctx, agent, source, cand, since, stats)
		if err != nil {
			stats.Errors++
			firstErr = cmp.Or(firstErr, err)
			logger.Error("item failed", "external_id", cand.ExternalID, "error", err)
			continue
		}

		switch outcome {
		case domain.OutcomeCreated:
			stats.Created++
		case domain.OutcomeUpdated:
			stats.Updated++
		case domain.OutcomeRejected:
			stats.Rejected++
		default:
			stats.Skipped++
		}
	}

	stats.Duration = o.now().Sub(startTime)

	if err := o.recordResult(ctx, agent, stats, firstErr, startTime); err != nil {
		return stats, fmt.Errorf("update sync result: %w", err)
	}

	logger.Info("sync completed",
		"created", stats.Created,
		"updated", stats.Updated,
		"skipped", stats.Skipped,
		"rejected", stats.Rejected,
		"errors", stats.Errors,
		"published", stats.Published,
		"partial", stats.Partial,
		"duration", stats.Duration,
	)

	return stats, nil
}

// Reprocess refreshes metrics and re-tags every stored item of an agent.
// Hand-edited items keep their tags.
func (o *Orchestrator) Reprocess(ctx context.Context, agentID int64) (*domain.SyncStats, error) {
	agent, err := o.agents.Get(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}

	source, ok := o.sources[agent.Platform]
	if !ok {
		return nil, fmt.Errorf("agent %d: %w: %s", agent.ID, domain.ErrUnsupportedPlatform, agent.Platform)
	}

	items, err := o.content.ListByAgent(ctx, agent.ID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	logger := o.logger.With("agent_id", agent.ID, "platform", agent.Platform)
	stats := &domain.SyncStats{AgentID: agent.ID, Platform: agent.Platform, Fetched: len(items)}

	for i := range items {
		item := &items[i]
		if ctx.Err() != nil {
			stats.Partial = true
			break
		}

		cand := domain.CandidateItem{
			ExternalID:   item.ExternalID,
			Title:        item.Title,
			Author:       item.Author,
			Permalink:    item.Permalink,
			ThumbnailURL: item.ThumbnailURL,
		}
		metrics := source.FetchMetrics(ctx, agent, cand)

		if metrics.Fetched {
			applyMetrics(item, cand, metrics)
			err := o.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
				return o.content.UpdateMetrics(txCtx, item)
			})
			if err != nil {
				stats.Errors++
				logger.Error("refresh metrics failed", "external_id", item.ExternalID, "error", err)
				continue
			}
		}

		applied, err := o.tagger.Apply(ctx, item, metrics, tagging.ContextFor(agent, metrics))
		switch {
		case err != nil:
			stats.Errors++
			logger.Error("reprocess item failed", "external_id", item.ExternalID, "error", err)
		case applied:
			stats.Updated++
		default:
			stats.Skipped++
		}
	}

	logger.Info("reprocess completed", "updated", stats.Updated, "skipped", stats.Skipped, "errors", stats.Errors)
	return stats, nil
}

func (o *Orchestrator) processItem(ctx context.Context, agent *domain.SourceAgent, source Source, cand domain.CandidateItem, since *time.Time, stats *domain.SyncStats) (domain.Outcome, error) {
	dead, err := o.deletions.Exists(ctx, cand.ExternalID)
	if err != nil {
		return "", fmt.Errorf("check tombstone: %w", err)
	}
	if dead {
		return domain.OutcomeTombstoned, nil
	}

	existing, err := o.content.GetByExternalID(ctx, cand.ExternalID)
	if err != nil {
		return "", fmt.Errorf("get item: %w", err)
	}

	if existing != nil {
		return o.updateItem(ctx, agent, source, cand, existing, stats)
	}
	if !feed.PublishedAfter(cand, since) {
		return domain.OutcomeStale, nil
	}
	return o.createItem(ctx, agent, source, cand, stats)
}

// updateItem refreshes metrics only. Moderation is not re-run.
func (o *Orchestrator) updateItem(ctx context.Context, agent *domain.SourceAgent, source Source, cand domain.CandidateItem, item *domain.ContentItem, stats *domain.SyncStats) (domain.Outcome, error) {
	metrics := source.FetchMetrics(ctx, agent, cand)
	applyMetrics(item, cand, metrics)

	err := o.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		return o.content.UpdateMetrics(txCtx, item)
	})
	if err != nil {
		return "", fmt.Errorf("update metrics: %w", err)
	}

	if item.Untagged() {
		o.tag(ctx, agent, item, metrics)
	}

	o.publish(ctx, domain.EventContentUpdated, agent, item, stats)
	return domain.OutcomeUpdated, nil
}

// applyMetrics copies fresh engagement onto item. Stored counters survive a
// failed detail lookup.
func applyMetrics(item *domain.ContentItem, cand domain.CandidateItem, metrics domain.Metrics) {
	if metrics.Fetched {
		item.Score = metrics.Score
		item.CommentCount = metrics.CommentCount
		item.ViewCount = metrics.ViewCount
		item.LikeCount = metrics.LikeCount
	}
	item.ThumbnailURL = cmp.Or(metrics.ImageURL, cand.ThumbnailURL, item.ThumbnailURL)
	if len(metrics.Raw) > 0 {
		item.RawPayload = metrics.Raw
	}
}

func (o *Orchestrator) createItem(ctx context.Context, agent *domain.SourceAgent, source Source, cand domain.CandidateItem, stats *domain.SyncStats) (domain.Outcome, error) {
	logger := o.logger.With("agent_id", agent.ID, "external_id", cand.ExternalID)

	metrics := source.FetchMetrics(ctx, agent, cand)

	if metrics.Score < agent.Config.MinScore || metrics.CommentCount < agent.Config.MinComments {
		logger.Debug("below threshold",
			"score", metrics.Score,
			"comments", metrics.CommentCount,
			"min_score", agent.Config.MinScore,
			"min_comments", agent.Config.MinComments,
		)
		return domain.OutcomeThreshold, nil
	}

	imageURL := cmp.Or(metrics.ImageURL, cand.ThumbnailURL)
	body := cmp.Or(metrics.Body, markup.PlainText(cand.Summary))

	decision := o.moderator.Evaluate(ctx, moderation.Input{
		ExternalID: cand.ExternalID,
		Title:      cand.Title,
		Body:       body,
		ImageURL:   imageURL,
		Adult:      metrics.Adult,
		Strict:     agent.Config.StrictModeration,
	})

	record, err := json.Marshal(decision.Record)
	if err != nil {
		return "", fmt.Errorf("encode moderation record: %w", err)
	}

	if !decision.Approved {
		logger.Info("rejected by moderation", "reason", decision.Reason, "stage", decision.Record.DecidedBy)
		err := o.deletions.Create(ctx, &domain.DeletionRecord{
			ExternalID: cand.ExternalID,
			AgentID:    agent.ID,
			Reason:     decision.Reason,
		})
		if err != nil {
			return "", fmt.Errorf("create tombstone: %w", err)
		}
		return domain.OutcomeRejected, nil
	}

	moderatedAt := decision.Record.DecidedAt
	project := &domain.Project{
		OwnerAccountID: agent.OwnerAccountID,
		Title:          cand.Title,
		Description:    cmp.Or(metrics.BodyHTML, markup.Sanitize(cand.Summary)),
		URL:            cand.Permalink,
		ImageURL:       imageURL,
		VideoURL:       metrics.VideoURL,
		VideoHero:      agent.Config.VideoHero && metrics.VideoURL != "",
	}
	item := &domain.ContentItem{
		AgentID:          agent.ID,
		ExternalID:       cand.ExternalID,
		Title:            cand.Title,
		Author:           cand.Author,
		Permalink:        cand.Permalink,
		ThumbnailURL:     imageURL,
		Score:            metrics.Score,
		CommentCount:     metrics.CommentCount,
		ViewCount:        metrics.ViewCount,
		LikeCount:        metrics.LikeCount,
		RawPayload:       metrics.Raw,
		ModerationStatus: domain.ModerationApproved,
		ModerationReason: decision.Reason,
		ModerationResult: record,
		ModeratedAt:      &moderatedAt,
		PublishedAt:      cand.PublishedAt,
	}
	if len(item.RawPayload) == 0 {
		item.RawPayload = cand.Raw
	}

	err = o.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		return o.content.Create(txCtx, project, item)
	})
	if errors.Is(err, domain.ErrDuplicateItem) {
		logger.Info("item created concurrently, skipping")
		return domain.OutcomeDuplicate, nil
	}
	if err != nil {
		return "", fmt.Errorf("create item: %w", err)
	}

	o.tag(ctx, agent, item, metrics)
	o.publish(ctx, domain.EventContentCreated, agent, item, stats)
	return domain.OutcomeCreated, nil
}

// tag failures leave the item untagged; the next sync retries them.
func (o *Orchestrator) tag(ctx context.Context, agent *domain.SourceAgent, item *domain.ContentItem, metrics domain.Metrics) {
	if _, err := o.tagger.Apply(ctx, item, metrics, tagging.ContextFor(agent, metrics)); err != nil {
		o.logger.Warn("tagging failed",
			"agent_id", agent.ID,
			"external_id", item.ExternalID,
			"error", err,
		)
	}
}

func (o *Orchestrator) publish(ctx context.Context, eventType domain.EventType, agent *domain.SourceAgent, item *domain.ContentItem, stats *domain.SyncStats) {
	if o.publisher == nil {
		return
	}

	err := o.publisher.Publish(ctx, &domain.ContentEvent{
		Type:             eventType,
		ItemID:           item.ID,
		ProjectID:        item.ProjectID,
		AgentID:          agent.ID,
		Platform:         agent.Platform,
		ExternalID:       item.ExternalID,
		Title:            item.Title,
		Permalink:        item.Permalink,
		ModerationStatus: item.ModerationStatus,
		OccurredAt:       o.now().UTC(),
	})
	if err != nil {
		o.logger.Warn("publish event failed", "external_id", item.ExternalID, "error", err)
		return
	}
	stats.Published++
}

func (o *Orchestrator) recordFeedFailure(ctx context.Context, agent *domain.SourceAgent, cause error, logger *slog.Logger) {
	err := o.agents.UpdateSyncResult(ctx, agent.ID, domain.SyncResult{
		Status:         domain.AgentError,
		LastSyncStatus: "feed error",
		LastSyncError:  cause.Error(),
	})
	if err != nil {
		logger.Error("failed to record feed failure", "error", err)
	}
}

// recordResult advances last_synced_at only for complete, error-free runs so
// skipped or failed candidates are reconsidered next time.
func (o *Orchestrator) recordResult(ctx context.Context, agent *domain.SourceAgent, stats *domain.SyncStats, firstErr error, startTime time.Time) error {
	result := domain.SyncResult{
		Status:         domain.AgentActive,
		LastSyncStatus: stats.StatusLine(),
	}

	if stats.Errors > 0 {
		result.Status = domain.AgentError
		result.LastSyncError = fmt.Sprintf("%d item errors, first: %v", stats.Errors, firstErr)
	} else if !stats.Partial {
		syncedAt := startTime.UTC()
		result.SyncedAt = &syncedAt
	}

	return o.agents.UpdateSyncResult(ctx, agent.ID, result)
}
