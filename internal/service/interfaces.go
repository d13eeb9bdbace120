package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"agentsync/internal/domain"
	"agentsync/internal/moderation"
	"agentsync/internal/tagging"
)

type AgentStore interface {
	Get(ctx context.Context, id int64) (*domain.SourceAgent, error)
	// ListActive returns active agents with an active owner, oldest sync first.
	ListActive(ctx context.Context, platform domain.Platform) ([]domain.SourceAgent, error)
	UpdateSyncResult(ctx context.Context, id int64, result domain.SyncResult) error
	ReactivateErrored(ctx context.Context, platform domain.Platform) (int64, error)
}

type ContentStore interface {
	// GetByExternalID returns nil when no item exists.
	GetByExternalID(ctx context.Context, externalID string) (*domain.ContentItem, error)
	Create(ctx context.Context, project *domain.Project, item *domain.ContentItem) error
	UpdateMetrics(ctx context.Context, item *domain.ContentItem) error
	ListByAgent(ctx context.Context, agentID int64) ([]domain.ContentItem, error)
}

type DeletionStore interface {
	Exists(ctx context.Context, externalID string) (bool, error)
	Create(ctx context.Context, record *domain.DeletionRecord) error
}

type Source interface {
	Platform() domain.Platform
	FetchCandidates(ctx context.Context, agent *domain.SourceAgent) ([]domain.CandidateItem, error)
	FetchMetrics(ctx context.Context, agent *domain.SourceAgent, item domain.CandidateItem) domain.Metrics
}

type Moderator interface {
	Evaluate(ctx context.Context, in moderation.Input) moderation.Decision
}

type Tagger interface {
	Apply(ctx context.Context, item *domain.ContentItem, metrics domain.Metrics, src tagging.SourceContext) (bool, error)
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, event *domain.ContentEvent) error
}

type TaskQueue interface {
	Enqueue(ctx context.Context, task domain.SyncTask) error
}

type AgentSyncer interface {
	SyncAgent(ctx context.Context, agentID int64, opts domain.SyncOptions) (*domain.SyncStats, error)
}
