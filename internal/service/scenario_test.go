package service

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"agentsync/internal/ai"
	"agentsync/internal/domain"
	"agentsync/internal/moderation"
	"agentsync/internal/tagging"
	"agentsync/internal/testutil"
)

// in-memory stores used to check end-to-end sync properties

type memStore struct {
	mu        sync.Mutex
	agents    map[int64]*domain.SourceAgent
	items     map[string]*domain.ContentItem
	projects  map[int64]*domain.Project
	deletions map[string]domain.DeletionRecord
	nextID    int64
}

func newMemStore() *memStore {
	return &memStore{
		agents:    make(map[int64]*domain.SourceAgent),
		items:     make(map[string]*domain.ContentItem),
		projects:  make(map[int64]*domain.Project),
		deletions: make(map[string]domain.DeletionRecord),
	}
}

func (m *memStore) Get(_ context.Context, id int64) (*domain.SourceAgent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, domain.ErrAgentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) ListActive(_ context.Context, platform domain.Platform) ([]domain.SourceAgent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SourceAgent
	for _, a := range m.agents {
		if a.Status == domain.AgentActive && (platform == "" || a.Platform == platform) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memStore) UpdateSyncResult(_ context.Context, id int64, result domain.SyncResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.agents[id]
	a.Status = result.Status
	a.LastSyncStatus = result.LastSyncStatus
	a.LastSyncError = result.LastSyncError
	if result.SyncedAt != nil {
		a.LastSyncedAt = result.SyncedAt
	}
	return nil
}

func (m *memStore) ReactivateErrored(context.Context, domain.Platform) (int64, error) { return 0, nil }

type memContent struct{ *memStore }

func (m memContent) GetByExternalID(_ context.Context, externalID string) (*domain.ContentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[externalID]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (m memContent) Create(_ context.Context, project *domain.Project, item *domain.ContentItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.ExternalID]; ok {
		return domain.ErrDuplicateItem
	}
	m.nextID++
	project.ID = m.nextID
	item.ID = m.nextID
	item.ProjectID = project.ID
	p := *project
	i := *item
	m.projects[p.ID] = &p
	m.items[i.ExternalID] = &i
	return nil
}

func (m memContent) UpdateMetrics(_ context.Context, item *domain.ContentItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.items[item.ExternalID]
	stored.Score = item.Score
	stored.CommentCount = item.CommentCount
	stored.ThumbnailURL = item.ThumbnailURL
	return nil
}

func (m memContent) ListByAgent(_ context.Context, agentID int64) ([]domain.ContentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ContentItem
	for _, item := range m.items {
		if item.AgentID == agentID {
			out = append(out, *item)
		}
	}
	return out, nil
}

func (m memContent) SetTags(_ context.Context, itemID int64, tags domain.Tags) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items {
		if item.ID != itemID {
			continue
		}
		if item.ManuallyEdited {
			return domain.ErrManuallyEdited
		}
		item.ToolIDs = tags.ToolIDs
		item.CategoryIDs = tags.CategoryIDs
		item.Topics = tags.Topics
	}
	return nil
}

func (m memContent) ListTools(context.Context) ([]domain.Tool, error) {
	return []domain.Tool{{ID: 1, Name: "Go", Slug: "go"}}, nil
}

func (m memContent) ListCategories(context.Context) ([]domain.Category, error) {
	return []domain.Category{{ID: 5, Name: "Programming", Slug: "programming"}}, nil
}

type memDeletions struct{ *memStore }

func (m memDeletions) Exists(_ context.Context, externalID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.deletions[externalID]
	return ok, nil
}

func (m memDeletions) Create(_ context.Context, record *domain.DeletionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletions[record.ExternalID] = *record
	return nil
}

type inlineTx struct{}

func (inlineTx) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type staticSource struct {
	items   []domain.CandidateItem
	metrics map[string]domain.Metrics
}

func (s *staticSource) Platform() domain.Platform { return domain.PlatformReddit }

func (s *staticSource) FetchCandidates(context.Context, *domain.SourceAgent) ([]domain.CandidateItem, error) {
	return s.items, nil
}

func (s *staticSource) FetchMetrics(_ context.Context, _ *domain.SourceAgent, item domain.CandidateItem) domain.Metrics {
	return s.metrics[item.ExternalID]
}

type countingModerator struct {
	inner Moderator
	calls int
}

func (c *countingModerator) Evaluate(ctx context.Context, in moderation.Input) moderation.Decision {
	c.calls++
	return c.inner.Evaluate(ctx, in)
}

type cannedCompleter string

func (c cannedCompleter) Complete(context.Context, []ai.Message) (string, error) {
	return string(c), nil
}

type ScenarioTestSuite struct {
	suite.Suite
	store        *memStore
	source       *staticSource
	moderator    *countingModerator
	orchestrator *Orchestrator
	now          time.Time
}

func (s *ScenarioTestSuite) SetupTest() {
	logger := testutil.Logger()

	s.store = newMemStore()
	s.store.agents[1] = &domain.SourceAgent{
		ID:               1,
		Platform:         domain.PlatformReddit,
		SourceIdentifier: "golang",
		OwnerAccountID:   9,
		Status:           domain.AgentActive,
		Config:           domain.AgentConfig{MinScore: 100, DefaultCategoryIDs: []int64{5}},
	}

	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	published := s.now.Add(-5 * time.Minute)
	s.source = &staticSource{
		items: []domain.CandidateItem{{
			ExternalID:  "1abc",
			Title:       "Structured logging in Go",
			Author:      "gopher",
			Permalink:   "https://www.reddit.com/r/golang/comments/1abc/structured_logging/",
			PublishedAt: &published,
		}},
		metrics: map[string]domain.Metrics{"1abc": {Score: 150, CommentCount: 10, Body: "slog is neat"}},
	}

	content := memContent{s.store}
	pipeline := moderation.NewPipeline(moderation.NewKeywordFilter(moderation.DefaultLists(), 0), nil, nil, logger)
	s.moderator = &countingModerator{inner: pipeline}
	tagger := tagging.NewTagger(cannedCompleter("go, logging"), content, content, logger)

	s.orchestrator = NewOrchestrator(
		s.store,
		content,
		memDeletions{s.store},
		inlineTx{},
		[]Source{s.source},
		s.moderator,
		tagger,
		nil,
		logger,
	)
	s.orchestrator.now = func() time.Time { return s.now }
}

func TestScenarioTestSuite(t *testing.T) {
	suite.Run(t, new(ScenarioTestSuite))
}

func (s *ScenarioTestSuite) sync() *domain.SyncStats {
	stats, err := s.orchestrator.SyncAgent(context.Background(), 1, domain.SyncOptions{})
	s.Require().NoError(err)
	return stats
}

func (s *ScenarioTestSuite) TestNewItemThenUnchangedResync() {
	stats := s.sync()

	s.Equal(1, stats.Created)
	s.Require().Len(s.store.items, 1)
	item := s.store.items["1abc"]
	s.Equal(domain.ModerationApproved, item.ModerationStatus)
	s.Equal([]int64{1}, item.ToolIDs)
	s.Equal([]int64{5}, item.CategoryIDs)
	s.Equal([]string{"go", "logging"}, item.Topics)
	s.Equal(int64(9), s.store.projects[item.ProjectID].OwnerAccountID)
	s.Equal("created=1 updated=0 errors=0", s.store.agents[1].LastSyncStatus)

	s.now = s.now.Add(time.Hour)
	stats = s.sync()

	s.Equal(0, stats.Created)
	s.Equal(1, stats.Updated)
	s.Len(s.store.items, 1)
	s.Equal([]string{"go", "logging"}, s.store.items["1abc"].Topics)
	s.Equal(1, s.moderator.calls)
}

func (s *ScenarioTestSuite) TestManualEditSurvivesResync() {
	s.sync()
	item := s.store.items["1abc"]
	item.ManuallyEdited = true
	item.ToolIDs = nil
	item.Topics = nil
	item.CategoryIDs = []int64{42}

	s.source.metrics["1abc"] = domain.Metrics{Score: 900, CommentCount: 80, Fetched: true}
	s.now = s.now.Add(time.Hour)
	s.sync()

	item = s.store.items["1abc"]
	s.True(item.ManuallyEdited)
	s.Equal([]int64{42}, item.CategoryIDs)
	s.Empty(item.Topics)
	s.Equal(900, item.Score)
}

func (s *ScenarioTestSuite) TestUntaggedItemGetsTaggedOnResync() {
	s.sync()
	item := s.store.items["1abc"]
	item.ToolIDs = nil
	item.CategoryIDs = nil
	item.Topics = nil

	s.now = s.now.Add(time.Hour)
	s.sync()

	s.Equal([]string{"go", "logging"}, s.store.items["1abc"].Topics)
}

func (s *ScenarioTestSuite) TestRejectedItemIsNeverModeratedAgain() {
	s.source.metrics["1abc"] = domain.Metrics{Score: 500, Adult: true}

	stats := s.sync()
	s.Equal(1, stats.Rejected)
	s.Empty(s.store.items)
	s.Contains(s.store.deletions, "1abc")

	s.now = s.now.Add(time.Hour)
	stats = s.sync()

	s.Equal(0, stats.Rejected)
	s.Equal(1, s.moderator.calls)
	s.Empty(s.store.items)
}

func (s *ScenarioTestSuite) TestBelowThresholdIsReconsidered() {
	s.source.metrics["1abc"] = domain.Metrics{Score: 20}

	stats := s.sync()
	s.Equal(0, stats.Created)
	s.Empty(s.store.deletions)

	s.source.metrics["1abc"] = domain.Metrics{Score: 200}
	stats, err := s.orchestrator.SyncAgent(context.Background(), 1, domain.SyncOptions{Backfill: true})

	s.Require().NoError(err)
	s.Equal(1, stats.Created)
}

func (s *ScenarioTestSuite) TestRepeatedSyncsNeverDuplicate() {
	for range 5 {
		s.sync()
		s.now = s.now.Add(time.Hour)
	}

	var ids []string
	for id := range s.store.items {
		ids = append(ids, id)
	}
	s.Equal([]string{"1abc"}, slices.Sorted(slices.Values(ids)))
}
