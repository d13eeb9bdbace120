package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"agentsync/internal/domain"
	"agentsync/internal/moderation"
	"agentsync/internal/service/mocks"
	"agentsync/internal/testutil"
)

type OrchestratorTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	agents    *mocks.MockAgentStore
	content   *mocks.MockContentStore
	deletions *mocks.MockDeletionStore
	txManager *mocks.MockTransactionManager
	source    *mocks.MockSource
	moderator *mocks.MockModerator
	tagger    *mocks.MockTagger
	publisher *mocks.MockPublisher

	orchestrator *Orchestrator
	logger       *slog.Logger
	agent        *domain.SourceAgent
	now          time.Time
}

func (s *OrchestratorTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.agents = mocks.NewMockAgentStore(s.ctrl)
	s.content = mocks.NewMockContentStore(s.ctrl)
	s.deletions = mocks.NewMockDeletionStore(s.ctrl)
	s.txManager = mocks.NewMockTransactionManager(s.ctrl)
	s.source = mocks.NewMockSource(s.ctrl)
	s.moderator = mocks.NewMockModerator(s.ctrl)
	s.tagger = mocks.NewMockTagger(s.ctrl)
	s.publisher = mocks.NewMockPublisher(s.ctrl)

	s.logger = testutil.Logger()

	s.source.EXPECT().Platform().Return(domain.PlatformReddit).AnyTimes()

	s.orchestrator = NewOrchestrator(
		s.agents,
		s.content,
		s.deletions,
		s.txManager,
		[]Source{s.source},
		s.moderator,
		s.tagger,
		s.publisher,
		s.logger,
	)

	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.orchestrator.now = func() time.Time { return s.now }

	lastSynced := s.now.Add(-time.Hour)
	s.agent = &domain.SourceAgent{
		ID:               1,
		Platform:         domain.PlatformReddit,
		SourceIdentifier: "golang",
		OwnerAccountID:   42,
		Status:           domain.AgentActive,
		LastSyncedAt:     &lastSynced,
		Config:           domain.AgentConfig{MinScore: 100},
	}

	s.txManager.EXPECT().WithTransaction(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		},
	).AnyTimes()
}

func (s *OrchestratorTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestOrchestratorTestSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorTestSuite))
}

func (s *OrchestratorTestSuite) candidate(id string, age time.Duration) domain.CandidateItem {
	published := s.now.Add(-age)
	return domain.CandidateItem{
		ExternalID:  id,
		Title:       "post " + id,
		Author:      "gopher",
		Permalink:   "https://www.reddit.com/r/golang/comments/" + id + "/post/",
		PublishedAt: &published,
	}
}

func (s *OrchestratorTestSuite) TestSyncAgent_CreatesApprovedItem() {
	ctx := context.Background()
	cand := s.candidate("abc", 10*time.Minute)

	s.agents.EXPECT().Get(ctx, int64(1)).Return(s.agent, nil)
	s.source.EXPECT().FetchCandidates(ctx, s.agent).Return([]domain.CandidateItem{cand}, nil)
	s.deletions.EXPECT().Exists(ctx, "abc").Return(false, nil)
	s.content.EXPECT().GetByExternalID(ctx, "abc").Return(nil, nil)
	s.source.EXPECT().FetchMetrics(ctx, s.agent, cand).Return(domain.Metrics{Score: 150, Body: "hello"})
	s.moderator.EXPECT().Evaluate(ctx, moderation.Input{
		ExternalID: "abc",
		Title:      "post abc",
		Body:       "hello",
	}).Return(moderation.Decision{Approved: true, Reason: "approved", Record: moderation.Record{DecidedBy: moderation.StageText, DecidedAt: s.now}})

	s.content.EXPECT().Create(ctx, gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, project *domain.Project, item *domain.ContentItem) error {
			s.Equal(int64(42), project.OwnerAccountID)
			s.Equal(cand.Permalink, project.URL)
			s.Equal(domain.ModerationApproved, item.ModerationStatus)
			s.Equal(150, item.Score)
			s.NotEmpty(item.ModerationResult)
			project.ID = 7
			item.ID = 70
			item.ProjectID = 7
			return nil
		},
	)
	s.tagger.EXPECT().Apply(ctx, gomock.Any(), domain.Metrics{Score: 150, Body: "hello"}, gomock.Any()).Return(true, nil)
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, event *domain.ContentEvent) error {
			s.Equal(domain.EventContentCreated, event.Type)
			s.Equal(int64(70), event.ItemID)
			return nil
		},
	)
	s.agents.EXPECT().UpdateSyncResult(ctx, int64(1), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ int64, result domain.SyncResult) error {
			s.Equal(domain.AgentActive, result.Status)
			s.Equal("created=1 updated=0 errors=0", result.LastSyncStatus)
			s.Require().NotNil(result.SyncedAt)
			s.Equal(s.now, *result.SyncedAt)
			return nil
		},
	)

	stats, err := s.orchestrator.SyncAgent(ctx, 1, domain.SyncOptions{})

	s.NoError(err)
	s.Equal(1, stats.Created)
	s.Equal(1, stats.Published)
	s.Equal(0, stats.Errors)
}

func (s *OrchestratorTestSuite) TestSyncAgent_UpdatesExistingWithoutModeration() {
	ctx := context.Background()
	cand := s.candidate("abc", 10*time.Minute)
	existing := &domain.ContentItem{ID: 70, ExternalID: "abc", Score: 150, Topics: []string{"go"}}

	s.agents.EXPECT().Get(ctx, int64(1)).Return(s.agent, nil)
	s.source.EXPECT().FetchCandidates(ctx, s.agent).Return([]domain.CandidateItem{cand}, nil)
	s.deletions.EXPECT().Exists(ctx, "abc").Return(false, nil)
	s.content.EXPECT().GetByExternalID(ctx, "abc").Return(existing, nil)
	s.source.EXPECT().FetchMetrics(ctx, s.agent, cand).Return(domain.Metrics{Score: 300, CommentCount: 12, Fetched: true})
	s.content.EXPECT().UpdateMetrics(ctx, existing).Return(nil)
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)
	s.agents.EXPECT().UpdateSyncResult(ctx, int64(1), gomock.Any()).Return(nil)

	stats, err := s.orchestrator.SyncAgent(ctx, 1, domain.SyncOptions{})

	s.NoError(err)
	s.Equal(0, stats.Created)
	s.Equal(1, stats.Updated)
	s.Equal(300, existing.Score)
	s.Equal(12, existing.CommentCount)
}

func (s *OrchestratorTestSuite) TestSyncAgent_FailedMetricsKeepCounters() {
	ctx := context.Background()
	cand := s.candidate("abc", 10*time.Minute)
	existing := &domain.ContentItem{
		ID: 70, ExternalID: "abc", Score: 150, CommentCount: 12, ViewCount: 900, LikeCount: 40,
		Topics: []string{"go"},
	}

	s.agents.EXPECT().Get(ctx, int64(1)).Return(s.agent, nil)
	s.source.EXPECT().FetchCandidates(ctx, s.agent).Return([]domain.CandidateItem{cand}, nil)
	s.deletions.EXPECT().Exists(ctx, "abc").Return(false, nil)
	s.content.EXPECT().GetByExternalID(ctx, "abc").Return(existing, nil)
	s.source.EXPECT().FetchMetrics(ctx, s.agent, cand).Return(domain.Metrics{})
	s.content.EXPECT().UpdateMetrics(ctx, existing).DoAndReturn(
		func(_ context.Context, item *domain.ContentItem) error {
			s.Equal(150, item.Score)
			s.Equal(12, item.CommentCount)
			s.Equal(900, item.ViewCount)
			s.Equal(40, item.LikeCount)
			return nil
		},
	)
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)
	s.agents.EXPECT().UpdateSyncResult(ctx, int64(1), gomock.Any()).Return(nil)

	stats, err := s.orchestrator.SyncAgent(ctx, 1, domain.SyncOptions{})

	s.NoError(err)
	s.Equal(1, stats.Updated)
	s.Equal(150, existing.Score)
}

func (s *OrchestratorTestSuite) TestSyncAgent_RetagsUntaggedExisting() {
	ctx := context.Background()
	cand := s.candidate("abc", 10*time.Minute)
	existing := &domain.ContentItem{ID: 70, ExternalID: "abc"}

	s.agents.EXPECT().Get(ctx, int64(1)).Return(s.agent, nil)
	s.source.EXPECT().FetchCandidates(ctx, s.agent).Return([]domain.CandidateItem{cand}, nil)
	s.deletions.EXPECT().Exists(ctx, "abc").Return(false, nil)
	s.content.EXPECT().GetByExternalID(ctx, "abc").Return(existing, nil)
	s.source.EXPECT().FetchMetrics(ctx, s.agent, cand).Return(domain.Metrics{Score: 300})
	s.content.EXPECT().UpdateMetrics(ctx, existing).Return(nil)
	s.tagger.EXPECT().Apply(ctx, existing, gomock.Any(), gomock.Any()).Return(true, nil)
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)
	s.agents.EXPECT().UpdateSyncResult(ctx, int64(1), gomock.Any()).Return(nil)

	stats, err := s.orchestrator.SyncAgent(ctx, 1, domain.SyncOptions{})

	s.NoError(err)
	s.Equal(1, stats.Updated)
}

func (s *OrchestratorTestSuite) TestSyncAgent_SkipsTombstoned() {
	ctx := context.Background()
	cand := s.candidate("dead", 10*time.Minute)

	s.agents.EXPECT().Get(ctx, int64(1)).Return(s.agent, nil)
	s.source.EXPECT().FetchCandidates(ctx, s.agent).Return([]domain.CandidateItem{cand}, nil)
	s.deletions.EXPECT().Exists(ctx, "dead").Return(true, nil)
	s.agents.EXPECT().UpdateSyncResult(ctx, int64(1), gomock.Any()).Return(nil)

	stats, err := s.orchestrator.SyncAgent(ctx, 1, domain.SyncOptions{})

	s.NoError(err)
	s.Equal(1, stats.Skipped)
	s.Equal(0, stats.Created)
}

func (s *OrchestratorTestSuite) TestSyncAgent_BelowThresholdLeavesNoTombstone() {
	ctx := context.Background()
	cand := s.candidate("low", 10*time.Minute)

	s.agents.EXPECT().Get(ctx, int64(1)).Return(s.agent, nil)
	s.source.EXPECT().FetchCandidates(ctx, s.agent).Return([]domain.CandidateItem{cand}, nil)
	s.deletions.EXPECT().Exists(ctx, "low").Return(false, nil)
	s.content.EXPECT().GetByExternalID(ctx, "low").Return(nil, nil)
	s.source.EXPECT().FetchMetrics(ctx, s.agent, cand).Return(domain.Metrics{Score: 99})
	s.agents.EXPECT().UpdateSyncResult(ctx, int64(1), gomock.Any()).Return(nil)

	stats, err := s.orchestrator.SyncAgent(ctx, 1, domain.SyncOptions{})

	s.NoError(err)
	s.Equal(1, stats.Skipped)
	s.Equal(0, stats.Rejected)
}

func (s *OrchestratorTestSuite) TestSyncAgent_RejectWritesTombstone() {
	ctx := context.Background()
	cand := s.candidate("bad", 10*time.Minute)

	s.agents.EXPECT().Get(ctx, int64(1)).Return(s.agent, nil)
	s.source.EXPECT().FetchCandidates(ctx, s.agent).Return([]domain.CandidateItem{cand}, nil)
	s.deletions.EXPECT().Exists(ctx, "bad").Return(false, nil)
	s.content.EXPECT().GetByExternalID(ctx, "bad").Return(nil, nil)
	s.source.EXPECT().FetchMetrics(ctx, s.agent, cand).Return(domain.Metrics{Score: 500, Adult: true})
	s.moderator.EXPECT().Evaluate(ctx, gomock.Any()).Return(moderation.Decision{
		Reason: "platform marked adult content",
		Record: moderation.Record{DecidedBy: moderation.StageAdult, Adult: true},
	})
	s.deletions.EXPECT().Create(ctx, &domain.DeletionRecord{
		ExternalID: "bad",
		AgentID:    1,
		Reason:     "platform marked adult content",
	}).Return(nil)
	s.agents.EXPECT().UpdateSyncResult(ctx, int64(1), gomock.Any()).Return(nil)

	stats, err := s.orchestrator.SyncAgent(ctx, 1, domain.SyncOptions{})

	s.NoError(err)
	s.Equal(1, stats.Rejected)
	s.Equal(0, stats.Created)
}

func (s *OrchestratorTestSuite) TestSyncAgent_DuplicateRaceIsNotAnError() {
	ctx := context.Background()
	cand := s.candidate("race", 10*time.Minute)

	s.agents.EXPECT().Get(ctx, int64(1)).Return(s.agent, nil)
	s.source.EXPECT().FetchCandidates(ctx, s.agent).Return([]domain.CandidateItem{cand}, nil)
	s.deletions.EXPECT().Exists(ctx, "race").Return(false, nil)
	s.content.EXPECT().GetByExternalID(ctx, "race").Return(nil, nil)
	s.source.EXPECT().FetchMetrics(ctx, s.agent, cand).Return(domain.Metrics{Score: 500})
	s.moderator.EXPECT().Evaluate(ctx, gomock.Any()).Return(moderation.Decision{Approved: true})
	s.content.EXPECT().Create(ctx, gomock.Any(), gomock.Any()).Return(domain.ErrDuplicateItem)
	s.agents.EXPECT().UpdateSyncResult(ctx, int64(1), gomock.Any()).Return(nil)

	stats, err := s.orchestrator.SyncAgent(ctx, 1, domain.SyncOptions{})

	s.NoError(err)
	s.Equal(0, stats.Created)
	s.Equal(0, stats.Errors)
	s.Equal(1, stats.Skipped)
}

func (s *OrchestratorTestSuite) TestSyncAgent_ItemErrorIsIsolated() {
	ctx := context.Background()
	broken := s.candidate("broken", 20*time.Minute)
	good := s.candidate("good", 10*time.Minute)

	s.agents.EXPECT().Get(ctx, int64(1)).Return(s.agent, nil)
	s.source.EXPECT().FetchCandidates(ctx, s.agent).Return([]domain.CandidateItem{broken, good}, nil)
	s.deletions.EXPECT().Exists(ctx, "broken").Return(false, errors.New("connection reset"))
	s.deletions.EXPECT().Exists(ctx, "good").Return(false, nil)
	s.content.EXPECT().GetByExternalID(ctx, "good").Return(&domain.ContentItem{ID: 9, ExternalID: "good", Topics: []string{"go"}}, nil)
	s.source.EXPECT().FetchMetrics(ctx, s.agent, good).Return(domain.Metrics{Score: 120})
	s.content.EXPECT().UpdateMetrics(ctx, gomock.Any()).Return(nil)
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)
	s.agents.EXPECT().UpdateSyncResult(ctx, int64(1), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ int64, result domain.SyncResult) error {
			s.Equal(domain.AgentError, result.Status)
			s.Equal("created=0 updated=1 errors=1", result.LastSyncStatus)
			s.Contains(result.LastSyncError, "connection reset")
			s.Nil(result.SyncedAt)
			return nil
		},
	)

	stats, err := s.orchestrator.SyncAgent(ctx, 1, domain.SyncOptions{})

	s.NoError(err)
	s.Equal(1, stats.Errors)
	s.Equal(1, stats.Updated)
}

func (s *OrchestratorTestSuite) TestSyncAgent_FeedFailureMarksAgentError() {
	ctx := context.Background()
	feedErr := &domain.NetworkError{URL: "https://www.reddit.com/r/golang/hot/.rss", Attempts: 3, StatusCode: 503}

	s.agents.EXPECT().Get(ctx, int64(1)).Return(s.agent, nil)
	s.source.EXPECT().FetchCandidates(ctx, s.agent).Return(nil, feedErr)
	s.agents.EXPECT().UpdateSyncResult(ctx, int64(1), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ int64, result domain.SyncResult) error {
			s.Equal(domain.AgentError, result.Status)
			s.Equal(feedErr.Error(), result.LastSyncError)
			s.Nil(result.SyncedAt)
			return nil
		},
	)

	stats, err := s.orchestrator.SyncAgent(ctx, 1, domain.SyncOptions{})

	s.Error(err)
	s.Nil(stats)
	s.True(domain.IsFeedFailure(err))
}

func (s *OrchestratorTestSuite) TestSyncAgent_FiltersByLastSynced() {
	ctx := context.Background()
	old := s.candidate("old", 2*time.Hour)

	s.agents.EXPECT().Get(ctx, int64(1)).Return(s.agent, nil)
	s.source.EXPECT().FetchCandidates(ctx, s.agent).Return([]domain.CandidateItem{old}, nil)
	s.deletions.EXPECT().Exists(ctx, "old").Return(false, nil)
	s.content.EXPECT().GetByExternalID(ctx, "old").Return(nil, nil)
	s.agents.EXPECT().UpdateSyncResult(ctx, int64(1), gomock.Any()).Return(nil)

	stats, err := s.orchestrator.SyncAgent(ctx, 1, domain.SyncOptions{})

	s.NoError(err)
	s.Equal(1, stats.Fetched)
	s.Equal(1, stats.Skipped)
	s.Equal(0, stats.Created)
}

func (s *OrchestratorTestSuite) TestSyncAgent_RefreshesOldKnownItem() {
	ctx := context.Background()
	old := s.candidate("old", 2*time.Hour)
	existing := &domain.ContentItem{ID: 5, ExternalID: "old", Topics: []string{"go"}}

	s.agents.EXPECT().Get(ctx, int64(1)).Return(s.agent, nil)
	s.source.EXPECT().FetchCandidates(ctx, s.agent).Return([]domain.CandidateItem{old}, nil)
	s.deletions.EXPECT().Exists(ctx, "old").Return(false, nil)
	s.content.EXPECT().GetByExternalID(ctx, "old").Return(existing, nil)
	s.source.EXPECT().FetchMetrics(ctx, s.agent, old).Return(domain.Metrics{Score: 999, Fetched: true})
	s.content.EXPECT().UpdateMetrics(ctx, existing).Return(nil)
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)
	s.agents.EXPECT().UpdateSyncResult(ctx, int64(1), gomock.Any()).Return(nil)

	stats, err := s.orchestrator.SyncAgent(ctx, 1, domain.SyncOptions{})

	s.NoError(err)
	s.Equal(1, stats.Updated)
	s.Equal(999, existing.Score)
}

func (s *OrchestratorTestSuite) TestSyncAgent_BackfillIgnoresLastSynced() {
	ctx := context.Background()
	old := s.candidate("old", 2*time.Hour)

	s.agents.EXPECT().Get(ctx, int64(1)).Return(s.agent, nil)
	s.source.EXPECT().FetchCandidates(ctx, s.agent).Return([]domain.CandidateItem{old}, nil)
	s.deletions.EXPECT().Exists(ctx, "old").Return(true, nil)
	s.agents.EXPECT().UpdateSyncResult(ctx, int64(1), gomock.Any()).Return(nil)

	stats, err := s.orchestrator.SyncAgent(ctx, 1, domain.SyncOptions{Backfill: true})

	s.NoError(err)
	s.Equal(1, stats.Skipped)
}

func (s *OrchestratorTestSuite) TestSyncAgent_SoftDeadlineStopsEarly() {
	ctx := context.Background()
	cand := s.candidate("late", 10*time.Minute)

	s.agents.EXPECT().Get(ctx, int64(1)).Return(s.agent, nil)
	s.source.EXPECT().FetchCandidates(ctx, s.agent).Return([]domain.CandidateItem{cand}, nil)
	s.agents.EXPECT().UpdateSyncResult(ctx, int64(1), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ int64, result domain.SyncResult) error {
			s.Equal("created=0 updated=0 errors=0 partial=true", result.LastSyncStatus)
			s.Nil(result.SyncedAt)
			return nil
		},
	)

	stats, err := s.orchestrator.SyncAgent(ctx, 1, domain.SyncOptions{SoftDeadline: s.now.Add(-time.Second)})

	s.NoError(err)
	s.True(stats.Partial)
}

func (s *OrchestratorTestSuite) TestSyncAgent_UnknownAgent() {
	ctx := context.Background()

	s.agents.EXPECT().Get(ctx, int64(404)).Return(nil, domain.ErrAgentNotFound)

	_, err := s.orchestrator.SyncAgent(ctx, 404, domain.SyncOptions{})

	s.ErrorIs(err, domain.ErrAgentNotFound)
}

func (s *OrchestratorTestSuite) TestSyncAgent_PublisherNil() {
	ctx := context.Background()
	cand := s.candidate("abc", 10*time.Minute)

	orchestrator := NewOrchestrator(s.agents, s.content, s.deletions, s.txManager, []Source{s.source}, s.moderator, s.tagger, nil, s.logger)
	orchestrator.now = s.orchestrator.now

	s.agents.EXPECT().Get(ctx, int64(1)).Return(s.agent, nil)
	s.source.EXPECT().FetchCandidates(ctx, s.agent).Return([]domain.CandidateItem{cand}, nil)
	s.deletions.EXPECT().Exists(ctx, "abc").Return(false, nil)
	s.content.EXPECT().GetByExternalID(ctx, "abc").Return(&domain.ContentItem{ID: 1, Topics: []string{"go"}}, nil)
	s.source.EXPECT().FetchMetrics(ctx, s.agent, cand).Return(domain.Metrics{})
	s.content.EXPECT().UpdateMetrics(ctx, gomock.Any()).Return(nil)
	s.agents.EXPECT().UpdateSyncResult(ctx, int64(1), gomock.Any()).Return(nil)

	stats, err := orchestrator.SyncAgent(ctx, 1, domain.SyncOptions{})

	s.NoError(err)
	s.Equal(1, stats.Updated)
	s.Equal(0, stats.Published)
}

func (s *OrchestratorTestSuite) TestReprocess() {
	ctx := context.Background()
	items := []domain.ContentItem{
		{ID: 1, ExternalID: "a", Title: "a"},
		{ID: 2, ExternalID: "b", Title: "b", ManuallyEdited: true},
		{ID: 3, ExternalID: "c", Title: "c"},
	}

	s.agents.EXPECT().Get(ctx, int64(1)).Return(s.agent, nil)
	s.content.EXPECT().ListByAgent(ctx, int64(1)).Return(items, nil)
	s.source.EXPECT().FetchMetrics(ctx, s.agent, gomock.Any()).Return(domain.Metrics{}).Times(3)
	gomock.InOrder(
		s.tagger.EXPECT().Apply(ctx, gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil),
		s.tagger.EXPECT().Apply(ctx, gomock.Any(), gomock.Any(), gomock.Any()).Return(false, nil),
		s.tagger.EXPECT().Apply(ctx, gomock.Any(), gomock.Any(), gomock.Any()).Return(false, errors.New("db down")),
	)

	stats, err := s.orchestrator.Reprocess(ctx, 1)

	s.NoError(err)
	s.Equal(3, stats.Fetched)
	s.Equal(1, stats.Updated)
	s.Equal(1, stats.Skipped)
	s.Equal(1, stats.Errors)
}

func (s *OrchestratorTestSuite) TestReprocess_PersistsFetchedMetrics() {
	ctx := context.Background()
	items := []domain.ContentItem{
		{ID: 1, ExternalID: "a", Title: "a", Score: 10},
		{ID: 2, ExternalID: "b", Title: "b", Score: 20},
	}

	s.agents.EXPECT().Get(ctx, int64(1)).Return(s.agent, nil)
	s.content.EXPECT().ListByAgent(ctx, int64(1)).Return(items, nil)
	gomock.InOrder(
		s.source.EXPECT().FetchMetrics(ctx, s.agent, gomock.Any()).Return(domain.Metrics{Score: 75, CommentCount: 3, Fetched: true}),
		s.source.EXPECT().FetchMetrics(ctx, s.agent, gomock.Any()).Return(domain.Metrics{}),
	)
	s.content.EXPECT().UpdateMetrics(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, item *domain.ContentItem) error {
			s.Equal(int64(1), item.ID)
			s.Equal(75, item.Score)
			s.Equal(3, item.CommentCount)
			return nil
		},
	)
	s.tagger.EXPECT().Apply(ctx, gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil).Times(2)

	stats, err := s.orchestrator.Reprocess(ctx, 1)

	s.NoError(err)
	s.Equal(2, stats.Updated)
	s.Equal(0, stats.Errors)
}
