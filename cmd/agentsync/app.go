package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	_ "time/tzdata"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"agentsync/internal/ai"
	"agentsync/internal/config"
	"agentsync/internal/feed"
	"agentsync/internal/fetch"
	"agentsync/internal/moderation"
	"agentsync/internal/queue"
	"agentsync/internal/service"
	"agentsync/internal/source/reddit"
	"agentsync/internal/source/rss"
	"agentsync/internal/source/youtube"
	"agentsync/internal/storage/postgres"
	"agentsync/internal/tagging"
)

// YouTube API quota resets at midnight Pacific time.
const quotaTimezone = "America/Los_Angeles"

type queueUse int

const (
	queueNone queueUse = iota
	// queueEvents connects for content events and carries on without them
	// when the broker is down.
	queueEvents
	queueRequired
)

type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sqlx.DB
	broker *queue.RabbitMQ

	agents    *postgres.AgentStore
	content   *postgres.ContentStore
	deletions *postgres.DeletionStore
	taxonomy  *postgres.TaxonomyStore

	orchestrator *service.Orchestrator
	fleet        *service.FleetScheduler
	worker       *service.Worker
}

func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, setupLogger(cfg.LogLevel), nil
}

func openDB(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info("connected to database", "host", cfg.Database.Host, "dbname", cfg.Database.DBName)
	return db, nil
}

// newApp wires stores, sources, moderation, tagging and the sync services.
func newApp(cmd *cobra.Command, use queueUse) (*app, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	db, err := openDB(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		agents:    postgres.NewAgentStore(db),
		content:   postgres.NewContentStore(db),
		deletions: postgres.NewDeletionStore(db),
		taxonomy:  postgres.NewTaxonomyStore(db),
	}

	if use != queueNone {
		broker, err := queue.NewRabbitMQ(cfg.RabbitMQ, logger)
		switch {
		case err == nil:
			a.broker = broker
		case use == queueRequired:
			db.Close()
			return nil, err
		default:
			logger.Warn("content events disabled", "error", err)
		}
	}

	sources, err := buildSources(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	aiClient := ai.New(fetch.New(fetch.Config{
		UserAgent:   cfg.HTTP.UserAgent,
		Timeout:     cfg.AI.Timeout,
		MinDelay:    cfg.AI.MinDelay,
		MaxAttempts: cfg.HTTP.Retry.MaxAttempts,
		BackoffBase: cfg.HTTP.Retry.BackoffBase,
		MaxBackoff:  cfg.HTTP.Retry.MaxBackoff,
	}, logger), ai.Config{
		BaseURL:         cfg.AI.BaseURL,
		APIKey:          cfg.AI.APIKey,
		ModerationModel: cfg.AI.ModerationModel,
		CompletionModel: cfg.AI.CompletionModel,
	})
	if !aiClient.Configured() {
		logger.Warn("ai api key not set, text moderation fails open and tagging uses keyword fallback")
	}

	pipeline := moderation.NewPipeline(
		moderation.NewKeywordFilter(moderation.DefaultLists(), moderation.DefaultMinMatches),
		aiClient,
		aiClient,
		logger,
	)
	tagger := tagging.NewTagger(aiClient, a.taxonomy, a.content, logger)

	var publisher service.Publisher
	var tasks service.TaskQueue
	if a.broker != nil {
		publisher = a.broker
		tasks = a.broker
	}

	a.orchestrator = service.NewOrchestrator(
		a.agents,
		a.content,
		a.deletions,
		postgres.NewTransactionManager(db),
		sources,
		pipeline,
		tagger,
		publisher,
		logger,
	)
	a.fleet = service.NewFleetScheduler(a.agents, a.orchestrator, tasks, service.PoliciesFromConfig(cfg), cfg.Sync, logger)
	a.worker = service.NewWorker(a.orchestrator, tasks, cfg.Sync, logger)

	return a, nil
}

func buildSources(cfg *config.Config, logger *slog.Logger) ([]service.Source, error) {
	clientConfig := func(minDelay time.Duration) fetch.Config {
		return fetch.Config{
			UserAgent:   cfg.HTTP.UserAgent,
			Timeout:     cfg.HTTP.Timeout,
			MinDelay:    minDelay,
			MaxAttempts: cfg.HTTP.Retry.MaxAttempts,
			BackoffBase: cfg.HTTP.Retry.BackoffBase,
			MaxBackoff:  cfg.HTTP.Retry.MaxBackoff,
		}
	}

	loc, err := time.LoadLocation(quotaTimezone)
	if err != nil {
		return nil, fmt.Errorf("load quota timezone: %w", err)
	}
	quota := fetch.NewQuotaLimiter(cfg.YouTube.DailyQuota, fetch.DailyReset(loc))

	parser := feed.NewParser()

	return []service.Source{
		reddit.New(
			fetch.New(clientConfig(cfg.Reddit.MinDelay), logger),
			parser,
			reddit.Config{BaseURL: cfg.Reddit.BaseURL, FeedFlavor: cfg.Reddit.FeedFlavor},
			logger,
		),
		youtube.New(
			fetch.New(clientConfig(cfg.YouTube.MinDelay), logger, fetch.WithQuota(quota)),
			youtube.Config{BaseURL: cfg.YouTube.BaseURL, APIKey: cfg.YouTube.APIKey, MaxResults: cfg.YouTube.MaxResults},
			logger,
		),
		rss.New(
			fetch.New(clientConfig(cfg.RSS.MinDelay), logger),
			parser,
			rss.Config{FetchPages: cfg.RSS.FetchPages},
			logger,
		),
	}, nil
}

func (a *app) Close() {
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			a.logger.Warn("close rabbitmq", "error", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}
