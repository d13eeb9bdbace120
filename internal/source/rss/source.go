package rss

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"agentsync/internal/domain"
	"agentsync/internal/fetch"
	"agentsync/internal/feed"
	"agentsync/internal/markup"
)

type Config struct {
	// FetchPages loads the article page to find an og:image when the
	// feed entry carries no image.
	FetchPages bool
}

// Source reads arbitrary RSS/Atom feeds; the agent's source identifier is the feed URL.
type Source struct {
	client     *fetch.Client
	parser     *feed.Parser
	fetchPages bool
	logger     *slog.Logger
}

func New(client *fetch.Client, parser *feed.Parser, cfg Config, logger *slog.Logger) *Source {
	return &Source{
		client:     client,
		parser:     parser,
		fetchPages: cfg.FetchPages,
		logger:     logger.With("platform", domain.PlatformRSS),
	}
}

func (s *Source) Platform() domain.Platform {
	return domain.PlatformRSS
}

func (s *Source) FetchCandidates(ctx context.Context, agent *domain.SourceAgent) ([]domain.CandidateItem, error) {
	body, err := s.client.Get(ctx, agent.SourceIdentifier, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	items, err := s.parser.Parse(body)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].Community == "" {
			items[i].Community = agent.DisplayName()
		}
	}
	return items, nil
}

// FetchMetrics derives body and image from the entry itself. Feeds carry no
// engagement numbers, so counts stay zero.
func (s *Source) FetchMetrics(ctx context.Context, agent *domain.SourceAgent, item domain.CandidateItem) domain.Metrics {
	m := domain.Metrics{
		Body:     markup.PlainText(item.Summary),
		BodyHTML: markup.Sanitize(item.Summary),
		ImageURL: item.ThumbnailURL,
		Raw:      item.Raw,
		Fetched:  true,
	}
	if m.ImageURL == "" {
		m.ImageURL = markup.FirstImage(item.Summary)
	}
	if m.ImageURL == "" && s.fetchPages && strings.HasPrefix(item.Permalink, "http") {
		page, err := s.client.Get(ctx, item.Permalink, nil)
		if err != nil {
			s.logger.Warn("fetch page failed", "external_id", item.ExternalID, "error", err)
			return m
		}
		m.ImageURL = markup.FirstImage(string(page))
	}
	return m
}
