package reddit

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"agentsync/internal/domain"
	"agentsync/internal/fetch"
	"agentsync/internal/feed"
	"agentsync/internal/markup"
)

// Config holds Reddit source configuration.
type Config struct {
	BaseURL    string
	FeedFlavor string
	Limit      int
}

// Source reads subreddit Atom feeds and per-post JSON details.
type Source struct {
	client     *fetch.Client
	parser     *feed.Parser
	baseURL    string
	feedFlavor string
	limit      int
	logger     *slog.Logger
}

func New(client *fetch.Client, parser *feed.Parser, cfg Config, logger *slog.Logger) *Source {
	if cfg.FeedFlavor == "" {
		cfg.FeedFlavor = "hot"
	}
	if cfg.Limit == 0 {
		cfg.Limit = 50
	}
	return &Source{
		client:     client,
		parser:     parser,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		feedFlavor: cfg.FeedFlavor,
		limit:      cfg.Limit,
		logger:     logger.With("platform", domain.PlatformReddit),
	}
}

func (s *Source) Platform() domain.Platform {
	return domain.PlatformReddit
}

// FetchCandidates fetches the subreddit feed in the agent's flavor.
func (s *Source) FetchCandidates(ctx context.Context, agent *domain.SourceAgent) ([]domain.CandidateItem, error) {
	flavor := agent.Config.FeedFlavor
	if flavor == "" {
		flavor = s.feedFlavor
	}
	subreddit := strings.TrimPrefix(agent.SourceIdentifier, "r/")
	feedURL := fmt.Sprintf("%s/r/%s/%s/.rss", s.baseURL, url.PathEscape(subreddit), flavor)

	body, err := s.client.Get(ctx, feedURL, url.Values{"limit": {fmt.Sprint(s.limit)}})
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}

	items, err := s.parser.Parse(body)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].Community == "" {
			items[i].Community = subreddit
		}
	}
	return items, nil
}

// FetchMetrics loads the post's JSON detail. Any failure yields zero metrics.
func (s *Source) FetchMetrics(ctx context.Context, agent *domain.SourceAgent, item domain.CandidateItem) domain.Metrics {
	detailURL, err := s.detailURL(item.Permalink)
	if err != nil {
		s.logger.Warn("bad permalink", "external_id", item.ExternalID, "error", err)
		return domain.Metrics{}
	}

	var listings []listing
	if err := s.client.GetJSON(ctx, detailURL, url.Values{"raw_json": {"1"}}, &listings); err != nil {
		s.logger.Warn("fetch metrics failed", "external_id", item.ExternalID, "error", err)
		return domain.Metrics{}
	}
	if len(listings) == 0 || len(listings[0].Data.Children) == 0 {
		s.logger.Warn("empty detail listing", "external_id", item.ExternalID)
		return domain.Metrics{}
	}

	raw := listings[0].Data.Children[0].Data
	var p post
	if err := json.Unmarshal(raw, &p); err != nil {
		s.logger.Warn("decode post failed", "external_id", item.ExternalID, "error", err)
		return domain.Metrics{}
	}

	return toMetrics(p, raw)
}

func (s *Source) detailURL(permalink string) (string, error) {
	u, err := url.Parse(permalink)
	if err != nil {
		return "", err
	}
	path := strings.TrimRight(u.Path, "/")
	if path == "" {
		return "", fmt.Errorf("empty permalink path")
	}
	return s.baseURL + path + ".json", nil
}

func toMetrics(p post, raw json.RawMessage) domain.Metrics {
	m := domain.Metrics{
		Score:        p.Score,
		CommentCount: p.NumComments,
		ImageURL:     bestImage(p),
		Body:         strings.TrimSpace(p.Selftext),
		Adult:        p.Over18,
		Spoiler:      p.Spoiler,
		Flair:        strings.TrimSpace(p.LinkFlairText),
		Raw:          raw,
		Fetched:      true,
	}

	if p.SelftextHTML != "" {
		m.BodyHTML = markup.Sanitize(html.UnescapeString(p.SelftextHTML))
	} else {
		m.BodyHTML = markup.RenderMarkdown(p.Selftext)
	}

	if p.IsVideo && p.Media != nil && p.Media.RedditVideo != nil {
		m.VideoURL = p.Media.RedditVideo.FallbackURL
		m.VideoDuration = time.Duration(p.Media.RedditVideo.Duration) * time.Second
	}

	return m
}

// bestImage picks gallery, then full preview, then a direct image link,
// then the thumbnail.
func bestImage(p post) string {
	if p.IsGallery && p.GalleryData != nil {
		for _, gi := range p.GalleryData.Items {
			meta, ok := p.MediaMetadata[gi.MediaID]
			if !ok || meta.Status != "valid" {
				continue
			}
			if u := cmp.Or(meta.Source.URL, meta.Source.GIF); u != "" {
				return html.UnescapeString(u)
			}
		}
	}
	if p.Preview != nil {
		for _, img := range p.Preview.Images {
			if img.Source.URL != "" {
				return html.UnescapeString(img.Source.URL)
			}
		}
	}
	if isImageLink(p.URL) {
		return p.URL
	}
	if strings.HasPrefix(p.Thumbnail, "http") {
		return html.UnescapeString(p.Thumbnail)
	}
	return ""
}

func isImageLink(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".gif", ".webp"} {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return u.Host == "i.redd.it" || u.Host == "i.imgur.com"
}
