package youtube

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"agentsync/internal/domain"
	"agentsync/internal/fetch"
	"agentsync/internal/markup"
)

const watchURL = "https://www.youtube.com/watch?v="

var errNoAPIKey = errors.New("youtube api key not configured")

// Config holds YouTube Data API settings.
type Config struct {
	BaseURL    string
	APIKey     string
	MaxResults int
}

// Source lists a channel's uploads playlist and reads video details.
type Source struct {
	client     *fetch.Client
	baseURL    string
	apiKey     string
	maxResults int
	logger     *slog.Logger
}

// New creates a YouTube source. The client should carry the API key's quota limiter.
func New(client *fetch.Client, cfg Config, logger *slog.Logger) *Source {
	if cfg.MaxResults == 0 {
		cfg.MaxResults = 25
	}
	return &Source{
		client:     client,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		maxResults: cfg.MaxResults,
		logger:     logger.With("platform", domain.PlatformYouTube),
	}
}

func (s *Source) Platform() domain.Platform {
	return domain.PlatformYouTube
}

// FetchCandidates lists the newest uploads of the agent's channel.
func (s *Source) FetchCandidates(ctx context.Context, agent *domain.SourceAgent) ([]domain.CandidateItem, error) {
	if s.apiKey == "" {
		return nil, errNoAPIKey
	}

	params := url.Values{
		"part":       {"snippet,contentDetails"},
		"playlistId": {UploadsPlaylist(agent.SourceIdentifier)},
		"maxResults": {strconv.Itoa(s.maxResults)},
		"key":        {s.apiKey},
	}

	var resp playlistItemsResponse
	if err := s.client.GetJSON(ctx, s.baseURL+"/playlistItems", params, &resp); err != nil {
		var netErr *domain.NetworkError
		switch {
		case errors.As(err, &netErr), errors.Is(err, domain.ErrQuotaExhausted), ctx.Err() != nil:
			return nil, fmt.Errorf("fetch uploads: %w", err)
		default:
			return nil, &domain.ParseError{Source: "youtube playlistItems", Err: err}
		}
	}

	items := make([]domain.CandidateItem, 0, len(resp.Items))
	for _, raw := range resp.Items {
		var pi playlistItem
		if err := json.Unmarshal(raw, &pi); err != nil {
			s.logger.Warn("skipping malformed playlist item", "error", err)
			continue
		}
		videoID := pi.ContentDetails.VideoID
		if videoID == "" {
			continue
		}

		item := domain.CandidateItem{
			ExternalID:   videoID,
			Title:        pi.Snippet.Title,
			Author:       cmp.Or(pi.Snippet.VideoOwnerChannelTitle, pi.Snippet.ChannelTitle, "[deleted]"),
			Permalink:    watchURL + videoID,
			ThumbnailURL: pi.Snippet.Thumbnails.Best(),
			Community:    pi.Snippet.ChannelTitle,
			Summary:      pi.Snippet.Description,
			Raw:          raw,
		}
		if t, ok := parseTime(cmp.Or(pi.ContentDetails.VideoPublishedAt, pi.Snippet.PublishedAt)); ok {
			item.PublishedAt = &t
		}
		items = append(items, item)
	}

	return items, nil
}

// FetchMetrics reads statistics and content details for one video.
func (s *Source) FetchMetrics(ctx context.Context, agent *domain.SourceAgent, item domain.CandidateItem) domain.Metrics {
	if s.apiKey == "" {
		return domain.Metrics{}
	}

	params := url.Values{
		"part": {"snippet,statistics,contentDetails"},
		"id":   {item.ExternalID},
		"key":  {s.apiKey},
	}

	var resp videosResponse
	if err := s.client.GetJSON(ctx, s.baseURL+"/videos", params, &resp); err != nil {
		s.logger.Warn("fetch metrics failed", "external_id", item.ExternalID, "error", err)
		return domain.Metrics{}
	}
	if len(resp.Items) == 0 {
		return domain.Metrics{}
	}

	var v video
	if err := json.Unmarshal(resp.Items[0], &v); err != nil {
		s.logger.Warn("decode video failed", "external_id", item.ExternalID, "error", err)
		return domain.Metrics{}
	}

	likes := atoi(v.Statistics.LikeCount)
	m := domain.Metrics{
		Score:         likes,
		LikeCount:     likes,
		ViewCount:     atoi(v.Statistics.ViewCount),
		CommentCount:  atoi(v.Statistics.CommentCount),
		ImageURL:      v.Snippet.Thumbnails.Best(),
		Body:          strings.TrimSpace(v.Snippet.Description),
		BodyHTML:      descriptionHTML(v.Snippet.Description),
		VideoURL:      watchURL + v.ID,
		VideoDuration: ParseDuration(v.ContentDetails.Duration),
		Adult:         v.ContentDetails.ContentRating.YTRating == "ytAgeRestricted",
		Raw:           resp.Items[0],
		Fetched:       true,
	}
	if len(v.Snippet.Tags) > 0 {
		m.Flair = v.Snippet.Tags[0]
	}
	return m
}

// UploadsPlaylist maps a UC... channel ID to its UU... uploads playlist.
func UploadsPlaylist(channelID string) string {
	if strings.HasPrefix(channelID, "UC") {
		return "UU" + channelID[2:]
	}
	return channelID
}

var isoDuration = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// ParseDuration converts an ISO-8601 duration like PT1H2M3S.
func ParseDuration(v string) time.Duration {
	m := isoDuration.FindStringSubmatch(v)
	if m == nil {
		return 0
	}
	units := []time.Duration{24 * time.Hour, time.Hour, time.Minute, time.Second}
	var d time.Duration
	for i, unit := range units {
		d += time.Duration(atoi(m[i+1])) * unit
	}
	return d
}

func descriptionHTML(desc string) string {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return ""
	}
	paragraphs := strings.Split(desc, "\n\n")
	var sb strings.Builder
	for _, p := range paragraphs {
		sb.WriteString("<p>")
		sb.WriteString(strings.ReplaceAll(html.EscapeString(strings.TrimSpace(p)), "\n", "<br />"))
		sb.WriteString("</p>")
	}
	return markup.Sanitize(sb.String())
}

func parseTime(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func atoi(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
