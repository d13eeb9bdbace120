package reddit

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"agentsync/internal/domain"
	"agentsync/internal/fetch"
	"agentsync/internal/feed"
)

type SourceTestSuite struct {
	suite.Suite
	server *httptest.Server
	source *Source
	agent  *domain.SourceAgent
	status int
}

func (s *SourceTestSuite) SetupTest() {
	s.status = http.StatusOK
	atom, err := os.ReadFile("testdata/golang.atom")
	s.Require().NoError(err)
	detail, err := os.ReadFile("testdata/post.json")
	s.Require().NoError(err)

	mux := http.NewServeMux()
	mux.HandleFunc("/r/golang/new/.rss", func(w http.ResponseWriter, r *http.Request) {
		s.Equal("50", r.URL.Query().Get("limit"))
		_, _ = w.Write(atom)
	})
	mux.HandleFunc("/r/golang/comments/1abcde/go_126_released.json", func(w http.ResponseWriter, r *http.Request) {
		if s.status != http.StatusOK {
			w.WriteHeader(s.status)
			return
		}
		_, _ = w.Write(detail)
	})
	s.server = httptest.NewServer(mux)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	client := fetch.New(fetch.Config{MaxAttempts: 1, BackoffBase: time.Millisecond}, logger)
	s.source = New(client, feed.NewParser(), Config{BaseURL: s.server.URL}, logger)
	s.agent = &domain.SourceAgent{
		ID:               1,
		Platform:         domain.PlatformReddit,
		SourceIdentifier: "golang",
		Config:           domain.AgentConfig{FeedFlavor: "new"},
	}
}

func (s *SourceTestSuite) TearDownTest() {
	s.server.Close()
}

func TestSourceTestSuite(t *testing.T) {
	suite.Run(t, new(SourceTestSuite))
}

func (s *SourceTestSuite) TestFetchCandidates() {
	items, err := s.source.FetchCandidates(context.Background(), s.agent)
	s.Require().NoError(err)
	s.Require().Len(items, 2)
	s.Equal("t3_1abcde", items[0].ExternalID)
	s.Equal("golang", items[0].Community)
}

func (s *SourceTestSuite) TestFetchCandidates_NetworkError() {
	s.agent.SourceIdentifier = "missing"
	_, err := s.source.FetchCandidates(context.Background(), s.agent)
	s.Error(err)
	s.True(domain.IsFeedFailure(err))
}

func (s *SourceTestSuite) TestFetchMetrics() {
	item := domain.CandidateItem{
		ExternalID: "t3_1abcde",
		Permalink:  "https://www.reddit.com/r/golang/comments/1abcde/go_126_released/",
	}

	m := s.source.FetchMetrics(context.Background(), s.agent, item)
	s.Equal(150, m.Score)
	s.Equal(42, m.CommentCount)
	s.Equal("https://preview.redd.it/full.png?width=1200&s=abc", m.ImageURL)
	s.Equal("Release **notes** are out", m.Body)
	s.Equal("<p>Release <strong>notes</strong> are out</p>", m.BodyHTML)
	s.Equal("Announcement", m.Flair)
	s.False(m.Adult)
	s.NotEmpty(m.Raw)
	s.True(m.Fetched)
}

func (s *SourceTestSuite) TestFetchMetrics_FailureReturnsZero() {
	s.status = http.StatusInternalServerError
	item := domain.CandidateItem{Permalink: "https://www.reddit.com/r/golang/comments/1abcde/go_126_released/"}

	m := s.source.FetchMetrics(context.Background(), s.agent, item)
	s.Equal(domain.Metrics{}, m)
}

func (s *SourceTestSuite) TestBestImage_Priority() {
	var meta mediaMetadata
	meta.Status = "valid"
	meta.Source.URL = "https://preview.redd.it/g1.jpg?a=1&amp;b=2"

	gallery := post{
		IsGallery:     true,
		GalleryData:   &galleryData{},
		MediaMetadata: map[string]mediaMetadata{"m1": meta},
		URL:           "https://i.redd.it/direct.jpg",
		Thumbnail:     "https://b.thumbs.redditmedia.com/t.jpg",
	}
	gallery.GalleryData.Items = append(gallery.GalleryData.Items, struct {
		MediaID string `json:"media_id"`
	}{MediaID: "m1"})
	s.Equal("https://preview.redd.it/g1.jpg?a=1&b=2", bestImage(gallery))

	direct := post{URL: "https://i.redd.it/direct.jpg", Thumbnail: "https://b.thumbs.redditmedia.com/t.jpg"}
	s.Equal("https://i.redd.it/direct.jpg", bestImage(direct))

	thumb := post{URL: "https://go.dev", Thumbnail: "https://b.thumbs.redditmedia.com/t.jpg"}
	s.Equal("https://b.thumbs.redditmedia.com/t.jpg", bestImage(thumb))

	s.Equal("", bestImage(post{Thumbnail: "self"}))
}
