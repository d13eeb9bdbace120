package moderation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"

	"agentsync/internal/ai"
	"agentsync/internal/domain"
	"agentsync/internal/testutil"
)

type fakeClassifier struct {
	result *ai.ModerationResult
	err    error
	calls  []string
}

func (f *fakeClassifier) ModerateText(_ context.Context, text string) (*ai.ModerationResult, error) {
	f.calls = append(f.calls, text)
	return f.result, f.err
}

func (f *fakeClassifier) ModerateImage(_ context.Context, url string) (*ai.ModerationResult, error) {
	f.calls = append(f.calls, url)
	return f.result, f.err
}

type PipelineTestSuite struct {
	suite.Suite
	text     *fakeClassifier
	image    *fakeClassifier
	pipeline *Pipeline
}

func (s *PipelineTestSuite) SetupTest() {
	s.text = &fakeClassifier{result: &ai.ModerationResult{}}
	s.image = &fakeClassifier{result: &ai.ModerationResult{}}
	logger := testutil.Logger()
	s.pipeline = NewPipeline(NewKeywordFilter(DefaultLists(), DefaultMinMatches), s.text, s.image, logger)
}

func TestPipelineTestSuite(t *testing.T) {
	suite.Run(t, new(PipelineTestSuite))
}

func (s *PipelineTestSuite) TestApprovesCleanContent() {
	d := s.pipeline.Evaluate(context.Background(), Input{
		Title:    "Release notes",
		Body:     "New version is out",
		ImageURL: "https://img.example.com/a.png",
	})

	s.True(d.Approved)
	s.Equal(StageImage, d.Record.DecidedBy)
	s.Len(s.text.calls, 1)
	s.Equal([]string{"https://img.example.com/a.png"}, s.image.calls)
	s.False(d.Record.DecidedAt.IsZero())
}

func (s *PipelineTestSuite) TestAdultFlagRejectsBeforeAnyCall() {
	d := s.pipeline.Evaluate(context.Background(), Input{Title: "hello", Adult: true})

	s.False(d.Approved)
	s.Equal(StageAdult, d.Record.DecidedBy)
	s.Empty(s.text.calls)
	s.Empty(s.image.calls)
}

func (s *PipelineTestSuite) TestKeywordRejectSkipsAI() {
	d := s.pipeline.Evaluate(context.Background(), Input{Title: "jailbait"})

	s.False(d.Approved)
	s.Equal(StageKeyword, d.Record.DecidedBy)
	s.Empty(s.text.calls)
}

func (s *PipelineTestSuite) TestTextFlagged() {
	s.text.result = &ai.ModerationResult{Flagged: true, Categories: []string{"harassment"}}

	d := s.pipeline.Evaluate(context.Background(), Input{Title: "hi", ImageURL: "https://x/y.png"})

	s.False(d.Approved)
	s.Equal(StageText, d.Record.DecidedBy)
	s.Equal("text flagged: harassment", d.Reason)
	s.Empty(s.image.calls)
}

func (s *PipelineTestSuite) TestTextUnavailableFailsOpen() {
	s.text.result = nil
	s.text.err = domain.ErrClassifierUnavailable

	d := s.pipeline.Evaluate(context.Background(), Input{Title: "hi"})

	s.True(d.Approved)
	s.True(d.Record.Text.FailOpen)
}

func (s *PipelineTestSuite) TestTextRejectedKeyFailsOpen() {
	s.text.result = nil
	s.text.err = fmt.Errorf("moderation request: %w: %w", domain.ErrClassifierUnavailable,
		&domain.NetworkError{URL: "https://api/moderations", Attempts: 1, StatusCode: 401, Err: errors.New("unauthorized")})

	d := s.pipeline.Evaluate(context.Background(), Input{Title: "hi"})

	s.True(d.Approved)
	s.True(d.Record.Text.FailOpen)
	s.Empty(d.Record.Text.Error)
}

func (s *PipelineTestSuite) TestTextServiceErrorFailsClosed() {
	s.text.result = nil
	s.text.err = &domain.NetworkError{URL: "https://api/moderations", Attempts: 3, Err: errors.New("boom")}

	d := s.pipeline.Evaluate(context.Background(), Input{Title: "hi"})

	s.False(d.Approved)
	s.Equal(StageText, d.Record.DecidedBy)
	s.NotEmpty(d.Record.Text.Error)
}

func (s *PipelineTestSuite) TestImageErrorIsTolerated() {
	s.image.result = nil
	s.image.err = errors.New("timeout")

	d := s.pipeline.Evaluate(context.Background(), Input{Title: "hi", ImageURL: "https://x/y.png"})

	s.True(d.Approved)
	s.True(d.Record.Image.FailOpen)
}

func (s *PipelineTestSuite) TestImageFlaggedRejects() {
	s.image.result = &ai.ModerationResult{Flagged: true, Categories: []string{"sexual"}}

	d := s.pipeline.Evaluate(context.Background(), Input{Title: "hi", ImageURL: "https://x/y.png"})

	s.False(d.Approved)
	s.Equal(StageImage, d.Record.DecidedBy)
}

func (s *PipelineTestSuite) TestPlaceholderImagesSkipped() {
	for _, url := range []string{"", "self", "default", "nsfw", "spoiler"} {
		d := s.pipeline.Evaluate(context.Background(), Input{Title: "hi", ImageURL: url})
		s.True(d.Approved, url)
		s.Nil(d.Record.Image, url)
	}
	s.Empty(s.image.calls)
}

func (s *PipelineTestSuite) TestNilClassifiersApprove() {
	p := NewPipeline(NewKeywordFilter(DefaultLists(), 0), nil, nil, s.pipeline.logger)

	d := p.Evaluate(context.Background(), Input{Title: "hi", ImageURL: "https://x/y.png"})

	s.True(d.Approved)
}
