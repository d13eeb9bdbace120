package moderation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"agentsync/internal/ai"
	"agentsync/internal/domain"
)

// Stage names, recorded as the stage that decided.
const (
	StageAdult   = "adult_flag"
	StageKeyword = "keyword"
	StageText    = "ai_text"
	StageImage   = "ai_image"
)

// Image values that are placeholders, not URLs.
var imageSentinels = map[string]bool{
	"":        true,
	"self":    true,
	"default": true,
	"nsfw":    true,
	"spoiler": true,
	"image":   true,
}

type TextClassifier interface {
	ModerateText(ctx context.Context, text string) (*ai.ModerationResult, error)
}

type ImageClassifier interface {
	ModerateImage(ctx context.Context, url string) (*ai.ModerationResult, error)
}

// Input is everything the pipeline needs about one candidate.
type Input struct {
	ExternalID string
	Title      string
	Body       string
	ImageURL   string
	Adult      bool
	Strict     bool
}

// StageResult is the outcome of one AI stage.
type StageResult struct {
	Ran      bool                 `json:"ran"`
	Approved bool                 `json:"approved"`
	FailOpen bool                 `json:"fail_open,omitempty"`
	Reason   string               `json:"reason,omitempty"`
	Error    string               `json:"error,omitempty"`
	Result   *ai.ModerationResult `json:"result,omitempty"`
}

// Record is the full moderation trace persisted with the item.
type Record struct {
	DecidedBy string         `json:"decided_by"`
	Adult     bool           `json:"adult"`
	Keyword   *KeywordResult `json:"keyword,omitempty"`
	Text      *StageResult   `json:"text,omitempty"`
	Image     *StageResult   `json:"image,omitempty"`
	DecidedAt time.Time      `json:"decided_at"`
}

// Decision is the pipeline verdict.
type Decision struct {
	Approved bool
	Reason   string
	Record   Record
}

// Pipeline runs adult flag, keyword filter, AI text and AI image checks
// in that order and stops at the first reject.
type Pipeline struct {
	keywords *KeywordFilter
	text     TextClassifier
	image    ImageClassifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewPipeline(keywords *KeywordFilter, text TextClassifier, image ImageClassifier, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		keywords: keywords,
		text:     text,
		image:    image,
		logger:   logger,
		now:      time.Now,
	}
}

func (p *Pipeline) Evaluate(ctx context.Context, in Input) Decision {
	rec := Record{Adult: in.Adult}
	logger := p.logger.With("external_id", in.ExternalID)

	if in.Adult {
		return p.reject(rec, StageAdult, "platform marked adult content")
	}

	combined := strings.TrimSpace(in.Title + "\n" + in.Body)

	kw := p.keywords.Check(combined, in.Strict)
	rec.Keyword = &kw
	if kw.Rejected {
		return p.reject(rec, StageKeyword, kw.Reason)
	}

	textStage := p.moderateText(ctx, combined, logger)
	rec.Text = &textStage
	if !textStage.Approved {
		return p.reject(rec, StageText, textStage.Reason)
	}

	if !imageSentinels[strings.ToLower(strings.TrimSpace(in.ImageURL))] {
		imageStage := p.moderateImage(ctx, in.ImageURL, logger)
		rec.Image = &imageStage
		if !imageStage.Approved {
			return p.reject(rec, StageImage, imageStage.Reason)
		}
		rec.DecidedBy = StageImage
	} else {
		rec.DecidedBy = StageText
	}

	rec.DecidedAt = p.now().UTC()
	return Decision{Approved: true, Reason: "approved", Record: rec}
}

// moderateText fails open when the classifier is not configured and
// closed when it errors.
func (p *Pipeline) moderateText(ctx context.Context, text string, logger *slog.Logger) StageResult {
	if p.text == nil {
		logger.Warn("text moderation unavailable, approving")
		return StageResult{Approved: true, FailOpen: true, Reason: "text classifier unavailable"}
	}

	res, err := p.text.ModerateText(ctx, text)
	switch {
	case errors.Is(err, domain.ErrClassifierUnavailable):
		logger.Warn("text moderation unavailable, approving")
		return StageResult{Approved: true, FailOpen: true, Reason: "text classifier unavailable"}
	case err != nil:
		svcErr := &domain.ModerationServiceError{Stage: StageText, Err: err}
		logger.Error("text moderation failed, rejecting", "error", svcErr)
		return StageResult{Ran: true, Reason: "text moderation error", Error: svcErr.Error()}
	case res.Flagged:
		return StageResult{Ran: true, Reason: "text " + res.Reason(), Result: res}
	default:
		return StageResult{Ran: true, Approved: true, Result: res}
	}
}

// moderateImage tolerates service errors; only an unsafe verdict rejects.
func (p *Pipeline) moderateImage(ctx context.Context, url string, logger *slog.Logger) StageResult {
	if p.image == nil {
		return StageResult{Approved: true, FailOpen: true, Reason: "image classifier unavailable"}
	}

	res, err := p.image.ModerateImage(ctx, url)
	switch {
	case err != nil:
		svcErr := &domain.ModerationServiceError{Stage: StageImage, Err: err}
		logger.Warn("image moderation failed, allowing", "image_url", url, "error", svcErr)
		return StageResult{Ran: true, Approved: true, FailOpen: true, Error: svcErr.Error()}
	case res.Flagged:
		return StageResult{Ran: true, Reason: "image " + res.Reason(), Result: res}
	default:
		return StageResult{Ran: true, Approved: true, Result: res}
	}
}

func (p *Pipeline) reject(rec Record, stage, reason string) Decision {
	rec.DecidedBy = stage
	rec.DecidedAt = p.now().UTC()
	return Decision{Approved: false, Reason: reason, Record: rec}
}
