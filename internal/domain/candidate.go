package domain

import (
	"encoding/json"
	"time"
)

// CandidateItem is one normalized feed entry before dedup and moderation.
type CandidateItem struct {
	ExternalID   string
	Title        string
	Author       string
	Permalink    string
	ThumbnailURL string
	PublishedAt  *time.Time
	Community    string
	Summary      string
	Raw          json.RawMessage
}

// Metrics is the point-in-time enrichment for one item. Missing numbers
// are zero and missing text is empty.
type Metrics struct {
	Score         int
	CommentCount  int
	ViewCount     int
	LikeCount     int
	ImageURL      string
	Body          string
	BodyHTML      string
	VideoURL      string
	VideoDuration time.Duration
	Adult         bool
	Spoiler       bool
	Flair         string
	Raw           json.RawMessage
	// Fetched is false when the detail lookup failed and the counters are
	// placeholders, not observed values.
	Fetched bool
}
