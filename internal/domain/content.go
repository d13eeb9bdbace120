package domain

import (
	"encoding/json"
	"time"
)

type ModerationStatus string

const (
	ModerationPending  ModerationStatus = "pending"
	ModerationApproved ModerationStatus = "approved"
	ModerationRejected ModerationStatus = "rejected"
	ModerationSkipped  ModerationStatus = "skipped"
)

// ContentItem is the persisted companion of one visible project record,
// keyed by the platform's post ID.
type ContentItem struct {
	ID           int64  `db:"id"`
	ProjectID    int64  `db:"project_id"`
	AgentID      int64  `db:"agent_id"`
	ExternalID   string `db:"external_id"`
	Title        string `db:"title"`
	Author       string `db:"author"`
	Permalink    string `db:"permalink"`
	ThumbnailURL string `db:"thumbnail_url"`

	Score        int `db:"score"`
	CommentCount int `db:"comment_count"`
	ViewCount    int `db:"view_count"`
	LikeCount    int `db:"like_count"`

	RawPayload json.RawMessage `db:"raw_payload"`

	ModerationStatus ModerationStatus `db:"moderation_status"`
	ModerationReason string           `db:"moderation_reason"`
	ModerationResult json.RawMessage  `db:"moderation_result"`
	ModeratedAt      *time.Time       `db:"moderated_at"`

	ToolIDs        []int64  `db:"-"`
	CategoryIDs    []int64  `db:"-"`
	Topics         []string `db:"-"`
	ManuallyEdited bool     `db:"manually_edited"`

	PublishedAt *time.Time `db:"published_at"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

// Untagged reports whether the item carries no tools and no topics.
func (c *ContentItem) Untagged() bool {
	return len(c.ToolIDs) == 0 && len(c.Topics) == 0
}

// Tags is the classification written by the auto-tagger.
type Tags struct {
	ToolIDs     []int64
	CategoryIDs []int64
	Topics      []string
}

func (t Tags) Empty() bool {
	return len(t.ToolIDs) == 0 && len(t.CategoryIDs) == 0 && len(t.Topics) == 0
}

// DeletionRecord keeps an external ID from being fetched and moderated again.
type DeletionRecord struct {
	ExternalID string    `db:"external_id"`
	AgentID    int64     `db:"agent_id"`
	Reason     string    `db:"reason"`
	CreatedAt  time.Time `db:"created_at"`
}

// Tool and Category form the internal taxonomy.
type Tool struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
	Slug string `db:"slug"`
}

type Category struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
	Slug string `db:"slug"`
}

// Project is the internally visible record a ContentItem belongs to.
type Project struct {
	ID             int64  `db:"id"`
	OwnerAccountID int64  `db:"owner_account_id"`
	Title          string `db:"title"`
	Description    string `db:"description"`
	URL            string `db:"url"`
	ImageURL       string `db:"image_url"`
	VideoURL       string `db:"video_url"`
	VideoHero      bool   `db:"video_hero"`
}
