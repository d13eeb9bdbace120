package domain

import (
	"fmt"
	"time"
)

type Platform string

const (
	PlatformReddit  Platform = "reddit"
	PlatformYouTube Platform = "youtube"
	PlatformRSS     Platform = "rss"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformReddit, PlatformYouTube, PlatformRSS:
		return true
	}
	return false
}

type AgentStatus string

const (
	AgentActive AgentStatus = "active"
	AgentPaused AgentStatus = "paused"
	AgentError  AgentStatus = "error"
)

// SourceAgent is one ingested external source (subreddit, channel, feed URL)
// whose content is owned by an internal account.
type SourceAgent struct {
	ID               int64       `db:"id"`
	Platform         Platform    `db:"platform"`
	SourceIdentifier string      `db:"source_identifier"`
	OwnerAccountID   int64       `db:"owner_account_id"`
	Config           AgentConfig `db:"config"`
	Status           AgentStatus `db:"status"`
	LastSyncedAt     *time.Time  `db:"last_synced_at"`
	LastSyncStatus   string      `db:"last_sync_status"`
	LastSyncError    string      `db:"last_sync_error"`
	CreatedAt        time.Time   `db:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at"`
}

// DisplayName is the human-facing source name used in prompts and topics.
func (a *SourceAgent) DisplayName() string {
	if a.Config.DisplayName != "" {
		return a.Config.DisplayName
	}
	return a.SourceIdentifier
}

// Due reports whether the agent should sync at now. The agent's own
// sync_interval wins over the platform interval.
func (a *SourceAgent) Due(now time.Time, platformInterval time.Duration) bool {
	if a.LastSyncedAt == nil {
		return true
	}
	interval := platformInterval
	if a.Config.SyncInterval > 0 {
		interval = a.Config.SyncInterval.Std()
	}
	return !a.LastSyncedAt.Add(interval).After(now)
}

// SyncResult is written back to the agent after every sync attempt.
type SyncResult struct {
	Status         AgentStatus
	LastSyncStatus string
	LastSyncError  string
	// SyncedAt advances last_synced_at when set.
	SyncedAt *time.Time
}

var feedFlavors = map[string]bool{
	"":       true,
	"hot":    true,
	"new":    true,
	"top":    true,
	"rising": true,
}

// AgentConfig is the per-agent settings blob. Extra holds platform specific
// values that have no typed field.
type AgentConfig struct {
	DisplayName        string            `json:"display_name,omitempty"`
	MinScore           int               `json:"min_score,omitempty"`
	MinComments        int               `json:"min_comments,omitempty"`
	FeedFlavor         string            `json:"feed_flavor,omitempty"`
	SyncInterval       Duration          `json:"sync_interval,omitempty"`
	DefaultToolIDs     []int64           `json:"default_tool_ids,omitempty"`
	DefaultCategoryIDs []int64           `json:"default_category_ids,omitempty"`
	VideoHero          bool              `json:"video_hero,omitempty"`
	StrictModeration   bool              `json:"strict_moderation,omitempty"`
	Extra              map[string]string `json:"extra,omitempty"`
}

func (c AgentConfig) Validate() error {
	if c.MinScore < 0 {
		return fmt.Errorf("min_score must not be negative: %d", c.MinScore)
	}
	if c.MinComments < 0 {
		return fmt.Errorf("min_comments must not be negative: %d", c.MinComments)
	}
	if !feedFlavors[c.FeedFlavor] {
		return fmt.Errorf("unknown feed_flavor %q", c.FeedFlavor)
	}
	if c.SyncInterval < 0 {
		return fmt.Errorf("sync_interval must not be negative")
	}
	return nil
}
