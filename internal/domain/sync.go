package domain

import (
	"fmt"
	"time"
)

// SyncStats holds statistics about one agent sync.
type SyncStats struct {
	AgentID   int64
	Platform  Platform
	Fetched   int
	Created   int
	Updated   int
	Skipped   int
	Rejected  int
	Errors    int
	Published int
	Partial   bool
	Duration  time.Duration
}

// StatusLine is the summary persisted as last_sync_status.
func (s *SyncStats) StatusLine() string {
	line := fmt.Sprintf("created=%d updated=%d errors=%d", s.Created, s.Updated, s.Errors)
	if s.Partial {
		line += " partial=true"
	}
	return line
}

// FleetStats aggregates agent syncs for one platform run.
type FleetStats struct {
	Platform Platform
	Agents   int
	Failed   int
	Created  int
	Updated  int
	Errors   int
}

func (f *FleetStats) Add(s *SyncStats) {
	f.Agents++
	if s == nil {
		return
	}
	f.Created += s.Created
	f.Updated += s.Updated
	f.Errors += s.Errors
}

// Outcome is what happened to a single candidate.
type Outcome string

const (
	OutcomeCreated    Outcome = "created"
	OutcomeUpdated    Outcome = "updated"
	OutcomeTombstoned Outcome = "tombstoned"
	OutcomeThreshold  Outcome = "below_threshold"
	OutcomeRejected   Outcome = "rejected"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeStale      Outcome = "stale"
)

// SyncTask is one queued agent sync.
type SyncTask struct {
	ID        string    `json:"id"`
	AgentID   int64     `json:"agent_id"`
	Platform  Platform  `json:"platform"`
	NotBefore time.Time `json:"not_before"`
	Attempt   int       `json:"attempt"`
}

type EventType string

const (
	EventContentCreated EventType = "content.created"
	EventContentUpdated EventType = "content.updated"
)

// ContentEvent announces a persisted or refreshed content item.
type ContentEvent struct {
	Type             EventType        `json:"type"`
	ItemID           int64            `json:"item_id"`
	ProjectID        int64            `json:"project_id"`
	AgentID          int64            `json:"agent_id"`
	Platform         Platform         `json:"platform"`
	ExternalID       string           `json:"external_id"`
	Title            string           `json:"title"`
	Permalink        string           `json:"permalink"`
	ModerationStatus ModerationStatus `json:"moderation_status"`
	OccurredAt       time.Time        `json:"occurred_at"`
}

// SyncOptions tunes one agent sync.
type SyncOptions struct {
	// Backfill ignores last_synced_at so older feed items are reconsidered.
	Backfill bool
	// SoftDeadline stops new items from starting once passed. Zero means none.
	SoftDeadline time.Time
}
