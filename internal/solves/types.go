package solves

import (
	"fmt"
	"time"
)

// Submission is one accepted submission reported by the upstream source.
type Submission struct {
	ID        string
	Title     string
	TitleSlug string
	// Timestamp is the acceptance time in epoch seconds.
	Timestamp int64
}

// SolvedAt returns the acceptance instant.
func (s Submission) SolvedAt() time.Time {
	return time.Unix(s.Timestamp, 0)
}

// Batch is the outcome of a single upstream fetch.
type Batch struct {
	Submissions []Submission
	// Raw holds the upstream payload as received, for snapshots.
	Raw []byte
}

// Entry is the persisted record of the problems solved by a user on a day.
type Entry struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Day       time.Time `json:"day"`
	Problems  []string  `json:"problems"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Clone returns a copy that shares no backing arrays with e.
func (e Entry) Clone() Entry {
	cp := e
	cp.Problems = append([]string(nil), e.Problems...)
	return cp
}

// WindowPolicy selects which submissions count for a run.
type WindowPolicy string

// Supported window policies.
const (
	WindowCalendarDay WindowPolicy = "calendar_day"
	WindowRolling24h  WindowPolicy = "rolling_24h"
)

// PersistencePolicy selects how a run is committed.
type PersistencePolicy string

// Supported persistence policies.
const (
	PersistUpsertMerge PersistencePolicy = "upsert_merge"
	PersistInsertOnly  PersistencePolicy = "insert_only"
)

// Policy is the per-deployment pipeline configuration.
type Policy struct {
	Window       WindowPolicy
	Persistence  PersistencePolicy
	AuthRequired bool
	// Location is the reference zone for day normalization. Nil means UTC.
	Location *time.Location
}

// Validate rejects unknown policy values.
func (p Policy) Validate() error {
	switch p.Window {
	case WindowCalendarDay, WindowRolling24h:
	default:
		return fmt.Errorf("unknown window policy %q", p.Window)
	}
	switch p.Persistence {
	case PersistUpsertMerge, PersistInsertOnly:
	default:
		return fmt.Errorf("unknown persistence policy %q", p.Persistence)
	}
	return nil
}

func (p Policy) location() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

func (p Policy) noneMessage() string {
	if p.Window == WindowRolling24h {
		return "No problems solved in the last 24 hours."
	}
	return "No problems solved today."
}

// Status distinguishes a run that persisted from one that had nothing to do.
type Status string

// Run statuses.
const (
	StatusSaved Status = "saved"
	StatusNone  Status = "none"
)

// Result is the outcome of a successful collector run.
type Result struct {
	Status   Status
	Problems []string
	Message  string
	RunID    string
	Entry    *Entry
}

// SavedEvent is the notification published after a run persisted titles.
type SavedEvent struct {
	RunID     string    `json:"run_id"`
	Username  string    `json:"username"`
	Day       string    `json:"day"`
	Problems  []string  `json:"problems"`
	FetchedAt time.Time `json:"fetched_at"`
	Policy    string    `json:"policy"`

	PayloadSHA256 string `json:"payload_sha256,omitempty"`
}
