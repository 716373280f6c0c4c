package campaign

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("campaign: not found")

// Campaign status lifecycle: pending -> ready -> in_progress -> terminal.
const (
	StatusPending    = "pending"
	StatusReady      = "ready"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
	StatusFailed     = "failed"
)

// Campaign is one scheduled announcement batch: one announcement played to
// one recipient group at a scheduled time.
type Campaign struct {
	ID             string
	AnnouncementID string
	ScheduledAt    time.Time
	// GroupFilter restricts recipients to one group; empty means all.
	GroupFilter  string
	CallerIDName string
	Status       string
	Details      string
	CreatedBy    string
}

// IsActive reports whether the campaign may still receive call events.
func (c Campaign) IsActive() bool {
	switch c.Status {
	case StatusInProgress, StatusReady, StatusPending:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the campaign has reached a final status.
func (c Campaign) IsTerminal() bool {
	switch c.Status {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}
