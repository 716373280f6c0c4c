package campaign

import (
	"context"
	"time"
)

// Repository abstracts campaign persistence. The core mutates only the
// status/details fields; everything else is written by the scheduling UI,
// which is outside this service.
type Repository interface {
	GetByID(ctx context.Context, id string) (Campaign, error)

	// ListDue returns pending campaigns whose scheduled time has passed.
	ListDue(ctx context.Context, now time.Time) ([]Campaign, error)

	// UpdateStatus sets status (and details, when non-empty) unconditionally.
	UpdateStatus(ctx context.Context, id, status, details string) (bool, error)

	// UpdateStatusIf flips status only when the current value matches from.
	// This is the atomic promotion primitive: of two workers racing to
	// promote the same campaign, exactly one sees true.
	UpdateStatusIf(ctx context.Context, id, from, to, details string) (bool, error)

	// ActiveIDs filters ids down to those persisted as ready/in_progress.
	ActiveIDs(ctx context.Context, ids []string) (map[string]bool, error)

	// FindRecentActiveByRecipient returns the most recent in_progress/ready
	// campaign whose group filter targets the given phone number. Last-resort
	// correlation fallback.
	FindRecentActiveByRecipient(ctx context.Context, phone string) (Campaign, error)

	// AnnouncementPath resolves an announcement id to the playable asset path
	// (without extension, as the PBX Playback application expects).
	AnnouncementPath(ctx context.Context, announcementID string) (string, error)
}
