package directory

import "errors"

var ErrNotFound = errors.New("directory: not found")

// Member is one call recipient from the externally managed directory.
type Member struct {
	ID          string
	FirstName   string
	LastName    string
	PhoneNumber string
	// DoNotCall is the persisted opt-out flag. Members with it set are never
	// selected for a campaign, and in-call opt-out sets it.
	DoNotCall bool
}
