package dialer

import (
	"sync"
	"time"
)

// pendingTTL is how long a pre-origination registration stays usable. Events
// for a leg normally arrive within seconds; anything older is stale.
const pendingTTL = 120 * time.Second

type pendingEntry struct {
	campaignID   string
	actionToken  string
	registeredAt time.Time
}

// Pending bridges the gap between "origination request sent" and "first event
// observed": the dial loop registers the recipient just before sending, so
// the correlator can attribute the very first events for the leg even before
// any acknowledgement carrying the action token shows up.
type Pending struct {
	mu      sync.Mutex
	entries map[string]pendingEntry

	now func() time.Time
}

func NewPending() *Pending {
	return &Pending{
		entries: make(map[string]pendingEntry),
		now:     time.Now,
	}
}

// NewPendingWithClock injects a time source, for tests.
func NewPendingWithClock(now func() time.Time) *Pending {
	p := NewPending()
	p.now = now
	return p
}

// Register records a correlation immediately before an origination is issued.
func (p *Pending) Register(recipient, campaignID, actionToken string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[recipient] = pendingEntry{
		campaignID:   campaignID,
		actionToken:  actionToken,
		registeredAt: p.now(),
	}
}

// Lookup returns the campaign registered for a recipient. Entries older than
// the TTL are treated as absent and removed.
func (p *Pending) Lookup(recipient string) (campaignID string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[recipient]
	if !ok {
		return "", false
	}
	if p.now().Sub(e.registeredAt) > pendingTTL {
		delete(p.entries, recipient)
		return "", false
	}
	return e.campaignID, true
}

// Clear removes a recipient's entry on first successful correlation.
func (p *Pending) Clear(recipient string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, recipient)
}
