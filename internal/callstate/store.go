package callstate

import (
	"sync"
	"time"
)

// Record is the in-memory state of one (campaign, recipient) call attempt.
// Records are ephemeral: they live only as long as the campaign is active.
type Record struct {
	Status      Status
	Details     string
	Timestamp   time.Time
	ActionToken string
	LegID       string
	Finalized   bool
}

// Store is the concurrent per-(campaign, recipient) status map. A single
// mutex guards the whole nested map; every read hands out copies.
//
// Update implements a hierarchy-based merge rather than last-write-wins:
// signaling events arrive duplicated and out of order, and a stale "ringing"
// must never clobber a call that already answered or completed.
type Store struct {
	mu    sync.Mutex
	calls map[string]map[string]*Record

	now func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		calls: make(map[string]map[string]*Record),
		now:   time.Now,
	}
}

// NewStoreWithClock creates a store with an injected time source, for tests.
func NewStoreWithClock(now func() time.Time) *Store {
	s := NewStore()
	s.now = now
	return s
}

// Update applies one status transition under the merge policy and reports
// whether it took effect. Empty legID/actionToken keep the existing values.
//
// Policy, in order:
//   - no record yet: create it, finalized when the status is terminal
//   - StatusWaiting: unconditional operator reset
//   - otherwise apply when the new status ranks strictly higher, repeats the
//     current status (detail refresh), or replaces a transitional
//     dialing/ringing state with any non-transitional outcome
//   - a finalized record additionally accepts the two override paths:
//     a definitive outcome (completed/opted_out/aborted) over another
//     terminal, and a terminal cause over a stuck transitional state
func (s *Store) Update(campaignID, recipient string, st Status, details, legID, actionToken string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.calls[campaignID]
	if recs == nil {
		recs = make(map[string]*Record)
		s.calls[campaignID] = recs
	}

	now := s.now()
	cur := recs[recipient]

	if st == StatusWaiting {
		r := &Record{
			Status:    st,
			Details:   orDefault(details, "Status manually reset"),
			Timestamp: now,
		}
		if cur != nil {
			r.ActionToken = orDefault(actionToken, cur.ActionToken)
			r.LegID = orDefault(legID, cur.LegID)
		} else {
			r.ActionToken = actionToken
			r.LegID = legID
		}
		recs[recipient] = r
		return true
	}

	if cur == nil {
		recs[recipient] = &Record{
			Status:      st,
			Details:     details,
			Timestamp:   now,
			ActionToken: actionToken,
			LegID:       legID,
			Finalized:   st.IsTerminal(),
		}
		return true
	}

	curSig := cur.Status.Significance()
	newSig := st.Significance()

	allow := false
	switch {
	case newSig > curSig:
		allow = true
	case st == cur.Status:
		// Same status: refresh details and identifiers.
		allow = true
	case cur.Status.IsTransitional() && !st.IsTransitional() &&
		st != StatusPending && st != StatusWaiting && st != StatusUnknown:
		// Transitional escape: dialing/ringing yield to any real outcome,
		// but never to the other transitional state (a stale dialing must
		// not regress a call that is already ringing).
		allow = true
	case cur.Finalized && st.isDefinitive() && newSig < curSig:
		// Definitive override: an authoritative outcome beats a
		// higher-ranked terminal cause.
		allow = true
	case cur.Finalized && st.IsTerminal() && cur.Status.IsTransitional():
		// Stuck-state override: a terminal cause releases a record wedged
		// in dialing/ringing.
		allow = true
	}

	if !allow {
		return false
	}

	cur.Status = st
	cur.Details = details
	cur.Timestamp = now
	cur.ActionToken = orDefault(actionToken, cur.ActionToken)
	cur.LegID = orDefault(legID, cur.LegID)
	cur.Finalized = st.IsTerminal()
	return true
}

// SetLegID attaches the PBX call-leg id to an existing record without
// touching its status.
func (s *Store) SetLegID(campaignID, recipient, legID string) bool {
	if legID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.calls[campaignID][recipient]; r != nil {
		r.LegID = legID
		return true
	}
	return false
}

// Get returns a copy of one record.
func (s *Store) Get(campaignID, recipient string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.calls[campaignID][recipient]; r != nil {
		return *r, true
	}
	return Record{}, false
}

// Snapshot returns a point-in-time copy of one campaign's records.
func (s *Store) Snapshot(campaignID string) map[string]Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Record, len(s.calls[campaignID]))
	for recipient, r := range s.calls[campaignID] {
		out[recipient] = *r
	}
	return out
}

// SnapshotAll returns a point-in-time copy of every tracked record.
func (s *Store) SnapshotAll() map[string]map[string]Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[string]Record, len(s.calls))
	for campaignID, recs := range s.calls {
		m := make(map[string]Record, len(recs))
		for recipient, r := range recs {
			m[recipient] = *r
		}
		out[campaignID] = m
	}
	return out
}

// Campaigns lists campaign ids with at least one record.
func (s *Store) Campaigns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.calls))
	for id := range s.calls {
		out = append(out, id)
	}
	return out
}

// IsComplete reports whether a recipient's call needs no further tracking.
// An absent record counts as complete.
func (s *Store) IsComplete(campaignID, recipient string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.calls[campaignID][recipient]
	if r == nil {
		return true
	}
	return r.Finalized || r.Status.IsTerminal()
}

// FindByToken locates a record by action token, optionally restricted to the
// given statuses. Returns the first match.
func (s *Store) FindByToken(token string, statuses ...Status) (campaignID, recipient string, ok bool) {
	if token == "" {
		return "", "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for cid, recs := range s.calls {
		for rcpt, r := range recs {
			if r.ActionToken != token {
				continue
			}
			if len(statuses) > 0 && !statusIn(r.Status, statuses) {
				continue
			}
			return cid, rcpt, true
		}
	}
	return "", "", false
}

// RemoveFinalizedBefore drops finalized records older than cutoff and returns
// the affected recipients.
func (s *Store) RemoveFinalizedBefore(campaignID string, cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for recipient, r := range s.calls[campaignID] {
		if r.Finalized && r.Timestamp.Before(cutoff) {
			delete(s.calls[campaignID], recipient)
			removed = append(removed, recipient)
		}
	}
	return removed
}

// Len returns the number of records tracked for a campaign.
func (s *Store) Len(campaignID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls[campaignID])
}

// DropCampaign removes every record for a campaign.
func (s *Store) DropCampaign(campaignID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.calls, campaignID)
}

func statusIn(s Status, set []Status) bool {
	for _, x := range set {
		if s == x {
			return true
		}
	}
	return false
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
