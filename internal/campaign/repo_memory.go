package campaign

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory campaign repository for tests and early
// development. It mirrors the conditional-update semantics of the SQL repo.
type MemoryRepo struct {
	mu sync.Mutex

	Campaigns     map[string]Campaign
	Announcements map[string]string // announcement id -> asset path
	// RecipientCampaigns maps phone -> campaign id for the fallback lookup.
	RecipientCampaigns map[string]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		Campaigns:          map[string]Campaign{},
		Announcements:      map[string]string{},
		RecipientCampaigns: map[string]string{},
	}
}

func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.Campaigns[id]
	if !ok {
		return Campaign{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) ListDue(ctx context.Context, now time.Time) ([]Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Campaign
	for _, c := range r.Campaigns {
		if c.Status == StatusPending && !c.ScheduledAt.After(now) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (r *MemoryRepo) UpdateStatus(ctx context.Context, id, status, details string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.Campaigns[id]
	if !ok {
		return false, nil
	}
	c.Status = status
	if details != "" {
		c.Details = details
	}
	r.Campaigns[id] = c
	return true, nil
}

func (r *MemoryRepo) UpdateStatusIf(ctx context.Context, id, from, to, details string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.Campaigns[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	if details != "" {
		c.Details = details
	}
	r.Campaigns[id] = c
	return true, nil
}

func (r *MemoryRepo) ActiveIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bool)
	for _, id := range ids {
		if c, ok := r.Campaigns[id]; ok && (c.Status == StatusInProgress || c.Status == StatusReady) {
			out[id] = true
		}
	}
	return out, nil
}

func (r *MemoryRepo) FindRecentActiveByRecipient(ctx context.Context, phone string) (Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.RecipientCampaigns[phone]; ok {
		if c, ok := r.Campaigns[id]; ok && (c.Status == StatusInProgress || c.Status == StatusReady) {
			return c, nil
		}
	}
	return Campaign{}, ErrNotFound
}

func (r *MemoryRepo) AnnouncementPath(ctx context.Context, announcementID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.Announcements[announcementID]
	if !ok {
		return "", ErrNotFound
	}
	return p, nil
}
