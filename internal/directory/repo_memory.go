package directory

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory member directory for tests.
type MemoryRepo struct {
	mu sync.Mutex

	Members map[string]Member   // id -> member
	Groups  map[string][]string // group id -> member ids
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		Members: map[string]Member{},
		Groups:  map[string][]string{},
	}
}

// Add registers a member, optionally into groups.
func (r *MemoryRepo) Add(m Member, groupIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Members[m.ID] = m
	for _, g := range groupIDs {
		r.Groups[g] = append(r.Groups[g], m.ID)
	}
}

func (r *MemoryRepo) MembersForCampaign(ctx context.Context, groupFilter string) ([]Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Member
	if groupFilter == "" {
		for _, m := range r.Members {
			if !m.DoNotCall {
				out = append(out, m)
			}
		}
	} else {
		for _, id := range r.Groups[groupFilter] {
			if m, ok := r.Members[id]; ok && !m.DoNotCall {
				out = append(out, m)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepo) FindByPhone(ctx context.Context, phone string) (Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.Members {
		if m.PhoneNumber == phone {
			return m, nil
		}
	}
	return Member{}, ErrNotFound
}

func (r *MemoryRepo) SetDoNotCall(ctx context.Context, memberID string, flag bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.Members[memberID]
	if !ok {
		return ErrNotFound
	}
	m.DoNotCall = flag
	r.Members[memberID] = m
	return nil
}
