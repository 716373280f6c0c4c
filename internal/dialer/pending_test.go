package dialer

import (
	"testing"
	"time"
)

func TestPendingRegisterLookup(t *testing.T) {
	p := NewPending()
	p.Register("5551234", "c1", "tok-1")

	cid, ok := p.Lookup("5551234")
	if !ok || cid != "c1" {
		t.Fatalf("lookup = %s/%v", cid, ok)
	}
	if _, ok := p.Lookup("other"); ok {
		t.Fatalf("unregistered recipient should miss")
	}

	p.Clear("5551234")
	if _, ok := p.Lookup("5551234"); ok {
		t.Fatalf("cleared entry should miss")
	}
}

func TestPendingExpiry(t *testing.T) {
	base := time.Unix(1700000000, 0)
	now := base
	p := NewPendingWithClock(func() time.Time { return now })

	p.Register("5551234", "c1", "tok-1")

	now = base.Add(pendingTTL)
	if _, ok := p.Lookup("5551234"); !ok {
		t.Fatalf("entry at exactly the TTL should still resolve")
	}

	now = base.Add(pendingTTL + time.Second)
	if _, ok := p.Lookup("5551234"); ok {
		t.Fatalf("expired entry should miss")
	}
	// Expired entries are removed, not just hidden.
	now = base
	if _, ok := p.Lookup("5551234"); ok {
		t.Fatalf("expired entry should have been deleted")
	}
}

func TestPendingReRegisterRefreshes(t *testing.T) {
	base := time.Unix(1700000000, 0)
	now := base
	p := NewPendingWithClock(func() time.Time { return now })

	p.Register("5551234", "c1", "tok-1")
	now = base.Add(pendingTTL - time.Second)
	p.Register("5551234", "c2", "tok-2")

	now = base.Add(pendingTTL + time.Minute)
	cid, ok := p.Lookup("5551234")
	if !ok || cid != "c2" {
		t.Fatalf("lookup after re-register = %s/%v", cid, ok)
	}
}
