package dialer

import (
	"context"
	"testing"
	"time"

	"dialcast/internal/ami"
	"dialcast/internal/callstate"
	"dialcast/internal/campaign"
)

func newSchedulerFixture(clock func() time.Time) (*Scheduler, *engineFixture) {
	f := newEngineFixture(clock)
	super := ami.NewSupervisor(ami.Config{Addr: "127.0.0.1:1", Username: "u", Secret: "s"}, testLogger())
	cli := &ami.CLI{Path: "/bin/echo"}
	s := NewScheduler(f.engine, super, cli, f.store, f.campaigns, testLogger())
	if clock != nil {
		s.now = clock
	}
	return s, f
}

func TestPromoteDueClaimsCampaignOnce(t *testing.T) {
	s, f := newSchedulerFixture(nil)
	// Announcement deliberately missing so the launched execution fails fast
	// instead of dialing.
	f.campaigns.Campaigns["c1"] = campaign.Campaign{
		ID:          "c1",
		Status:      campaign.StatusPending,
		ScheduledAt: time.Now().Add(-time.Minute),
	}

	s.promoteDue(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for {
		c, _ := f.campaigns.GetByID(context.Background(), "c1")
		if c.Status != campaign.StatusPending {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("campaign never claimed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// A second pass finds nothing due.
	s.promoteDue(context.Background())
	due, _ := f.campaigns.ListDue(context.Background(), time.Now())
	if len(due) != 0 {
		t.Fatalf("claimed campaign still listed as due")
	}
}

func TestPromoteSkipsFutureCampaigns(t *testing.T) {
	s, f := newSchedulerFixture(nil)
	f.campaigns.Campaigns["c1"] = campaign.Campaign{
		ID:          "c1",
		Status:      campaign.StatusPending,
		ScheduledAt: time.Now().Add(time.Hour),
	}
	s.promoteDue(context.Background())
	c, _ := f.campaigns.GetByID(context.Background(), "c1")
	if c.Status != campaign.StatusPending {
		t.Fatalf("future campaign was promoted")
	}
}

func TestSweepStuckFinalizesDeadLegs(t *testing.T) {
	base := time.Unix(1700000000, 0)
	now := base
	s, f := newSchedulerFixture(func() time.Time { return now })
	f.campaigns.Campaigns["c1"] = campaign.Campaign{ID: "c1", Status: campaign.StatusInProgress}

	f.store.Update("c1", "111", callstate.StatusDialing, "dialing", "", "tok-1")
	now = base.Add(2 * time.Minute)
	f.store.Update("c1", "222", callstate.StatusRinging, "ringing", "", "tok-2")

	// The echo CLI's channel listing contains no live channels, so the old
	// dialing record is finalized; the fresh ringing one is left alone.
	s.sweepStuck(context.Background())

	if r, _ := f.store.Get("c1", "111"); r.Status != callstate.StatusNoAnswer {
		t.Fatalf("stuck call status = %s, want noanswer", r.Status)
	}
	if r, _ := f.store.Get("c1", "222"); r.Status != callstate.StatusRinging {
		t.Fatalf("fresh call repainted: %s", r.Status)
	}
}

func TestCleanupStaleDropsFinishedCampaigns(t *testing.T) {
	base := time.Unix(1700000000, 0)
	now := base
	s, f := newSchedulerFixture(func() time.Time { return now })
	f.campaigns.Campaigns["c1"] = campaign.Campaign{ID: "c1", Status: campaign.StatusCompleted}

	f.store.Update("c1", "111", callstate.StatusCompleted, "done", "", "")

	now = base.Add(staleFinalizedAge + time.Minute)
	s.cleanupStale(context.Background())

	if s.store.Len("c1") != 0 {
		t.Fatalf("stale record survived cleanup")
	}
	if len(f.store.Campaigns()) != 0 {
		t.Fatalf("terminal campaign not dropped from the store")
	}
}

func TestCleanupKeepsActiveCampaigns(t *testing.T) {
	base := time.Unix(1700000000, 0)
	now := base
	s, f := newSchedulerFixture(func() time.Time { return now })
	f.campaigns.Campaigns["c1"] = campaign.Campaign{ID: "c1", Status: campaign.StatusInProgress}
	f.store.Update("c1", "111", callstate.StatusRinging, "", "", "")

	now = base.Add(staleFinalizedAge + time.Minute)
	s.cleanupStale(context.Background())

	if f.store.Len("c1") != 1 {
		t.Fatalf("live record removed by cleanup")
	}
}
