package dialer

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"dialcast/internal/ami"
	"dialcast/internal/callstate"
	"dialcast/internal/campaign"
)

const (
	// schedulerTick drives due-campaign promotion and the maintenance sweeps.
	schedulerTick = time.Minute

	// stuckThreshold is how long a record may sit in dialing/ringing before
	// the sweep verifies it against live channels.
	stuckThreshold = time.Minute

	// staleFinalizedAge is how long finalized records stay visible before
	// cleanup removes them.
	staleFinalizedAge = 5 * time.Minute
)

// Scheduler promotes due campaigns into execution and runs the periodic
// maintenance sweeps: stuck-call detection, stale record cleanup, and the
// control-channel heartbeat. Promotion uses the repository's compare-and-set
// so multiple replicas never execute the same campaign twice.
type Scheduler struct {
	engine    *Engine
	super     *ami.Supervisor
	cli       *ami.CLI
	store     *callstate.Store
	campaigns campaign.Repository
	log       *slog.Logger

	now func() time.Time
}

func NewScheduler(engine *Engine, super *ami.Supervisor, cli *ami.CLI, store *callstate.Store, campaigns campaign.Repository, log *slog.Logger) *Scheduler {
	return &Scheduler{
		engine:    engine,
		super:     super,
		cli:       cli,
		store:     store,
		campaigns: campaigns,
		log:       log,
		now:       time.Now,
	}
}

// Run ticks until the context is cancelled. Campaign executions it launches
// inherit the same context.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("scheduler started", "tick", schedulerTick.String())
	for {
		if !sleepCtx(ctx, schedulerTick) {
			s.log.Info("scheduler stopped")
			return
		}
		s.Tick(ctx)
	}
}

// Tick runs one scheduler pass. Exposed for tests.
func (s *Scheduler) Tick(ctx context.Context) {
	s.super.Heartbeat()
	s.promoteDue(ctx)
	s.sweepStuck(ctx)
	s.cleanupStale(ctx)
}

// promoteDue claims every pending campaign whose scheduled time has passed
// and launches its execution.
func (s *Scheduler) promoteDue(ctx context.Context) {
	due, err := s.campaigns.ListDue(ctx, s.now())
	if err != nil {
		s.log.Warn("due campaign listing failed", "err", err)
		return
	}
	for _, camp := range due {
		claimed, err := s.campaigns.UpdateStatusIf(ctx, camp.ID,
			campaign.StatusPending, campaign.StatusReady, "Queued for dialing")
		if err != nil {
			s.log.Warn("campaign promotion failed", "campaign_id", camp.ID, "err", err)
			continue
		}
		if !claimed {
			// Another worker took it.
			continue
		}
		s.log.Info("campaign promoted for execution", "campaign_id", camp.ID)
		go func(id string) {
			if err := s.engine.Execute(ctx, id); err != nil {
				s.log.Error("campaign execution failed", "campaign_id", id, "err", err)
			}
		}(camp.ID)
	}
}

// sweepStuck finds records wedged in dialing/ringing past the threshold,
// checks whether the PBX still has a live channel for them, and finalizes the
// ones it does not. The channel listing is fetched once per sweep.
func (s *Scheduler) sweepStuck(ctx context.Context) {
	type stuckCall struct {
		campaignID string
		recipient  string
		status     callstate.Status
	}
	var stuck []stuckCall

	cutoff := s.now().Add(-stuckThreshold)
	for campaignID, recs := range s.store.SnapshotAll() {
		for recipient, r := range recs {
			if r.Status.IsTransitional() && r.Timestamp.Before(cutoff) {
				stuck = append(stuck, stuckCall{campaignID, recipient, r.Status})
			}
		}
	}
	if len(stuck) == 0 {
		return
	}

	ok, channels := s.cli.Run(ctx, "core show channels concise")
	if !ok {
		s.log.Warn("stuck sweep skipped, channel listing failed", "output", channels)
		return
	}

	for _, c := range stuck {
		if strings.Contains(channels, "/"+c.recipient+"@") {
			// The leg is still live on the PBX; leave it alone.
			continue
		}
		applied := s.store.Update(c.campaignID, c.recipient, callstate.StatusNoAnswer,
			"No live channel found for call stuck in "+string(c.status), "", "")
		if applied {
			s.log.Info("stuck call finalized",
				"campaign_id", c.campaignID, "recipient", c.recipient, "was", string(c.status))
		}
	}
}

// cleanupStale drops finalized records older than five minutes and releases
// whole campaigns once they are terminal in persistence with nothing left to
// track.
func (s *Scheduler) cleanupStale(ctx context.Context) {
	for _, campaignID := range s.store.Campaigns() {
		removed := s.store.RemoveFinalizedBefore(campaignID, s.now().Add(-staleFinalizedAge))
		if len(removed) > 0 {
			s.log.Debug("stale records removed", "campaign_id", campaignID, "count", len(removed))
		}
		if s.store.Len(campaignID) > 0 {
			continue
		}
		camp, err := s.campaigns.GetByID(ctx, campaignID)
		if err == nil && !camp.IsTerminal() {
			continue
		}
		s.store.DropCampaign(campaignID)
	}
}
