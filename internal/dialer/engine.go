package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"dialcast/internal/ami"
	"dialcast/internal/callstate"
	"dialcast/internal/campaign"
	"dialcast/internal/config"
	"dialcast/internal/directory"
	"dialcast/internal/notify"
	"dialcast/pkg/utils"
)

const (
	// completionPoll / completionChecks: a campaign is declared complete when
	// every tracked call has been terminal for this many consecutive polls.
	completionPoll   = 15 * time.Second
	completionChecks = 2

	// completionWindow caps how long the monitor waits before forcing the
	// campaign closed.
	completionWindow = time.Hour

	// watchdogIdle force-completes an in-progress campaign whose records have
	// seen no event at all for this long.
	watchdogIdle = 10 * time.Minute

	// concurrencyKey is the shared counter bounding simultaneous originations.
	concurrencyKey = "dialcast:active_calls"

	// slotRetryDelay is the pause between attempts to grab a concurrency slot.
	slotRetryDelay = 2 * time.Second
)

var (
	ErrCampaignInactive = errors.New("campaign is not active")
	ErrDoNotCall        = errors.New("recipient has opted out of calls")
)

// Engine places outbound calls for campaigns and drives them to completion.
// It owns the origination side; inbound events flow through the Correlator.
type Engine struct {
	cfg       config.DialerConfig
	super     *ami.Supervisor
	cli       *ami.CLI
	store     *callstate.Store
	pending   *Pending
	campaigns campaign.Repository
	members   directory.Repository
	notifier  notify.Publisher
	rdb       *redis.Client
	log       *slog.Logger

	now func() time.Time
}

// NewEngine wires an engine. rdb may be nil, which disables the process-wide
// concurrency cap (as does a zero ConcurrentCallLimit).
func NewEngine(
	cfg config.DialerConfig,
	super *ami.Supervisor,
	cli *ami.CLI,
	store *callstate.Store,
	pending *Pending,
	campaigns campaign.Repository,
	members directory.Repository,
	notifier notify.Publisher,
	rdb *redis.Client,
	log *slog.Logger,
) *Engine {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Engine{
		cfg:       cfg,
		super:     super,
		cli:       cli,
		store:     store,
		pending:   pending,
		campaigns: campaigns,
		members:   members,
		notifier:  notifier,
		rdb:       rdb,
		log:       log,
		now:       time.Now,
	}
}

// Execute runs one campaign end to end: dial every callable member, then
// monitor until every call reaches a terminal status. The scheduler has
// already claimed the campaign as ready; Execute flips it to in_progress when
// dialing actually starts. A campaign already in_progress is resumed.
func (e *Engine) Execute(ctx context.Context, campaignID string) error {
	log := e.log.With("campaign_id", campaignID)

	camp, err := e.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("load campaign: %w", err)
	}
	switch camp.Status {
	case campaign.StatusReady:
		claimed, err := e.campaigns.UpdateStatusIf(ctx, campaignID,
			campaign.StatusReady, campaign.StatusInProgress, "Dialing started")
		if err != nil {
			return fmt.Errorf("claim campaign: %w", err)
		}
		if !claimed {
			log.Info("campaign claimed elsewhere, skipping")
			return nil
		}
	case campaign.StatusInProgress:
	default:
		log.Info("campaign not runnable", "status", camp.Status)
		return nil
	}
	mediaPath, err := e.campaigns.AnnouncementPath(ctx, camp.AnnouncementID)
	if err != nil {
		e.failCampaign(ctx, campaignID, "Announcement asset not found")
		return fmt.Errorf("resolve announcement: %w", err)
	}
	mediaPath = e.resolveMedia(mediaPath)
	members, err := e.members.MembersForCampaign(ctx, camp.GroupFilter)
	if err != nil {
		e.failCampaign(ctx, campaignID, "Member listing failed")
		return fmt.Errorf("list members: %w", err)
	}
	if len(members) == 0 {
		_, _ = e.campaigns.UpdateStatus(ctx, campaignID, campaign.StatusCompleted, "No callable members matched")
		return nil
	}
	if !e.super.EnsureConnected() {
		e.failCampaign(ctx, campaignID, "PBX control channel unavailable")
		return errors.New("pbx unavailable")
	}

	log.Info("campaign dialing started", "members", len(members))

	dialed := 0
	for i, m := range members {
		if i > 0 && !sleepCtx(ctx, e.cfg.InterCallDelay) {
			return ctx.Err()
		}

		// Re-read the campaign each iteration so an operator abort stops the
		// loop within one inter-call delay.
		cur, err := e.campaigns.GetByID(ctx, campaignID)
		if err != nil || !cur.IsActive() {
			log.Info("campaign no longer active, stopping dial loop", "dialed", dialed)
			return nil
		}

		if r, ok := e.store.Get(campaignID, m.PhoneNumber); ok &&
			r.Status != callstate.StatusWaiting && r.Status != callstate.StatusPending {
			continue
		}

		if e.originate(ctx, camp, mediaPath, m.PhoneNumber) {
			dialed++
		}
	}

	log.Info("campaign dialing finished", "dialed", dialed)
	e.monitorCompletion(ctx, campaignID)
	return nil
}

// OriginateOne places a single call outside the campaign loop, for operator
// test calls and retries.
func (e *Engine) OriginateOne(ctx context.Context, campaignID, phone string) error {
	camp, err := e.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if !camp.IsActive() {
		return ErrCampaignInactive
	}
	mediaPath, err := e.campaigns.AnnouncementPath(ctx, camp.AnnouncementID)
	if err != nil {
		return fmt.Errorf("resolve announcement: %w", err)
	}
	mediaPath = e.resolveMedia(mediaPath)
	if m, err := e.members.FindByPhone(ctx, phone); err == nil && m.DoNotCall {
		return ErrDoNotCall
	}
	if !e.super.EnsureConnected() {
		return errors.New("pbx unavailable")
	}
	if !e.originate(ctx, camp, mediaPath, phone) {
		return errors.New("originate was not accepted")
	}
	return nil
}

// resolveMedia anchors relative announcement assets in the media directory.
// Playback on the PBX side expects the path without the audio extension.
func (e *Engine) resolveMedia(p string) string {
	if p == "" || path.IsAbs(p) {
		return p
	}
	return path.Join(e.cfg.MediaDir, p)
}

// originate issues one async Originate. The recipient is registered in the
// pending cache before the action leaves the process, so the very first event
// for the leg is attributable.
func (e *Engine) originate(ctx context.Context, camp campaign.Campaign, mediaPath, number string) bool {
	token := uuid.NewString()

	if !e.acquireSlot(ctx) {
		return false
	}

	e.pending.Register(number, camp.ID, token)
	e.apply(ctx, camp.ID, number, callstate.StatusPending, "Queued for dialing", "", token)

	params := map[string]string{
		"Channel":     "Local/" + number + "@" + e.cfg.ChannelContext,
		"Application": "Playback",
		"Data":        mediaPath,
		"Async":       "true",
		"Timeout":     strconv.FormatInt(e.cfg.OriginateTimeout.Milliseconds(), 10),
		"UserField":   camp.ID,
		"Variable":    "CAMPAIGN_ID=" + camp.ID + ",RECIPIENT=" + number,
		"ActionID":    token,
	}
	if camp.CallerIDName != "" {
		params["CallerID"] = camp.CallerIDName
	}

	if !e.super.SendAction("Originate", params) {
		e.pending.Clear(number)
		e.apply(ctx, camp.ID, number, callstate.StatusRejected, "Originate could not be delivered to PBX", "", token)
		e.releaseSlot()
		return false
	}

	e.apply(ctx, camp.ID, number, callstate.StatusDialing, "Dialing "+number, "", token)
	go e.releaseWhenDone(camp.ID, number)
	return true
}

// acquireSlot blocks until a concurrency slot is free. Disabled caps always
// succeed.
func (e *Engine) acquireSlot(ctx context.Context) bool {
	if e.rdb == nil || e.cfg.ConcurrentCallLimit <= 0 {
		return true
	}
	ttl := e.cfg.OriginateTimeout + time.Minute
	for {
		ok, err := utils.AcquireConcurrencyCap(ctx, e.rdb, concurrencyKey, e.cfg.ConcurrentCallLimit, ttl)
		if err != nil {
			// Never let a broken counter stall the campaign.
			e.log.Warn("concurrency cap unavailable, proceeding uncapped", "err", err)
			return true
		}
		if ok {
			return true
		}
		if !sleepCtx(ctx, slotRetryDelay) {
			return false
		}
	}
}

func (e *Engine) releaseSlot() {
	if e.rdb == nil || e.cfg.ConcurrentCallLimit <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := utils.ReleaseConcurrencyCap(ctx, e.rdb, concurrencyKey); err != nil {
		e.log.Warn("concurrency cap release failed", "err", err)
	}
}

// releaseWhenDone frees the call's concurrency slot once its record turns
// terminal, or after the origination timeout plus grace when no events came.
func (e *Engine) releaseWhenDone(campaignID, recipient string) {
	if e.rdb == nil || e.cfg.ConcurrentCallLimit <= 0 {
		return
	}
	deadline := e.now().Add(e.cfg.OriginateTimeout + time.Minute)
	for e.now().Before(deadline) {
		if e.store.IsComplete(campaignID, recipient) {
			break
		}
		time.Sleep(slotRetryDelay)
	}
	e.releaseSlot()
}

// Abort cancels a campaign: persistence is flipped to cancelled, every
// non-terminal record is marked aborted, and live channels for those
// recipients get best-effort hangup requests through the console.
func (e *Engine) Abort(ctx context.Context, campaignID string) error {
	ok, err := e.campaigns.UpdateStatus(ctx, campaignID, campaign.StatusCancelled, "Aborted by operator")
	if err != nil {
		return err
	}
	if !ok {
		return campaign.ErrNotFound
	}

	var inflight []string
	for recipient, r := range e.store.Snapshot(campaignID) {
		if r.Status.IsTerminal() {
			continue
		}
		e.apply(ctx, campaignID, recipient, callstate.StatusAborted, "Call aborted by operator", "", "")
		inflight = append(inflight, recipient)
	}

	if len(inflight) > 0 {
		e.hangupChannels(ctx, inflight)
	}
	e.log.Info("campaign aborted", "campaign_id", campaignID, "hangups_requested", len(inflight))
	return nil
}

// hangupChannels lists live channels through the console and requests hangup
// on every channel dialing one of the given numbers. Console failures are
// logged and ignored; the PBX will time the legs out on its own.
func (e *Engine) hangupChannels(ctx context.Context, recipients []string) {
	ok, out := e.cli.Run(ctx, "core show channels concise")
	if !ok {
		e.log.Warn("channel listing failed", "output", out)
		return
	}
	for _, line := range strings.Split(out, "\n") {
		name := strings.SplitN(strings.TrimSpace(line), "!", 2)[0]
		if name == "" {
			continue
		}
		for _, number := range recipients {
			if !strings.Contains(name, "/"+number+"@") {
				continue
			}
			if ok, msg := e.cli.Run(ctx, "channel request hangup "+name); !ok {
				e.log.Warn("hangup request failed", "channel", name, "output", msg)
			}
			break
		}
	}
}

// Reset returns one recipient to the waiting state so the next dial pass
// picks them up again. Recipients with no tracked call are reported as not
// applied rather than given a fresh waiting record.
func (e *Engine) Reset(ctx context.Context, campaignID, recipient string) bool {
	if _, ok := e.store.Get(campaignID, recipient); !ok {
		return false
	}
	applied := e.store.Update(campaignID, recipient, callstate.StatusWaiting, "", "", "")
	if applied {
		e.publish(ctx, campaignID, recipient, callstate.StatusWaiting, "Status manually reset")
	}
	return applied
}

// monitorCompletion polls the campaign's records until every call has been
// terminal for two consecutive checks, then persists the final status with a
// per-outcome tally. A campaign that never settles within the window is
// marked failed.
func (e *Engine) monitorCompletion(ctx context.Context, campaignID string) {
	log := e.log.With("campaign_id", campaignID)
	deadline := e.now().Add(completionWindow)
	consecutive := 0

	for {
		if !sleepCtx(ctx, completionPoll) {
			return
		}

		camp, err := e.campaigns.GetByID(ctx, campaignID)
		if err != nil || camp.IsTerminal() {
			return
		}

		if e.allTerminal(campaignID) {
			consecutive++
		} else {
			consecutive = 0
		}

		if consecutive >= completionChecks {
			summary := e.tally(campaignID)
			_, _ = e.campaigns.UpdateStatus(ctx, campaignID, campaign.StatusCompleted, summary)
			log.Info("campaign completed", "summary", summary)
			return
		}

		if e.now().After(deadline) {
			for recipient, r := range e.store.Snapshot(campaignID) {
				if r.Status.IsTerminal() {
					continue
				}
				e.apply(ctx, campaignID, recipient, callstate.StatusNoAnswer, "No final event received", "", "")
			}
			e.failCampaign(ctx, campaignID, "Monitoring window elapsed without completion")
			log.Warn("campaign monitoring timed out")
			return
		}
	}
}

func (e *Engine) allTerminal(campaignID string) bool {
	for _, r := range e.store.Snapshot(campaignID) {
		if !r.Finalized && !r.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// tally renders a stable "status=count" summary of a campaign's records.
func (e *Engine) tally(campaignID string) string {
	counts := make(map[string]int)
	for _, r := range e.store.Snapshot(campaignID) {
		counts[string(r.Status)]++
	}
	if len(counts) == 0 {
		return "No calls tracked"
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return "Calls: " + strings.Join(parts, ", ")
}

// forceComplete finalizes every non-terminal record as noanswer and closes
// the campaign.
func (e *Engine) forceComplete(ctx context.Context, campaignID, reason string) {
	for recipient, r := range e.store.Snapshot(campaignID) {
		if r.Status.IsTerminal() {
			continue
		}
		e.apply(ctx, campaignID, recipient, callstate.StatusNoAnswer, "No final event received", "", "")
	}
	_, _ = e.campaigns.UpdateStatus(ctx, campaignID, campaign.StatusCompleted, reason)
	e.log.Warn("campaign force-completed", "campaign_id", campaignID, "reason", reason)
}

// Watchdog force-completes in-progress campaigns whose records have gone
// silent. Runs until the context is cancelled.
func (e *Engine) Watchdog(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	for {
		if !sleepCtx(ctx, interval) {
			return
		}
		e.watchdogPass(ctx)
	}
}

func (e *Engine) watchdogPass(ctx context.Context) {
	for _, campaignID := range e.store.Campaigns() {
		camp, err := e.campaigns.GetByID(ctx, campaignID)
		if err != nil || camp.Status != campaign.StatusInProgress {
			continue
		}

		var newest time.Time
		stuck := false
		for _, r := range e.store.Snapshot(campaignID) {
			if r.Timestamp.After(newest) {
				newest = r.Timestamp
			}
			if !r.Finalized && !r.Status.IsTerminal() {
				stuck = true
			}
		}
		if !stuck || newest.IsZero() {
			continue
		}
		if e.now().Sub(newest) > watchdogIdle {
			e.forceComplete(ctx, campaignID, "Forced completion: no call activity for 10 minutes")
		}
	}
}

func (e *Engine) failCampaign(ctx context.Context, campaignID, details string) {
	if _, err := e.campaigns.UpdateStatus(ctx, campaignID, campaign.StatusFailed, details); err != nil {
		e.log.Error("campaign status update failed", "campaign_id", campaignID, "err", err)
	}
}

func (e *Engine) apply(ctx context.Context, campaignID, recipient string, st callstate.Status, details, legID, token string) {
	if e.store.Update(campaignID, recipient, st, details, legID, token) {
		e.publish(ctx, campaignID, recipient, st, details)
	}
}

func (e *Engine) publish(ctx context.Context, campaignID, recipient string, st callstate.Status, details string) {
	e.notifier.Publish(ctx, notify.StatusChange{
		CampaignID: campaignID,
		Recipient:  recipient,
		Status:     string(st),
		Details:    details,
		Timestamp:  time.Now().UTC(),
	})
}

// sleepCtx sleeps for d, returning false when the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
