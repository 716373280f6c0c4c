package dialer

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"dialcast/internal/ami"
	"dialcast/internal/callstate"
	"dialcast/internal/campaign"
	"dialcast/internal/directory"
	"dialcast/internal/notify"
)

// noisyEvents are high-volume diagnostic types that routinely fail
// correlation; they are dropped without logging.
var noisyEvents = map[string]bool{
	"RTCPReceived":    true,
	"RTCPSent":        true,
	"ExtensionStatus": true,
	"AGIExec":         true,
	"VarSet":          true,
	"Bridge":          true,
}

// eventTimeout bounds the persistence lookups one event may trigger.
const eventTimeout = 5 * time.Second

// Correlator maps inbound PBX events back to (campaign, recipient) pairs and
// applies the resulting status transitions. The signaling stream is lossy and
// mostly irrelevant, so a failed correlation is never an error: the event is
// logged and dropped.
type Correlator struct {
	store     *callstate.Store
	pending   *Pending
	dtmf      *DTMFBuffer
	campaigns campaign.Repository
	members   directory.Repository
	notifier  notify.Publisher
	log       *slog.Logger
}

func NewCorrelator(
	store *callstate.Store,
	pending *Pending,
	dtmf *DTMFBuffer,
	campaigns campaign.Repository,
	members directory.Repository,
	notifier notify.Publisher,
	log *slog.Logger,
) *Correlator {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Correlator{
		store:     store,
		pending:   pending,
		dtmf:      dtmf,
		campaigns: campaigns,
		members:   members,
		notifier:  notifier,
		log:       log,
	}
}

// HandleEvent is attached to the connection supervisor as an event handler.
// It must never panic the listener; unattributable events are dropped.
func (c *Correlator) HandleEvent(evt ami.Event) {
	typ := evt.Type()
	if typ == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	campaignID, recipient := c.resolve(ctx, evt)
	if campaignID == "" || recipient == "" {
		if !noisyEvents[typ] {
			c.log.Debug("dropping unattributable event",
				"event", typ, "leg_id", evt.UniqueID(), "token", evt.ActionID())
		}
		return
	}

	// The campaign may have been cancelled or completed since the call went
	// out; re-check before applying anything.
	camp, err := c.campaigns.GetByID(ctx, campaignID)
	if err != nil || !camp.IsActive() {
		c.log.Debug("dropping event for inactive campaign",
			"event", typ, "campaign_id", campaignID, "recipient", recipient)
		return
	}

	c.applyTransition(ctx, evt, campaignID, recipient)
}

// resolve attributes one event, trying correlation sources from most to
// least reliable.
func (c *Correlator) resolve(ctx context.Context, evt ami.Event) (campaignID, recipient string) {
	token := evt.ActionID()
	legID := evt.UniqueID()

	// 1. Acknowledgements carry the action token of the origination they
	// answer: the pending cache resolves them even before any record scan.
	if evt.Type() == "OriginateResponse" && token != "" {
		if rcpt := extractRecipient(evt); rcpt != "" {
			if cid, ok := c.pending.Lookup(rcpt); ok {
				return cid, rcpt
			}
		}
		if cid, rcpt, ok := c.store.FindByToken(token); ok {
			return cid, rcpt
		}
	}

	// 2. Match the call-leg id against in-flight records of campaigns that
	// are still persisted as active.
	if legID != "" {
		if cid, rcpt, ok := c.matchByLeg(ctx, legID); ok {
			return cid, rcpt
		}
	}

	// 3. Match the token against records still in the dialing phase.
	if token != "" {
		if cid, rcpt, ok := c.store.FindByToken(token,
			callstate.StatusDialing, callstate.StatusRinging, callstate.StatusPending); ok {
			return cid, rcpt
		}
	}

	// 4-6. Fall back to field extraction plus recipient-based resolution.
	recipient = extractRecipient(evt)
	if recipient == "" {
		return "", ""
	}
	if campaignID = extractCampaign(evt); campaignID != "" {
		return campaignID, recipient
	}
	return c.resolveCampaignForRecipient(ctx, recipient), recipient
}

func (c *Correlator) matchByLeg(ctx context.Context, legID string) (string, string, bool) {
	snapshot := c.store.SnapshotAll()
	ids := make([]string, 0, len(snapshot))
	for cid := range snapshot {
		ids = append(ids, cid)
	}
	active, err := c.campaigns.ActiveIDs(ctx, ids)
	if err != nil {
		c.log.Warn("active campaign lookup failed", "err", err)
		return "", "", false
	}
	for cid, recs := range snapshot {
		if !active[cid] {
			continue
		}
		for rcpt, r := range recs {
			if r.LegID == legID && r.Status.InFlight() {
				return cid, rcpt, true
			}
		}
	}
	return "", "", false
}

// resolveCampaignForRecipient is the last-resort campaign lookup: the pending
// cache, then in-flight records in memory, then the most recent active
// campaign in persistence that targets the recipient.
func (c *Correlator) resolveCampaignForRecipient(ctx context.Context, recipient string) string {
	if cid, ok := c.pending.Lookup(recipient); ok {
		return cid
	}
	for cid, recs := range c.store.SnapshotAll() {
		if r, ok := recs[recipient]; ok && r.Status.InFlight() {
			return cid
		}
	}
	camp, err := c.campaigns.FindRecentActiveByRecipient(ctx, recipient)
	if err != nil {
		return ""
	}
	return camp.ID
}

func (c *Correlator) applyTransition(ctx context.Context, evt ami.Event, campaignID, recipient string) {
	token := evt.ActionID()
	legID := evt.UniqueID()

	switch evt.Type() {
	case "Newstate":
		switch evt.Get("ChannelStateDesc") {
		case "Ringing":
			c.apply(ctx, campaignID, recipient, callstate.StatusRinging, "Phone is ringing", legID, token)
		case "Up":
			c.apply(ctx, campaignID, recipient, callstate.StatusAnswered, "Call answered", legID, token)
		}

	case "OriginateResponse":
		c.handleOriginateResponse(ctx, evt, campaignID, recipient)

	case "Hangup":
		c.handleHangup(ctx, evt, campaignID, recipient)

	case "DTMFEnd":
		c.handleDTMF(ctx, evt, campaignID, recipient)
	}
}

func (c *Correlator) handleOriginateResponse(ctx context.Context, evt ami.Event, campaignID, recipient string) {
	legID := evt.UniqueID()
	token := evt.ActionID()

	switch evt.Get("Response") {
	case "Success":
		if legID != "" {
			c.store.SetLegID(campaignID, recipient, legID)
		}
		c.pending.Clear(recipient)
		if r, ok := c.store.Get(campaignID, recipient); ok &&
			(r.Status == callstate.StatusDialing || r.Status == callstate.StatusPending) {
			c.apply(ctx, campaignID, recipient, callstate.StatusDialing,
				"Originate accepted, channel: "+evt.Get("Channel"), legID, token)
		}
	case "Failure":
		c.pending.Clear(recipient)
		c.apply(ctx, campaignID, recipient, callstate.StatusRejected,
			"Originate failed: "+evt.Get("Reason"), legID, token)
	}
}

// handleHangup selects the terminal status from the human-readable hangup
// cause. A recipient already opted out or aborted keeps that status; cause
// text never overrides it.
func (c *Correlator) handleHangup(ctx context.Context, evt ami.Event, campaignID, recipient string) {
	cause := evt.Get("Cause-txt")
	if cause == "" {
		cause = "Unknown"
	}

	var current callstate.Status
	if r, ok := c.store.Get(campaignID, recipient); ok {
		current = r.Status
	}

	final, details := classifyHangup(cause, current)
	c.apply(ctx, campaignID, recipient, final, details, evt.UniqueID(), evt.ActionID())
}

// classifyHangup maps a hangup cause string to a terminal status by
// case-insensitive substring matching.
func classifyHangup(cause string, current callstate.Status) (callstate.Status, string) {
	switch current {
	case callstate.StatusOptedOut:
		return callstate.StatusOptedOut, "Recipient opted out (0# pressed)"
	case callstate.StatusAborted:
		return callstate.StatusAborted, "Call aborted by operator"
	}

	lower := strings.ToLower(cause)
	switch {
	case strings.Contains(lower, "busy"):
		return callstate.StatusBusy, "Line busy: " + cause
	case strings.Contains(lower, "no answer"), strings.Contains(lower, "timeout"):
		return callstate.StatusNoAnswer, "No answer/timeout: " + cause
	case strings.Contains(lower, "rejected"),
		strings.Contains(lower, "congestion"),
		strings.Contains(lower, "unallocated"):
		return callstate.StatusRejected, "Call rejected/failed: " + cause
	default:
		return callstate.StatusCompleted, "Call completed: " + cause
	}
}

func (c *Correlator) handleDTMF(ctx context.Context, evt ami.Event, campaignID, recipient string) {
	digit := evt.Get("Digit")
	if digit == "" {
		return
	}

	c.apply(ctx, campaignID, recipient, callstate.StatusDTMFReceived,
		"Pressed "+digit, evt.UniqueID(), evt.ActionID())

	if !c.dtmf.Press(recipient, digit) {
		return
	}

	member, err := c.members.FindByPhone(ctx, recipient)
	if err != nil {
		c.log.Warn("opt-out detected but recipient not in directory",
			"recipient", recipient, "err", err)
		return
	}
	if err := c.members.SetDoNotCall(ctx, member.ID, true); err != nil {
		c.log.Error("opt-out flag update failed", "member_id", member.ID, "err", err)
		return
	}
	c.apply(ctx, campaignID, recipient, callstate.StatusOptedOut,
		"Recipient pressed 0# to opt out", evt.UniqueID(), evt.ActionID())
	c.log.Info("recipient opted out", "campaign_id", campaignID, "recipient", recipient)
}

// apply pushes one transition through the store's merge policy and publishes
// it when it sticks.
func (c *Correlator) apply(ctx context.Context, campaignID, recipient string, st callstate.Status, details, legID, token string) {
	if !c.store.Update(campaignID, recipient, st, details, legID, token) {
		return
	}
	c.notifier.Publish(ctx, notify.StatusChange{
		CampaignID: campaignID,
		Recipient:  recipient,
		Status:     string(st),
		Details:    details,
		Timestamp:  time.Now().UTC(),
	})
}
