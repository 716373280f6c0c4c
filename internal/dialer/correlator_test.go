package dialer

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"dialcast/internal/ami"
	"dialcast/internal/callstate"
	"dialcast/internal/campaign"
	"dialcast/internal/directory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type correlatorFixture struct {
	store     *callstate.Store
	pending   *Pending
	dtmf      *DTMFBuffer
	campaigns *campaign.MemoryRepo
	members   *directory.MemoryRepo
	cor       *Correlator
}

func newCorrelatorFixture() *correlatorFixture {
	f := &correlatorFixture{
		store:     callstate.NewStore(),
		pending:   NewPending(),
		dtmf:      NewDTMFBuffer(),
		campaigns: campaign.NewMemoryRepo(),
		members:   directory.NewMemoryRepo(),
	}
	f.cor = NewCorrelator(f.store, f.pending, f.dtmf, f.campaigns, f.members, nil, testLogger())
	return f
}

func (f *correlatorFixture) addCampaign(id, status string) {
	f.campaigns.Campaigns[id] = campaign.Campaign{ID: id, Status: status}
}

func (f *correlatorFixture) status(campaignID, recipient string) callstate.Status {
	r, _ := f.store.Get(campaignID, recipient)
	return r.Status
}

func TestOriginateSuccessViaPendingCache(t *testing.T) {
	f := newCorrelatorFixture()
	f.addCampaign("c1", campaign.StatusInProgress)
	f.pending.Register("5551234", "c1", "tok-1")
	f.store.Update("c1", "5551234", callstate.StatusDialing, "dialing", "", "tok-1")

	f.cor.HandleEvent(ami.NewEvent(
		"Event", "OriginateResponse",
		"Response", "Success",
		"ActionID", "tok-1",
		"CallerIDNum", "5551234",
		"Channel", "Local/5551234@from-internal-0001;1",
		"Uniqueid", "1700000000.1",
	))

	r, ok := f.store.Get("c1", "5551234")
	if !ok || r.Status != callstate.StatusDialing {
		t.Fatalf("record = %+v", r)
	}
	if r.LegID != "1700000000.1" {
		t.Fatalf("leg id not attached: %+v", r)
	}
	if _, ok := f.pending.Lookup("5551234"); ok {
		t.Fatalf("pending entry should be cleared after correlation")
	}
}

func TestOriginateFailureMarksRejected(t *testing.T) {
	f := newCorrelatorFixture()
	f.addCampaign("c1", campaign.StatusInProgress)
	f.store.Update("c1", "5551234", callstate.StatusDialing, "dialing", "", "tok-1")

	f.cor.HandleEvent(ami.NewEvent(
		"Event", "OriginateResponse",
		"Response", "Failure",
		"ActionID", "tok-1",
		"Reason", "3",
		"CallerIDNum", "5551234",
	))

	if got := f.status("c1", "5551234"); got != callstate.StatusRejected {
		t.Fatalf("status = %s, want rejected", got)
	}
}

func TestNewstateResolvedByLegID(t *testing.T) {
	f := newCorrelatorFixture()
	f.addCampaign("c1", campaign.StatusInProgress)
	f.store.Update("c1", "5551234", callstate.StatusDialing, "dialing", "leg-1", "tok-1")

	f.cor.HandleEvent(ami.NewEvent(
		"Event", "Newstate",
		"ChannelStateDesc", "Ringing",
		"Uniqueid", "leg-1",
	))
	if got := f.status("c1", "5551234"); got != callstate.StatusRinging {
		t.Fatalf("status = %s, want ringing", got)
	}

	f.cor.HandleEvent(ami.NewEvent(
		"Event", "Newstate",
		"ChannelStateDesc", "Up",
		"Uniqueid", "leg-1",
	))
	if got := f.status("c1", "5551234"); got != callstate.StatusAnswered {
		t.Fatalf("status = %s, want answered", got)
	}
}

func TestHangupCauseClassification(t *testing.T) {
	cases := []struct {
		cause string
		want  callstate.Status
	}{
		{"User busy", callstate.StatusBusy},
		{"No answer", callstate.StatusNoAnswer},
		{"Timeout over specified timeout", callstate.StatusNoAnswer},
		{"Call Rejected", callstate.StatusRejected},
		{"Circuit/channel congestion", callstate.StatusRejected},
		{"Unallocated (unassigned) number", callstate.StatusRejected},
		{"Normal Clearing", callstate.StatusCompleted},
		{"", callstate.StatusCompleted},
	}
	for _, tc := range cases {
		f := newCorrelatorFixture()
		f.addCampaign("c1", campaign.StatusInProgress)
		f.store.Update("c1", "5551234", callstate.StatusAnswered, "answered", "leg-1", "tok-1")

		f.cor.HandleEvent(ami.NewEvent(
			"Event", "Hangup",
			"Uniqueid", "leg-1",
			"Cause-txt", tc.cause,
		))
		if got := f.status("c1", "5551234"); got != tc.want {
			t.Fatalf("cause %q: status = %s, want %s", tc.cause, got, tc.want)
		}
	}
}

func TestHangupPreservesOptedOut(t *testing.T) {
	f := newCorrelatorFixture()
	f.addCampaign("c1", campaign.StatusInProgress)
	f.campaigns.RecipientCampaigns["5551234"] = "c1"
	f.store.Update("c1", "5551234", callstate.StatusOptedOut, "opted out", "leg-1", "tok-1")

	// A terminal cause must not repaint an opt-out; the leg-id scan skips the
	// finalized record, so resolution goes through recipient extraction.
	f.cor.HandleEvent(ami.NewEvent(
		"Event", "Hangup",
		"Uniqueid", "leg-1",
		"CallerIDNum", "5551234",
		"Cause-txt", "Normal Clearing",
	))
	if got := f.status("c1", "5551234"); got != callstate.StatusOptedOut {
		t.Fatalf("status = %s, want opted_out", got)
	}
}

func TestDTMFOptOutFlow(t *testing.T) {
	f := newCorrelatorFixture()
	f.addCampaign("c1", campaign.StatusInProgress)
	f.members.Add(directory.Member{ID: "m1", PhoneNumber: "5551234"})
	f.store.Update("c1", "5551234", callstate.StatusAnswered, "answered", "leg-1", "tok-1")

	f.cor.HandleEvent(ami.NewEvent("Event", "DTMFEnd", "Uniqueid", "leg-1", "Digit", "0"))
	if got := f.status("c1", "5551234"); got != callstate.StatusDTMFReceived {
		t.Fatalf("status after first digit = %s", got)
	}

	f.cor.HandleEvent(ami.NewEvent("Event", "DTMFEnd", "Uniqueid", "leg-1", "Digit", "#"))
	if got := f.status("c1", "5551234"); got != callstate.StatusOptedOut {
		t.Fatalf("status after sequence = %s, want opted_out", got)
	}

	m, err := f.members.FindByPhone(context.Background(), "5551234")
	if err != nil || !m.DoNotCall {
		t.Fatalf("do-not-call flag not set: %+v err=%v", m, err)
	}
}

func TestInactiveCampaignEventsDropped(t *testing.T) {
	f := newCorrelatorFixture()
	f.addCampaign("c1", campaign.StatusCancelled)
	f.store.Update("c1", "5551234", callstate.StatusAnswered, "answered", "leg-1", "tok-1")

	f.cor.HandleEvent(ami.NewEvent(
		"Event", "Hangup",
		"Uniqueid", "leg-1",
		"CallerIDNum", "5551234",
		"Variable", "CAMPAIGN_ID=c1",
		"Cause-txt", "Normal Clearing",
	))
	if got := f.status("c1", "5551234"); got != callstate.StatusAnswered {
		t.Fatalf("event for cancelled campaign applied, status = %s", got)
	}
}

func TestRecipientFallbackResolution(t *testing.T) {
	f := newCorrelatorFixture()
	f.addCampaign("c1", campaign.StatusInProgress)
	f.campaigns.RecipientCampaigns["5551234"] = "c1"

	// No record, no pending entry, no campaign field: the persistence
	// fallback attributes the event and creates the record.
	f.cor.HandleEvent(ami.NewEvent(
		"Event", "Hangup",
		"CallerIDNum", "5551234",
		"Cause-txt", "User busy",
	))
	if got := f.status("c1", "5551234"); got != callstate.StatusBusy {
		t.Fatalf("status = %s, want busy", got)
	}
}

func TestUnattributableEventIgnored(t *testing.T) {
	f := newCorrelatorFixture()
	f.addCampaign("c1", campaign.StatusInProgress)

	f.cor.HandleEvent(ami.NewEvent("Event", "VarSet", "Variable", "FOO=1"))
	f.cor.HandleEvent(ami.NewEvent("Event", "Hangup", "Channel", "SIP/trunk-0001"))

	if f.store.Len("c1") != 0 {
		t.Fatalf("unattributable events created records")
	}
}

func TestStaleRingingAfterHangup(t *testing.T) {
	f := newCorrelatorFixture()
	f.addCampaign("c1", campaign.StatusInProgress)
	f.store.Update("c1", "5551234", callstate.StatusCompleted, "done", "leg-1", "tok-1")

	f.cor.HandleEvent(ami.NewEvent(
		"Event", "Newstate",
		"ChannelStateDesc", "Ringing",
		"CallerIDNum", "5551234",
		"Variable", "CAMPAIGN_ID=c1",
		"Uniqueid", "leg-1",
	))
	if got := f.status("c1", "5551234"); got != callstate.StatusCompleted {
		t.Fatalf("stale ringing regressed a completed call: %s", got)
	}
}
