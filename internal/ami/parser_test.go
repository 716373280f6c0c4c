package ami

import (
	"strings"
	"testing"
)

func TestParserReadsBlocks(t *testing.T) {
	stream := "Asterisk Call Manager/5.0\r\n" +
		"Event: Newstate\r\n" +
		"Channel: Local/5551234@from-internal-0001;1\r\n" +
		"ChannelStateDesc: Ringing\r\n" +
		"Uniqueid: 1700000000.42\r\n" +
		"\r\n" +
		"Event: Hangup\r\n" +
		"Cause-txt: Normal Clearing\r\n" +
		"\r\n"

	events := NewParser(strings.NewReader(stream)).ParseAll()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type() != "Newstate" || events[0].Get("ChannelStateDesc") != "Ringing" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[0].UniqueID() != "1700000000.42" {
		t.Fatalf("unique id = %q", events[0].UniqueID())
	}
	if events[1].Type() != "Hangup" {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
}

func TestParserHandlesTrailingBlock(t *testing.T) {
	// No final blank line: the block still comes out at EOF.
	stream := "Event: DTMFEnd\r\nDigit: 0\r\n"
	events := NewParser(strings.NewReader(stream)).ParseAll()
	if len(events) != 1 || events[0].Get("Digit") != "0" {
		t.Fatalf("events = %+v", events)
	}
}

func TestParseBlockKeepsRepeatedKeys(t *testing.T) {
	evt := ParseBlock("Event: Newchannel\r\nVariable: FOO=1\r\nVariable: CAMPAIGN_ID=12\r\n")
	vars := evt.GetAll("Variable")
	if len(vars) != 2 || vars[1] != "CAMPAIGN_ID=12" {
		t.Fatalf("vars = %v", vars)
	}
}

func TestParseBlockIgnoresMalformedLines(t *testing.T) {
	evt := ParseBlock("Event: Hangup\r\nnot a header\r\nCause-txt: User busy\r\n")
	if evt.Type() != "Hangup" || evt.Get("Cause-txt") != "User busy" {
		t.Fatalf("event = %+v", evt)
	}
}

func TestEventHelpers(t *testing.T) {
	evt := NewEvent(
		"Response", "Success",
		"ActionID", "tok-1",
		"Priority", "3",
	)
	if !evt.IsResponse() {
		t.Fatalf("expected response")
	}
	if evt.ActionID() != "tok-1" {
		t.Fatalf("action id = %q", evt.ActionID())
	}
	if evt.GetInt("Priority") != 3 {
		t.Fatalf("priority = %d", evt.GetInt("Priority"))
	}
	if evt.Has("Missing") || evt.Get("Missing") != "" {
		t.Fatalf("missing key should be absent")
	}
	if evt.Len() != 3 {
		t.Fatalf("len = %d", evt.Len())
	}
}
