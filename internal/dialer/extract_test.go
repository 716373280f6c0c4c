package dialer

import (
	"testing"

	"dialcast/internal/ami"
)

func TestExtractRecipient(t *testing.T) {
	cases := []struct {
		name string
		evt  ami.Event
		want string
	}{
		{"caller id num", ami.NewEvent("CallerIDNum", "5551234"), "5551234"},
		{"connected line", ami.NewEvent("CallerIDNum", "<unknown>", "ConnectedLineNum", "5551234"), "5551234"},
		{"exten", ami.NewEvent("Exten", "5551234"), "5551234"},
		{"channel parse", ami.NewEvent("Channel", "Local/5551234@from-internal-00000001;1"), "5551234"},
		{"channel without at", ami.NewEvent("Channel", "SIP/trunk-0001"), ""},
		{"non numeric exten", ami.NewEvent("Exten", "s"), ""},
		{"empty event", ami.NewEvent(), ""},
	}
	for _, tc := range cases {
		if got := extractRecipient(tc.evt); got != tc.want {
			t.Fatalf("%s: extractRecipient = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestExtractCampaign(t *testing.T) {
	cases := []struct {
		name string
		evt  ami.Event
		want string
	}{
		{"explicit header", ami.NewEvent("CAMPAIGN_ID", "42"), "42"},
		{"variable blob", ami.NewEvent("Variable", "FOO=1,CAMPAIGN_ID=42,BAR=2"), "42"},
		{"chan variable blob", ami.NewEvent("ChanVariable", "CAMPAIGN_ID=42"), "42"},
		{"repeated variables", ami.NewEvent("Variable", "FOO=1", "Variable", "CAMPAIGN_ID=42"), "42"},
		{"numeric user field", ami.NewEvent("UserField", "42"), "42"},
		{"non numeric user field", ami.NewEvent("UserField", "abc"), ""},
		{"nothing", ami.NewEvent("Channel", "Local/111@ctx;1"), ""},
	}
	for _, tc := range cases {
		if got := extractCampaign(tc.evt); got != tc.want {
			t.Fatalf("%s: extractCampaign = %q, want %q", tc.name, got, tc.want)
		}
	}
}
