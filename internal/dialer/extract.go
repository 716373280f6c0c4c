package dialer

import (
	"strings"

	"dialcast/internal/ami"
)

// Identity extraction from noisy events is an ordered list of independent
// pure functions: each one either produces a value or defers to the next.

// extractRecipient pulls the dialed number out of an event, in priority
// order: explicit caller-number field, connected-line field, dialed
// extension, then a channel string of the form prefix/<number>@context.
func extractRecipient(evt ami.Event) string {
	if v := evt.Get("CallerIDNum"); isAllDigits(v) {
		return v
	}
	if v := evt.Get("ConnectedLineNum"); isAllDigits(v) {
		return v
	}
	if v := evt.Get("Exten"); isAllDigits(v) {
		return v
	}
	return recipientFromChannel(evt.Get("Channel"))
}

// recipientFromChannel parses "Local/5551234@from-internal-00000001;1" style
// channel names down to the dialed number.
func recipientFromChannel(channel string) string {
	slash := strings.Index(channel, "/")
	if slash < 0 {
		return ""
	}
	rest := channel[slash+1:]
	at := strings.Index(rest, "@")
	if at < 0 {
		return ""
	}
	num := rest[:at]
	if !isAllDigits(num) {
		return ""
	}
	return num
}

// extractCampaign pulls the campaign id out of an event: an explicit
// CAMPAIGN_ID header, a KEY=VALUE variable blob, then a numeric UserField.
func extractCampaign(evt ami.Event) string {
	if v := evt.Get("CAMPAIGN_ID"); v != "" {
		return v
	}
	for _, key := range []string{"Variable", "ChanVariable"} {
		for _, blob := range evt.GetAll(key) {
			if id := campaignFromVariables(blob); id != "" {
				return id
			}
		}
	}
	if v := evt.Get("UserField"); isAllDigits(v) {
		return v
	}
	return ""
}

// campaignFromVariables scans a comma-separated KEY=VALUE blob for
// CAMPAIGN_ID.
func campaignFromVariables(blob string) string {
	for _, v := range strings.Split(blob, ",") {
		v = strings.TrimSpace(v)
		if strings.HasPrefix(v, "CAMPAIGN_ID=") {
			return strings.TrimSpace(strings.TrimPrefix(v, "CAMPAIGN_ID="))
		}
	}
	return ""
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
