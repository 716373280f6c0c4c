package callstate

import "testing"

func TestSignificanceOrdering(t *testing.T) {
	order := []Status{
		StatusUnknown, StatusPending, StatusWaiting, StatusDialing,
		StatusRinging, StatusAnswered, StatusDTMFReceived, StatusCompleted,
		StatusOptedOut,
	}
	for i := 1; i < len(order); i++ {
		if order[i].Significance() <= order[i-1].Significance() {
			t.Fatalf("%s should rank above %s", order[i], order[i-1])
		}
	}
	for _, st := range []Status{StatusNoAnswer, StatusBusy, StatusRejected, StatusAborted} {
		if st.Significance() <= StatusOptedOut.Significance() {
			t.Fatalf("%s should rank above opted_out", st)
		}
	}
}

func TestTerminalSet(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusOptedOut, StatusNoAnswer, StatusBusy, StatusRejected, StatusAborted}
	for _, st := range terminal {
		if !st.IsTerminal() {
			t.Fatalf("%s should be terminal", st)
		}
	}
	for _, st := range []Status{StatusPending, StatusWaiting, StatusDialing, StatusRinging, StatusAnswered, StatusDTMFReceived} {
		if st.IsTerminal() {
			t.Fatalf("%s should not be terminal", st)
		}
	}
}

func TestTransitionalAndInFlight(t *testing.T) {
	if !StatusDialing.IsTransitional() || !StatusRinging.IsTransitional() {
		t.Fatalf("dialing/ringing are transitional")
	}
	if StatusAnswered.IsTransitional() {
		t.Fatalf("answered is not transitional")
	}
	if !StatusAnswered.InFlight() {
		t.Fatalf("answered is in flight")
	}
	if StatusCompleted.InFlight() {
		t.Fatalf("completed is not in flight")
	}
}
