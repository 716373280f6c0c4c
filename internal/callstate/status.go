package callstate

// Status is the lifecycle state of one outbound call attempt.
type Status string

const (
	StatusUnknown      Status = "unknown"
	StatusPending      Status = "pending"
	StatusWaiting      Status = "waiting"
	StatusDialing      Status = "dialing"
	StatusRinging      Status = "ringing"
	StatusAnswered     Status = "answered"
	StatusDTMFReceived Status = "dtmf_received"
	StatusCompleted    Status = "completed"
	StatusOptedOut     Status = "opted_out"
	StatusNoAnswer     Status = "noanswer"
	StatusBusy         Status = "busy"
	StatusRejected     Status = "rejected"
	StatusAborted      Status = "aborted"
)

// significance orders statuses so that noisy, out-of-order signaling events
// can never downgrade a call that has already progressed. Four terminal causes
// share the top rank on purpose: none of them outranks another.
var significance = map[Status]int{
	StatusUnknown:      0,
	StatusPending:      1,
	StatusWaiting:      2,
	StatusDialing:      10,
	StatusRinging:      20,
	StatusAnswered:     50,
	StatusDTMFReceived: 60,
	StatusCompleted:    70,
	StatusOptedOut:     80,
	StatusNoAnswer:     90,
	StatusBusy:         90,
	StatusRejected:     90,
	StatusAborted:      90,
}

// Significance returns the merge rank of s. Unknown statuses rank zero.
func (s Status) Significance() int {
	return significance[s]
}

// IsTerminal reports whether s ends the call attempt.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusNoAnswer, StatusBusy, StatusRejected, StatusAborted, StatusOptedOut:
		return true
	default:
		return false
	}
}

// IsTransitional reports whether s is a short-lived dialing-phase state that
// any definitive signal may replace.
func (s Status) IsTransitional() bool {
	return s == StatusDialing || s == StatusRinging
}

// InFlight reports whether s describes a live call leg the correlator may
// still attribute events to.
func (s Status) InFlight() bool {
	switch s {
	case StatusDialing, StatusRinging, StatusAnswered:
		return true
	default:
		return false
	}
}

// isDefinitive marks the statuses allowed to override an already finalized
// record: a completed, opted-out or operator-aborted outcome is authoritative
// even over a higher-ranked terminal cause.
func (s Status) isDefinitive() bool {
	return s == StatusCompleted || s == StatusOptedOut || s == StatusAborted
}
