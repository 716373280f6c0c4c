package dialer

import (
	"sync"
	"time"
)

const (
	// dtmfGap resets the buffer: digits further apart than this are not one
	// sequence.
	dtmfGap = 2 * time.Second

	// optOutSequence is the in-call keypad sequence that sets the recipient's
	// do-not-call flag.
	optOutSequence = "0#"
)

type dtmfState struct {
	buffer  string
	lastKey time.Time
}

// DTMFBuffer accumulates keypad digits per recipient and detects the opt-out
// sequence. It has its own lock, independent of the call state store.
type DTMFBuffer struct {
	mu     sync.Mutex
	states map[string]*dtmfState

	now func() time.Time
}

func NewDTMFBuffer() *DTMFBuffer {
	return &DTMFBuffer{
		states: make(map[string]*dtmfState),
		now:    time.Now,
	}
}

// NewDTMFBufferWithClock injects a time source, for tests.
func NewDTMFBufferWithClock(now func() time.Time) *DTMFBuffer {
	b := NewDTMFBuffer()
	b.now = now
	return b
}

// Press records one digit and reports whether the opt-out sequence completed.
// On a completed sequence the buffer is cleared, so a held-down repeat can
// trigger at most one opt-out.
func (b *DTMFBuffer) Press(recipient, digit string) (optedOut bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	st := b.states[recipient]
	if st == nil {
		st = &dtmfState{}
		b.states[recipient] = st
	}

	if st.lastKey.IsZero() || now.Sub(st.lastKey) > dtmfGap {
		st.buffer = digit
	} else {
		st.buffer += digit
	}
	st.lastKey = now

	if st.buffer == optOutSequence {
		st.buffer = ""
		return true
	}
	return false
}

// Buffer returns the current digit buffer for a recipient. Test helper.
func (b *DTMFBuffer) Buffer(recipient string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st := b.states[recipient]; st != nil {
		return st.buffer
	}
	return ""
}

// Forget drops a recipient's buffered state.
func (b *DTMFBuffer) Forget(recipient string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.states, recipient)
}
