package dialer

import (
	"testing"
	"time"
)

func TestDTMFOptOutSequence(t *testing.T) {
	base := time.Unix(1700000000, 0)
	now := base
	b := NewDTMFBufferWithClock(func() time.Time { return now })

	if b.Press("5551234", "0") {
		t.Fatalf("lone 0 should not opt out")
	}
	now = now.Add(time.Second)
	if !b.Press("5551234", "#") {
		t.Fatalf("0 then # within the gap should opt out")
	}
	if b.Buffer("5551234") != "" {
		t.Fatalf("buffer should clear on opt-out, got %q", b.Buffer("5551234"))
	}
}

func TestDTMFGapResetsBuffer(t *testing.T) {
	base := time.Unix(1700000000, 0)
	now := base
	b := NewDTMFBufferWithClock(func() time.Time { return now })

	b.Press("5551234", "0")
	now = now.Add(dtmfGap + time.Millisecond)
	if b.Press("5551234", "#") {
		t.Fatalf("digits separated by more than the gap are not a sequence")
	}
	if b.Buffer("5551234") != "#" {
		t.Fatalf("buffer = %q, want just the late digit", b.Buffer("5551234"))
	}
}

func TestDTMFInterleavedDigits(t *testing.T) {
	now := time.Unix(1700000000, 0)
	b := NewDTMFBufferWithClock(func() time.Time { return now })

	for _, d := range []string{"1", "0", "#"} {
		if b.Press("5551234", d) {
			t.Fatalf("10# must not opt out")
		}
		now = now.Add(500 * time.Millisecond)
	}
}

func TestDTMFPerRecipientIsolation(t *testing.T) {
	now := time.Unix(1700000000, 0)
	b := NewDTMFBufferWithClock(func() time.Time { return now })

	b.Press("111", "0")
	if b.Press("222", "#") {
		t.Fatalf("digits from different recipients must not combine")
	}
	if !b.Press("111", "#") {
		t.Fatalf("recipient 111 completed the sequence")
	}
}

func TestDTMFForget(t *testing.T) {
	b := NewDTMFBuffer()
	b.Press("111", "0")
	b.Forget("111")
	if b.Buffer("111") != "" {
		t.Fatalf("forgotten recipient kept a buffer")
	}
}
