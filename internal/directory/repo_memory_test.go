package directory

import (
	"context"
	"testing"
)

func TestMembersForCampaignExcludesOptedOut(t *testing.T) {
	r := NewMemoryRepo()
	r.Add(Member{ID: "m1", PhoneNumber: "111"}, "g1")
	r.Add(Member{ID: "m2", PhoneNumber: "222", DoNotCall: true}, "g1")
	r.Add(Member{ID: "m3", PhoneNumber: "333"}, "g2")

	got, err := r.MembersForCampaign(context.Background(), "g1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "m1" {
		t.Fatalf("members = %+v", got)
	}

	all, err := r.MembersForCampaign(context.Background(), "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("all = %+v", all)
	}
}

func TestSetDoNotCall(t *testing.T) {
	r := NewMemoryRepo()
	r.Add(Member{ID: "m1", PhoneNumber: "111"})

	if err := r.SetDoNotCall(context.Background(), "m1", true); err != nil {
		t.Fatalf("set: %v", err)
	}
	m, err := r.FindByPhone(context.Background(), "111")
	if err != nil || !m.DoNotCall {
		t.Fatalf("member = %+v err=%v", m, err)
	}

	if err := r.SetDoNotCall(context.Background(), "missing", true); err == nil {
		t.Fatalf("expected not-found error")
	}
}
