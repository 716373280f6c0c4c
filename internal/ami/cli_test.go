package ami

import (
	"context"
	"strings"
	"testing"
)

func TestCLIRunSuccess(t *testing.T) {
	cli := &CLI{Path: "/bin/echo"}
	ok, out := cli.Run(context.Background(), "core show channels concise")
	if !ok {
		t.Fatalf("run failed: %s", out)
	}
	if !strings.Contains(out, "core show channels concise") {
		t.Fatalf("out = %q", out)
	}
}

func TestCLIRunFailure(t *testing.T) {
	cli := &CLI{Path: "/bin/false"}
	if ok, _ := cli.Run(context.Background(), "anything"); ok {
		t.Fatalf("expected failure")
	}
}
