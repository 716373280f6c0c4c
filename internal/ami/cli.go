package ami

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"
)

// CLI invokes out-of-band PBX commands through the asterisk console binary
// ("asterisk -rx ..."). Used for the few operations the manager channel is a
// poor fit for: live channel listings and best-effort hangup requests. Calls
// are bounded by a timeout and must never run on the listener goroutine.
type CLI struct {
	// Path overrides binary discovery. Empty means probe the usual locations.
	Path string

	// Timeout bounds one invocation. Zero means 10s.
	Timeout time.Duration
}

// Run executes one console command. Returns success plus the command's
// trimmed output (stdout on success, stderr or stdout on failure).
func (c *CLI) Run(ctx context.Context, command string) (bool, string) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.binary(), "-rx", command)
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return false, "timeout executing PBX command"
		}
		var ee *exec.ExitError
		if errors.As(err, &ee) && len(ee.Stderr) > 0 {
			return false, strings.TrimSpace(string(ee.Stderr))
		}
		return false, err.Error()
	}
	return true, strings.TrimSpace(string(out))
}

func (c *CLI) binary() string {
	if c.Path != "" {
		return c.Path
	}
	for _, p := range []string{"/usr/sbin/asterisk", "/usr/bin/asterisk"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return "asterisk"
}
