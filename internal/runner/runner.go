// Package runner executes the external binaries (qm, ip, iptables,
// virt-customize, cast) that action handlers invoke, after every
// argument has already passed through internal/validate.
//
// Grounded on root-agent-actions/_common.py's run() helper and the
// teacher's pkg/health/exec.go timeout/context/capture pattern.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/blockhost/root-agent/internal/metrics"
	"github.com/blockhost/root-agent/pkg/log"
)

const (
	// DefaultTimeout matches _common.py's run(cmd, timeout=120).
	DefaultTimeout = 120 * time.Second
	// MaxTimeout is the ceiling a handler may request via its own
	// timeout override.
	MaxTimeout = 600 * time.Second
)

// Result carries a finished subprocess's exit status and trimmed output.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner executes argv vectors with a bounded environment. It never
// touches a shell: every element of argv is passed to exec.Command as a
// literal argument, so shell metacharacters in a value are inert.
type Runner struct {
	// Env is the fixed environment every subprocess inherits. Defaults
	// to PATH and LANG only, deliberately narrower than the original
	// Python agent (which inherited systemd's full unit environment).
	Env []string
}

// New returns a Runner with the broker's minimal default environment.
func New() *Runner {
	return &Runner{Env: []string{
		"PATH=/usr/sbin:/usr/bin:/sbin:/bin",
		"LANG=C.UTF-8",
	}}
}

// Run executes argv[0] with argv[1:] as arguments, enforcing timeout.
// A timeout of 0 uses DefaultTimeout; timeouts above MaxTimeout are
// clamped. argv is logged at INFO — callers must never place secret
// material (private keys, passphrases) into argv.
func (r *Runner) Run(ctx context.Context, action string, argv []string, timeout time.Duration) (*Result, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("runner: empty argv")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := log.WithAction(action)
	logger.Info().Strs("argv", argv).Msg("exec")

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = r.Env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	timer := metrics.NewTimer(action)
	err := cmd.Run()
	timer.Observe()

	result := &Result{
		Stdout: strings.TrimSpace(stdout.String()),
		Stderr: strings.TrimSpace(stderr.String()),
	}

	if ctx.Err() == context.DeadlineExceeded {
		logger.Warn().Str("cmd", argv[0]).Dur("timeout", timeout).Msg("exec timed out")
		return result, fmt.Errorf("%s: timed out after %s", argv[0], timeout)
	}

	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		return result, fmt.Errorf("%s: exit %d: %s", argv[0], result.ExitCode, result.Stderr)
	}
	if err != nil {
		return result, fmt.Errorf("%s: %w", argv[0], err)
	}

	return result, nil
}
