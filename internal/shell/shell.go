// Package shell executes project commands for the runner. Commands are
// generated by a model, so execution is policy-gated: denied patterns
// block obviously destructive input, output is capped, and every run is
// bounded by a timeout.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/artifex-labs/artifex/internal/config"
)

// maxTimeout caps per-command timeouts regardless of configuration.
const maxTimeout = 5 * time.Minute

// defaultDeniedPatterns block commands no project run should need.
var defaultDeniedPatterns = []string{
	"rm -rf /",
	"rm -rf /*",
	"mkfs",
	"dd if=",
	"> /dev/sd",
	"chmod -R 777 /",
	"shutdown",
	"reboot",
	":(){ :|:& };:", // fork bomb
}

// Result contains the outcome of a command execution.
type Result struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

// Success reports whether the command exited cleanly.
func (r *Result) Success() bool {
	return r != nil && r.ExitCode == 0 && !r.TimedOut
}

// Combined returns stdout and stderr joined for error analysis prompts.
func (r *Result) Combined() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Runner executes shell commands inside a project directory.
type Runner struct {
	denied         []string
	defaultTimeout time.Duration
	maxOutputBytes int
}

// NewRunner creates a command runner from shell configuration.
func NewRunner(cfg config.ShellConfig) *Runner {
	timeout := time.Duration(cfg.DefaultTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	denied := append([]string{}, defaultDeniedPatterns...)
	denied = append(denied, cfg.DeniedPatterns...)
	return &Runner{
		denied:         denied,
		defaultTimeout: timeout,
		maxOutputBytes: 100 * 1024,
	}
}

// Run executes a command via `sh -c` in dir. A non-zero exit status is
// reported on the Result, not as an error; errors mean the command
// could not be run at all (policy block, spawn failure).
func (r *Runner) Run(ctx context.Context, command, dir string) (*Result, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("empty command")
	}

	cmdLower := strings.ToLower(command)
	for _, denied := range r.denied {
		if strings.Contains(cmdLower, strings.ToLower(denied)) {
			return nil, fmt.Errorf("command blocked by policy: matches denied pattern %q", denied)
		}
	}

	timeout := r.defaultTimeout
	if timeout > maxTimeout {
		timeout = maxTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := &Result{
		Stdout: truncate(stdout.String(), r.maxOutputBytes),
		Stderr: truncate(stderr.String(), r.maxOutputBytes),
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("run command: %w", err)
		}
	}

	return result, nil
}

func truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes] + "\n\n[... output truncated ...]"
}
