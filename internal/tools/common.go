// Package tools wraps the external binaries the scanners shell out to
// (git, trufflehog, gitleaks and the OSINT suite).
package tools

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// ErrNotInstalled is returned when the requested binary is not on PATH.
var ErrNotInstalled = errors.New("tool not installed")

// Spec describes a single tool invocation.
type Spec struct {
	Name    string
	Binary  string
	Args    []string
	Dir     string
	Timeout time.Duration
}

// Result captures everything a caller needs to interpret a finished run.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	TimedOut bool
	Err      error
}

// Run executes the spec and always returns a Result; spawn failures land in
// Result.Err rather than a bare error so callers have one shape to handle.
func Run(ctx context.Context, spec Spec) *Result {
	if _, err := exec.LookPath(spec.Binary); err != nil {
		return &Result{ExitCode: -1, Err: ErrNotInstalled}
	}

	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, spec.Binary, spec.Args...)
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitCode = -1
		res.Err = ctx.Err()
		return res
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			res.Err = err
		}
		return res
	}

	res.ExitCode = 0
	return res
}
