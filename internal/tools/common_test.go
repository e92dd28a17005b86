package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCapturesOutput(t *testing.T) {
	res := Run(context.Background(), Spec{
		Name:   "echo",
		Binary: "sh",
		Args:   []string{"-c", "echo out; echo err >&2"},
	})
	require.NoError(t, res.Err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Greater(t, res.Duration, time.Duration(0))
}

func TestRunNonZeroExit(t *testing.T) {
	res := Run(context.Background(), Spec{
		Name:   "fail",
		Binary: "sh",
		Args:   []string{"-c", "exit 3"},
	})
	require.NoError(t, res.Err, "a non-zero exit is not a spawn failure")
	assert.Equal(t, 3, res.ExitCode)
}

func TestRunMissingBinary(t *testing.T) {
	res := Run(context.Background(), Spec{Name: "ghost", Binary: "definitely-not-a-real-binary"})
	assert.ErrorIs(t, res.Err, ErrNotInstalled)
	assert.Equal(t, -1, res.ExitCode)
}

func TestRunTimeout(t *testing.T) {
	res := Run(context.Background(), Spec{
		Name:    "sleep",
		Binary:  "sh",
		Args:    []string{"-c", "sleep 5"},
		Timeout: 50 * time.Millisecond,
	})
	assert.True(t, res.TimedOut)
	assert.Equal(t, -1, res.ExitCode)
}

func TestRunWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	res := Run(context.Background(), Spec{
		Name:   "pwd",
		Binary: "sh",
		Args:   []string{"-c", "pwd"},
		Dir:    dir,
	})
	require.NoError(t, res.Err)
	assert.Contains(t, res.Stdout, dir)
}
