package scanner

import (
	"errors"
	"sync/atomic"
)

// ErrAlreadyRunning is returned when a scan or recovery operation is
// requested while another one holds the guard. The API maps it to 409.
var ErrAlreadyRunning = errors.New("a scan is already running")

// RunGuard serializes everything that mutates scan state: the pipeline and
// all recovery operations share one instance.
type RunGuard struct {
	running atomic.Bool
}

// TryAcquire claims the guard; it returns false if another run holds it.
func (g *RunGuard) TryAcquire() bool {
	return g.running.CompareAndSwap(false, true)
}

func (g *RunGuard) Release() {
	g.running.Store(false)
}

func (g *RunGuard) Running() bool {
	return g.running.Load()
}
