package scanner

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunGuardSingleFlight(t *testing.T) {
	var g RunGuard

	assert.True(t, g.TryAcquire())
	assert.True(t, g.Running())
	assert.False(t, g.TryAcquire(), "second acquire must be rejected")

	g.Release()
	assert.False(t, g.Running())
	assert.True(t, g.TryAcquire())
	g.Release()
}

func TestRunGuardConcurrentAcquire(t *testing.T) {
	var g RunGuard
	var wg sync.WaitGroup
	acquired := make(chan struct{}, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryAcquire() {
				acquired <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(acquired)

	count := 0
	for range acquired {
		count++
	}
	assert.Equal(t, 1, count, "exactly one goroutine may win the guard")
}
