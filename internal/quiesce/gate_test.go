// ABOUTME: Tests for the quiesce gate
// ABOUTME: Verifies open/close semantics and that closing waits for in-flight callers
package quiesce

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateOpenClose(t *testing.T) {
	g := NewClosed()
	assert.True(t, g.Closed())
	assert.False(t, g.Enter())
	assert.Equal(t, 0, g.InFlight())

	g.Open()
	require.True(t, g.Enter())
	assert.Equal(t, 1, g.InFlight())
	g.Exit()

	g.CloseAndWait()
	assert.False(t, g.Enter())
}

func TestZeroGateIsOpen(t *testing.T) {
	var g Gate
	require.True(t, g.Enter())
	g.Exit()
}

func TestCloseWaitsForInFlight(t *testing.T) {
	g := NewClosed()
	g.Open()
	require.True(t, g.Enter())

	var closed atomic.Bool
	done := make(chan struct{})
	go func() {
		g.CloseAndWait()
		closed.Store(true)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, closed.Load(), "close returned while a caller was inside")

	g.Exit()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("close did not return after the caller exited")
	}
}

func TestNoCallerInsideAfterClose(t *testing.T) {
	g := NewClosed()
	g.Open()

	var inside atomic.Int32
	var violations atomic.Int32
	var teardown atomic.Bool
	stop := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if !g.Enter() {
					continue
				}
				inside.Add(1)
				if teardown.Load() {
					violations.Add(1)
				}
				inside.Add(-1)
				g.Exit()
			}
		}()
	}

	time.Sleep(5 * time.Millisecond)
	g.CloseAndWait()
	teardown.Store(true)
	time.Sleep(5 * time.Millisecond)
	close(stop)
	wg.Wait()

	assert.Equal(t, int32(0), violations.Load())
	assert.Equal(t, int32(0), inside.Load())
}
