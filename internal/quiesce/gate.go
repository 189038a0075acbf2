// ABOUTME: Quiesce gate guarding real-time callbacks against teardown
// ABOUTME: Callers enter without locking; closers wait for in-flight callers to drain
package quiesce

import (
	"runtime"
	"sync/atomic"
	"time"
)

// Gate tracks in-flight real-time callers. Enter and Exit are wait-free and
// safe to use on audio threads; CloseAndWait is for control threads only.
type Gate struct {
	active atomic.Int64
	closed atomic.Bool
}

// NewClosed returns a gate that rejects callers until Open
func NewClosed() *Gate {
	g := &Gate{}
	g.closed.Store(true)
	return g
}

// Enter registers a caller. It returns false when the gate is closed, in
// which case the caller must not touch guarded state and must not call Exit.
func (g *Gate) Enter() bool {
	g.active.Add(1)
	if g.closed.Load() {
		g.active.Add(-1)
		return false
	}
	return true
}

// Exit ends a call started by a successful Enter
func (g *Gate) Exit() {
	g.active.Add(-1)
}

// Open lets callers in again
func (g *Gate) Open() {
	g.closed.Store(false)
}

// Closed reports whether the gate currently rejects callers
func (g *Gate) Closed() bool {
	return g.closed.Load()
}

// InFlight returns the number of callers currently inside the gate
func (g *Gate) InFlight() int {
	return int(g.active.Load())
}

// CloseAndWait rejects new callers and returns once every caller that got
// in has exited. After it returns guarded state may be torn down.
func (g *Gate) CloseAndWait() {
	g.closed.Store(true)
	for spins := 0; g.active.Load() != 0; spins++ {
		if spins < 64 {
			runtime.Gosched()
			continue
		}
		time.Sleep(50 * time.Microsecond)
	}
}
