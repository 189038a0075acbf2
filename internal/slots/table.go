// ABOUTME: Generation-checked handle table used for weak references
// ABOUTME: A handle resolves only while the object it was issued for is still registered
package slots

import (
	"fmt"
	"sync"
)

// Handle identifies a registered object. The zero Handle never resolves.
type Handle struct {
	index uint32
	gen   uint32
}

// Valid reports whether the handle was issued by a table
func (h Handle) Valid() bool {
	return h.gen != 0
}

func (h Handle) String() string {
	return fmt.Sprintf("slot(%d/%d)", h.index, h.gen)
}

type slot[T any] struct {
	gen   uint32
	value T
	used  bool
}

// Table maps handles to values. Releasing a slot bumps its generation so
// that stale handles stop resolving even after the slot is reused.
type Table[T any] struct {
	mu    sync.RWMutex
	slots []slot[T]
	free  []uint32
}

// NewTable creates an empty table
func NewTable[T any]() *Table[T] {
	return &Table[T]{}
}

// Insert registers v and returns its handle
func (t *Table[T]) Insert(v T) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		idx = uint32(len(t.slots))
		t.slots = append(t.slots, slot[T]{})
	}

	s := &t.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.value = v
	s.used = true
	return Handle{index: idx, gen: s.gen}
}

// Get resolves a handle. The second result is false when the object has been
// released or the handle is stale.
func (t *Table[T]) Get(h Handle) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var zero T
	if !h.Valid() || int(h.index) >= len(t.slots) {
		return zero, false
	}
	s := t.slots[h.index]
	if !s.used || s.gen != h.gen {
		return zero, false
	}
	return s.value, true
}

// Release unregisters the object behind h. Releasing a stale handle is a no-op
// and returns false.
func (t *Table[T]) Release(h Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !h.Valid() || int(h.index) >= len(t.slots) {
		return false
	}
	s := &t.slots[h.index]
	if !s.used || s.gen != h.gen {
		return false
	}
	var zero T
	s.value = zero
	s.used = false
	t.free = append(t.free, h.index)
	return true
}

// Len returns the number of live entries
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.slots) - len(t.free)
}
