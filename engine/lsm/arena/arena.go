// Package arena provides the append-only allocator backing memtable entries
// and skiplist keys. Allocations are never freed individually; the whole
// arena is released when the owning memtable drops its last reference.
package arena

import "sync/atomic"

const blockSize = 4096

// Arena hands out byte slices carved from large blocks. It is written by a
// single goroutine; MemoryUsage may be read concurrently.
type Arena struct {
	free  []byte
	usage atomic.Uint64
}

// New returns an empty arena.
func New() *Arena {
	return &Arena{}
}

// Allocate returns a zeroed slice of n bytes owned by the arena.
func (a *Arena) Allocate(n int) []byte {
	if n > len(a.free) {
		if n > blockSize/4 {
			// Large requests get their own block so we do not waste the
			// remainder of the current one.
			a.usage.Add(uint64(n))
			return make([]byte, n)
		}
		a.free = make([]byte, blockSize)
		a.usage.Add(blockSize)
	}
	out := a.free[:n:n]
	a.free = a.free[n:]
	return out
}

// MemoryUsage reports the total bytes reserved by the arena. Safe to call
// concurrently with Allocate.
func (a *Arena) MemoryUsage() uint64 {
	return a.usage.Load()
}
