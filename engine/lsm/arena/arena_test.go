package arena

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocate(t *testing.T) {
	a := New()
	assert.Zero(t, a.MemoryUsage())

	small := a.Allocate(16)
	require.Len(t, small, 16)
	assert.Greater(t, a.MemoryUsage(), uint64(0))

	// Slices from the same arena must not alias.
	other := a.Allocate(16)
	small[0] = 0xaa
	assert.Zero(t, other[0])
}

func TestAllocateLarge(t *testing.T) {
	a := New()
	big := a.Allocate(100 * 1024)
	require.Len(t, big, 100*1024)
	assert.GreaterOrEqual(t, a.MemoryUsage(), uint64(100*1024))

	// A large allocation must not strand the current block.
	before := a.MemoryUsage()
	small := a.Allocate(8)
	require.Len(t, small, 8)
	assert.GreaterOrEqual(t, a.MemoryUsage(), before)
}

func TestAllocationsAreCapped(t *testing.T) {
	a := New()
	s := a.Allocate(4)
	// Appending past the cap must reallocate instead of scribbling over a
	// neighbor's bytes.
	next := a.Allocate(4)
	s = append(s, 0xff)
	_ = s
	assert.Zero(t, next[0])
}

func TestMemoryUsageConcurrentRead(t *testing.T) {
	a := New()
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				_ = a.MemoryUsage()
			}
		}
	}()
	for i := 0; i < 10000; i++ {
		a.Allocate(32)
	}
	close(done)
	wg.Wait()
	assert.GreaterOrEqual(t, a.MemoryUsage(), uint64(10000*32))
}
