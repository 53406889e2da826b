package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupMiss(t *testing.T) {
	c := New(1024)
	assert.Nil(t, c.Lookup([]byte("absent")))
}

func TestInsertAndLookup(t *testing.T) {
	c := New(1024)
	h := c.Insert([]byte("k"), "v", 1)
	require.NotNil(t, h)
	assert.Equal(t, "v", h.Value())
	c.Release(h)

	h2 := c.Lookup([]byte("k"))
	require.NotNil(t, h2)
	assert.Equal(t, "v", h2.Value())
	c.Release(h2)
}

func TestInsertDisplaces(t *testing.T) {
	c := New(1024)
	c.Release(c.Insert([]byte("k"), "old", 1))
	c.Release(c.Insert([]byte("k"), "new", 1))

	h := c.Lookup([]byte("k"))
	require.NotNil(t, h)
	assert.Equal(t, "new", h.Value())
	c.Release(h)
}

func TestEviction(t *testing.T) {
	// Single-entry charges against a tiny cache: older entries must fall
	// out, recently used ones survive.
	c := New(numShards) // one charge unit per shard
	keys := make([][]byte, 32)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("key-%02d", i))
		c.Release(c.Insert(keys[i], i, 1))
	}

	hits := 0
	for _, key := range keys {
		if h := c.Lookup(key); h != nil {
			hits++
			c.Release(h)
		}
	}
	assert.LessOrEqual(t, hits, numShards)
}

func TestEvictedValueStaysUsable(t *testing.T) {
	c := New(numShards)
	h := c.Insert([]byte("pinned"), "payload", 1)

	// Force enough inserts to evict the pinned entry from every shard.
	for i := 0; i < 64; i++ {
		c.Release(c.Insert([]byte(fmt.Sprintf("filler-%02d", i)), i, 1))
	}

	// The handle still reaches the value even if the entry was evicted.
	assert.Equal(t, "payload", h.Value())
	c.Release(h)
}

func TestNewIDUnique(t *testing.T) {
	c := New(16)
	seen := make(map[uint64]bool)
	for i := 0; i < 100; i++ {
		id := c.NewID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New(4096)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				key := []byte(fmt.Sprintf("key-%d", i%128))
				if h := c.Lookup(key); h != nil {
					_ = h.Value()
					c.Release(h)
				} else {
					c.Release(c.Insert(key, i, 8))
				}
			}
		}(g)
	}
	wg.Wait()
}
