package skiplist

import (
	"bytes"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bytesComparator struct{}

func (bytesComparator) Compare(a, b []byte) int { return bytes.Compare(a, b) }

func newList() *SkipList {
	return New(bytesComparator{})
}

func TestEmpty(t *testing.T) {
	list := newList()
	assert.False(t, list.Contains([]byte("anything")))

	it := list.NewIterator()
	assert.False(t, it.Valid())
	it.SeekToFirst()
	assert.False(t, it.Valid())
	it.SeekToLast()
	assert.False(t, it.Valid())
	it.Seek([]byte("x"))
	assert.False(t, it.Valid())
}

func TestInsertAndContains(t *testing.T) {
	tests := []struct {
		name string
		keys []string
	}{
		{name: "single", keys: []string{"k"}},
		{name: "ascending", keys: []string{"a", "b", "c", "d"}},
		{name: "descending insert order", keys: []string{"d", "c", "b", "a"}},
		{name: "interleaved", keys: []string{"m", "c", "x", "a", "t", "e"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list := newList()
			for _, k := range tt.keys {
				list.Insert([]byte(k))
			}
			for _, k := range tt.keys {
				assert.True(t, list.Contains([]byte(k)), "key %q", k)
			}
			assert.False(t, list.Contains([]byte("missing")))
		})
	}
}

func TestIterationOrder(t *testing.T) {
	const n = 2000
	list := newList()
	inserted := make(map[string]bool)
	rnd := rand.New(rand.NewSource(17))
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%06d", rnd.Intn(10*n))
		if inserted[key] {
			continue
		}
		inserted[key] = true
		list.Insert([]byte(key))
	}

	var sorted []string
	for k := range inserted {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	it := list.NewIterator()
	i := 0
	for it.SeekToFirst(); it.Valid(); it.Next() {
		require.Less(t, i, len(sorted))
		assert.Equal(t, sorted[i], string(it.Key()))
		i++
	}
	assert.Equal(t, len(sorted), i)

	// Backward traversal via Prev.
	it.SeekToLast()
	for i = len(sorted) - 1; i >= 0; i-- {
		require.True(t, it.Valid())
		assert.Equal(t, sorted[i], string(it.Key()))
		it.Prev()
	}
	assert.False(t, it.Valid())
}

func TestSeek(t *testing.T) {
	list := newList()
	for _, k := range []string{"b", "d", "f"} {
		list.Insert([]byte(k))
	}

	tests := []struct {
		name     string
		target   string
		expected string
		valid    bool
	}{
		{name: "before first", target: "a", expected: "b", valid: true},
		{name: "exact", target: "d", expected: "d", valid: true},
		{name: "between", target: "c", expected: "d", valid: true},
		{name: "past last", target: "g", valid: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := list.NewIterator()
			it.Seek([]byte(tt.target))
			assert.Equal(t, tt.valid, it.Valid())
			if tt.valid {
				assert.Equal(t, tt.expected, string(it.Key()))
			}
		})
	}
}

func TestSeekThenPrev(t *testing.T) {
	list := newList()
	for _, k := range []string{"b", "d", "f"} {
		list.Insert([]byte(k))
	}
	it := list.NewIterator()
	it.Seek([]byte("d"))
	require.True(t, it.Valid())
	it.Prev()
	require.True(t, it.Valid())
	assert.Equal(t, "b", string(it.Key()))
	it.Prev()
	assert.False(t, it.Valid())
}

// TestConcurrentReaders runs one writer against several readers. Readers
// only assert invariants that hold mid-insertion: observed keys appear in
// order, and keys observed once never disappear behind the iterator.
func TestConcurrentReaders(t *testing.T) {
	const total = 5000
	list := newList()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				it := list.NewIterator()
				prev := []byte(nil)
				for it.SeekToFirst(); it.Valid(); it.Next() {
					if prev != nil && bytes.Compare(prev, it.Key()) >= 0 {
						t.Errorf("out of order: %q then %q", prev, it.Key())
						return
					}
					prev = append(prev[:0], it.Key()...)
				}
			}
		}()
	}

	for i := 0; i < total; i++ {
		list.Insert([]byte(fmt.Sprintf("key-%06d", i)))
	}
	close(stop)
	wg.Wait()

	count := 0
	it := list.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		count++
	}
	assert.Equal(t, total, count)
}

func TestDuplicateInsertPanics(t *testing.T) {
	list := newList()
	list.Insert([]byte("once"))
	assert.Panics(t, func() { list.Insert([]byte("once")) })
}
