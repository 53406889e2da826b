// Package cache provides the shared block cache consulted by sstable
// readers. It is a sharded LRU keyed by opaque byte strings; each reader
// obtains a unique id from NewID and prefixes its keys with it so files
// sharing one cache never collide.
package cache

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

const numShards = 16

// Cache is safe for concurrent use by any number of goroutines.
type Cache struct {
	shards [numShards]shard
	nextID atomic.Uint64
}

// Handle pins a cache value. The value stays reachable through the handle
// even if the entry is evicted; Release drops the pin.
type Handle struct {
	entry *entry
}

// Value returns the cached value.
func (h *Handle) Value() interface{} { return h.entry.value }

type entry struct {
	key    string
	value  interface{}
	charge int
	refs   int32 // guarded by the owning shard's mutex

	prev, next *entry // LRU list, most recent at head.next
}

type shard struct {
	mu       sync.Mutex
	capacity int
	usage    int
	table    map[string]*entry
	head     entry // sentinel of the circular LRU list
}

// New creates a cache holding up to capacity charge units in total.
func New(capacity int) *Cache {
	c := &Cache{}
	per := capacity / numShards
	if per < 1 {
		per = 1
	}
	for i := range c.shards {
		s := &c.shards[i]
		s.capacity = per
		s.table = make(map[string]*entry)
		s.head.prev = &s.head
		s.head.next = &s.head
	}
	return c
}

// NewID returns an identifier no other caller of this cache has received.
func (c *Cache) NewID() uint64 {
	return c.nextID.Add(1)
}

func (c *Cache) shard(key []byte) *shard {
	return &c.shards[xxhash.Sum64(key)%numShards]
}

// Lookup returns a handle for key's entry, or nil.
func (c *Cache) Lookup(key []byte) *Handle {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.table[string(key)]
	if !ok {
		return nil
	}
	e.refs++
	s.moveToFront(e)
	return &Handle{entry: e}
}

// Insert stores value under key with the given charge and returns a handle
// to it. An existing entry for key is displaced.
func (c *Cache) Insert(key []byte, value interface{}, charge int) *Handle {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.table[string(key)]; ok {
		s.remove(old)
	}
	e := &entry{key: string(key), value: value, charge: charge, refs: 1}
	s.table[e.key] = e
	s.usage += charge
	s.pushFront(e)

	for s.usage > s.capacity && s.head.prev != &s.head {
		s.remove(s.head.prev)
	}
	return &Handle{entry: e}
}

// Release drops the pin taken by Lookup or Insert. The handle must not be
// used afterwards.
func (c *Cache) Release(h *Handle) {
	if h == nil {
		return
	}
	s := c.shard([]byte(h.entry.key))
	s.mu.Lock()
	defer s.mu.Unlock()
	h.entry.refs--
	if h.entry.refs < 0 {
		panic("cache: release of unreferenced handle")
	}
}

func (s *shard) pushFront(e *entry) {
	e.prev = &s.head
	e.next = s.head.next
	e.prev.next = e
	e.next.prev = e
}

func (s *shard) moveToFront(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	s.pushFront(e)
}

// remove detaches e from the shard. Outstanding handles keep the value
// alive; the shard stops accounting for it immediately.
func (s *shard) remove(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	e.prev, e.next = nil, nil
	delete(s.table, e.key)
	s.usage -= e.charge
}
