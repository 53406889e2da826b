// Package skiplist implements the ordered index under the memtable: a
// multi-level linked list supporting one writer and any number of concurrent
// readers with no locking on the read side.
//
// Safety rests on three rules. Nodes are never removed before the whole list
// is dropped. A node's key and height never change after it is linked in.
// Forward pointers are published with atomic stores and observed with atomic
// loads, so a reader that reaches a node through any pointer sees the node
// fully initialized.
package skiplist

import (
	"math/rand"
	"sync/atomic"
)

const (
	maxHeight = 12
	// Each level is taken with probability 1/branching.
	branching = 4
)

// Comparator orders the opaque keys stored in the list.
type Comparator interface {
	Compare(a, b []byte) int
}

type node struct {
	key []byte
	// next holds one forward pointer per level, [0] being the full list.
	next []atomic.Pointer[node]
}

func (n *node) loadNext(level int) *node {
	return n.next[level].Load()
}

func (n *node) storeNext(level int, x *node) {
	n.next[level].Store(x)
}

// SkipList is the index. Insert requires external serialization of writers;
// all read operations may run concurrently with one writer.
type SkipList struct {
	cmp  Comparator
	head *node
	// maxHeight only grows. Readers may observe a stale value: they either
	// miss new high levels (and descend from a lower one) or see a fresh
	// level whose head pointer is still nil and skip down immediately.
	maxHeight atomic.Int32
	rnd       *rand.Rand
}

// New creates an empty list. Keys handed to Insert must stay immutable and
// outlive the list; the memtable allocates them from its arena.
func New(cmp Comparator) *SkipList {
	return &SkipList{
		cmp:  cmp,
		head: &node{next: make([]atomic.Pointer[node], maxHeight)},
		rnd:  rand.New(rand.NewSource(0xdeadbeef)),
	}
}

func (s *SkipList) height() int {
	h := int(s.maxHeight.Load())
	if h == 0 {
		return 1
	}
	return h
}

func (s *SkipList) randomHeight() int {
	h := 1
	for h < maxHeight && s.rnd.Intn(branching) == 0 {
		h++
	}
	return h
}

// keyIsAfterNode reports whether key sorts after the key stored in n.
func (s *SkipList) keyIsAfterNode(key []byte, n *node) bool {
	return n != nil && s.cmp.Compare(n.key, key) < 0
}

// findGreaterOrEqual returns the first node with key >= target. If prev is
// non-nil it is filled with the predecessor at every level.
func (s *SkipList) findGreaterOrEqual(key []byte, prev []*node) *node {
	x := s.head
	level := s.height() - 1
	for {
		next := x.loadNext(level)
		if s.keyIsAfterNode(key, next) {
			x = next
			continue
		}
		if prev != nil {
			prev[level] = x
		}
		if level == 0 {
			return next
		}
		level--
	}
}

// findLessThan returns the last node with key < target, or the head sentinel.
func (s *SkipList) findLessThan(key []byte) *node {
	x := s.head
	level := s.height() - 1
	for {
		next := x.loadNext(level)
		if next != nil && s.cmp.Compare(next.key, key) < 0 {
			x = next
			continue
		}
		if level == 0 {
			return x
		}
		level--
	}
}

// findLast returns the last node in the list, or the head sentinel.
func (s *SkipList) findLast() *node {
	x := s.head
	level := s.height() - 1
	for {
		next := x.loadNext(level)
		if next != nil {
			x = next
			continue
		}
		if level == 0 {
			return x
		}
		level--
	}
}

// Insert adds key to the list. The caller guarantees no equal key is present
// and that no other Insert runs concurrently.
func (s *SkipList) Insert(key []byte) {
	var prev [maxHeight]*node
	x := s.findGreaterOrEqual(key, prev[:])
	if x != nil && s.cmp.Compare(x.key, key) == 0 {
		panic("skiplist: duplicate insertion")
	}

	height := s.randomHeight()
	if height > s.height() {
		for i := s.height(); i < height; i++ {
			prev[i] = s.head
		}
		// Concurrent readers tolerate the new height before the node is
		// linked; see the field comment.
		s.maxHeight.Store(int32(height))
	}

	n := &node{key: key, next: make([]atomic.Pointer[node], height)}
	for i := 0; i < height; i++ {
		// The node is not reachable yet, so a plain store of its own pointer
		// would do; the publication store below is the one that matters.
		n.storeNext(i, prev[i].loadNext(i))
		prev[i].storeNext(i, n)
	}
}

// Contains reports whether an equal key is in the list.
func (s *SkipList) Contains(key []byte) bool {
	x := s.findGreaterOrEqual(key, nil)
	return x != nil && s.cmp.Compare(x.key, key) == 0
}

// Iterator walks the list. It is a single-goroutine object but may be used
// concurrently with the writer: published nodes never change.
type Iterator struct {
	list *SkipList
	n    *node
}

// NewIterator returns an iterator positioned before the first entry.
func (s *SkipList) NewIterator() *Iterator {
	return &Iterator{list: s}
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.n != nil }

// Key returns the entry at the current position. REQUIRES: Valid().
func (it *Iterator) Key() []byte { return it.n.key }

// Next advances to the next entry. REQUIRES: Valid().
func (it *Iterator) Next() {
	it.n = it.n.loadNext(0)
}

// Prev moves to the previous entry. Implemented as a search from the head
// instead of back-pointers. REQUIRES: Valid().
func (it *Iterator) Prev() {
	x := it.list.findLessThan(it.n.key)
	if x == it.list.head {
		it.n = nil
	} else {
		it.n = x
	}
}

// Seek positions at the first entry with key >= target.
func (it *Iterator) Seek(target []byte) {
	it.n = it.list.findGreaterOrEqual(target, nil)
}

// SeekToFirst positions at the first entry.
func (it *Iterator) SeekToFirst() {
	it.n = it.list.head.loadNext(0)
}

// SeekToLast positions at the last entry.
func (it *Iterator) SeekToLast() {
	x := it.list.findLast()
	if x == it.list.head {
		it.n = nil
	} else {
		it.n = x
	}
}
