// Package memtable holds recent writes in a sorted in-memory table backed by
// a skiplist over arena storage. One goroutine inserts; any number of
// goroutines may read concurrently, keeping the table alive through its
// reference count.
package memtable

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/xmh1011/go-leveldb/engine/lsm/arena"
	"github.com/xmh1011/go-leveldb/engine/lsm/keys"
	"github.com/xmh1011/go-leveldb/engine/lsm/skiplist"
	"github.com/xmh1011/go-leveldb/pkg/codec"
	"github.com/xmh1011/go-leveldb/pkg/status"
)

// MemTable stores entries of the form
//
//	varint32(len(internal_key)) || internal_key || varint32(len(value)) || value
//
// in internal-key order. Entries are immutable once inserted.
type MemTable struct {
	cmp   *keys.InternalKeyComparator
	refs  atomic.Int32
	arena *arena.Arena
	table *skiplist.SkipList
}

// entryComparator orders skiplist keys, which are length-prefixed internal
// keys, by decoding both prefixes and delegating to the internal comparator.
type entryComparator struct {
	cmp *keys.InternalKeyComparator
}

func (c entryComparator) Compare(a, b []byte) int {
	ak, an := codec.GetLengthPrefixedSlice(a)
	bk, bn := codec.GetLengthPrefixedSlice(b)
	if an < 0 || bn < 0 {
		panic("memtable: malformed entry key")
	}
	return c.cmp.Compare(ak, bk)
}

// New creates a memtable with one reference held by the caller.
func New(cmp *keys.InternalKeyComparator) *MemTable {
	m := &MemTable{
		cmp:   cmp,
		arena: arena.New(),
		table: skiplist.New(entryComparator{cmp: cmp}),
	}
	m.refs.Store(1)
	return m
}

// Ref takes an additional reference.
func (m *MemTable) Ref() { m.refs.Add(1) }

// Unref drops a reference. The memtable and its arena become collectable when
// the count reaches zero.
func (m *MemTable) Unref() {
	if m.refs.Add(-1) < 0 {
		panic("memtable: negative refcount")
	}
}

// ApproximateMemoryUsage reports arena bytes in use. Safe to call while a
// writer is active.
func (m *MemTable) ApproximateMemoryUsage() uint64 {
	return m.arena.MemoryUsage()
}

// Add inserts an entry for (key, seq, t). Keys must arrive in strictly
// increasing internal-key order across all calls; typically seq increases on
// every write.
func (m *MemTable) Add(seq keys.SequenceNumber, t keys.ValueType, key, value []byte) {
	internalLen := len(key) + keys.TagSize
	encodedLen := codec.UvarintLen(uint64(internalLen)) + internalLen +
		codec.UvarintLen(uint64(len(value))) + len(value)

	buf := m.arena.Allocate(encodedLen)
	n := binary.PutUvarint(buf, uint64(internalLen))
	n += copy(buf[n:], key)
	binary.LittleEndian.PutUint64(buf[n:], keys.PackTag(seq, t))
	n += keys.TagSize
	n += binary.PutUvarint(buf[n:], uint64(len(value)))
	n += copy(buf[n:], value)
	if n != encodedLen {
		panic("memtable: entry size mismatch")
	}
	m.table.Insert(buf)
}

// Get looks up lk. The return is conclusive when found is true: value carries
// the data for a live entry, err is status.ErrNotFound for a deletion
// tombstone. found == false means this memtable has no entry for the user key
// at or below the lookup sequence.
func (m *MemTable) Get(lk *keys.LookupKey) (value []byte, found bool, err error) {
	it := m.table.NewIterator()
	it.Seek(lk.MemtableKey())
	if !it.Valid() {
		return nil, false, nil
	}
	entry := it.Key()
	ik, n := codec.GetLengthPrefixedSlice(entry)
	if n < 0 {
		return nil, false, status.Corruptionf("malformed memtable entry")
	}
	if m.cmp.User.Compare(keys.UserKey(ik), lk.UserKey()) != 0 {
		return nil, false, nil
	}
	_, t := keys.UnpackTag(codec.DecodeFixed64(ik[len(ik)-keys.TagSize:]))
	switch t {
	case keys.TypeValue:
		v, vn := codec.GetLengthPrefixedSlice(entry[n:])
		if vn < 0 {
			return nil, false, status.Corruptionf("malformed memtable value")
		}
		return v, true, nil
	case keys.TypeDeletion:
		return nil, true, status.ErrNotFound
	}
	return nil, false, status.Corruptionf("unknown value type %d", t)
}

// Iterator yields memtable entries in internal-key order. Keys and values are
// slices into arena storage and stay valid for the memtable's lifetime.
type Iterator struct {
	iter    *skiplist.Iterator
	scratch []byte
}

// NewIterator returns an iterator over the table's current and future
// contents; entries inserted after creation may or may not be observed.
func (m *MemTable) NewIterator() *Iterator {
	return &Iterator{iter: m.table.NewIterator()}
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.iter.Valid() }

// Key returns the internal key at the current position. REQUIRES: Valid().
func (it *Iterator) Key() []byte {
	ik, _ := codec.GetLengthPrefixedSlice(it.iter.Key())
	return ik
}

// Value returns the value at the current position. REQUIRES: Valid().
func (it *Iterator) Value() []byte {
	entry := it.iter.Key()
	_, n := codec.GetLengthPrefixedSlice(entry)
	v, _ := codec.GetLengthPrefixedSlice(entry[n:])
	return v
}

// Next advances the iterator. REQUIRES: Valid().
func (it *Iterator) Next() { it.iter.Next() }

// Prev rewinds the iterator. REQUIRES: Valid().
func (it *Iterator) Prev() { it.iter.Prev() }

// Seek positions at the first entry with internal key >= ik.
func (it *Iterator) Seek(ik []byte) {
	it.scratch = codec.PutLengthPrefixedSlice(it.scratch[:0], ik)
	it.iter.Seek(it.scratch)
}

// SeekToFirst positions at the first entry.
func (it *Iterator) SeekToFirst() { it.iter.SeekToFirst() }

// SeekToLast positions at the last entry.
func (it *Iterator) SeekToLast() { it.iter.SeekToLast() }
