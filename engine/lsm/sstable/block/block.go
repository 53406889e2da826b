package block

import (
	"github.com/xmh1011/go-leveldb/engine/lsm/keys"
	"github.com/xmh1011/go-leveldb/pkg/codec"
	"github.com/xmh1011/go-leveldb/pkg/status"
)

// Block wraps decoded block contents and hands out iterators over them.
type Block struct {
	data        []byte
	restarts    uint32 // offset of the restart array
	numRestarts uint32
}

// New validates the trailer bookkeeping of contents and returns a Block. The
// contents slice is retained.
func New(contents []byte) (*Block, error) {
	n := len(contents)
	if n < 4 {
		return nil, status.Corruptionf("bad block contents: size %d", n)
	}
	numRestarts := codec.DecodeFixed32(contents[n-4:])
	maxRestarts := uint32(n-4) / 4
	if numRestarts > maxRestarts {
		return nil, status.Corruptionf("bad block contents: restart count %d exceeds %d", numRestarts, maxRestarts)
	}
	return &Block{
		data:        contents,
		restarts:    uint32(n) - 4 - numRestarts*4,
		numRestarts: numRestarts,
	}, nil
}

// Size returns the byte size of the block contents.
func (b *Block) Size() int { return len(b.data) }

func (b *Block) restartPoint(index uint32) uint32 {
	return codec.DecodeFixed32(b.data[b.restarts+index*4:])
}

// NewIterator returns an iterator over the block's entries ordered by cmp.
func (b *Block) NewIterator(cmp keys.Comparator) *Iterator {
	if b.numRestarts == 0 {
		return &Iterator{err: status.Corruptionf("block has no restart points")}
	}
	return &Iterator{
		block:        b,
		cmp:          cmp,
		current:      b.restarts,
		restartIndex: b.numRestarts,
	}
}

// Iterator walks block entries, reconstructing full keys from their shared
// prefixes. It becomes invalid with a sticky status on any decode failure.
type Iterator struct {
	block *Block
	cmp   keys.Comparator

	// current is the offset of the current entry; it equals block.restarts
	// when the iterator is not positioned at an entry.
	current      uint32
	next         uint32 // offset just past the current entry
	restartIndex uint32 // restart block containing current

	key   []byte
	value []byte
	err   error
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool {
	return it.err == nil && it.block != nil && it.current < it.block.restarts
}

// Status returns the first decode error encountered, if any.
func (it *Iterator) Status() error { return it.err }

// Key returns the current entry's key. REQUIRES: Valid().
func (it *Iterator) Key() []byte { return it.key }

// Value returns the current entry's value. REQUIRES: Valid().
func (it *Iterator) Value() []byte { return it.value }

func (it *Iterator) corruption() {
	it.err = status.Corruptionf("bad entry in block")
	it.current = it.block.restarts
	it.restartIndex = it.block.numRestarts
	it.key = it.key[:0]
	it.value = nil
}

func (it *Iterator) seekToRestartPoint(index uint32) {
	it.key = it.key[:0]
	it.restartIndex = index
	it.next = it.block.restartPoint(index)
}

// parseNextKey decodes the entry at it.next. Returns false at the end of the
// entry stream or on corruption.
func (it *Iterator) parseNextKey() bool {
	it.current = it.next
	if it.current >= it.block.restarts {
		// No more entries.
		it.current = it.block.restarts
		it.restartIndex = it.block.numRestarts
		return false
	}

	p := it.block.data[it.current:it.block.restarts]
	shared, n1 := codec.GetUvarint32(p)
	if n1 <= 0 {
		it.corruption()
		return false
	}
	nonShared, n2 := codec.GetUvarint32(p[n1:])
	if n2 <= 0 {
		it.corruption()
		return false
	}
	valueLen, n3 := codec.GetUvarint32(p[n1+n2:])
	if n3 <= 0 {
		it.corruption()
		return false
	}
	header := n1 + n2 + n3
	if uint64(len(p)-header) < uint64(nonShared)+uint64(valueLen) || int(shared) > len(it.key) {
		it.corruption()
		return false
	}

	delta := p[header : header+int(nonShared)]
	it.key = append(it.key[:shared], delta...)
	valueStart := it.current + uint32(header) + nonShared
	it.value = it.block.data[valueStart : valueStart+valueLen]
	it.next = valueStart + valueLen

	for it.restartIndex+1 < it.block.numRestarts &&
		it.block.restartPoint(it.restartIndex+1) < it.current {
		it.restartIndex++
	}
	return true
}

// decodeRestartKey returns the full key stored at a restart point, which has
// no shared prefix by construction.
func (it *Iterator) decodeRestartKey(index uint32) ([]byte, bool) {
	offset := it.block.restartPoint(index)
	if offset >= it.block.restarts {
		// Restart offset outside the entry region.
		return nil, false
	}
	p := it.block.data[offset:it.block.restarts]
	shared, n1 := codec.GetUvarint32(p)
	if n1 <= 0 || shared != 0 {
		return nil, false
	}
	nonShared, n2 := codec.GetUvarint32(p[n1:])
	if n2 <= 0 {
		return nil, false
	}
	_, n3 := codec.GetUvarint32(p[n1+n2:])
	if n3 <= 0 {
		return nil, false
	}
	header := n1 + n2 + n3
	if uint64(len(p)-header) < uint64(nonShared) {
		return nil, false
	}
	return p[header : header+int(nonShared)], true
}

// Seek positions at the first entry with key >= target.
func (it *Iterator) Seek(target []byte) {
	if it.err != nil {
		return
	}
	// Binary search over restart points for the last restart whose key is
	// strictly less than target, then scan linearly.
	left, right := uint32(0), it.block.numRestarts-1
	for left < right {
		mid := (left + right + 1) / 2
		midKey, ok := it.decodeRestartKey(mid)
		if !ok {
			it.corruption()
			return
		}
		if it.cmp.Compare(midKey, target) < 0 {
			left = mid
		} else {
			right = mid - 1
		}
	}

	it.seekToRestartPoint(left)
	for it.parseNextKey() {
		if it.cmp.Compare(it.key, target) >= 0 {
			return
		}
	}
}

// SeekToFirst positions at the first entry.
func (it *Iterator) SeekToFirst() {
	if it.err != nil {
		return
	}
	it.seekToRestartPoint(0)
	it.parseNextKey()
}

// SeekToLast positions at the last entry.
func (it *Iterator) SeekToLast() {
	if it.err != nil {
		return
	}
	it.seekToRestartPoint(it.block.numRestarts - 1)
	for it.parseNextKey() && it.next < it.block.restarts {
	}
}

// Next advances to the next entry. REQUIRES: Valid().
func (it *Iterator) Next() {
	it.parseNextKey()
}

// Prev moves to the entry before the current one by replaying forward from
// the nearest earlier restart point.
func (it *Iterator) Prev() {
	original := it.current
	for it.block.restartPoint(it.restartIndex) >= original {
		if it.restartIndex == 0 {
			// No entries before the first.
			it.current = it.block.restarts
			it.restartIndex = it.block.numRestarts
			return
		}
		it.restartIndex--
	}
	it.seekToRestartPoint(it.restartIndex)
	for it.parseNextKey() && it.next < original {
	}
}
