// Package block implements the prefix-compressed, restart-indexed key/value
// block used for sstable data, index, and metaindex blocks.
//
// Entry layout:
//
//	varint32(shared) || varint32(non_shared) || varint32(value_len)
//	|| key_delta[non_shared] || value[value_len]
//
// followed, after the entry stream, by u32_le[num_restarts] restart offsets
// and u32_le(num_restarts). Keys at restart points store no shared prefix.
package block

import (
	"github.com/xmh1011/go-leveldb/pkg/codec"
)

// Builder assembles one block. Keys must be added in strictly increasing
// order under the comparator the block will be read with.
type Builder struct {
	restartInterval int
	buffer          []byte
	restarts        []uint32
	counter         int
	finished        bool
	lastKey         []byte
}

// NewBuilder creates a builder. restartInterval is the number of entries
// between restart points; index blocks use 1.
func NewBuilder(restartInterval int) *Builder {
	if restartInterval < 1 {
		panic("block: restart interval must be >= 1")
	}
	return &Builder{
		restartInterval: restartInterval,
		restarts:        []uint32{0},
	}
}

// Reset clears the builder for reuse.
func (b *Builder) Reset() {
	b.buffer = b.buffer[:0]
	b.restarts = append(b.restarts[:0], 0)
	b.counter = 0
	b.finished = false
	b.lastKey = b.lastKey[:0]
}

// Empty reports whether no entries have been added since the last Reset.
func (b *Builder) Empty() bool { return len(b.buffer) == 0 }

// CurrentSizeEstimate returns the size of the block were Finish called now.
func (b *Builder) CurrentSizeEstimate() int {
	return len(b.buffer) + len(b.restarts)*4 + 4
}

// Add appends an entry. REQUIRES: Finish has not been called since the last
// Reset, and key is greater than any previously added key.
func (b *Builder) Add(key, value []byte) {
	if b.finished {
		panic("block: Add after Finish")
	}
	shared := 0
	if b.counter < b.restartInterval {
		n := min(len(b.lastKey), len(key))
		for shared < n && b.lastKey[shared] == key[shared] {
			shared++
		}
	} else {
		// Restart compression.
		b.restarts = append(b.restarts, uint32(len(b.buffer)))
		b.counter = 0
	}
	nonShared := len(key) - shared

	b.buffer = codec.PutUvarint32(b.buffer, uint32(shared))
	b.buffer = codec.PutUvarint32(b.buffer, uint32(nonShared))
	b.buffer = codec.PutUvarint32(b.buffer, uint32(len(value)))
	b.buffer = append(b.buffer, key[shared:]...)
	b.buffer = append(b.buffer, value...)

	b.lastKey = append(b.lastKey[:shared], key[shared:]...)
	b.counter++
}

// Finish appends the restart array and returns the complete block contents.
// The returned slice is owned by the builder and valid until Reset.
func (b *Builder) Finish() []byte {
	for _, r := range b.restarts {
		b.buffer = codec.PutFixed32(b.buffer, r)
	}
	b.buffer = codec.PutFixed32(b.buffer, uint32(len(b.restarts)))
	b.finished = true
	return b.buffer
}
