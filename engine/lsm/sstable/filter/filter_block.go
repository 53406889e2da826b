package filter

import (
	"github.com/xmh1011/go-leveldb/pkg/codec"
)

// A filter block maps file-offset ranges of data blocks to filters:
//
//	filters... || u32_le[N](filter offsets) || u32_le(offsets start) || u8(base_lg)
//
// Filter i covers keys of data blocks whose ending file offsets fall in
// [i<<baseLg, (i+1)<<baseLg). Ranges without keys store an empty filter.
const (
	baseLg     = 11
	filterBase = 1 << baseLg // one filter per 2 KiB of data-block space
)

// BlockBuilder accumulates keys per filter range and emits the filter block.
type BlockBuilder struct {
	policy        Policy
	keys          []byte   // flattened key bytes
	starts        []int    // offset of each key in keys
	result        []byte   // filter data so far
	filterOffsets []uint32 // offset of each filter in result
	tmpKeys       [][]byte // reused by generate
}

// NewBlockBuilder creates a builder for the given policy.
func NewBlockBuilder(policy Policy) *BlockBuilder {
	return &BlockBuilder{policy: policy}
}

// StartBlock generates filters for every range ending before blockOffset,
// which is where the next data block will end. Data blocks larger than the
// filter range leave the skipped ranges with empty filters.
func (b *BlockBuilder) StartBlock(blockOffset uint64) {
	filterIndex := blockOffset / filterBase
	if filterIndex < uint64(len(b.filterOffsets)) {
		panic("filter: StartBlock moved backwards")
	}
	for filterIndex > uint64(len(b.filterOffsets)) {
		b.generateFilter()
	}
}

// AddKey records a key for the filter covering the current data block.
func (b *BlockBuilder) AddKey(key []byte) {
	b.starts = append(b.starts, len(b.keys))
	b.keys = append(b.keys, key...)
}

// Finish emits any pending filter, the offset array, and the trailer, and
// returns the finished block contents.
func (b *BlockBuilder) Finish() []byte {
	if len(b.starts) > 0 {
		b.generateFilter()
	}

	arrayOffset := uint32(len(b.result))
	for _, off := range b.filterOffsets {
		b.result = codec.PutFixed32(b.result, off)
	}
	b.result = codec.PutFixed32(b.result, arrayOffset)
	b.result = append(b.result, baseLg)
	return b.result
}

func (b *BlockBuilder) generateFilter() {
	numKeys := len(b.starts)
	if numKeys == 0 {
		// Empty filter for a range with no keys.
		b.filterOffsets = append(b.filterOffsets, uint32(len(b.result)))
		return
	}

	b.starts = append(b.starts, len(b.keys)) // simplify length computation
	b.tmpKeys = b.tmpKeys[:0]
	for i := 0; i < numKeys; i++ {
		b.tmpKeys = append(b.tmpKeys, b.keys[b.starts[i]:b.starts[i+1]])
	}

	b.filterOffsets = append(b.filterOffsets, uint32(len(b.result)))
	b.result = b.policy.CreateFilter(b.tmpKeys, b.result)

	b.keys = b.keys[:0]
	b.starts = b.starts[:0]
}

// BlockReader answers membership queries against a finished filter block.
type BlockReader struct {
	policy Policy
	data   []byte
	offset uint32 // start of the offset array
	num    uint32 // number of filter ranges
	baseLg uint
}

// NewBlockReader parses the block trailer. A malformed block yields a reader
// whose every query conservatively matches.
func NewBlockReader(policy Policy, contents []byte) *BlockReader {
	r := &BlockReader{policy: policy}
	n := len(contents)
	if n < 5 {
		return r
	}
	lastWord := codec.DecodeFixed32(contents[n-5:])
	if lastWord > uint32(n-5) {
		return r
	}
	r.data = contents
	r.offset = lastWord
	r.num = (uint32(n-5) - lastWord) / 4
	r.baseLg = uint(contents[n-1])
	return r
}

// KeyMayMatch reports whether key may have been added under a data block
// ending at blockOffset. Out-of-range and undecodable offsets are treated as
// potential matches; empty filters match nothing.
func (r *BlockReader) KeyMayMatch(blockOffset uint64, key []byte) bool {
	index := blockOffset >> r.baseLg
	if r.data == nil || index >= uint64(r.num) {
		return true
	}
	start := codec.DecodeFixed32(r.data[r.offset+uint32(index)*4:])
	limit := codec.DecodeFixed32(r.data[r.offset+uint32(index)*4+4:])
	if start == limit {
		return false
	}
	if start < limit && limit <= r.offset {
		return r.policy.KeyMayMatch(key, r.data[start:limit])
	}
	return true
}
