package sstable

import (
	"github.com/xmh1011/go-leveldb/engine/lsm/cache"
	"github.com/xmh1011/go-leveldb/engine/lsm/keys"
	"github.com/xmh1011/go-leveldb/engine/lsm/sstable/filter"
)

// Options controls table construction and opening. The comparator and filter
// policy must match between the builder and every reader of a file.
type Options struct {
	// Comparator orders keys within the table. Tables holding internal keys
	// use the internal-key comparator.
	Comparator keys.Comparator

	// BlockSize is the uncompressed threshold at which a data block is cut.
	BlockSize int

	// BlockRestartInterval is the number of entries between restart points
	// in data blocks. The index block always uses 1.
	BlockRestartInterval int

	// Compression selects the per-block codec. A block that compresses by
	// less than 12.5% is stored raw regardless.
	Compression CompressionType

	// FilterPolicy, when non-nil, adds a filter block consulted on reads.
	FilterPolicy filter.Policy

	// BlockCache, when non-nil, caches decoded data blocks across reads.
	BlockCache *cache.Cache

	// ParanoidChecks verifies checksums of the index and meta blocks at Open.
	ParanoidChecks bool
}

// DefaultOptions returns the standard tuning.
func DefaultOptions() Options {
	return Options{
		Comparator:           keys.NewInternalKeyComparator(keys.BytewiseComparator{}),
		BlockSize:            4 * 1024,
		BlockRestartInterval: 16,
		Compression:          SnappyCompression,
	}
}

// ReadOptions controls a single read or iteration.
type ReadOptions struct {
	// VerifyChecksums checks the trailer crc of every block read.
	VerifyChecksums bool

	// FillCache adds blocks read for this operation to the block cache.
	// Bulk scans typically leave it off.
	FillCache bool
}
