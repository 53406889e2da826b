package sstable

import (
	"io"

	"github.com/golang/snappy"

	"github.com/xmh1011/go-leveldb/engine/lsm/sstable/block"
	"github.com/xmh1011/go-leveldb/engine/lsm/sstable/filter"
	"github.com/xmh1011/go-leveldb/pkg/codec"
	"github.com/xmh1011/go-leveldb/pkg/crc"
	"github.com/xmh1011/go-leveldb/pkg/status"
)

type flusher interface {
	Flush() error
}

// Builder streams strictly increasing key/value pairs into an sstable file.
// Any write or ordering error sticks: later Add/Flush calls become no-ops and
// Finish returns the error. Single-threaded except for the const observers
// NumEntries, FileSize, and Status.
type Builder struct {
	opts   Options
	file   io.Writer
	offset uint64
	err    error

	dataBlock  *block.Builder
	indexBlock *block.Builder
	lastKey    []byte
	numEntries int
	closed     bool

	filterBlock *filter.BlockBuilder

	// The index entry for a finished data block is withheld until the next
	// block's first key arrives, so the separator can be shorter than the
	// block's own last key. pendingIndexEntry is true exactly when dataBlock
	// is empty and a data block has been written.
	pendingIndexEntry bool
	pendingHandle     BlockHandle

	compressed []byte // compression scratch
	scratch    []byte // handle encoding scratch
}

// NewBuilder creates a builder writing to file, which the caller keeps open
// until after Finish or Abandon.
func NewBuilder(opts Options, file io.Writer) *Builder {
	b := &Builder{
		opts:       opts,
		file:       file,
		dataBlock:  block.NewBuilder(opts.BlockRestartInterval),
		indexBlock: block.NewBuilder(1),
	}
	if opts.FilterPolicy != nil {
		b.filterBlock = filter.NewBlockBuilder(opts.FilterPolicy)
		b.filterBlock.StartBlock(0)
	}
	return b
}

// Status returns the sticky error, if any.
func (b *Builder) Status() error { return b.err }

// NumEntries returns the number of keys added so far.
func (b *Builder) NumEntries() int { return b.numEntries }

// FileSize returns the bytes written so far. After Finish it is the final
// file size.
func (b *Builder) FileSize() uint64 { return b.offset }

// Add appends an entry. Keys must be strictly increasing under the
// comparator; a violation is recorded as a corruption error.
func (b *Builder) Add(key, value []byte) {
	if b.closed {
		panic("sstable: Add after Finish or Abandon")
	}
	if b.err != nil {
		return
	}
	if b.numEntries > 0 && b.opts.Comparator.Compare(key, b.lastKey) <= 0 {
		b.err = status.Corruptionf("keys added out of order")
		return
	}

	if b.pendingIndexEntry {
		if !b.dataBlock.Empty() {
			panic("sstable: pending index entry with non-empty data block")
		}
		separator := b.opts.Comparator.FindShortestSeparator(b.lastKey, key)
		b.scratch = b.pendingHandle.EncodeTo(b.scratch[:0])
		b.indexBlock.Add(separator, b.scratch)
		b.pendingIndexEntry = false
	}

	if b.filterBlock != nil {
		b.filterBlock.AddKey(key)
	}

	b.lastKey = append(b.lastKey[:0], key...)
	b.numEntries++
	b.dataBlock.Add(key, value)

	if b.dataBlock.CurrentSizeEstimate() >= b.opts.BlockSize {
		b.Flush()
	}
}

// Flush cuts the current data block and writes it out. A no-op when the
// block is empty.
func (b *Builder) Flush() {
	if b.closed {
		panic("sstable: Flush after Finish or Abandon")
	}
	if b.err != nil || b.dataBlock.Empty() {
		return
	}
	if b.pendingIndexEntry {
		panic("sstable: Flush with pending index entry")
	}
	b.writeBlock(b.dataBlock, &b.pendingHandle)
	if b.err == nil {
		b.pendingIndexEntry = true
		if f, ok := b.file.(flusher); ok {
			b.err = f.Flush()
		}
	}
	if b.filterBlock != nil {
		// The next filter range begins at the new end of file.
		b.filterBlock.StartBlock(b.offset)
	}
}

// writeBlock finishes bb, compresses its contents if that pays for itself,
// and emits the block with its trailer. handle receives the block location.
func (b *Builder) writeBlock(bb *block.Builder, handle *BlockHandle) {
	raw := bb.Finish()

	contents := raw
	blockType := b.opts.Compression
	switch b.opts.Compression {
	case NoCompression:
	case SnappyCompression:
		b.compressed = snappy.Encode(b.compressed[:cap(b.compressed)], raw)
		if len(b.compressed) < len(raw)-len(raw)/8 {
			contents = b.compressed
		} else {
			blockType = NoCompression
		}
	case ZstdCompression:
		b.compressed = zstdCompress(raw)
		if len(b.compressed) < len(raw)-len(raw)/8 {
			contents = b.compressed
		} else {
			blockType = NoCompression
		}
	}
	b.writeRawBlock(contents, blockType, handle)
	b.compressed = b.compressed[:0]
	bb.Reset()
}

func (b *Builder) writeRawBlock(contents []byte, blockType CompressionType, handle *BlockHandle) {
	handle.Offset = b.offset
	handle.Size = uint64(len(contents))

	if _, err := b.file.Write(contents); err != nil {
		b.err = err
		return
	}
	var trailer [BlockTrailerSize]byte
	trailer[0] = byte(blockType)
	sum := crc.Extend(crc.Value(contents), trailer[:1])
	copy(trailer[1:], codec.PutFixed32(nil, crc.Mask(sum)))
	if _, err := b.file.Write(trailer[:]); err != nil {
		b.err = err
		return
	}
	b.offset += uint64(len(contents)) + BlockTrailerSize
}

// Finish writes the filter, metaindex, and index blocks and the footer. The
// builder is closed regardless of the outcome.
func (b *Builder) Finish() error {
	b.Flush()
	if b.closed {
		panic("sstable: Finish called twice")
	}
	b.closed = true

	var filterHandle, metaindexHandle, indexHandle BlockHandle

	// Filter block, stored raw: filters are already high-entropy and the
	// reader addresses them by uncompressed offsets.
	if b.err == nil && b.filterBlock != nil {
		b.writeRawBlock(b.filterBlock.Finish(), NoCompression, &filterHandle)
	}

	// Metaindex block, mapping "filter.<policy>" to the filter block.
	if b.err == nil {
		metaindex := block.NewBuilder(b.opts.BlockRestartInterval)
		if b.filterBlock != nil {
			key := "filter." + b.opts.FilterPolicy.Name()
			b.scratch = filterHandle.EncodeTo(b.scratch[:0])
			metaindex.Add([]byte(key), b.scratch)
		}
		b.writeBlock(metaindex, &metaindexHandle)
	}

	// Index block.
	if b.err == nil {
		if b.pendingIndexEntry {
			successor := b.opts.Comparator.FindShortSuccessor(b.lastKey)
			b.scratch = b.pendingHandle.EncodeTo(b.scratch[:0])
			b.indexBlock.Add(successor, b.scratch)
			b.pendingIndexEntry = false
		}
		b.writeBlock(b.indexBlock, &indexHandle)
	}

	// Footer.
	if b.err == nil {
		footer := Footer{MetaindexHandle: metaindexHandle, IndexHandle: indexHandle}
		encoded := footer.EncodeTo(nil)
		if _, err := b.file.Write(encoded); err != nil {
			b.err = err
		} else {
			b.offset += uint64(len(encoded))
		}
	}
	return b.err
}

// Abandon closes the builder without emitting the remaining metadata. The
// file contents are unspecified and should be discarded.
func (b *Builder) Abandon() {
	if b.closed {
		panic("sstable: Abandon called twice")
	}
	b.closed = true
}
