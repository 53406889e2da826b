package sstable

import (
	"bytes"
	"io"

	"github.com/xmh1011/go-leveldb/engine/lsm/keys"
	"github.com/xmh1011/go-leveldb/engine/lsm/sstable/block"
	"github.com/xmh1011/go-leveldb/engine/lsm/sstable/filter"
	"github.com/xmh1011/go-leveldb/pkg/codec"
	"github.com/xmh1011/go-leveldb/pkg/status"
)

// Table reads one sstable file. After Open it is immutable and safe for
// concurrent reads; the underlying file must outlive it.
type Table struct {
	opts            Options
	file            io.ReaderAt
	cacheID         uint64
	metaindexHandle BlockHandle
	indexBlock      *block.Block
	filter          *filter.BlockReader
}

// Open reads the footer and index block of a file of the given size. Filter
// metadata is loaded best-effort: a damaged or missing filter never fails
// Open, it just disables filtering.
func Open(opts Options, file io.ReaderAt, size uint64) (*Table, error) {
	if size < FooterEncodedLength {
		return nil, status.Corruptionf("file is too short to be an sstable")
	}

	var footerSpace [FooterEncodedLength]byte
	if _, err := io.ReadFull(io.NewSectionReader(file, int64(size-FooterEncodedLength), FooterEncodedLength), footerSpace[:]); err != nil {
		return nil, err
	}
	footer, err := DecodeFooter(footerSpace[:])
	if err != nil {
		return nil, err
	}

	indexContents, err := ReadBlock(file, footer.IndexHandle, opts.ParanoidChecks)
	if err != nil {
		return nil, err
	}
	indexBlock, err := block.New(indexContents)
	if err != nil {
		return nil, err
	}

	t := &Table{
		opts:            opts,
		file:            file,
		metaindexHandle: footer.MetaindexHandle,
		indexBlock:      indexBlock,
	}
	if opts.BlockCache != nil {
		t.cacheID = opts.BlockCache.NewID()
	}
	t.readMeta(footer)
	return t, nil
}

// readMeta locates the filter block through the metaindex. Errors are
// swallowed: the filter is an optimization, not a requirement.
func (t *Table) readMeta(footer Footer) {
	if t.opts.FilterPolicy == nil {
		return
	}
	contents, err := ReadBlock(t.file, footer.MetaindexHandle, t.opts.ParanoidChecks)
	if err != nil {
		return
	}
	meta, err := block.New(contents)
	if err != nil {
		return
	}
	it := meta.NewIterator(keys.BytewiseComparator{})
	key := []byte("filter." + t.opts.FilterPolicy.Name())
	it.Seek(key)
	if it.Valid() && bytes.Equal(it.Key(), key) {
		t.readFilter(it.Value())
	}
}

func (t *Table) readFilter(handleValue []byte) {
	handle, _, err := DecodeBlockHandle(handleValue)
	if err != nil {
		return
	}
	contents, err := ReadBlock(t.file, handle, t.opts.ParanoidChecks)
	if err != nil {
		return
	}
	t.filter = filter.NewBlockReader(t.opts.FilterPolicy, contents)
}

// blockIterator opens an iterator over the data block named by an encoded
// handle, going through the block cache when one is configured. release
// must be called when the iterator is no longer needed.
func (t *Table) blockIterator(ro ReadOptions, indexValue []byte) (it *block.Iterator, release func(), err error) {
	handle, _, err := DecodeBlockHandle(indexValue)
	if err != nil {
		return nil, nil, err
	}

	release = func() {}
	var blk *block.Block
	if bc := t.opts.BlockCache; bc != nil {
		var cacheKey [16]byte
		copy(cacheKey[:8], codec.PutFixed64(nil, t.cacheID))
		copy(cacheKey[8:], codec.PutFixed64(nil, handle.Offset))
		if h := bc.Lookup(cacheKey[:]); h != nil {
			blk = h.Value().(*block.Block)
			release = func() { bc.Release(h) }
		} else {
			contents, rerr := ReadBlock(t.file, handle, ro.VerifyChecksums)
			if rerr != nil {
				return nil, nil, rerr
			}
			if blk, err = block.New(contents); err != nil {
				return nil, nil, err
			}
			if ro.FillCache {
				h := bc.Insert(cacheKey[:], blk, blk.Size())
				release = func() { bc.Release(h) }
			}
		}
	} else {
		contents, rerr := ReadBlock(t.file, handle, ro.VerifyChecksums)
		if rerr != nil {
			return nil, nil, rerr
		}
		if blk, err = block.New(contents); err != nil {
			return nil, nil, err
		}
	}
	return blk.NewIterator(t.opts.Comparator), release, nil
}

// InternalGet seeks k and, if an entry at or after it exists in the
// candidate block, hands it to handler. A filter miss skips the block read
// entirely. handler is not called when no candidate exists.
func (t *Table) InternalGet(ro ReadOptions, k []byte, handler func(key, value []byte)) error {
	indexIter := t.indexBlock.NewIterator(t.opts.Comparator)
	indexIter.Seek(k)
	if !indexIter.Valid() {
		return indexIter.Status()
	}

	handleValue := indexIter.Value()
	if t.filter != nil {
		handle, _, err := DecodeBlockHandle(handleValue)
		if err == nil && !t.filter.KeyMayMatch(handle.Offset, k) {
			// Definitely absent.
			return nil
		}
	}

	blockIter, release, err := t.blockIterator(ro, handleValue)
	if err != nil {
		return err
	}
	defer release()
	blockIter.Seek(k)
	if blockIter.Valid() {
		handler(blockIter.Key(), blockIter.Value())
	}
	if err := blockIter.Status(); err != nil {
		return err
	}
	return indexIter.Status()
}

// ApproximateOffsetOf returns the file offset near where key would live:
// the offset of its candidate data block, or the start of the metadata
// region for keys past the last block.
func (t *Table) ApproximateOffsetOf(key []byte) uint64 {
	indexIter := t.indexBlock.NewIterator(t.opts.Comparator)
	indexIter.Seek(key)
	if indexIter.Valid() {
		if handle, _, err := DecodeBlockHandle(indexIter.Value()); err == nil {
			return handle.Offset
		}
	}
	// Past the last key, or a decode problem: approximate with the start of
	// the metaindex block, which is near the end of the file.
	return t.metaindexHandle.Offset
}

// NewIterator returns an iterator over every key/value pair in the table in
// comparator order.
func (t *Table) NewIterator(ro ReadOptions) *TableIterator {
	return &TableIterator{
		table: t,
		ro:    ro,
		index: t.indexBlock.NewIterator(t.opts.Comparator),
	}
}
