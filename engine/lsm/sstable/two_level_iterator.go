package sstable

import (
	"bytes"

	"github.com/xmh1011/go-leveldb/engine/lsm/sstable/block"
)

// TableIterator presents every key/value pair of a table as one logical
// sequence: an index-block iterator supplies data-block handles, and a data
// block iterator walks entries within the current block. Blocks pinned in
// the cache are released as the iterator moves off them; call Close when
// done to release the last one.
type TableIterator struct {
	table *Table
	ro    ReadOptions

	index *block.Iterator

	data        *block.Iterator
	dataRelease func()
	// Encoded handle the current data iterator was opened from; lets a seek
	// that lands in the same block reuse it.
	dataBlockHandle []byte

	err error
}

// Valid reports whether the iterator is positioned at an entry.
func (it *TableIterator) Valid() bool {
	return it.data != nil && it.data.Valid()
}

// Key returns the current key. REQUIRES: Valid().
func (it *TableIterator) Key() []byte { return it.data.Key() }

// Value returns the current value. REQUIRES: Valid().
func (it *TableIterator) Value() []byte { return it.data.Value() }

// Status returns the first error among the index iterator, the data
// iterator, and block loading.
func (it *TableIterator) Status() error {
	if err := it.index.Status(); err != nil {
		return err
	}
	if it.data != nil {
		if err := it.data.Status(); err != nil {
			return err
		}
	}
	return it.err
}

// Close releases the current data block. The iterator must not be used
// afterwards.
func (it *TableIterator) Close() {
	it.setDataIterator(nil, nil)
}

// Seek positions at the first entry with key >= target.
func (it *TableIterator) Seek(target []byte) {
	it.index.Seek(target)
	it.initDataBlock()
	if it.data != nil {
		it.data.Seek(target)
	}
	it.skipEmptyDataBlocksForward()
}

// SeekToFirst positions at the first entry of the table.
func (it *TableIterator) SeekToFirst() {
	it.index.SeekToFirst()
	it.initDataBlock()
	if it.data != nil {
		it.data.SeekToFirst()
	}
	it.skipEmptyDataBlocksForward()
}

// SeekToLast positions at the last entry of the table.
func (it *TableIterator) SeekToLast() {
	it.index.SeekToLast()
	it.initDataBlock()
	if it.data != nil {
		it.data.SeekToLast()
	}
	it.skipEmptyDataBlocksBackward()
}

// Next advances to the next entry, crossing into the next data block as
// needed. REQUIRES: Valid().
func (it *TableIterator) Next() {
	it.data.Next()
	it.skipEmptyDataBlocksForward()
}

// Prev moves to the previous entry. REQUIRES: Valid().
func (it *TableIterator) Prev() {
	it.data.Prev()
	it.skipEmptyDataBlocksBackward()
}

func (it *TableIterator) skipEmptyDataBlocksForward() {
	for it.data == nil || !it.data.Valid() {
		if !it.index.Valid() {
			it.setDataIterator(nil, nil)
			return
		}
		it.index.Next()
		it.initDataBlock()
		if it.data != nil {
			it.data.SeekToFirst()
		}
	}
}

func (it *TableIterator) skipEmptyDataBlocksBackward() {
	for it.data == nil || !it.data.Valid() {
		if !it.index.Valid() {
			it.setDataIterator(nil, nil)
			return
		}
		it.index.Prev()
		it.initDataBlock()
		if it.data != nil {
			it.data.SeekToLast()
		}
	}
}

func (it *TableIterator) setDataIterator(data *block.Iterator, release func()) {
	if it.dataRelease != nil {
		it.dataRelease()
	}
	it.data = data
	it.dataRelease = release
}

func (it *TableIterator) initDataBlock() {
	if !it.index.Valid() {
		it.setDataIterator(nil, nil)
		return
	}
	handle := it.index.Value()
	if it.data != nil && bytes.Equal(it.dataBlockHandle, handle) {
		// Already positioned in this block.
		return
	}
	data, release, err := it.table.blockIterator(it.ro, handle)
	if err != nil {
		if it.err == nil {
			it.err = err
		}
		it.setDataIterator(nil, nil)
		return
	}
	it.dataBlockHandle = append(it.dataBlockHandle[:0], handle...)
	it.setDataIterator(data, release)
}
