// Package batch implements the atomic write unit: a sequence of Put and
// Delete operations applied together. A batch's byte representation is what
// the WAL stores, so replaying a log is just decoding batches back out.
//
// Representation:
//
//	sequence:u64_le || count:u32_le || record*
//	record := TypeValue    varstring(key) varstring(value)
//	        | TypeDeletion varstring(key)
package batch

import (
	"encoding/binary"

	"github.com/xmh1011/go-leveldb/engine/lsm/keys"
	"github.com/xmh1011/go-leveldb/engine/lsm/memtable"
	"github.com/xmh1011/go-leveldb/pkg/codec"
	"github.com/xmh1011/go-leveldb/pkg/status"
)

// headerSize covers the sequence number and operation count.
const headerSize = 12

// Batch collects operations. The zero value is not ready; use New.
type Batch struct {
	rep []byte
}

// New returns an empty batch.
func New() *Batch {
	return &Batch{rep: make([]byte, headerSize)}
}

// Clear empties the batch for reuse.
func (b *Batch) Clear() {
	b.rep = b.rep[:0]
	for len(b.rep) < headerSize {
		b.rep = append(b.rep, 0)
	}
}

// Put queues a key/value store operation.
func (b *Batch) Put(key, value []byte) {
	b.setCount(b.Count() + 1)
	b.rep = append(b.rep, byte(keys.TypeValue))
	b.rep = codec.PutLengthPrefixedSlice(b.rep, key)
	b.rep = codec.PutLengthPrefixedSlice(b.rep, value)
}

// Delete queues a deletion of key.
func (b *Batch) Delete(key []byte) {
	b.setCount(b.Count() + 1)
	b.rep = append(b.rep, byte(keys.TypeDeletion))
	b.rep = codec.PutLengthPrefixedSlice(b.rep, key)
}

// ApproximateSize returns the byte size of the representation.
func (b *Batch) ApproximateSize() int { return len(b.rep) }

// Count returns the number of queued operations.
func (b *Batch) Count() uint32 {
	return codec.DecodeFixed32(b.rep[8:12])
}

func (b *Batch) setCount(n uint32) {
	binary.LittleEndian.PutUint32(b.rep[8:12], n)
}

// Sequence returns the sequence number assigned to the first operation.
func (b *Batch) Sequence() keys.SequenceNumber {
	return keys.SequenceNumber(codec.DecodeFixed64(b.rep[:8]))
}

// SetSequence stamps the sequence number of the first operation.
func (b *Batch) SetSequence(seq keys.SequenceNumber) {
	binary.LittleEndian.PutUint64(b.rep[:8], uint64(seq))
}

// Contents returns the wire representation, suitable for a WAL record.
func (b *Batch) Contents() []byte { return b.rep }

// SetContents replaces the batch with a decoded WAL record.
func (b *Batch) SetContents(data []byte) error {
	if len(data) < headerSize {
		return status.Corruptionf("malformed write batch (too small)")
	}
	b.rep = append(b.rep[:0], data...)
	return nil
}

// Handler receives the decoded operations of a batch in order.
type Handler interface {
	Put(key, value []byte)
	Delete(key []byte)
}

// Iterate decodes every operation into handler. It fails with a corruption
// error if the representation is malformed or the count disagrees with the
// records present.
func (b *Batch) Iterate(handler Handler) error {
	if len(b.rep) < headerSize {
		return status.Corruptionf("malformed write batch (too small)")
	}
	input := b.rep[headerSize:]
	var found uint32
	for len(input) > 0 {
		found++
		tag := keys.ValueType(input[0])
		input = input[1:]
		switch tag {
		case keys.TypeValue:
			key, n := codec.GetLengthPrefixedSlice(input)
			if n < 0 {
				return status.Corruptionf("bad WriteBatch Put")
			}
			value, m := codec.GetLengthPrefixedSlice(input[n:])
			if m < 0 {
				return status.Corruptionf("bad WriteBatch Put")
			}
			handler.Put(key, value)
			input = input[n+m:]
		case keys.TypeDeletion:
			key, n := codec.GetLengthPrefixedSlice(input)
			if n < 0 {
				return status.Corruptionf("bad WriteBatch Delete")
			}
			handler.Delete(key)
			input = input[n:]
		default:
			return status.Corruptionf("unknown WriteBatch tag %d", tag)
		}
	}
	if found != b.Count() {
		return status.Corruptionf("WriteBatch has wrong count")
	}
	return nil
}

// Append concatenates other's operations onto b.
func (b *Batch) Append(other *Batch) {
	b.setCount(b.Count() + other.Count())
	b.rep = append(b.rep, other.rep[headerSize:]...)
}

type memtableInserter struct {
	seq keys.SequenceNumber
	mem *memtable.MemTable
}

func (ins *memtableInserter) Put(key, value []byte) {
	ins.mem.Add(ins.seq, keys.TypeValue, key, value)
	ins.seq++
}

func (ins *memtableInserter) Delete(key []byte) {
	ins.mem.Add(ins.seq, keys.TypeDeletion, key, nil)
	ins.seq++
}

// InsertInto applies the batch to mem at consecutive sequence numbers
// starting from the batch's stamped sequence.
func (b *Batch) InsertInto(mem *memtable.MemTable) error {
	return b.Iterate(&memtableInserter{seq: b.Sequence(), mem: mem})
}
