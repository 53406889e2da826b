package wal

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/xmh1011/go-leveldb/pkg/crc"
	"github.com/xmh1011/go-leveldb/pkg/status"
)

// Reporter receives notice of data dropped during reading. bytes is an
// approximate count of the bytes lost to the reported condition.
type Reporter interface {
	Corruption(bytes int, reason error)
}

// Reader reassembles logical records from a sequential log file. Corruption
// never stops it: damaged regions are reported and skipped, and reading
// resumes at the next intact record. Not safe for concurrent use.
//
// Slices returned by ReadRecord remain valid only until the next call.
type Reader struct {
	file     io.Reader
	reporter Reporter
	checksum bool

	backing [BlockSize]byte
	buf     []byte // unconsumed tail of the current block
	eof     bool

	// Offset of the first location past the end of buf in the file.
	endOfBufferOffset uint64
	// Offset at which the last record returned by ReadRecord started.
	lastRecordOffset uint64
	// Offset at which to start looking for the first record to return.
	initialOffset uint64
	// True while skipping fragments of a record that began before
	// initialOffset's block.
	resyncing bool

	scratch []byte
}

// NewReader creates a reader that returns records starting at or past
// initialOffset. If checksum is true, CRCs are verified and mismatches
// reported as corruption.
func NewReader(file io.Reader, reporter Reporter, checksum bool, initialOffset uint64) *Reader {
	return &Reader{
		file:          file,
		reporter:      reporter,
		checksum:      checksum,
		initialOffset: initialOffset,
		resyncing:     initialOffset > 0,
	}
}

// LastRecordOffset returns the file offset of the last record returned by
// ReadRecord.
func (r *Reader) LastRecordOffset() uint64 { return r.lastRecordOffset }

// skipToInitialBlock positions the file at the start of the block containing
// initialOffset, or the next block if initialOffset lands in the trailer.
func (r *Reader) skipToInitialBlock() bool {
	offsetInBlock := r.initialOffset % BlockSize
	blockStart := r.initialOffset - offsetInBlock

	// The last 6 bytes of a block cannot start a record.
	if offsetInBlock > BlockSize-6 {
		blockStart += BlockSize
	}
	r.endOfBufferOffset = blockStart

	if blockStart > 0 {
		if err := r.skip(blockStart); err != nil {
			r.reportDrop(blockStart, err)
			return false
		}
	}
	return true
}

func (r *Reader) skip(n uint64) error {
	if s, ok := r.file.(io.Seeker); ok {
		_, err := s.Seek(int64(n), io.SeekCurrent)
		return err
	}
	_, err := io.CopyN(io.Discard, r.file, int64(n))
	return err
}

// ReadRecord returns the next complete logical record, or ok == false at end
// of file.
func (r *Reader) ReadRecord() (record []byte, ok bool) {
	if r.lastRecordOffset < r.initialOffset {
		if !r.skipToInitialBlock() {
			return nil, false
		}
	}

	r.scratch = r.scratch[:0]
	inFragmentedRecord := false
	// Offset of the logical record being assembled.
	var prospectiveRecordOffset uint64

	for {
		fragment, recordType := r.readPhysicalRecord()

		// readPhysicalRecord may have only had an empty trailer remaining in
		// its internal buffer; compute the record offset after it returns.
		physicalRecordOffset := r.endOfBufferOffset - uint64(len(r.buf)) - HeaderSize - uint64(len(fragment))

		if r.resyncing {
			switch recordType {
			case MiddleType:
				continue
			case LastType:
				r.resyncing = false
				continue
			default:
				r.resyncing = false
			}
		}

		switch recordType {
		case FullType:
			if inFragmentedRecord && len(r.scratch) > 0 {
				// An empty FIRST record at the tail of a block is a known
				// writer quirk; only a non-empty partial record is corrupt.
				r.reportCorruption(uint64(len(r.scratch)), "partial record without end(1)")
			}
			r.scratch = r.scratch[:0]
			r.lastRecordOffset = physicalRecordOffset
			return fragment, true

		case FirstType:
			if inFragmentedRecord && len(r.scratch) > 0 {
				r.reportCorruption(uint64(len(r.scratch)), "partial record without end(2)")
			}
			prospectiveRecordOffset = physicalRecordOffset
			r.scratch = append(r.scratch[:0], fragment...)
			inFragmentedRecord = true

		case MiddleType:
			if !inFragmentedRecord {
				r.reportCorruption(uint64(len(fragment)), "missing start of fragmented record(1)")
			} else {
				r.scratch = append(r.scratch, fragment...)
			}

		case LastType:
			if !inFragmentedRecord {
				r.reportCorruption(uint64(len(fragment)), "missing start of fragmented record(2)")
			} else {
				r.scratch = append(r.scratch, fragment...)
				r.lastRecordOffset = prospectiveRecordOffset
				return r.scratch, true
			}

		case eofResult:
			if inFragmentedRecord {
				// The writer died after a partial record; not a corruption.
				r.scratch = r.scratch[:0]
			}
			return nil, false

		case badRecordResult:
			if inFragmentedRecord {
				r.reportCorruption(uint64(len(r.scratch)), "error in middle of record")
				inFragmentedRecord = false
				r.scratch = r.scratch[:0]
			}

		default:
			extra := 0
			if inFragmentedRecord {
				extra = len(r.scratch)
			}
			r.reportCorruption(uint64(len(fragment)+extra), fmt.Sprintf("unknown record type %d", recordType))
			inFragmentedRecord = false
			r.scratch = r.scratch[:0]
		}
	}
}

// readPhysicalRecord returns the next physical record in the file, refilling
// the block buffer as needed. The special results eofResult and
// badRecordResult signal end of input and skippable damage.
func (r *Reader) readPhysicalRecord() ([]byte, RecordType) {
	for {
		if len(r.buf) < HeaderSize {
			if !r.eof {
				// Last read consumed a full block; anything left is trailer.
				n, err := io.ReadFull(r.file, r.backing[:])
				r.endOfBufferOffset += uint64(n)
				r.buf = r.backing[:n]
				if err == io.ErrUnexpectedEOF || err == io.EOF {
					r.eof = true
				} else if err != nil {
					r.buf = r.buf[:0]
					r.reportDrop(BlockSize, err)
					r.eof = true
					return nil, eofResult
				}
				continue
			}
			// A truncated header at the end of the file means the writer
			// crashed mid-write; report EOF rather than corruption.
			r.buf = r.buf[:0]
			return nil, eofResult
		}

		header := r.buf
		length := uint32(binary.LittleEndian.Uint16(header[4:6]))
		recordType := RecordType(header[6])
		if HeaderSize+length > uint32(len(r.buf)) {
			dropSize := uint64(len(r.buf))
			r.buf = r.buf[:0]
			if !r.eof {
				r.reportCorruption(dropSize, "bad record length")
				return nil, badRecordResult
			}
			// The file ended before the payload did; assume a writer crash.
			return nil, eofResult
		}

		if recordType == ZeroType && length == 0 {
			// Produced by preallocated file regions; skip without reporting.
			r.buf = r.buf[:0]
			return nil, badRecordResult
		}

		if r.checksum {
			expected := crc.Unmask(binary.LittleEndian.Uint32(header[0:4]))
			actual := crc.Value(header[6 : 7+length])
			if actual != expected {
				// Drop the rest of the buffer: length itself may be corrupt,
				// and trusting it could resynchronize onto garbage that
				// happens to look like a record.
				dropSize := uint64(len(r.buf))
				r.buf = r.buf[:0]
				r.reportCorruption(dropSize, "checksum mismatch")
				return nil, badRecordResult
			}
		}

		payload := r.buf[HeaderSize : HeaderSize+length]
		r.buf = r.buf[HeaderSize+length:]

		// Skip physical records that started before initialOffset.
		if r.endOfBufferOffset-uint64(len(r.buf))-HeaderSize-uint64(length) < r.initialOffset {
			return nil, badRecordResult
		}

		return payload, recordType
	}
}

func (r *Reader) reportCorruption(bytes uint64, reason string) {
	r.reportDrop(bytes, status.Corruptionf("%s", reason))
}

func (r *Reader) reportDrop(bytes uint64, reason error) {
	if r.reporter != nil && r.endOfBufferOffset-uint64(len(r.buf))-bytes >= r.initialOffset {
		r.reporter.Corruption(int(bytes), reason)
	}
}
