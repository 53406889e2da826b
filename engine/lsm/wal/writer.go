package wal

import (
	"encoding/binary"
	"io"

	"github.com/xmh1011/go-leveldb/pkg/crc"
)

// flusher is implemented by buffered destinations (bufio.Writer); plain
// *os.File writes go straight through.
type flusher interface {
	Flush() error
}

// Writer appends logical records to a destination, fragmenting them into
// physical records at block boundaries. Not safe for concurrent use.
type Writer struct {
	dest        io.Writer
	blockOffset int // current offset in the block, in [0, BlockSize)

	// crc of the type byte for each record type, extended per record with the
	// payload. Precomputed to shave a little work off the hot path.
	typeCRC [maxRecordType + 1]uint32
}

// NewWriter creates a writer that starts at the beginning of a block.
func NewWriter(dest io.Writer) *Writer {
	return NewWriterAtOffset(dest, 0)
}

// NewWriterAtOffset creates a writer appending to a destination that already
// holds destLength bytes of log data.
func NewWriterAtOffset(dest io.Writer, destLength uint64) *Writer {
	w := &Writer{
		dest:        dest,
		blockOffset: int(destLength % BlockSize),
	}
	for t := ZeroType; t <= maxRecordType; t++ {
		w.typeCRC[t] = crc.Value([]byte{byte(t)})
	}
	return w
}

// AddRecord appends one logical record. An empty payload still emits a single
// zero-length FULL record so the reader yields it as an empty slice.
func (w *Writer) AddRecord(payload []byte) error {
	left := payload
	begin := true
	for {
		leftover := BlockSize - w.blockOffset
		if leftover < HeaderSize {
			// Not enough room for a header; fill the block with zeros and
			// start fresh. The reader skips this padding silently.
			if leftover > 0 {
				if _, err := w.dest.Write(zeros[:leftover]); err != nil {
					return err
				}
			}
			w.blockOffset = 0
		}

		avail := BlockSize - w.blockOffset - HeaderSize
		frag := len(left)
		if frag > avail {
			frag = avail
		}
		end := frag == len(left)

		var t RecordType
		switch {
		case begin && end:
			t = FullType
		case begin:
			t = FirstType
		case end:
			t = LastType
		default:
			t = MiddleType
		}

		if err := w.emitPhysicalRecord(t, left[:frag]); err != nil {
			return err
		}
		left = left[frag:]
		begin = false
		if len(left) == 0 && end {
			return nil
		}
	}
}

func (w *Writer) emitPhysicalRecord(t RecordType, p []byte) error {
	var header [HeaderSize]byte
	sum := crc.Mask(crc.Extend(w.typeCRC[t], p))
	binary.LittleEndian.PutUint32(header[0:4], sum)
	binary.LittleEndian.PutUint16(header[4:6], uint16(len(p)))
	header[6] = byte(t)

	if _, err := w.dest.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.dest.Write(p); err != nil {
		return err
	}
	w.blockOffset += HeaderSize + len(p)
	if f, ok := w.dest.(flusher); ok {
		return f.Flush()
	}
	return nil
}

var zeros [HeaderSize - 1]byte
