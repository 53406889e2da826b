package wal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xmh1011/go-leveldb/pkg/crc"
)

// collectingReporter records every drop for assertions.
type collectingReporter struct {
	drops   []string
	dropped int
}

func (r *collectingReporter) Corruption(bytes int, reason error) {
	r.drops = append(r.drops, reason.Error())
	r.dropped += bytes
}

func repeat(c byte, n int) []byte {
	return bytes.Repeat([]byte{c}, n)
}

func writeRecords(t *testing.T, payloads [][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, p := range payloads {
		require.NoError(t, w.AddRecord(p))
	}
	return buf.Bytes()
}

func readAll(t *testing.T, data []byte, initialOffset uint64) ([][]byte, *collectingReporter) {
	t.Helper()
	reporter := &collectingReporter{}
	r := NewReader(bytes.NewReader(data), reporter, true, initialOffset)
	var records [][]byte
	for {
		rec, ok := r.ReadRecord()
		if !ok {
			break
		}
		records = append(records, append([]byte(nil), rec...))
	}
	return records, reporter
}

func TestWriteReadRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "small", payload: []byte("hello")},
		{name: "empty", payload: []byte{}},
		{name: "exactly fits one block", payload: repeat('x', BlockSize-HeaderSize)},
		{name: "spans two blocks", payload: repeat('y', BlockSize)},
		{name: "spans three blocks", payload: repeat('z', 2*BlockSize+100)},
		{name: "spans many blocks", payload: repeat('w', 5*BlockSize+12345)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := writeRecords(t, [][]byte{tt.payload})
			records, reporter := readAll(t, data, 0)
			require.Len(t, records, 1)
			assert.Equal(t, tt.payload, records[0])
			assert.Empty(t, reporter.drops)
		})
	}
}

func TestReadSequence(t *testing.T) {
	payloads := [][]byte{
		[]byte("a"),
		repeat('b', 1000),
		{},
		repeat('c', 33000),
	}
	data := writeRecords(t, payloads)
	records, reporter := readAll(t, data, 0)
	require.Len(t, records, len(payloads))
	for i := range payloads {
		assert.Equal(t, payloads[i], records[i], "record %d", i)
	}
	assert.Empty(t, reporter.drops)
}

func TestFragmentTypesOnDisk(t *testing.T) {
	// A record spanning three blocks must serialize as FIRST, MIDDLE, LAST.
	data := writeRecords(t, [][]byte{repeat('q', 2*BlockSize)})
	assert.Equal(t, byte(FirstType), data[6])
	assert.Equal(t, byte(MiddleType), data[BlockSize+6])
	assert.Equal(t, byte(LastType), data[2*BlockSize+6])
}

func TestInitialOffset(t *testing.T) {
	// Layout: "a" at 0, "b"*1000 at 8, "" at 1015, "c"*33000 starting at
	// 1022 and spanning into block 1, then "d" within block 1.
	payloads := [][]byte{
		[]byte("a"),
		repeat('b', 1000),
		{},
		repeat('c', 33000),
		[]byte("d"),
	}
	data := writeRecords(t, payloads)

	tests := []struct {
		name          string
		initialOffset uint64
		expected      [][]byte
	}{
		{
			name:          "zero yields everything",
			initialOffset: 0,
			expected:      payloads,
		},
		{
			name:          "offset inside first record skips it",
			initialOffset: 1,
			expected:      payloads[1:],
		},
		{
			name: "offset at second block yields records starting there",
			// The tail fragment of the c record lands at the start of block
			// 1; resynchronization drops it and reading resumes at "d".
			initialOffset: BlockSize,
			expected:      payloads[4:],
		},
		{
			name:          "offset past everything yields nothing",
			initialOffset: uint64(len(data) + BlockSize),
			expected:      nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, reporter := readAll(t, data, tt.initialOffset)
			require.Len(t, records, len(tt.expected))
			for i := range tt.expected {
				assert.Equal(t, tt.expected[i], records[i], "record %d", i)
			}
			assert.Empty(t, reporter.drops, "drops before initial offset must be suppressed")
		})
	}
}

func TestBlockTrailerPadding(t *testing.T) {
	// Leave 3 bytes at the end of the first block: too small for a header,
	// so the writer zero-fills and the next record starts the next block.
	first := repeat('p', BlockSize-HeaderSize-3)
	second := []byte("second")
	data := writeRecords(t, [][]byte{first, second})

	require.GreaterOrEqual(t, len(data), BlockSize)
	assert.Equal(t, []byte{0, 0, 0}, data[BlockSize-3:BlockSize])
	assert.Equal(t, byte(FullType), data[BlockSize+6])

	records, reporter := readAll(t, data, 0)
	require.Len(t, records, 2)
	assert.Equal(t, first, records[0])
	assert.Equal(t, second, records[1])
	assert.Empty(t, reporter.drops)
}

func TestTruncatedHeaderAtEOF(t *testing.T) {
	data := writeRecords(t, [][]byte{[]byte("alive")})
	// A writer crash can leave a partial header; that is EOF, not corruption.
	truncated := append(append([]byte(nil), data...), 0x01, 0x02, 0x03)
	records, reporter := readAll(t, truncated, 0)
	require.Len(t, records, 1)
	assert.Equal(t, []byte("alive"), records[0])
	assert.Empty(t, reporter.drops)
}

func TestTruncatedPayloadAtEOF(t *testing.T) {
	data := writeRecords(t, [][]byte{[]byte("alive"), repeat('t', 5000)})
	truncated := data[:len(data)-2500]
	records, reporter := readAll(t, truncated, 0)
	require.Len(t, records, 1)
	assert.Equal(t, []byte("alive"), records[0])
	assert.Empty(t, reporter.drops)
}

func TestTruncatedFragmentedRecordAtEOF(t *testing.T) {
	// Only the FIRST fragment of the second record survives; the reader
	// drops the incomplete logical record silently.
	data := writeRecords(t, [][]byte{[]byte("alive"), repeat('t', 2*BlockSize)})
	truncated := data[:BlockSize]
	records, reporter := readAll(t, truncated, 0)
	require.Len(t, records, 1)
	assert.Equal(t, []byte("alive"), records[0])
	assert.Empty(t, reporter.drops)
}

func TestChecksumMismatch(t *testing.T) {
	// Fill block 0 exactly with a corrupted record; the good record in
	// block 1 must still be readable after resync.
	data := writeRecords(t, [][]byte{repeat('v', BlockSize-HeaderSize), []byte("good")})
	data[HeaderSize] ^= 0xff // flip a payload byte of the first record

	records, reporter := readAll(t, data, 0)
	require.Len(t, records, 1)
	assert.Equal(t, []byte("good"), records[0])
	require.NotEmpty(t, reporter.drops)
	assert.Contains(t, reporter.drops[0], "checksum mismatch")
	assert.GreaterOrEqual(t, reporter.dropped, BlockSize-HeaderSize)
}

func TestBadRecordLength(t *testing.T) {
	// Block 0 claims a record longer than the block; block 1 holds a good
	// record.
	block0 := make([]byte, BlockSize)
	binary.LittleEndian.PutUint16(block0[4:6], 0xffff)
	block0[6] = byte(FullType)
	data := append(block0, writeRecords(t, [][]byte{[]byte("recovered")})...)

	records, reporter := readAll(t, data, 0)
	require.Len(t, records, 1)
	assert.Equal(t, []byte("recovered"), records[0])
	require.NotEmpty(t, reporter.drops)
	assert.Contains(t, reporter.drops[0], "bad record length")
}

func TestUnknownRecordType(t *testing.T) {
	payload := []byte("mystery")
	record := make([]byte, HeaderSize+len(payload))
	sum := crc.Mask(crc.Extend(crc.Value([]byte{9}), payload))
	binary.LittleEndian.PutUint32(record[0:4], sum)
	binary.LittleEndian.PutUint16(record[4:6], uint16(len(payload)))
	record[6] = 9
	copy(record[HeaderSize:], payload)

	records, reporter := readAll(t, record, 0)
	assert.Empty(t, records)
	require.NotEmpty(t, reporter.drops)
	assert.Contains(t, reporter.drops[0], "unknown record type 9")
}

func TestZeroTypeZeroLengthSkipped(t *testing.T) {
	// Preallocated regions read as zero headers; they are skipped without
	// any report.
	data := make([]byte, 512)
	records, reporter := readAll(t, data, 0)
	assert.Empty(t, records)
	assert.Empty(t, reporter.drops)
}

func TestMissingStartOfFragmentedRecord(t *testing.T) {
	// A MIDDLE fragment with no preceding FIRST is corruption when not
	// resynchronizing.
	payload := []byte("orphan")
	record := make([]byte, HeaderSize+len(payload))
	sum := crc.Mask(crc.Extend(crc.Value([]byte{byte(MiddleType)}), payload))
	binary.LittleEndian.PutUint32(record[0:4], sum)
	binary.LittleEndian.PutUint16(record[4:6], uint16(len(payload)))
	record[6] = byte(MiddleType)
	copy(record[HeaderSize:], payload)

	records, reporter := readAll(t, record, 0)
	assert.Empty(t, records)
	require.NotEmpty(t, reporter.drops)
	assert.Contains(t, reporter.drops[0], "missing start of fragmented record(1)")
}

func TestWriterResumesMidBlock(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.AddRecord([]byte("one")))

	// Reopening mid-block continues at the same block offset.
	w2 := NewWriterAtOffset(&buf, uint64(buf.Len()))
	require.NoError(t, w2.AddRecord([]byte("two")))

	records, reporter := readAll(t, buf.Bytes(), 0)
	require.Len(t, records, 2)
	assert.Equal(t, []byte("one"), records[0])
	assert.Equal(t, []byte("two"), records[1])
	assert.Empty(t, reporter.drops)
}

func TestManyRecords(t *testing.T) {
	var payloads [][]byte
	for i := 0; i < 500; i++ {
		payloads = append(payloads, []byte(fmt.Sprintf("record-%04d-%s", i, repeat(byte('a'+i%26), i%300))))
	}
	data := writeRecords(t, payloads)
	records, reporter := readAll(t, data, 0)
	require.Len(t, records, len(payloads))
	for i := range payloads {
		assert.Equal(t, payloads[i], records[i])
	}
	assert.Empty(t, reporter.drops)
}

func TestLastRecordOffset(t *testing.T) {
	data := writeRecords(t, [][]byte{[]byte("a"), repeat('b', 1000)})
	r := NewReader(bytes.NewReader(data), nil, true, 0)

	_, ok := r.ReadRecord()
	require.True(t, ok)
	assert.Equal(t, uint64(0), r.LastRecordOffset())

	_, ok = r.ReadRecord()
	require.True(t, ok)
	assert.Equal(t, uint64(HeaderSize+1), r.LastRecordOffset())
}
