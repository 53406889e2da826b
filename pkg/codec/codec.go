// Package codec implements the little-endian fixed and varint encodings
// shared by the WAL, block, and sstable formats.
package codec

import "encoding/binary"

// PutFixed32 appends v to dst in little-endian order.
func PutFixed32(dst []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, v)
}

// PutFixed64 appends v to dst in little-endian order.
func PutFixed64(dst []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(dst, v)
}

// DecodeFixed32 reads a little-endian uint32 from the start of b.
func DecodeFixed32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// DecodeFixed64 reads a little-endian uint64 from the start of b.
func DecodeFixed64(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}

// PutUvarint32 appends v to dst in varint encoding (at most 5 bytes).
func PutUvarint32(dst []byte, v uint32) []byte {
	return binary.AppendUvarint(dst, uint64(v))
}

// PutUvarint64 appends v to dst in varint encoding (at most 10 bytes).
func PutUvarint64(dst []byte, v uint64) []byte {
	return binary.AppendUvarint(dst, v)
}

// GetUvarint32 decodes a varint32 from the start of b and returns the value
// and the number of bytes consumed. n <= 0 means a malformed or truncated
// varint, matching the binary.Uvarint contract.
func GetUvarint32(b []byte) (uint32, int) {
	v, n := binary.Uvarint(b)
	if n > 0 && v > 0xffffffff {
		return 0, -1
	}
	return uint32(v), n
}

// GetUvarint64 decodes a varint64 from the start of b.
func GetUvarint64(b []byte) (uint64, int) {
	return binary.Uvarint(b)
}

// UvarintLen reports the encoded size of v.
func UvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// GetLengthPrefixedSlice decodes a varint32 length followed by that many
// bytes. It returns the slice and the total number of bytes consumed, or
// (nil, -1) if b is malformed or truncated.
func GetLengthPrefixedSlice(b []byte) ([]byte, int) {
	l, n := GetUvarint32(b)
	if n <= 0 || uint64(len(b)-n) < uint64(l) {
		return nil, -1
	}
	return b[n : n+int(l)], n + int(l)
}

// PutLengthPrefixedSlice appends varint32(len(s)) followed by s.
func PutLengthPrefixedSlice(dst, s []byte) []byte {
	dst = PutUvarint32(dst, uint32(len(s)))
	return append(dst, s...)
}
