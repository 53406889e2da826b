// Package crc computes the masked crc32c checksums used by the WAL and
// sstable block trailers.
package crc

import "hash/crc32"

const maskDelta = 0xa282ead8

var table = crc32.MakeTable(crc32.Castagnoli)

// Value returns the crc32c of data.
func Value(data []byte) uint32 {
	return crc32.Checksum(data, table)
}

// Extend returns the crc32c of the concatenation of the data that produced
// crc and the additional bytes in data.
func Extend(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, table, data)
}

// Mask rotates the checksum and adds a constant so that a crc stored inside
// checksummed content does not itself checksum to zero.
func Mask(crc uint32) uint32 {
	return ((crc >> 15) | (crc << 17)) + maskDelta
}

// Unmask reverses Mask.
func Unmask(masked uint32) uint32 {
	rot := masked - maskDelta
	return (rot >> 17) | (rot << 15)
}
