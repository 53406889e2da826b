// Package sstable implements the sorted immutable on-disk table: a sequence
// of compressed, checksummed blocks addressed through an index block and a
// fixed-size footer, with an optional filter block on the read path.
package sstable

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"github.com/xmh1011/go-leveldb/pkg/codec"
	"github.com/xmh1011/go-leveldb/pkg/crc"
	"github.com/xmh1011/go-leveldb/pkg/status"
)

// CompressionType is the per-block compression codec recorded in the block
// trailer.
type CompressionType uint8

const (
	// NoCompression stores block contents raw.
	NoCompression CompressionType = 0
	// SnappyCompression compresses with snappy.
	SnappyCompression CompressionType = 1
	// ZstdCompression compresses with zstandard.
	ZstdCompression CompressionType = 2
)

const (
	// BlockTrailerSize is the compression type byte plus the masked crc.
	BlockTrailerSize = 5

	// maxHandleEncodedLength bounds a BlockHandle encoding: two varint64s.
	maxHandleEncodedLength = 10 + 10

	// FooterEncodedLength is the exact footer size: two padded handles plus
	// the magic number.
	FooterEncodedLength = 2*maxHandleEncodedLength + 8

	// tableMagic identifies the file format. Picked by running echo
	// http://code.google.com/p/leveldb/ | sha1sum and taking the leading
	// 64 bits, same as the format's ancestor.
	tableMagic = 0xdb4775248b80fb57
)

// BlockHandle locates a block within the file. Size excludes the trailer.
type BlockHandle struct {
	Offset uint64
	Size   uint64
}

// EncodeTo appends the varint encoding of h to dst.
func (h BlockHandle) EncodeTo(dst []byte) []byte {
	dst = codec.PutUvarint64(dst, h.Offset)
	return codec.PutUvarint64(dst, h.Size)
}

// DecodeBlockHandle parses a handle from the front of b, returning the
// number of bytes consumed or an error on malformed varints.
func DecodeBlockHandle(b []byte) (BlockHandle, int, error) {
	offset, n1 := codec.GetUvarint64(b)
	if n1 <= 0 {
		return BlockHandle{}, 0, status.Corruptionf("bad block handle")
	}
	size, n2 := codec.GetUvarint64(b[n1:])
	if n2 <= 0 {
		return BlockHandle{}, 0, status.Corruptionf("bad block handle")
	}
	return BlockHandle{Offset: offset, Size: size}, n1 + n2, nil
}

// Footer is the fixed-length tail of the file pointing at the metaindex and
// index blocks.
type Footer struct {
	MetaindexHandle BlockHandle
	IndexHandle     BlockHandle
}

// EncodeTo appends the 48-byte footer encoding to dst.
func (f Footer) EncodeTo(dst []byte) []byte {
	start := len(dst)
	dst = f.MetaindexHandle.EncodeTo(dst)
	dst = f.IndexHandle.EncodeTo(dst)
	// Zero-pad the handle area to its reserved length.
	for len(dst)-start < 2*maxHandleEncodedLength {
		dst = append(dst, 0)
	}
	return codec.PutFixed64(dst, tableMagic)
}

// DecodeFooter parses b, which must be exactly FooterEncodedLength bytes.
func DecodeFooter(b []byte) (Footer, error) {
	if len(b) != FooterEncodedLength {
		return Footer{}, status.Corruptionf("bad footer length %d", len(b))
	}
	if codec.DecodeFixed64(b[FooterEncodedLength-8:]) != tableMagic {
		return Footer{}, status.Corruptionf("not an sstable (bad magic number)")
	}
	var f Footer
	var n int
	var err error
	if f.MetaindexHandle, n, err = DecodeBlockHandle(b); err != nil {
		return Footer{}, err
	}
	if f.IndexHandle, _, err = DecodeBlockHandle(b[n:]); err != nil {
		return Footer{}, err
	}
	return f, nil
}

var (
	zstdEncoderOnce sync.Once
	zstdEncoder     *zstd.Encoder
	zstdDecoderOnce sync.Once
	zstdDecoder     *zstd.Decoder
)

func zstdCompress(src []byte) []byte {
	zstdEncoderOnce.Do(func() {
		zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return zstdEncoder.EncodeAll(src, nil)
}

func zstdDecompress(src []byte) ([]byte, error) {
	zstdDecoderOnce.Do(func() {
		zstdDecoder, _ = zstd.NewReader(nil)
	})
	return zstdDecoder.DecodeAll(src, nil)
}

// ReadBlock fetches the block at h, optionally verifies its trailer crc, and
// decompresses it. The returned slice is freshly allocated and owned by the
// caller.
func ReadBlock(file io.ReaderAt, h BlockHandle, verifyChecksums bool) ([]byte, error) {
	n := int(h.Size)
	buf := make([]byte, n+BlockTrailerSize)
	if _, err := io.ReadFull(io.NewSectionReader(file, int64(h.Offset), int64(len(buf))), buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, status.Corruptionf("truncated block read")
		}
		return nil, err
	}

	if verifyChecksums {
		stored := crc.Unmask(binary.LittleEndian.Uint32(buf[n+1:]))
		actual := crc.Value(buf[: n+1 : n+1])
		if stored != actual {
			return nil, status.Corruptionf("block checksum mismatch")
		}
	}

	switch CompressionType(buf[n]) {
	case NoCompression:
		return buf[:n:n], nil
	case SnappyCompression:
		decoded, err := snappy.Decode(nil, buf[:n])
		if err != nil {
			return nil, status.Corruptionf("corrupted snappy compressed block")
		}
		return decoded, nil
	case ZstdCompression:
		decoded, err := zstdDecompress(buf[:n])
		if err != nil {
			return nil, status.Corruptionf("corrupted zstd compressed block")
		}
		return decoded, nil
	}
	return nil, status.Corruptionf("bad block compression type %d", buf[n])
}
