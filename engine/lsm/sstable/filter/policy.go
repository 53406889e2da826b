// Package filter builds and reads the per-range probabilistic filters stored
// in an sstable's filter block.
package filter

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/twmb/murmur3"

	"github.com/xmh1011/go-leveldb/pkg/codec"
)

// Policy creates filters from key sets and answers membership queries
// against them. A policy may return false positives, never false negatives.
type Policy interface {
	// Name identifies the policy in the metaindex block. Changing a filter's
	// behavior requires a new name.
	Name() string

	// CreateFilter appends a filter summarizing keys to dst and returns the
	// extended slice.
	CreateFilter(keys [][]byte, dst []byte) []byte

	// KeyMayMatch reports whether key may be in the set the filter was built
	// from. filter is one CreateFilter output.
	KeyMayMatch(key, filter []byte) bool
}

// BloomPolicy is a Bloom filter with a configurable number of bits per key.
// Probe positions derive from double hashing over a 128-bit murmur3 sum.
// Serialized form: u64_le words of the bit array followed by u8(numProbes).
type BloomPolicy struct {
	bitsPerKey int
	numProbes  uint
}

// NewBloomPolicy returns a policy using about bitsPerKey bits per key; 10
// gives a ~1% false positive rate.
func NewBloomPolicy(bitsPerKey int) *BloomPolicy {
	if bitsPerKey < 1 {
		bitsPerKey = 1
	}
	// bitsPerKey * ln(2), clamped: fewer than one probe is useless and more
	// than 30 stops helping.
	k := uint(float64(bitsPerKey) * 0.69)
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}
	return &BloomPolicy{bitsPerKey: bitsPerKey, numProbes: k}
}

// Name implements Policy.
func (p *BloomPolicy) Name() string { return "leveldb.BuiltinBloomFilter" }

// CreateFilter implements Policy.
func (p *BloomPolicy) CreateFilter(keys [][]byte, dst []byte) []byte {
	bits := uint(len(keys) * p.bitsPerKey)
	// Small filters have disproportionate false positive rates.
	if bits < 64 {
		bits = 64
	}
	// Round up to whole words so the serialized length determines the bit
	// count exactly.
	bits = (bits + 63) &^ 63

	bs := bitset.New(bits)
	for _, key := range keys {
		h1, h2 := murmur3.Sum128(key)
		for i := uint64(0); i < uint64(p.numProbes); i++ {
			bs.Set(uint((h1 + i*h2) % uint64(bits)))
		}
	}
	for _, word := range bs.Bytes() {
		dst = codec.PutFixed64(dst, word)
	}
	return append(dst, byte(p.numProbes))
}

// KeyMayMatch implements Policy.
func (p *BloomPolicy) KeyMayMatch(key, filter []byte) bool {
	n := len(filter)
	if n < 9 || (n-1)%8 != 0 {
		return true // malformed filters match everything
	}
	numProbes := filter[n-1]
	if numProbes > 30 {
		// Reserved for future encodings; treat as a match.
		return true
	}
	bits := uint64(n-1) * 8
	words := make([]uint64, (n-1)/8)
	for i := range words {
		words[i] = codec.DecodeFixed64(filter[i*8:])
	}
	bs := bitset.From(words)

	h1, h2 := murmur3.Sum128(key)
	for i := uint64(0); i < uint64(numProbes); i++ {
		if !bs.Test(uint((h1 + i*h2) % bits)) {
			return false
		}
	}
	return true
}
