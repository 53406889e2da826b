package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ikey(userKey string, seq SequenceNumber, t ValueType) []byte {
	return AppendInternalKey(nil, []byte(userKey), seq, t)
}

func TestPackUnpackTag(t *testing.T) {
	tests := []struct {
		seq SequenceNumber
		typ ValueType
	}{
		{seq: 0, typ: TypeDeletion},
		{seq: 1, typ: TypeValue},
		{seq: MaxSequenceNumber, typ: TypeValue},
		{seq: 1 << 40, typ: TypeDeletion},
	}
	for _, tt := range tests {
		seq, typ := UnpackTag(PackTag(tt.seq, tt.typ))
		assert.Equal(t, tt.seq, seq)
		assert.Equal(t, tt.typ, typ)
	}
}

func TestParseInternalKey(t *testing.T) {
	userKey, seq, typ, ok := ParseInternalKey(ikey("hello", 42, TypeValue))
	require.True(t, ok)
	assert.Equal(t, "hello", string(userKey))
	assert.Equal(t, SequenceNumber(42), seq)
	assert.Equal(t, TypeValue, typ)

	_, _, _, ok = ParseInternalKey([]byte("short"))
	assert.False(t, ok)
}

func TestBytewiseComparator(t *testing.T) {
	cmp := BytewiseComparator{}
	tests := []struct {
		a, b     string
		expected int
	}{
		{a: "", b: "", expected: 0},
		{a: "a", b: "a", expected: 0},
		{a: "a", b: "b", expected: -1},
		{a: "b", b: "a", expected: 1},
		{a: "a", b: "aa", expected: -1},
		{a: "ab", b: "b", expected: -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, cmp.Compare([]byte(tt.a), []byte(tt.b)), "%q vs %q", tt.a, tt.b)
	}
}

func TestFindShortestSeparator(t *testing.T) {
	cmp := BytewiseComparator{}
	tests := []struct {
		name     string
		start    string
		limit    string
		expected string
	}{
		{name: "shortens", start: "the quick brown fox", limit: "the who", expected: "the r"},
		{name: "prefix of limit", start: "abc", limit: "abcdef", expected: "abc"},
		{name: "no room", start: "abc", limit: "abd", expected: "abc"},
		{name: "simple", start: "aaax", limit: "aazz", expected: "aab"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sep := cmp.FindShortestSeparator([]byte(tt.start), []byte(tt.limit))
			assert.Equal(t, tt.expected, string(sep))
			assert.LessOrEqual(t, cmp.Compare([]byte(tt.start), sep), 0)
			assert.Negative(t, cmp.Compare(sep, []byte(tt.limit)))
		})
	}
}

func TestFindShortSuccessor(t *testing.T) {
	cmp := BytewiseComparator{}
	tests := []struct {
		name     string
		key      string
		expected []byte
	}{
		{name: "simple", key: "abc", expected: []byte("b")},
		{name: "first byte max", key: "\xffabc", expected: []byte{0xff, 'b'}},
		{name: "all max", key: "\xff\xff", expected: []byte{0xff, 0xff}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			succ := cmp.FindShortSuccessor([]byte(tt.key))
			assert.Equal(t, tt.expected, succ)
			assert.LessOrEqual(t, cmp.Compare([]byte(tt.key), succ), 0)
		})
	}
}

func TestInternalKeyOrdering(t *testing.T) {
	cmp := NewInternalKeyComparator(BytewiseComparator{})
	// User key ascending, then sequence descending, then type descending.
	ordered := [][]byte{
		ikey("a", 100, TypeValue),
		ikey("a", 99, TypeValue),
		ikey("a", 99, TypeDeletion),
		ikey("b", 200, TypeDeletion),
		ikey("b", 1, TypeValue),
		ikey("c", 50, TypeValue),
	}
	for i := 0; i < len(ordered)-1; i++ {
		assert.Negative(t, cmp.Compare(ordered[i], ordered[i+1]), "entry %d vs %d", i, i+1)
		assert.Positive(t, cmp.Compare(ordered[i+1], ordered[i]))
	}
	assert.Zero(t, cmp.Compare(ordered[0], ikey("a", 100, TypeValue)))
}

func TestInternalKeySeparator(t *testing.T) {
	cmp := NewInternalKeyComparator(BytewiseComparator{})
	start := ikey("the quick brown fox", 100, TypeValue)
	limit := ikey("the who", 200, TypeValue)
	sep := cmp.FindShortestSeparator(start, limit)

	assert.Less(t, len(sep), len(start))
	assert.Negative(t, cmp.Compare(start, sep))
	assert.Negative(t, cmp.Compare(sep, limit))

	userKey, seq, typ, ok := ParseInternalKey(sep)
	require.True(t, ok)
	assert.Equal(t, "the r", string(userKey))
	assert.Equal(t, MaxSequenceNumber, seq)
	assert.Equal(t, TypeForSeek, typ)
}

func TestLookupKeyViews(t *testing.T) {
	lk := NewLookupKey([]byte("needle"), 77)
	assert.Equal(t, "needle", string(lk.UserKey()))
	assert.Equal(t, len("needle")+TagSize, len(lk.InternalKey()))

	userKey, seq, typ, ok := ParseInternalKey(lk.InternalKey())
	require.True(t, ok)
	assert.Equal(t, "needle", string(userKey))
	assert.Equal(t, SequenceNumber(77), seq)
	assert.Equal(t, TypeForSeek, typ)

	// MemtableKey is the length-prefixed internal key.
	assert.Equal(t, byte(len("needle")+TagSize), lk.MemtableKey()[0])
}
