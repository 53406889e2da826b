package sstable

// Iterator is the common shape of block and table iterators: a cursor over
// ordered key/value pairs with a sticky decode status.
type Iterator interface {
	Valid() bool
	SeekToFirst()
	SeekToLast()
	Seek(target []byte)
	Next()
	Prev()
	Key() []byte
	Value() []byte
	Status() error
}
