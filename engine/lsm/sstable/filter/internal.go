package filter

import (
	"github.com/xmh1011/go-leveldb/engine/lsm/keys"
)

// InternalPolicy adapts a user-key policy to tables holding internal keys.
// The 8-byte sequence/type tag differs between a stored entry and a lookup
// probe for the same user key, so hashing whole internal keys would make the
// filter miss live keys; both sides strip the tag and filter on the user key
// alone.
type InternalPolicy struct {
	user Policy
}

// NewInternalPolicy wraps user for use with internal-key tables.
func NewInternalPolicy(user Policy) *InternalPolicy {
	return &InternalPolicy{user: user}
}

// Name implements Policy. It deliberately reports the user policy's name:
// the filter data is built from user keys, so a reader configured with the
// plain policy still locates it in the metaindex.
func (p *InternalPolicy) Name() string { return p.user.Name() }

// CreateFilter implements Policy. ikeys must be internal keys.
func (p *InternalPolicy) CreateFilter(ikeys [][]byte, dst []byte) []byte {
	userKeys := make([][]byte, len(ikeys))
	for i, ik := range ikeys {
		userKeys[i] = keys.UserKey(ik)
	}
	return p.user.CreateFilter(userKeys, dst)
}

// KeyMayMatch implements Policy. key must be an internal key.
func (p *InternalPolicy) KeyMayMatch(key, filter []byte) bool {
	return p.user.KeyMayMatch(keys.UserKey(key), filter)
}
