package btree

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Fixed-width index keys. The width is chosen when a tree is created and never
// changes for the tree's lifetime.
type (
	Key4  [4]byte
	Key8  [8]byte
	Key16 [16]byte
	Key32 [32]byte
	Key64 [64]byte
)

// Key is the set of supported fixed-width key types.
type Key interface {
	Key4 | Key8 | Key16 | Key32 | Key64
}

// KeyComparator orders two keys: negative if a < b, zero if equal, positive if a > b.
// It must be a strict total order.
type KeyComparator[K Key] func(a, b K) int

// keyBytes returns a slice aliasing the key's bytes.
func keyBytes[K Key](k *K) []byte {
	switch p := any(k).(type) {
	case *Key4:
		return p[:]
	case *Key8:
		return p[:]
	case *Key16:
		return p[:]
	case *Key32:
		return p[:]
	case *Key64:
		return p[:]
	}
	panic("unreachable")
}

// KeyWidth returns the encoded size of K in bytes.
func KeyWidth[K Key]() int {
	var k K
	return len(keyBytes(&k))
}

// KeyFromBytes builds a key from raw bytes, truncating or zero-padding to the key width.
func KeyFromBytes[K Key](b []byte) K {
	var k K
	copy(keyBytes(&k), b)
	return k
}

// KeyBytes returns a copy of the key's bytes.
func KeyBytes[K Key](k K) []byte {
	return append([]byte(nil), keyBytes(&k)...)
}

// GenericComparator orders keys bytewise.
func GenericComparator[K Key](a, b K) int {
	return bytes.Compare(keyBytes(&a), keyBytes(&b))
}

// KeyFromInt64 encodes v so that GenericComparator orders keys numerically.
// Key4 holds 32-bit values; v must fit in an int32 for that width.
func KeyFromInt64[K Key](v int64) K {
	var k K
	b := keyBytes(&k)
	if len(b) == 4 {
		if v < math.MinInt32 || v > math.MaxInt32 {
			panic(fmt.Sprintf("btree: %d does not fit in a 4-byte key", v))
		}
		binary.BigEndian.PutUint32(b, uint32(int32(v))^(1<<31))
		return k
	}
	binary.BigEndian.PutUint64(b, uint64(v)^(1<<63))
	return k
}

// Int64FromKey decodes a key produced by KeyFromInt64.
func Int64FromKey[K Key](k K) int64 {
	b := keyBytes(&k)
	if len(b) == 4 {
		return int64(int32(binary.BigEndian.Uint32(b) ^ (1 << 31)))
	}
	return int64(binary.BigEndian.Uint64(b) ^ (1 << 63))
}
