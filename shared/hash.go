package shared

import "github.com/cespare/xxhash/v2"

// HashKey returns the 64-bit hash used throughout the hash index and the
// cache entries that wrap it. Keys are opaque byte strings; the hash
// carries no ordering information and is not a security property.
//
// xxhash is the non-cryptographic hash the surrounding examples reach for
// when they need to turn an arbitrary byte key into a bucket index, so it
// replaces the djb2 sketch sometimes used for illustration.
func HashKey(key []byte) uint64 {
	return xxhash.Sum64(key)
}
