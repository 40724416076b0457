package util

import (
	"encoding/binary"
)

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// FNV-1a parameters
const (
	offset64 = 14695981039346656037
	prime64  = 1099511628211
)

// HashString generates a hash value for a string with a seed
// This function uses the FNV-1a hash algorithm, which is fast and has good distribution
func HashString(s string, seed uint64) uint64 {
	hash := uint64(offset64) ^ seed
	for i := 0; i < len(s); i++ {
		hash ^= uint64(s[i])
		hash *= prime64
	}
	return hash
}

// HashUint64s hashes a sequence of integers with FNV-1a.
// It is used to spread block ids over the payload write workers.
func HashUint64s(values ...uint64) uint64 {
	hash := uint64(offset64)
	var b [8]byte
	for _, v := range values {
		binary.BigEndian.PutUint64(b[:], v)
		for i := 0; i < len(b); i++ {
			hash ^= uint64(b[i])
			hash *= prime64
		}
	}
	return hash
}
