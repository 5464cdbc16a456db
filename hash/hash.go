// Package hash holds the hash functions used for content addressing and for
// IBLT cell checksums.
package hash

import (
	"github.com/minio/sha256-simd"
)

// Size is the size of a content address.
const Size = 32

// Sum returns the blake3 digest of the concatenated chunks.
func Sum(chunks ...[]byte) (out [Size]byte) {
	h := GetHasher()
	defer PutHasher(h)
	for _, chunk := range chunks {
		h.Write(chunk)
	}
	h.Sum(out[:0])
	return out
}

// SumSHA256 is an alias to minio sha256.Sum256. It is used by deployments that address
// records by their sha256 digest.
var SumSHA256 = sha256.Sum256
