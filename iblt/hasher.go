package iblt

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/spacemeshos/go-ibltsync/hash"
	"github.com/spacemeshos/go-ibltsync/types"
)

// ChecksumSize is the size of a cell checksum.
const ChecksumSize = 16

// Checksum is the per-key checksum accumulated in a cell.
type Checksum [ChecksumSize]byte

func (c *Checksum) xor(other *Checksum) {
	for n := range c {
		c[n] ^= other[n]
	}
}

// IsZero returns true if all bytes of the checksum are zero.
func (c Checksum) IsZero() bool {
	return c == Checksum{}
}

// Hasher maps keys to cells and computes key checksums.
// Two IBLTs can only be subtracted if their hashers have the same seed.
type Hasher interface {
	// Indexes appends k distinct cell indexes in [0, capacity) for the key to dst.
	Indexes(dst []int, key types.Key, k, capacity int) []int
	// Checksum returns the checksum of the key. It must be independent of the
	// hash functions used by Indexes.
	Checksum(key types.Key) Checksum
	// Seed identifies the hash function family.
	Seed() uint64
}

// SeededHasher derives cell indexes from seeded xxhash64 and checksums from keyed blake3.
type SeededHasher struct {
	seed uint64
	sums *hash.KeyedPool
}

var _ Hasher = (*SeededHasher)(nil)

// NewHasher creates a hasher for the given seed. Hashers created with the same seed
// produce the same indexes and checksums.
func NewHasher(seed uint64) *SeededHasher {
	var material [8]byte
	binary.LittleEndian.PutUint64(material[:], seed)
	return &SeededHasher{
		seed: seed,
		sums: hash.NewKeyedPool(hash.DeriveKey("ibltsync iblt checksum v1", material[:])),
	}
}

// Seed implements Hasher.
func (h *SeededHasher) Seed() uint64 {
	return h.seed
}

// Indexes implements Hasher. The i-th index is taken from xxhash64 seeded with seed+i,
// colliding indexes are resolved by linear probing.
func (h *SeededHasher) Indexes(dst []int, key types.Key, k, capacity int) []int {
	start := len(dst)
	var d xxhash.Digest
	for i := range k {
		d.ResetWithSeed(h.seed + uint64(i))
		d.Write(key)
		idx := int(d.Sum64() % uint64(capacity))
		for contains(dst[start:], idx) {
			idx = (idx + 1) % capacity
		}
		dst = append(dst, idx)
	}
	return dst
}

func contains(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// Checksum implements Hasher.
func (h *SeededHasher) Checksum(key types.Key) (sum Checksum) {
	h.sums.Sum(sum[:], key)
	return sum
}
