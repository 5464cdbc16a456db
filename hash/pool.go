package hash

import (
	"sync"

	"github.com/zeebo/blake3"
)

// Pool is a global blake3 hasher pool. It is meant to amortize allocations
// of blake3 hashers over time by allowing clients to reuse them.
var pool = &sync.Pool{
	New: func() any {
		return blake3.New()
	},
}

// GetHasher will get a blake3 hasher from the pool.
// It may or may not allocate a new one. The hasher is reset
// when it is put back.
func GetHasher() *blake3.Hasher {
	return pool.Get().(*blake3.Hasher)
}

// PutHasher resets the hasher and returns it back to the pool.
func PutHasher(hasher *blake3.Hasher) {
	hasher.Reset()
	pool.Put(hasher)
}

// KeyedPool is a pool of blake3 hashers sharing the same 32 byte key.
type KeyedPool struct {
	pool sync.Pool
}

// NewKeyedPool creates a pool of hashers keyed with key.
func NewKeyedPool(key [32]byte) *KeyedPool {
	p := &KeyedPool{}
	p.pool.New = func() any {
		h, err := blake3.NewKeyed(key[:])
		if err != nil {
			// the key size is fixed by the type
			panic(err)
		}
		return h
	}
	return p
}

// Sum writes the keyed digest of data into out. Up to 32 bytes of out are filled.
func (p *KeyedPool) Sum(out, data []byte) {
	h := p.pool.Get().(*blake3.Hasher)
	h.Write(data)
	var full [32]byte
	h.Sum(full[:0])
	copy(out, full[:])
	h.Reset()
	p.pool.Put(h)
}

// DeriveKey derives a 32 byte key for purpose from material.
func DeriveKey(purpose string, material []byte) (key [32]byte) {
	blake3.DeriveKey(purpose, material, key[:])
	return key
}
