package iblt

import (
	"math"
	"math/bits"
)

// Sizing chooses the IBLT parameters for a set of a given size.
type Sizing struct {
	// K is the number of cells each key is added to.
	K int `mapstructure:"k"`
	// Overhead is the ratio of cells to keys.
	Overhead float64 `mapstructure:"overhead"`
	// MinCapacity is the smallest table used, regardless of the population.
	MinCapacity int `mapstructure:"min-capacity"`
	// MaxCapacity bounds the size of a single table.
	MaxCapacity int `mapstructure:"max-capacity"`
}

// DefaultSizing returns the default sizing policy.
func DefaultSizing() Sizing {
	return Sizing{
		K:           4,
		Overhead:    1.5,
		MinCapacity: 64,
		MaxCapacity: 1 << 16,
	}
}

// Params returns the parameters of a table holding count keys of keySize bytes.
// The capacity is count*Overhead rounded up to a power of two and clamped to
// [MinCapacity, MaxCapacity]. Both peers compute the same params for the same count.
func (s Sizing) Params(count, keySize int) Params {
	want := math.Ceil(float64(count) * s.Overhead)
	capacity := s.MaxCapacity
	if want < float64(s.MaxCapacity) {
		capacity = max(s.MinCapacity, ceilPow2(int(want)), s.K)
		capacity = min(capacity, s.MaxCapacity)
	}
	return Params{Capacity: capacity, K: s.K, KeySize: keySize}
}

func ceilPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}
