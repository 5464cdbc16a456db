// Package iblt implements an Invertible Bloom Lookup Table over fixed size keys.
//
// Every key is added to K distinct cells. A cell accumulates the number of keys added
// to it, the XOR of the keys and the XOR of the key checksums. Subtracting the table of
// set B from the table of set A yields a table of the symmetric difference, which can
// be listed by peeling pure cells as long as the difference is small enough relative
// to the number of cells.
package iblt

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/spacemeshos/go-ibltsync/types"
)

var (
	// ErrInvalidParams is returned when an IBLT is created with invalid parameters.
	ErrInvalidParams = errors.New("iblt: invalid parameters")
	// ErrParamMismatch is returned when two IBLTs with different parameters are combined.
	ErrParamMismatch = errors.New("iblt: parameter mismatch")
	// ErrCountOverflow is returned when a cell count would overflow.
	ErrCountOverflow = errors.New("iblt: cell count overflow")
	// ErrKeySize is returned when a key doesn't have the configured size.
	ErrKeySize = errors.New("iblt: bad key size")
)

// Params are the parameters of an IBLT. Two IBLTs can only be subtracted if their
// params are equal.
type Params struct {
	// Capacity is the number of cells.
	Capacity int
	// K is the number of cells each key is added to.
	K int
	// KeySize is the size of the keys in bytes.
	KeySize int
}

// Validate checks that the parameters describe a usable table.
func (p Params) Validate() error {
	switch {
	case p.Capacity <= 0:
		return fmt.Errorf("%w: capacity %d", ErrInvalidParams, p.Capacity)
	case p.K <= 0:
		return fmt.Errorf("%w: k %d", ErrInvalidParams, p.K)
	case p.K > p.Capacity:
		return fmt.Errorf("%w: k %d > capacity %d", ErrInvalidParams, p.K, p.Capacity)
	case p.KeySize <= 0:
		return fmt.Errorf("%w: key size %d", ErrInvalidParams, p.KeySize)
	}
	return nil
}

func (p Params) String() string {
	return fmt.Sprintf("capacity=%d k=%d keysize=%d", p.Capacity, p.K, p.KeySize)
}

// Cell is a single IBLT cell.
type Cell struct {
	Count    int64
	KeySum   types.Key
	CheckSum Checksum
}

// IsEmpty returns true if the cell has no contributions left.
func (c *Cell) IsEmpty() bool {
	return c.Count == 0 && c.KeySum.IsZero() && c.CheckSum.IsZero()
}

// IBLT is an Invertible Bloom Lookup Table. It is not safe for concurrent use.
type IBLT struct {
	params Params
	hasher Hasher
	cells  []Cell
	// keys backs the KeySum of all cells.
	keys []byte
	idx  []int
}

// New creates an empty IBLT.
func New(params Params, hasher Hasher) (*IBLT, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if hasher == nil {
		return nil, fmt.Errorf("%w: nil hasher", ErrInvalidParams)
	}
	t := &IBLT{
		params: params,
		hasher: hasher,
		cells:  make([]Cell, params.Capacity),
		keys:   make([]byte, params.Capacity*params.KeySize),
		idx:    make([]int, 0, params.K),
	}
	for n := range t.cells {
		t.cells[n].KeySum = t.keys[n*params.KeySize : (n+1)*params.KeySize : (n+1)*params.KeySize]
	}
	return t, nil
}

// FromCells creates an IBLT holding a copy of the given cells, as received from a peer.
func FromCells(params Params, hasher Hasher, cells []Cell) (*IBLT, error) {
	t, err := New(params, hasher)
	if err != nil {
		return nil, err
	}
	if len(cells) != params.Capacity {
		return nil, fmt.Errorf("%w: %d cells, capacity %d", ErrParamMismatch, len(cells), params.Capacity)
	}
	for n, c := range cells {
		if len(c.KeySum) != params.KeySize {
			return nil, fmt.Errorf("%w: cell %d: %d", ErrKeySize, n, len(c.KeySum))
		}
		t.cells[n].Count = c.Count
		copy(t.cells[n].KeySum, c.KeySum)
		t.cells[n].CheckSum = c.CheckSum
	}
	return t, nil
}

// Params returns the parameters of the table.
func (t *IBLT) Params() Params {
	return t.params
}

// Hasher returns the hasher used by the table.
func (t *IBLT) Hasher() Hasher {
	return t.hasher
}

// Cells returns the cells of the table. The returned slice must not be modified.
func (t *IBLT) Cells() []Cell {
	return t.cells
}

// IsEmpty returns true if all cells are empty.
func (t *IBLT) IsEmpty() bool {
	for n := range t.cells {
		if !t.cells[n].IsEmpty() {
			return false
		}
	}
	return true
}

// Insert adds the key to the table.
func (t *IBLT) Insert(key types.Key) error {
	return t.update(key, 1)
}

// Remove removes the key from the table. Removing a key that was never inserted is
// allowed and results in negative counts.
func (t *IBLT) Remove(key types.Key) error {
	return t.update(key, -1)
}

func (t *IBLT) update(key types.Key, delta int64) error {
	if len(key) != t.params.KeySize {
		return fmt.Errorf("%w: %d != %d", ErrKeySize, len(key), t.params.KeySize)
	}
	t.idx = t.hasher.Indexes(t.idx[:0], key, t.params.K, t.params.Capacity)
	for _, i := range t.idx {
		if (delta > 0 && t.cells[i].Count == math.MaxInt64) ||
			(delta < 0 && t.cells[i].Count == math.MinInt64) {
			return fmt.Errorf("%w: cell %d", ErrCountOverflow, i)
		}
	}
	sum := t.hasher.Checksum(key)
	for _, i := range t.idx {
		c := &t.cells[i]
		c.Count += delta
		c.KeySum.Xor(key)
		c.CheckSum.xor(&sum)
	}
	return nil
}

func (t *IBLT) compatible(other *IBLT) error {
	if t.params != other.params {
		return fmt.Errorf("%w: %s vs %s", ErrParamMismatch, t.params, other.params)
	}
	if t.hasher.Seed() != other.hasher.Seed() {
		return fmt.Errorf("%w: hasher seed %d vs %d",
			ErrParamMismatch, t.hasher.Seed(), other.hasher.Seed())
	}
	return nil
}

// Subtract returns a new table holding t minus other. Keys only present in t have a
// positive count in the result, keys only present in other have a negative count.
func (t *IBLT) Subtract(other *IBLT) (*IBLT, error) {
	if err := t.compatible(other); err != nil {
		return nil, err
	}
	r := t.Clone()
	for n := range r.cells {
		c, o := &r.cells[n], &other.cells[n]
		count := c.Count - o.Count
		// signed overflow check
		if (o.Count < 0 && count < c.Count) || (o.Count > 0 && count > c.Count) {
			return nil, fmt.Errorf("%w: cell %d", ErrCountOverflow, n)
		}
		c.Count = count
		c.KeySum.Xor(o.KeySum)
		c.CheckSum.xor(&o.CheckSum)
	}
	return r, nil
}

// Clone returns a deep copy of the table.
func (t *IBLT) Clone() *IBLT {
	r := &IBLT{
		params: t.params,
		hasher: t.hasher,
		cells:  slices.Clone(t.cells),
		keys:   slices.Clone(t.keys),
		idx:    make([]int, 0, t.params.K),
	}
	ks := t.params.KeySize
	for n := range r.cells {
		r.cells[n].KeySum = r.keys[n*ks : (n+1)*ks : (n+1)*ks]
	}
	return r
}

// DecodeResult summarizes a peeling decode.
type DecodeResult struct {
	// Recovered is the number of keys recovered.
	Recovered int
	// Residual is the number of cells left non-empty after peeling. A non-zero residual
	// means the difference could not be fully listed.
	Residual int
}

// Complete returns true if the whole difference was recovered.
func (r DecodeResult) Complete() bool {
	return r.Residual == 0
}

// pure returns true if cell n holds exactly one key: the count is +1 or -1, the
// checksum matches the key sum and the key sum hashes to the cell.
func (t *IBLT) pure(n int) bool {
	c := &t.cells[n]
	if c.Count != 1 && c.Count != -1 {
		return false
	}
	if t.hasher.Checksum(c.KeySum) != c.CheckSum {
		return false
	}
	t.idx = t.hasher.Indexes(t.idx[:0], c.KeySum, t.params.K, t.params.Capacity)
	return contains(t.idx, n)
}

// PeelDecode lists the keys held in the table, calling fn with each recovered key and
// the sign of its count. The key passed to fn is a copy owned by fn. Decoding consumes
// the table; use Clone to keep the original. If fn returns an error, decoding stops and
// the error is returned.
//
// The number of peeled keys is bounded by the capacity of the table.
func (t *IBLT) PeelDecode(fn func(key types.Key, sign int) error) (DecodeResult, error) {
	var res DecodeResult
	queue := make([]int, 0, t.params.Capacity)
	for n := range t.cells {
		if t.pure(n) {
			queue = append(queue, n)
		}
	}
	var affected []int
	for len(queue) > 0 && res.Recovered < t.params.Capacity {
		n := queue[0]
		queue = queue[1:]
		// the cell may have been peeled through another cell since it was queued
		if !t.pure(n) {
			continue
		}
		c := &t.cells[n]
		key := c.KeySum.Clone()
		sign := int(c.Count)
		sum := c.CheckSum
		affected = t.hasher.Indexes(affected[:0], key, t.params.K, t.params.Capacity)
		for _, i := range affected {
			ac := &t.cells[i]
			ac.Count -= int64(sign)
			ac.KeySum.Xor(key)
			ac.CheckSum.xor(&sum)
		}
		res.Recovered++
		if err := fn(key, sign); err != nil {
			return res, err
		}
		for _, i := range affected {
			if t.pure(i) {
				queue = append(queue, i)
			}
		}
	}
	for n := range t.cells {
		if !t.cells[n].IsEmpty() {
			res.Residual++
		}
	}
	return res, nil
}

// Diff lists the difference held in t without consuming it. plus holds the keys with a
// positive count, minus the keys with a negative count.
func (t *IBLT) Diff() (plus, minus []types.Key, res DecodeResult, err error) {
	res, err = t.Clone().PeelDecode(func(key types.Key, sign int) error {
		if sign > 0 {
			plus = append(plus, key)
		} else {
			minus = append(minus, key)
		}
		return nil
	})
	return plus, minus, res, err
}
