// Package validation decides which records received from peers can be stored.
package validation

import (
	"bytes"
	"fmt"
	"time"

	"github.com/spacemeshos/go-ibltsync/hash"
	"github.com/spacemeshos/go-ibltsync/types"
)

const (
	AlgBlake3 = "blake3"
	AlgSHA256 = "sha256"
)

// Validator decides whether a record can be trusted.
type Validator interface {
	Validate(key types.Key, value []byte) bool
}

// Func adapts a function to Validator.
type Func func(key types.Key, value []byte) bool

// Validate implements Validator.
func (f Func) Validate(key types.Key, value []byte) bool {
	return f(key, value)
}

// All accepts a record only if every validator accepts it.
type All []Validator

// Validate implements Validator.
func (a All) Validate(key types.Key, value []byte) bool {
	for _, v := range a {
		if !v.Validate(key, value) {
			return false
		}
	}
	return true
}

// ContentAddress accepts records whose key is the prefix of the digest of the value.
type ContentAddress struct {
	keySize int
	sum     func([]byte) [hash.Size]byte
}

// NewContentAddress creates a content address validator for the given hash algorithm.
func NewContentAddress(alg string, keySize int) (*ContentAddress, error) {
	if keySize <= 0 || keySize > hash.Size {
		return nil, fmt.Errorf("key size %d out of range (0, %d]", keySize, hash.Size)
	}
	var sum func([]byte) [hash.Size]byte
	switch alg {
	case AlgBlake3, "":
		sum = func(b []byte) [hash.Size]byte { return hash.Sum(b) }
	case AlgSHA256:
		sum = hash.SumSHA256
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", alg)
	}
	return &ContentAddress{keySize: keySize, sum: sum}, nil
}

// Key returns the content address of the value.
func (c *ContentAddress) Key(value []byte) types.Key {
	sum := c.sum(value)
	return types.Key(sum[:c.keySize]).Clone()
}

// Record creates a record addressed by its value.
func (c *ContentAddress) Record(value []byte, ts time.Time) types.Record {
	return types.Record{Key: c.Key(value), Timestamp: ts, Value: value}
}

// Validate implements Validator.
func (c *ContentAddress) Validate(key types.Key, value []byte) bool {
	sum := c.sum(value)
	return len(key) == c.keySize && bytes.Equal(key, sum[:c.keySize])
}
