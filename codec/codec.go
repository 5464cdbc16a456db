// Package codec implements the compact variable-length integer encoding used for all
// lengths and counts on the wire, and a bounded decoder for untrusted input.
package codec

import (
	"errors"
	"fmt"

	"github.com/multiformats/go-varint"
)

const (
	// MaxVarintLen is the maximum number of bytes taken by an encoded varint.
	MaxVarintLen = varint.MaxLenUvarint63
	// MaxUvarint is the largest value that can be varint-encoded.
	MaxUvarint = varint.MaxValueUvarint63
	// MaxVarint is the largest absolute value of a signed integer that can be encoded.
	MaxVarint = MaxUvarint >> 1
)

var (
	// ErrOverflow is returned when a value doesn't fit into the varint encoding.
	ErrOverflow = errors.New("codec: varint overflow")
	// ErrShortBuffer is returned when the input ends in the middle of a value.
	ErrShortBuffer = errors.New("codec: short buffer")
	// ErrTooMany is returned when a declared element count exceeds the allowed limit.
	ErrTooMany = errors.New("codec: too many elements")
	// ErrTrailingBytes is returned when the input has bytes left after decoding.
	ErrTrailingBytes = errors.New("codec: trailing bytes")
)

// UvarintSize returns the number of bytes needed to encode v.
func UvarintSize(v uint64) int {
	return varint.UvarintSize(v)
}

// AppendUvarint appends the varint encoding of v to buf.
func AppendUvarint(buf []byte, v uint64) ([]byte, error) {
	if v > MaxUvarint {
		return buf, fmt.Errorf("%w: %d", ErrOverflow, v)
	}
	var tmp [MaxVarintLen]byte
	n := varint.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...), nil
}

// Uvarint decodes a varint from the beginning of buf, returning the value and the number
// of bytes consumed. Non-minimal encodings are rejected.
func Uvarint(buf []byte) (uint64, int, error) {
	v, n, err := varint.FromUvarint(buf)
	switch {
	case errors.Is(err, varint.ErrUnderflow):
		return 0, 0, ErrShortBuffer
	case errors.Is(err, varint.ErrOverflow):
		return 0, 0, ErrOverflow
	case err != nil:
		return 0, 0, fmt.Errorf("codec: %w", err)
	}
	return v, n, nil
}

func zigzag(v int64) uint64 {
	return uint64(v<<1) ^ uint64(v>>63)
}

func unzigzag(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}

// VarintSize returns the number of bytes needed to encode signed v.
func VarintSize(v int64) int {
	return UvarintSize(zigzag(v))
}

// AppendVarint appends the zigzag varint encoding of v to buf.
func AppendVarint(buf []byte, v int64) ([]byte, error) {
	if v > MaxVarint || v < -MaxVarint-1 {
		return buf, fmt.Errorf("%w: %d", ErrOverflow, v)
	}
	return AppendUvarint(buf, zigzag(v))
}

// Varint decodes a zigzag varint from the beginning of buf.
func Varint(buf []byte) (int64, int, error) {
	u, n, err := Uvarint(buf)
	if err != nil {
		return 0, 0, err
	}
	return unzigzag(u), n, nil
}
