package codec

import (
	"fmt"
)

// Decoder reads values from a byte slice holding untrusted input. Every read is bounds
// checked and no read allocates more memory than the input already occupies.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder creates a Decoder over buf.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}

// Uvarint reads an unsigned varint.
func (d *Decoder) Uvarint() (uint64, error) {
	v, n, err := Uvarint(d.buf[d.pos:])
	if err != nil {
		return 0, err
	}
	d.pos += n
	return v, nil
}

// Varint reads a zigzag-encoded signed varint.
func (d *Decoder) Varint() (int64, error) {
	v, n, err := Varint(d.buf[d.pos:])
	if err != nil {
		return 0, err
	}
	d.pos += n
	return v, nil
}

// Byte reads a single byte.
func (d *Decoder) Byte() (byte, error) {
	if d.Remaining() < 1 {
		return 0, ErrShortBuffer
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

// Fixed reads exactly n bytes. The returned slice aliases the input.
func (d *Decoder) Fixed(n int) ([]byte, error) {
	if n < 0 || d.Remaining() < n {
		return nil, ErrShortBuffer
	}
	b := d.buf[d.pos : d.pos+n : d.pos+n]
	d.pos += n
	return b, nil
}

// Bytes reads a varint length followed by that many bytes, rejecting lengths above max.
// The returned slice aliases the input.
func (d *Decoder) Bytes(max int) ([]byte, error) {
	l, err := d.Uvarint()
	if err != nil {
		return nil, err
	}
	if l > uint64(max) {
		return nil, fmt.Errorf("%w: length %d > %d", ErrTooMany, l, max)
	}
	return d.Fixed(int(l))
}

// Count reads a varint element count. The count is rejected if it exceeds max or if
// count elements of at least minElemSize bytes each cannot fit into the remaining input,
// so that callers may safely preallocate count elements.
func (d *Decoder) Count(max, minElemSize int) (int, error) {
	c, err := d.Uvarint()
	if err != nil {
		return 0, err
	}
	if c > uint64(max) {
		return 0, fmt.Errorf("%w: %d > %d", ErrTooMany, c, max)
	}
	if minElemSize > 0 && c > uint64(d.Remaining()/minElemSize) {
		return 0, fmt.Errorf("%w: %d elements don't fit into %d bytes",
			ErrShortBuffer, c, d.Remaining())
	}
	return int(c), nil
}

// Done returns an error if there is unread input left.
func (d *Decoder) Done() error {
	if d.Remaining() != 0 {
		return fmt.Errorf("%w: %d", ErrTrailingBytes, d.Remaining())
	}
	return nil
}
