package codec

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/multiformats/go-varint"
)

// ErrFrameTooLarge is returned when a frame declares a length above the allowed maximum.
var ErrFrameTooLarge = errors.New("codec: frame too large")

// AppendFrame appends body to buf, prefixed with its varint-encoded length.
func AppendFrame(buf, body []byte) ([]byte, error) {
	buf, err := AppendUvarint(buf, uint64(len(body)))
	if err != nil {
		return buf, err
	}
	return append(buf, body...), nil
}

// SplitFrame parses the length prefix of a complete frame held in buf and returns its
// body. The declared length is checked against max before anything else is done, and
// the frame must occupy the whole of buf.
func SplitFrame(buf []byte, max int) ([]byte, error) {
	l, n, err := Uvarint(buf)
	if err != nil {
		return nil, fmt.Errorf("frame length: %w", err)
	}
	if l > uint64(max) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, l, max)
	}
	body := buf[n:]
	switch {
	case uint64(len(body)) < l:
		return nil, fmt.Errorf("frame body: %w", ErrShortBuffer)
	case uint64(len(body)) > l:
		return nil, fmt.Errorf("frame body: %w", ErrTrailingBytes)
	}
	return body, nil
}

// ReadFrame reads one length-prefixed frame from r and returns it including its length
// prefix. A declared length above max is rejected before the body is allocated.
func ReadFrame(r *bufio.Reader, max int) ([]byte, error) {
	l, err := varint.ReadUvarint(r)
	if err != nil {
		if errors.Is(err, varint.ErrOverflow) || errors.Is(err, varint.ErrNotMinimal) {
			return nil, fmt.Errorf("frame length: %w", err)
		}
		return nil, err
	}
	if l > uint64(max) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, l, max)
	}
	frame := make([]byte, UvarintSize(l)+int(l))
	n := varint.PutUvarint(frame, l)
	if _, err := io.ReadFull(r, frame[n:]); err != nil {
		return nil, fmt.Errorf("frame body: %w", err)
	}
	return frame, nil
}
