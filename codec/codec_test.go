package codec

import (
	"bufio"
	"bytes"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUvarintRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 300, 1 << 32, MaxUvarint} {
		buf, err := AppendUvarint(nil, v)
		require.NoError(t, err)
		require.Len(t, buf, UvarintSize(v))
		got, n, err := Uvarint(buf)
		require.NoError(t, err)
		require.Equal(t, v, got)
		require.Equal(t, len(buf), n)
	}
}

func TestUvarintErrors(t *testing.T) {
	_, err := AppendUvarint(nil, math.MaxUint64)
	require.ErrorIs(t, err, ErrOverflow)

	_, _, err = Uvarint([]byte{0x80})
	require.ErrorIs(t, err, ErrShortBuffer)
	_, _, err = Uvarint(nil)
	require.ErrorIs(t, err, ErrShortBuffer)

	_, _, err = Uvarint(bytes.Repeat([]byte{0xff}, 10))
	require.ErrorIs(t, err, ErrOverflow)

	// non-minimal encoding of 1
	_, _, err = Uvarint([]byte{0x81, 0x00})
	require.Error(t, err)
}

func TestVarintRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 63, -64, 64, -65, 1 << 40, -(1 << 40), MaxVarint, -MaxVarint - 1} {
		buf, err := AppendVarint(nil, v)
		require.NoError(t, err)
		require.Len(t, buf, VarintSize(v))
		got, n, err := Varint(buf)
		require.NoError(t, err)
		require.Equal(t, v, got, "value %d", v)
		require.Equal(t, len(buf), n)
	}
	_, err := AppendVarint(nil, math.MaxInt64)
	require.ErrorIs(t, err, ErrOverflow)
	_, err = AppendVarint(nil, math.MinInt64)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestDecoder(t *testing.T) {
	var buf []byte
	buf, _ = AppendUvarint(buf, 3)
	buf = append(buf, 0xaa)
	buf, _ = AppendVarint(buf, -5)
	buf, _ = AppendUvarint(buf, 2)
	buf = append(buf, 1, 2)
	buf = append(buf, 9, 9, 9)

	d := NewDecoder(buf)
	u, err := d.Uvarint()
	require.NoError(t, err)
	require.EqualValues(t, 3, u)
	b, err := d.Byte()
	require.NoError(t, err)
	require.EqualValues(t, 0xaa, b)
	s, err := d.Varint()
	require.NoError(t, err)
	require.EqualValues(t, -5, s)
	bs, err := d.Bytes(10)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2}, bs)
	require.Equal(t, 3, d.Remaining())
	require.ErrorIs(t, d.Done(), ErrTrailingBytes)
	f, err := d.Fixed(3)
	require.NoError(t, err)
	require.Equal(t, []byte{9, 9, 9}, f)
	require.NoError(t, d.Done())
	_, err = d.Byte()
	require.ErrorIs(t, err, ErrShortBuffer)
	_, err = d.Fixed(1)
	require.ErrorIs(t, err, ErrShortBuffer)
}

func TestDecoderCount(t *testing.T) {
	buf, _ := AppendUvarint(nil, 1_000_000)
	buf = append(buf, make([]byte, 64)...)

	_, err := NewDecoder(buf).Count(1000, 1)
	require.ErrorIs(t, err, ErrTooMany)

	// the count fits the limit, but the elements can't fit the input
	_, err = NewDecoder(buf).Count(math.MaxInt32, 32)
	require.ErrorIs(t, err, ErrShortBuffer)

	buf, _ = AppendUvarint(nil, 2)
	buf = append(buf, make([]byte, 64)...)
	c, err := NewDecoder(buf).Count(10, 32)
	require.NoError(t, err)
	require.Equal(t, 2, c)

	buf, _ = AppendUvarint(nil, 100)
	_, err = NewDecoder(buf).Bytes(10)
	require.ErrorIs(t, err, ErrTooMany)
}

func TestFrames(t *testing.T) {
	frame, err := AppendFrame(nil, []byte("hello"))
	require.NoError(t, err)
	body, err := SplitFrame(frame, 10)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), body)

	_, err = SplitFrame(frame, 4)
	require.ErrorIs(t, err, ErrFrameTooLarge)
	_, err = SplitFrame(frame[:len(frame)-1], 10)
	require.ErrorIs(t, err, ErrShortBuffer)
	_, err = SplitFrame(append(frame, 0), 10)
	require.ErrorIs(t, err, ErrTrailingBytes)

	var stream []byte
	stream = append(stream, frame...)
	second, err := AppendFrame(nil, []byte("world!"))
	require.NoError(t, err)
	stream = append(stream, second...)
	r := bufio.NewReader(bytes.NewReader(stream))
	got, err := ReadFrame(r, 10)
	require.NoError(t, err)
	require.Equal(t, frame, got)
	got, err = ReadFrame(r, 10)
	require.NoError(t, err)
	require.Equal(t, second, got)
	_, err = ReadFrame(r, 10)
	require.ErrorIs(t, err, io.EOF)
}

type countingReader struct {
	r    io.Reader
	read int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += n
	return n, err
}

func TestReadFrameRejectsBeforeReadingBody(t *testing.T) {
	// declares a 1 GiB body, carries none
	hdr, err := AppendUvarint(nil, 1<<30)
	require.NoError(t, err)
	cr := &countingReader{r: io.MultiReader(bytes.NewReader(hdr), bytes.NewReader(make([]byte, 16)))}
	_, err = ReadFrame(bufio.NewReaderSize(cr, 16), 1024)
	require.ErrorIs(t, err, ErrFrameTooLarge)
	require.LessOrEqual(t, cr.read, 16+len(hdr))
}
