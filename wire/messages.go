package wire

import (
	"fmt"
	"time"

	"github.com/spacemeshos/go-ibltsync/codec"
	"github.com/spacemeshos/go-ibltsync/iblt"
	"github.com/spacemeshos/go-ibltsync/types"
)

// Hello opens a round. Both sides announce their protocol version and capabilities.
type Hello struct {
	Version        uint64
	MaxMessageSize uint64
	KeySize        uint64
	WindowWidth    time.Duration
}

// Kind implements Message.
func (*Hello) Kind() Kind { return KindHello }

func (m *Hello) encode(e *encoder) {
	e.uvarint(m.Version)
	e.uvarint(m.MaxMessageSize)
	e.uvarint(m.KeySize)
	e.uvarint(uint64(m.WindowWidth.Milliseconds()))
}

func (m *Hello) decode(d *codec.Decoder, _ *Codec) (err error) {
	if m.Version, err = d.Uvarint(); err != nil {
		return err
	}
	if m.MaxMessageSize, err = d.Uvarint(); err != nil {
		return err
	}
	if m.KeySize, err = d.Uvarint(); err != nil {
		return err
	}
	width, err := d.Uvarint()
	if err != nil {
		return err
	}
	if width > uint64(time.Duration(codec.MaxUvarint).Milliseconds()) {
		return fmt.Errorf("window width %d out of range", width)
	}
	m.WindowWidth = time.Duration(width) * time.Millisecond
	return nil
}

// Compatible checks that the peer's Hello is compatible with the local one.
func (m *Hello) Compatible(peer *Hello) error {
	switch {
	case m.Version != peer.Version:
		return fmt.Errorf("%w: version %d, local %d", ErrVersion, peer.Version, m.Version)
	case m.KeySize != peer.KeySize:
		return fmt.Errorf("%w: key size %d, local %d", ErrVersion, peer.KeySize, m.KeySize)
	case m.WindowWidth != peer.WindowWidth:
		return fmt.Errorf("%w: window width %s, local %s", ErrVersion, peer.WindowWidth, m.WindowWidth)
	case peer.MaxMessageSize < MinMessageSize:
		return fmt.Errorf("%w: max message size %d too small", ErrVersion, peer.MaxMessageSize)
	}
	return nil
}

func encodeWindow(e *encoder, w types.Window) {
	e.varint(w.Start.UnixMilli())
	e.uvarint(uint64(w.Width.Milliseconds()))
}

func decodeWindow(d *codec.Decoder) (types.Window, error) {
	start, err := d.Varint()
	if err != nil {
		return types.Window{}, err
	}
	width, err := d.Uvarint()
	if err != nil {
		return types.Window{}, err
	}
	if width == 0 || width > uint64(time.Duration(codec.MaxUvarint).Milliseconds()) {
		return types.Window{}, fmt.Errorf("window width %d out of range", width)
	}
	return types.Window{
		Start: time.UnixMilli(start).UTC(),
		Width: time.Duration(width) * time.Millisecond,
	}, nil
}

func encodeKeys(e *encoder, keys []types.Key) {
	e.uvarint(uint64(len(keys)))
	for _, k := range keys {
		e.key(k)
	}
}

func decodeKeys(d *codec.Decoder, keySize int) ([]types.Key, error) {
	n, err := d.Count(d.Remaining(), keySize)
	if err != nil {
		return nil, err
	}
	keys := make([]types.Key, n)
	for i := range keys {
		b, err := d.Fixed(keySize)
		if err != nil {
			return nil, err
		}
		keys[i] = b
	}
	return keys, nil
}

// BucketSummary carries the IBLT of the sender's keys in a window.
type BucketSummary struct {
	Window types.Window
	// Count is the number of keys the sender has in the window.
	Count    uint64
	Capacity int
	K        int
	Cells    []iblt.Cell
}

// Kind implements Message.
func (*BucketSummary) Kind() Kind { return KindBucketSummary }

// NewBucketSummary creates a summary of the table.
func NewBucketSummary(w types.Window, count int, tbl *iblt.IBLT) *BucketSummary {
	p := tbl.Params()
	return &BucketSummary{
		Window:   w,
		Count:    uint64(count),
		Capacity: p.Capacity,
		K:        p.K,
		Cells:    tbl.Cells(),
	}
}

// Params returns the IBLT parameters declared by the summary.
func (m *BucketSummary) Params(keySize int) iblt.Params {
	return iblt.Params{Capacity: m.Capacity, K: m.K, KeySize: keySize}
}

// CheckParams verifies that the declared parameters are the expected ones.
// Mismatched summaries are rejected and never coerced into the expected shape.
func (m *BucketSummary) CheckParams(expected iblt.Params) error {
	if got := m.Params(expected.KeySize); got != expected {
		return fmt.Errorf("%w: window %s: got %s, expected %s",
			iblt.ErrParamMismatch, m.Window, got, expected)
	}
	return nil
}

// Table reconstructs the IBLT carried by the summary.
func (m *BucketSummary) Table(keySize int, hasher iblt.Hasher) (*iblt.IBLT, error) {
	return iblt.FromCells(m.Params(keySize), hasher, m.Cells)
}

func (m *BucketSummary) encode(e *encoder) {
	encodeWindow(e, m.Window)
	e.uvarint(m.Count)
	e.uvarint(uint64(m.K))
	e.uvarint(uint64(len(m.Cells)))
	for _, c := range m.Cells {
		e.varint(c.Count)
		e.key(c.KeySum)
		e.buf = append(e.buf, c.CheckSum[:]...)
	}
}

func (m *BucketSummary) decode(d *codec.Decoder, c *Codec) (err error) {
	if m.Window, err = decodeWindow(d); err != nil {
		return err
	}
	if m.Count, err = d.Uvarint(); err != nil {
		return err
	}
	k, err := d.Uvarint()
	if err != nil {
		return err
	}
	capacity, err := d.Count(d.Remaining(), 1+c.KeySize+iblt.ChecksumSize)
	if err != nil {
		return err
	}
	if k == 0 || k > uint64(capacity) {
		return fmt.Errorf("bad iblt params: capacity %d k %d", capacity, k)
	}
	m.Capacity, m.K = capacity, int(k)
	m.Cells = make([]iblt.Cell, capacity)
	for i := range m.Cells {
		cell := &m.Cells[i]
		if cell.Count, err = d.Varint(); err != nil {
			return err
		}
		if cell.KeySum, err = d.Fixed(c.KeySize); err != nil {
			return err
		}
		sum, err := d.Fixed(iblt.ChecksumSize)
		if err != nil {
			return err
		}
		copy(cell.CheckSum[:], sum)
	}
	return nil
}

// WantList requests the records for the listed keys. Final is set on the last want list
// sent for the window in the round.
type WantList struct {
	Window types.Window
	Keys   []types.Key
	Final  bool
}

// Kind implements Message.
func (*WantList) Kind() Kind { return KindWantList }

func (m *WantList) encode(e *encoder) {
	encodeWindow(e, m.Window)
	e.bool(m.Final)
	encodeKeys(e, m.Keys)
}

func (m *WantList) decode(d *codec.Decoder, c *Codec) (err error) {
	if m.Window, err = decodeWindow(d); err != nil {
		return err
	}
	if m.Final, err = decodeBool(d); err != nil {
		return err
	}
	m.Keys, err = decodeKeys(d, c.KeySize)
	return err
}

// KeyList carries every key the sender has in the window. It is used when the
// difference can't be decoded from the summaries.
type KeyList struct {
	Window types.Window
	Keys   []types.Key
	Final  bool
}

// Kind implements Message.
func (*KeyList) Kind() Kind { return KindKeyList }

func (m *KeyList) encode(e *encoder) {
	encodeWindow(e, m.Window)
	e.bool(m.Final)
	encodeKeys(e, m.Keys)
}

func (m *KeyList) decode(d *codec.Decoder, c *Codec) (err error) {
	if m.Window, err = decodeWindow(d); err != nil {
		return err
	}
	if m.Final, err = decodeBool(d); err != nil {
		return err
	}
	m.Keys, err = decodeKeys(d, c.KeySize)
	return err
}

// RecordPush carries records, either requested by a WantList or unsolicited.
type RecordPush struct {
	Records []types.Record
}

// Kind implements Message.
func (*RecordPush) Kind() Kind { return KindRecordPush }

func (m *RecordPush) encode(e *encoder) {
	e.uvarint(uint64(len(m.Records)))
	for _, r := range m.Records {
		e.key(r.Key)
		e.varint(r.Timestamp.UnixMilli())
		e.bytes(r.Value)
	}
}

func (m *RecordPush) decode(d *codec.Decoder, c *Codec) error {
	// key, 1 byte timestamp, 1 byte value length
	n, err := d.Count(d.Remaining(), c.KeySize+2)
	if err != nil {
		return err
	}
	m.Records = make([]types.Record, n)
	for i := range m.Records {
		r := &m.Records[i]
		if r.Key, err = d.Fixed(c.KeySize); err != nil {
			return err
		}
		ts, err := d.Varint()
		if err != nil {
			return err
		}
		r.Timestamp = time.UnixMilli(ts).UTC()
		if r.Value, err = d.Bytes(d.Remaining()); err != nil {
			return err
		}
	}
	return nil
}

// Done ends the round.
type Done struct{}

// Kind implements Message.
func (*Done) Kind() Kind { return KindDone }

func (*Done) encode(*encoder) {}

func (*Done) decode(*codec.Decoder, *Codec) error { return nil }

// RecordSize returns the encoded size of the record within a RecordPush.
func RecordSize(r types.Record) int {
	return len(r.Key) + codec.VarintSize(r.Timestamp.UnixMilli()) +
		codec.UvarintSize(uint64(len(r.Value))) + len(r.Value)
}
