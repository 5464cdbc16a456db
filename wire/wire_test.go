package wire_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/spacemeshos/go-ibltsync/codec"
	"github.com/spacemeshos/go-ibltsync/iblt"
	"github.com/spacemeshos/go-ibltsync/types"
	"github.com/spacemeshos/go-ibltsync/wire"
)

const keySize = 16

func testCodec() *wire.Codec {
	return &wire.Codec{KeySize: keySize, MaxMessageSize: wire.DefaultMaxMessageSize}
}

func testWindow() types.Window {
	return types.Window{
		Start: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Width: 10 * time.Minute,
	}
}

func roundTrip(t *testing.T, c *wire.Codec, h wire.Header, m wire.Message) (wire.Header, wire.Message) {
	t.Helper()
	frame, err := c.Encode(h, m)
	require.NoError(t, err)
	gotH, gotM, err := c.Decode(frame)
	require.NoError(t, err)
	require.Equal(t, m.Kind(), gotH.Kind)
	return gotH, gotM
}

func TestMessages(t *testing.T) {
	c := testCodec()
	tbl, err := iblt.New(iblt.Params{Capacity: 64, K: 4, KeySize: keySize}, iblt.NewHasher(1))
	require.NoError(t, err)
	for range 10 {
		require.NoError(t, tbl.Insert(types.RandomKey(keySize)))
	}
	require.NoError(t, tbl.Remove(types.RandomKey(keySize)))
	keys := []types.Key{types.RandomKey(keySize), types.RandomKey(keySize)}

	for _, m := range []wire.Message{
		&wire.Hello{
			Version:        wire.Version,
			MaxMessageSize: wire.DefaultMaxMessageSize,
			KeySize:        keySize,
			WindowWidth:    10 * time.Minute,
		},
		wire.NewBucketSummary(testWindow(), 10, tbl),
		&wire.WantList{Window: testWindow(), Keys: keys, Final: true},
		&wire.WantList{Window: testWindow(), Keys: []types.Key{}},
		&wire.KeyList{Window: testWindow(), Keys: keys},
		&wire.RecordPush{Records: []types.Record{
			{Key: keys[0], Timestamp: time.UnixMilli(1714564800123).UTC(), Value: []byte("value")},
			{Key: keys[1], Timestamp: time.UnixMilli(-5).UTC(), Value: []byte{}},
		}},
		&wire.Done{},
	} {
		t.Run(m.Kind().String(), func(t *testing.T) {
			h, got := roundTrip(t, c, wire.Header{Flags: wire.FlagReply, Round: 300}, m)
			require.True(t, h.IsReply())
			require.EqualValues(t, 300, h.Round)
			require.Empty(t, cmp.Diff(m, got))
		})
	}
}

func TestBucketSummaryTable(t *testing.T) {
	c := testCodec()
	h := iblt.NewHasher(1)
	p := iblt.Params{Capacity: 64, K: 4, KeySize: keySize}
	tbl, err := iblt.New(p, h)
	require.NoError(t, err)
	key := types.RandomKey(keySize)
	require.NoError(t, tbl.Insert(key))

	_, m := roundTrip(t, c, wire.Header{}, wire.NewBucketSummary(testWindow(), 1, tbl))
	bs := m.(*wire.BucketSummary)
	require.EqualValues(t, 1, bs.Count)
	require.NoError(t, bs.CheckParams(p))
	require.ErrorIs(t, bs.CheckParams(iblt.Params{Capacity: 128, K: 4, KeySize: keySize}), iblt.ErrParamMismatch)
	require.ErrorIs(t, bs.CheckParams(iblt.Params{Capacity: 64, K: 3, KeySize: keySize}), iblt.ErrParamMismatch)

	got, err := bs.Table(keySize, h)
	require.NoError(t, err)
	plus, minus, res, err := got.Diff()
	require.NoError(t, err)
	require.True(t, res.Complete())
	require.Empty(t, minus)
	require.Equal(t, []types.Key{key}, plus)
}

func TestHelloCompatible(t *testing.T) {
	local := &wire.Hello{
		Version:        wire.Version,
		MaxMessageSize: wire.DefaultMaxMessageSize,
		KeySize:        32,
		WindowWidth:    time.Minute,
	}
	peer := *local
	peer.MaxMessageSize = wire.MinMessageSize
	require.NoError(t, local.Compatible(&peer))
	for _, mod := range []func(h *wire.Hello){
		func(h *wire.Hello) { h.Version++ },
		func(h *wire.Hello) { h.KeySize = 16 },
		func(h *wire.Hello) { h.WindowWidth = time.Hour },
		func(h *wire.Hello) { h.MaxMessageSize = 10 },
	} {
		peer := *local
		mod(&peer)
		require.ErrorIs(t, local.Compatible(&peer), wire.ErrVersion)
	}
}

func TestEncodeTooLarge(t *testing.T) {
	c := &wire.Codec{KeySize: keySize, MaxMessageSize: 1024}
	keys := make([]types.Key, 100)
	for i := range keys {
		keys[i] = types.RandomKey(keySize)
	}
	_, err := c.Encode(wire.Header{}, &wire.KeyList{Window: testWindow(), Keys: keys})
	require.ErrorIs(t, err, wire.ErrMessageTooLarge)

	_, err = c.Encode(wire.Header{}, &wire.WantList{Window: testWindow(), Keys: []types.Key{{1, 2}}})
	require.Error(t, err)
}

func TestDecodeOversized(t *testing.T) {
	c := &wire.Codec{KeySize: keySize, MaxMessageSize: 1024}
	// declares a 1 GiB message but carries a few bytes only
	frame, err := codec.AppendUvarint(nil, 1<<30)
	require.NoError(t, err)
	frame = append(frame, byte(wire.KindDone), 0, 0)
	allocs := testing.AllocsPerRun(10, func() {
		_, _, err = c.Decode(frame)
	})
	require.ErrorIs(t, err, wire.ErrMessageTooLarge)
	require.Less(t, allocs, float64(20))

	// a bucket summary declaring far more cells than the frame holds
	var body []byte
	body = append(body, byte(wire.KindBucketSummary), 0, 0)
	body, _ = codec.AppendVarint(body, 0)
	body, _ = codec.AppendUvarint(body, 60_000)
	body, _ = codec.AppendUvarint(body, 10)
	body, _ = codec.AppendUvarint(body, 4)
	body, _ = codec.AppendUvarint(body, 1<<40)
	frame, err = codec.AppendFrame(nil, body)
	require.NoError(t, err)
	_, _, err = c.Decode(frame)
	require.ErrorIs(t, err, wire.ErrMalformed)
}

func TestDecodeMalformed(t *testing.T) {
	c := testCodec()
	frame, err := c.Encode(wire.Header{Round: 1}, &wire.WantList{
		Window: testWindow(),
		Keys:   []types.Key{types.RandomKey(keySize)},
	})
	require.NoError(t, err)

	for _, tc := range []struct {
		name  string
		frame []byte
	}{
		{name: "empty", frame: nil},
		{name: "truncated", frame: frame[:len(frame)-1]},
		{name: "trailing", frame: append(bytes.Clone(frame), 0)},
		{
			name: "trailing body",
			frame: func() []byte {
				body := append(bytes.Clone(frame[1:]), 0)
				f, _ := codec.AppendFrame(nil, body)
				return f
			}(),
		},
		{
			name: "unknown kind",
			frame: func() []byte {
				f := bytes.Clone(frame)
				f[1] = 0x7f
				return f
			}(),
		},
		{
			name: "unknown flags",
			frame: func() []byte {
				f := bytes.Clone(frame)
				f[2] = 0x80
				return f
			}(),
		},
		{
			name: "short key",
			frame: func() []byte {
				body := bytes.Clone(frame[1 : len(frame)-1])
				f, _ := codec.AppendFrame(nil, body)
				return f
			}(),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := c.Decode(tc.frame)
			require.ErrorIs(t, err, wire.ErrMalformed)
		})
	}

	// bad bool
	var body []byte
	body = append(body, byte(wire.KindWantList), 0, 0)
	body, _ = codec.AppendVarint(body, 0)
	body, _ = codec.AppendUvarint(body, 1000)
	body = append(body, 2, 0)
	f, err := codec.AppendFrame(nil, body)
	require.NoError(t, err)
	_, _, err = c.Decode(f)
	require.ErrorIs(t, err, wire.ErrMalformed)
}

func TestChunkKeys(t *testing.T) {
	c := &wire.Codec{KeySize: keySize, MaxMessageSize: 1024}
	require.Equal(t, [][]types.Key{nil}, c.ChunkKeys(nil))

	n := c.KeysPerMessage()
	keys := make([]types.Key, 2*n+1)
	for i := range keys {
		keys[i] = types.RandomKey(keySize)
	}
	chunks := c.ChunkKeys(keys)
	require.Len(t, chunks, 3)
	var all []types.Key
	for i, chunk := range chunks {
		all = append(all, chunk...)
		_, err := c.Encode(wire.Header{Round: codec.MaxUvarint}, &wire.KeyList{
			Window: testWindow(),
			Keys:   chunk,
			Final:  i == len(chunks)-1,
		})
		require.NoError(t, err)
	}
	require.Equal(t, keys, all)
}

func TestChunkRecords(t *testing.T) {
	c := &wire.Codec{KeySize: keySize, MaxMessageSize: 1024}
	var records []types.Record
	for i := range 20 {
		records = append(records, types.Record{
			Key:       types.RandomKey(keySize),
			Timestamp: time.Now(),
			Value:     bytes.Repeat([]byte{byte(i)}, 200),
		})
	}
	huge := types.Record{Key: types.RandomKey(keySize), Timestamp: time.Now(), Value: make([]byte, 2000)}
	chunks, tooLarge := c.ChunkRecords(append(records, huge))
	require.Equal(t, []types.Record{huge}, tooLarge)
	require.Greater(t, len(chunks), 1)
	var all []types.Record
	for _, chunk := range chunks {
		all = append(all, chunk...)
		_, err := c.Encode(wire.Header{Round: codec.MaxUvarint}, &wire.RecordPush{Records: chunk})
		require.NoError(t, err)
	}
	require.Equal(t, records, all)

	chunks, tooLarge = c.ChunkRecords(nil)
	require.Empty(t, chunks)
	require.Empty(t, tooLarge)
}
