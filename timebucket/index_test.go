package timebucket_test

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spacemeshos/go-ibltsync/iblt"
	"github.com/spacemeshos/go-ibltsync/timebucket"
	"github.com/spacemeshos/go-ibltsync/types"
)

type fakeStore struct {
	records []types.Record
	err     error
}

func (s *fakeStore) ListKeysInWindow(_ context.Context, w types.Window) iter.Seq2[types.Key, error] {
	return func(yield func(types.Key, error) bool) {
		for _, r := range s.records {
			if w.Contains(r.Timestamp) && !yield(r.Key, nil) {
				return
			}
		}
		if s.err != nil {
			yield(nil, s.err)
		}
	}
}

func (s *fakeStore) CountInWindow(_ context.Context, w types.Window) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	n := 0
	for _, r := range s.records {
		if w.Contains(r.Timestamp) {
			n++
		}
	}
	return n, nil
}

func TestBucketFor(t *testing.T) {
	width := 10 * time.Minute
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, tc := range []struct {
		name  string
		t     time.Time
		start time.Time
	}{
		{name: "aligned", t: base, start: base},
		{name: "inside", t: base.Add(9*time.Minute + 59*time.Second), start: base},
		{name: "next", t: base.Add(width), start: base.Add(width)},
		{name: "sub-millisecond", t: base.Add(-time.Nanosecond), start: base.Add(-width)},
		{name: "before epoch", t: time.UnixMilli(-1), start: time.UnixMilli(-width.Milliseconds())},
	} {
		t.Run(tc.name, func(t *testing.T) {
			w := timebucket.BucketFor(tc.t, width)
			require.True(t, w.Start.Equal(tc.start), "got %s", w)
			require.Equal(t, width, w.Width)
			if tc.t.Truncate(time.Millisecond).Equal(tc.t) {
				require.True(t, w.Contains(tc.t))
			}
		})
	}
}

func TestWindow(t *testing.T) {
	cfg := timebucket.DefaultConfig()
	x := timebucket.New(&fakeStore{}, cfg)
	w := x.BucketFor(time.Now())
	got, err := x.Window(w.ID(), cfg.Width)
	require.NoError(t, err)
	require.True(t, got.Equal(w))

	_, err = x.Window(w.ID()+1, cfg.Width)
	require.ErrorIs(t, err, timebucket.ErrBadWindow)
	_, err = x.Window(w.ID(), cfg.Width/2)
	require.ErrorIs(t, err, timebucket.ErrBadWindow)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, timebucket.DefaultConfig().Validate())
	for _, mod := range []func(*timebucket.Config){
		func(c *timebucket.Config) { c.Width = 0 },
		func(c *timebucket.Config) { c.Width = time.Millisecond + time.Microsecond },
		func(c *timebucket.Config) { c.KeySize = 20 },
		func(c *timebucket.Config) { c.Sizing.K = 0 },
		func(c *timebucket.Config) { c.Sizing.Overhead = 0 },
	} {
		cfg := timebucket.DefaultConfig()
		mod(&cfg)
		require.Error(t, cfg.Validate())
	}
}

func TestBuild(t *testing.T) {
	cfg := timebucket.DefaultConfig()
	cfg.KeySize = 16
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := &fakeStore{}
	var inside []types.Key
	for i := range 20 {
		r := types.Record{
			Key:       types.RandomKey(16),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		s.records = append(s.records, r)
		if i < 10 {
			inside = append(inside, r.Key)
		}
	}
	x := timebucket.New(s, cfg, timebucket.WithLogger(zaptest.NewLogger(t)))
	w := x.BucketFor(base)

	params, count, err := x.ParamsFor(context.Background(), w, 0)
	require.NoError(t, err)
	require.Equal(t, 10, count)
	require.Equal(t, cfg.Sizing.Params(10, 16), params)

	bigger, _, err := x.ParamsFor(context.Background(), w, 1000)
	require.NoError(t, err)
	require.Greater(t, bigger.Capacity, params.Capacity)
	require.Equal(t, bigger, x.Params(1000))

	tbl, n, err := x.Build(context.Background(), w, params)
	require.NoError(t, err)
	require.Equal(t, 10, n)

	expected, err := iblt.New(params, x.Hasher())
	require.NoError(t, err)
	for _, k := range inside {
		require.NoError(t, expected.Insert(k))
	}
	require.Equal(t, expected.Cells(), tbl.Cells())

	keys, err := x.Keys(context.Background(), w)
	require.NoError(t, err)
	require.ElementsMatch(t, inside, keys)

	empty, n, err := x.Build(context.Background(), w.Prev(), params)
	require.NoError(t, err)
	require.Zero(t, n)
	require.True(t, empty.IsEmpty())
}

func TestBuildErrors(t *testing.T) {
	errStore := errors.New("store failure")
	cfg := timebucket.DefaultConfig()
	s := &fakeStore{err: errStore}
	x := timebucket.New(s, cfg)
	w := x.BucketFor(time.Now())

	_, _, err := x.ParamsFor(context.Background(), w, 0)
	require.ErrorIs(t, err, errStore)
	_, _, err = x.Build(context.Background(), w, cfg.Sizing.Params(0, cfg.KeySize))
	require.ErrorIs(t, err, errStore)
	_, err = x.Keys(context.Background(), w)
	require.ErrorIs(t, err, errStore)

	s.err = nil
	s.records = []types.Record{{Key: types.RandomKey(cfg.KeySize - 1), Timestamp: w.Start}}
	_, _, err = x.Build(context.Background(), w, cfg.Sizing.Params(0, cfg.KeySize))
	require.ErrorIs(t, err, iblt.ErrKeySize)

	_, _, err = x.Build(context.Background(), w, iblt.Params{})
	require.ErrorIs(t, err, iblt.ErrInvalidParams)
}
