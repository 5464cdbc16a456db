// Package timebucket partitions records into fixed-width time windows and builds the
// per-window IBLTs used for reconciliation.
package timebucket

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/spacemeshos/go-ibltsync/iblt"
	"github.com/spacemeshos/go-ibltsync/types"
)

// ErrBadWindow is returned for windows that don't match the configured width or
// alignment.
var ErrBadWindow = errors.New("timebucket: bad window")

// Store enumerates the keys of the records created within a window.
type Store interface {
	ListKeysInWindow(ctx context.Context, w types.Window) iter.Seq2[types.Key, error]
	CountInWindow(ctx context.Context, w types.Window) (int, error)
}

// Config is the configuration of the Index.
type Config struct {
	// Width is the width of a window. Must be a whole number of milliseconds.
	Width time.Duration `mapstructure:"window-width"`
	// KeySize is the size of the record keys.
	KeySize int `mapstructure:"key-size"`
	// Seed selects the IBLT hash function family. All nodes must use the same seed.
	Seed uint64 `mapstructure:"seed"`
	// Sizing determines the IBLT parameters for a window.
	Sizing iblt.Sizing `mapstructure:"sizing"`
}

// DefaultConfig returns the default configuration of the Index.
func DefaultConfig() Config {
	return Config{
		Width:   10 * time.Minute,
		KeySize: 32,
		Seed:    0x1b17,
		Sizing:  iblt.DefaultSizing(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Width < time.Millisecond || c.Width%time.Millisecond != 0 {
		return fmt.Errorf("window width %s is not a positive whole number of milliseconds", c.Width)
	}
	switch c.KeySize {
	case 8, 16, 32:
	default:
		return fmt.Errorf("unsupported key size %d", c.KeySize)
	}
	if c.Sizing.Overhead <= 0 {
		return fmt.Errorf("bad sizing overhead %v", c.Sizing.Overhead)
	}
	p := c.Sizing.Params(0, c.KeySize)
	if err := p.Validate(); err != nil {
		return fmt.Errorf("sizing: %w", err)
	}
	return nil
}

// Opt is an option for Index.
type Opt func(*Index)

// WithLogger specifies the logger for the Index.
func WithLogger(logger *zap.Logger) Opt {
	return func(x *Index) {
		x.logger = logger
	}
}

// Index maps records to time windows and produces per-window IBLTs from the Store.
// It holds no mutable state and is safe for concurrent use.
type Index struct {
	logger *zap.Logger
	cfg    Config
	store  Store
	hasher iblt.Hasher
}

// New creates an Index over the store.
func New(store Store, cfg Config, opts ...Opt) *Index {
	x := &Index{
		logger: zap.NewNop(),
		cfg:    cfg,
		store:  store,
		hasher: iblt.NewHasher(cfg.Seed),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Width returns the window width.
func (x *Index) Width() time.Duration {
	return x.cfg.Width
}

// KeySize returns the key size.
func (x *Index) KeySize() int {
	return x.cfg.KeySize
}

// Hasher returns the hasher shared by all IBLTs built by the Index.
func (x *Index) Hasher() iblt.Hasher {
	return x.hasher
}

// BucketFor returns the window t falls into. Windows are aligned to the unix epoch.
func (x *Index) BucketFor(t time.Time) types.Window {
	return BucketFor(t, x.cfg.Width)
}

// BucketFor returns the window of the given width t falls into.
func BucketFor(t time.Time, width time.Duration) types.Window {
	w := width.Milliseconds()
	ms := t.UnixMilli()
	start := ms - ms%w
	if ms%w < 0 {
		start -= w
	}
	return types.Window{Start: time.UnixMilli(start).UTC(), Width: width}
}

// Window returns the window starting at the given unix millisecond timestamp.
// The start must be aligned to the window width.
func (x *Index) Window(startMillis int64, width time.Duration) (types.Window, error) {
	if width != x.cfg.Width {
		return types.Window{}, fmt.Errorf("%w: width %s, expected %s", ErrBadWindow, width, x.cfg.Width)
	}
	w := x.BucketFor(time.UnixMilli(startMillis))
	if w.ID() != startMillis {
		return types.Window{}, fmt.Errorf("%w: start %d not aligned", ErrBadWindow, startMillis)
	}
	return w, nil
}

// Params returns the IBLT parameters of a window holding count keys.
func (x *Index) Params(count int) iblt.Params {
	return x.cfg.Sizing.Params(count, x.cfg.KeySize)
}

// ParamsFor returns the IBLT parameters for the window, sized for the larger of the
// local population and the peer's declared population. The local population is
// returned as well.
func (x *Index) ParamsFor(ctx context.Context, w types.Window, peerCount int) (iblt.Params, int, error) {
	count, err := x.store.CountInWindow(ctx, w)
	if err != nil {
		return iblt.Params{}, 0, fmt.Errorf("count in window %s: %w", w, err)
	}
	return x.Params(max(count, peerCount)), count, nil
}

// Build creates an IBLT with the given params holding every key in the window. It
// returns the table and the number of keys inserted.
func (x *Index) Build(ctx context.Context, w types.Window, params iblt.Params) (*iblt.IBLT, int, error) {
	tbl, err := iblt.New(params, x.hasher)
	if err != nil {
		return nil, 0, err
	}
	n := 0
	for key, err := range x.store.ListKeysInWindow(ctx, w) {
		if err != nil {
			return nil, 0, fmt.Errorf("list keys in window %s: %w", w, err)
		}
		if err := tbl.Insert(key); err != nil {
			return nil, 0, fmt.Errorf("insert key %s: %w", key.ShortString(), err)
		}
		n++
	}
	x.logger.Debug("built window sketch",
		zap.Object("window", w),
		zap.Stringer("params", params),
		zap.Int("count", n))
	return tbl, n, nil
}

// Keys returns every key in the window.
func (x *Index) Keys(ctx context.Context, w types.Window) ([]types.Key, error) {
	var keys []types.Key
	for key, err := range x.store.ListKeysInWindow(ctx, w) {
		if err != nil {
			return nil, fmt.Errorf("list keys in window %s: %w", w, err)
		}
		keys = append(keys, key.Clone())
	}
	return keys, nil
}
