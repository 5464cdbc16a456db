// Package database is a goleveldb-backed record store.
package database

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"

	"github.com/spacemeshos/go-ibltsync/codec"
	"github.com/spacemeshos/go-ibltsync/types"
)

const (
	recordPrefix = 'r'
	timePrefix   = 't'
)

// Config is the configuration of the leveldb store.
type Config struct {
	// Cache is the size of the block cache and write buffers in MiB.
	Cache int `mapstructure:"cache"`
	// Handles is the number of open files cached.
	Handles int `mapstructure:"handles"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{Cache: 64, Handles: 64}
}

// LDBDatabase stores records in leveldb. Records are indexed by key and by timestamp,
// the timestamp index serves the window queries.
type LDBDatabase struct {
	logger *zap.Logger
	path   string
	db     *leveldb.DB

	// mu makes the check for an existing key and the insert atomic.
	mu sync.Mutex
}

// Open opens the database in the directory at path, recovering it if it's corrupted.
func Open(path string, cfg Config, logger *zap.Logger) (*LDBDatabase, error) {
	cache := max(cfg.Cache, 16)
	handles := max(cfg.Handles, 16)
	logger.Info("allocated cache and file handles",
		zap.String("path", path),
		zap.Int("cache_size", cache),
		zap.Int("num_handles", handles))

	db, err := leveldb.OpenFile(path, &opt.Options{
		OpenFilesCacheCapacity: handles,
		BlockCacheCapacity:     cache / 2 * opt.MiB,
		WriteBuffer:            cache / 4 * opt.MiB,
		Filter:                 filter.NewBloomFilter(10),
	})
	if lerrors.IsCorrupted(err) {
		logger.Warn("database corrupted, recovering", zap.String("path", path), zap.Error(err))
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &LDBDatabase{logger: logger, path: path, db: db}, nil
}

// NewMemDatabase returns a database kept in memory.
func NewMemDatabase() *LDBDatabase {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		panic("can't open in-memory leveldb: " + err.Error())
	}
	return &LDBDatabase{logger: zap.NewNop(), db: db}
}

// Path returns the path to the database directory, empty for in-memory databases.
func (d *LDBDatabase) Path() string {
	return d.path
}

func recordKey(key types.Key) []byte {
	return append([]byte{recordPrefix}, key...)
}

// sortable maps signed milliseconds to big-endian bytes ordered like the timestamps.
func sortable(buf []byte, ms int64) []byte {
	return binary.BigEndian.AppendUint64(buf, uint64(ms)^(1<<63))
}

func timeKey(ts time.Time, key types.Key) []byte {
	buf := make([]byte, 0, 1+8+len(key))
	buf = append(buf, timePrefix)
	buf = sortable(buf, ts.UnixMilli())
	return append(buf, key...)
}

func timeRange(w types.Window) *util.Range {
	return &util.Range{
		Start: sortable([]byte{timePrefix}, w.Start.UnixMilli()),
		Limit: sortable([]byte{timePrefix}, w.End().UnixMilli()),
	}
}

func encodeRecord(rec types.Record) []byte {
	buf := make([]byte, 0, codec.MaxVarintLen+len(rec.Value))
	buf = codec.AppendVarint(buf, rec.Timestamp.UnixMilli())
	return append(buf, rec.Value...)
}

func decodeRecord(key types.Key, data []byte) (types.Record, error) {
	d := codec.NewDecoder(data)
	ms, err := d.Varint()
	if err != nil {
		return types.Record{}, fmt.Errorf("decode record %s: %w", key.ShortString(), err)
	}
	value, _ := d.Fixed(d.Remaining())
	return types.Record{
		Key:       key,
		Timestamp: time.UnixMilli(ms).UTC(),
		Value:     value,
	}, nil
}

// Get returns the record with the given key or types.ErrNotFound.
func (d *LDBDatabase) Get(_ context.Context, key types.Key) (types.Record, error) {
	data, err := d.db.Get(recordKey(key), nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return types.Record{}, types.ErrNotFound
	case err != nil:
		return types.Record{}, fmt.Errorf("get %s: %w", key.ShortString(), err)
	}
	return decodeRecord(key.Clone(), data)
}

// Put stores the record unless a record with the same key exists.
func (d *LDBDatabase) Put(_ context.Context, rec types.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	rk := recordKey(rec.Key)
	has, err := d.db.Has(rk, nil)
	if err != nil {
		return fmt.Errorf("check %s: %w", rec.Key.ShortString(), err)
	}
	if has {
		return nil
	}
	var batch leveldb.Batch
	batch.Put(rk, encodeRecord(rec))
	batch.Put(timeKey(rec.Timestamp, rec.Key), nil)
	if err := d.db.Write(&batch, nil); err != nil {
		return fmt.Errorf("put %s: %w", rec.Key.ShortString(), err)
	}
	return nil
}

// ListKeysInWindow enumerates the keys of the records created within the window, in
// timestamp order.
func (d *LDBDatabase) ListKeysInWindow(ctx context.Context, w types.Window) iter.Seq2[types.Key, error] {
	return func(yield func(types.Key, error) bool) {
		it := d.db.NewIterator(timeRange(w), nil)
		defer it.Release()
		for it.Next() {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			key := types.Key(it.Key()[1+8:]).Clone()
			if !yield(key, nil) {
				return
			}
		}
		if err := it.Error(); err != nil {
			yield(nil, fmt.Errorf("iterate window %s: %w", w, err))
		}
	}
}

// CountInWindow returns the number of records created within the window.
func (d *LDBDatabase) CountInWindow(ctx context.Context, w types.Window) (int, error) {
	it := d.db.NewIterator(timeRange(w), nil)
	defer it.Release()
	n := 0
	for it.Next() {
		n++
	}
	if err := it.Error(); err != nil {
		return 0, fmt.Errorf("count window %s: %w", w, err)
	}
	return n, ctx.Err()
}

// Close closes the database, flushing writes.
func (d *LDBDatabase) Close() error {
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("close %s: %w", d.path, err)
	}
	d.logger.Info("database closed", zap.String("path", d.path))
	return nil
}
