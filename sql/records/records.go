// Package records stores replicated records in the sqlite database.
package records

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/spacemeshos/go-ibltsync/sql"
	"github.com/spacemeshos/go-ibltsync/types"
)

// Migrations creates the schema of the records table.
func Migrations() []sql.Migration {
	return []sql.Migration{
		func(db sql.Executor) error {
			for _, q := range []string{
				`create table records (
					key   blob primary key,
					ts    integer not null,
					value blob not null
				) without rowid`,
				`create index records_by_ts on records (ts, key)`,
			} {
				if _, err := db.Exec(q, nil, nil); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// Add inserts the record. Adding a record whose key exists is a no-op.
func Add(db sql.Executor, rec types.Record) error {
	if _, err := db.Exec(`insert into records (key, ts, value) values (?1, ?2, ?3)
		on conflict (key) do nothing`,
		func(stmt *sql.Statement) {
			stmt.BindBytes(1, rec.Key)
			stmt.BindInt64(2, rec.Timestamp.UnixMilli())
			stmt.BindBytes(3, rec.Value)
		}, nil); err != nil {
		return fmt.Errorf("insert %s: %w", rec.Key.ShortString(), err)
	}
	return nil
}

// Get returns the record with the key or types.ErrNotFound.
func Get(db sql.Executor, key types.Key) (types.Record, error) {
	rec := types.Record{Key: key.Clone()}
	rows, err := db.Exec("select ts, value from records where key = ?1",
		func(stmt *sql.Statement) {
			stmt.BindBytes(1, key)
		}, func(stmt *sql.Statement) bool {
			rec.Timestamp = time.UnixMilli(stmt.ColumnInt64(0)).UTC()
			rec.Value = make([]byte, stmt.ColumnLen(1))
			stmt.ColumnBytes(1, rec.Value)
			return false
		})
	switch {
	case err != nil:
		return types.Record{}, fmt.Errorf("get %s: %w", key.ShortString(), err)
	case rows == 0:
		return types.Record{}, fmt.Errorf("%w: %s", types.ErrNotFound, key.ShortString())
	}
	return rec, nil
}

// KeysInWindow returns the keys of the records whose timestamp is within the window,
// ordered by timestamp.
func KeysInWindow(db sql.Executor, w types.Window) ([]types.Key, error) {
	var keys []types.Key
	if _, err := db.Exec("select key from records where ts >= ?1 and ts < ?2 order by ts, key",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, w.Start.UnixMilli())
			stmt.BindInt64(2, w.End().UnixMilli())
		}, func(stmt *sql.Statement) bool {
			key := make(types.Key, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, key)
			keys = append(keys, key)
			return true
		}); err != nil {
		return nil, fmt.Errorf("list keys in %s: %w", w, err)
	}
	return keys, nil
}

// CountInWindow returns the number of records whose timestamp is within the window.
func CountInWindow(db sql.Executor, w types.Window) (int, error) {
	var count int
	if _, err := db.Exec("select count(*) from records where ts >= ?1 and ts < ?2",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, w.Start.UnixMilli())
			stmt.BindInt64(2, w.End().UnixMilli())
		}, func(stmt *sql.Statement) bool {
			count = stmt.ColumnInt(0)
			return false
		}); err != nil {
		return 0, fmt.Errorf("count in %s: %w", w, err)
	}
	return count, nil
}

// Store adapts the records table to the record store used by the gossip node.
type Store struct {
	db *sql.Database
}

// NewStore creates a Store. The database must be opened with Migrations.
func NewStore(db *sql.Database) *Store {
	return &Store{db: db}
}

// executor binds queries to ctx for acquiring a pooled connection.
type executor struct {
	ctx context.Context
	db  *sql.Database
}

func (e executor) Exec(query string, enc sql.Encoder, dec sql.Decoder) (int, error) {
	return e.db.ExecContext(e.ctx, query, enc, dec)
}

func (s *Store) Get(ctx context.Context, key types.Key) (types.Record, error) {
	return Get(executor{ctx: ctx, db: s.db}, key)
}

func (s *Store) Put(ctx context.Context, rec types.Record) error {
	return Add(executor{ctx: ctx, db: s.db}, rec)
}

// ListKeysInWindow reads the keys of the window before yielding them, so that the
// connection is not held while the caller consumes them.
func (s *Store) ListKeysInWindow(ctx context.Context, w types.Window) iter.Seq2[types.Key, error] {
	return func(yield func(types.Key, error) bool) {
		keys, err := KeysInWindow(executor{ctx: ctx, db: s.db}, w)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, key := range keys {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(key, nil) {
				return
			}
		}
	}
}

func (s *Store) CountInWindow(ctx context.Context, w types.Window) (int, error) {
	return CountInWindow(executor{ctx: ctx, db: s.db}, w)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
