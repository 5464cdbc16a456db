// Package sql is a pooled sqlite database used as an alternative record store.
package sql

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sqlite "github.com/go-llsqlite/crawshaw"
	"github.com/go-llsqlite/crawshaw/sqlitex"
	"go.uber.org/zap"
)

var (
	// ErrNoConnection is returned if pooled connection is not available.
	ErrNoConnection = errors.New("database: no free connection")
	// ErrObjectExists is returned if database constraints didn't allow to insert an object.
	ErrObjectExists = errors.New("database: object exists")
	// ErrTooNew is returned if the schema version is newer than the known migrations.
	ErrTooNew = errors.New("database version is too new")
)

// Statement is an sqlite statement.
type Statement = sqlite.Stmt

// Encoder binds the parameters of a statement, positional (?1) or named (@key).
// See https://www.sqlite.org/c3ref/bind_blob.html.
type Encoder func(*Statement)

// Decoder reads a row. Returning false stops the iteration.
type Decoder func(*Statement) bool

// Executor runs a statement and returns the number of rows it stepped through.
type Executor interface {
	Exec(query string, enc Encoder, dec Decoder) (int, error)
}

// Migration upgrades the schema by one version.
type Migration func(Executor) error

type options struct {
	connections int
	fresh       bool
	logger      *zap.Logger
	migrations  []Migration
}

// Opt for configuring database.
type Opt func(*options)

// WithConnections sets the size of the connection pool.
func WithConnections(n int) Opt {
	return func(o *options) {
		o.connections = n
	}
}

// WithLogger specifies logger for the database.
func WithLogger(logger *zap.Logger) Opt {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMigrations appends schema migrations. The schema version stored in user_version
// is the number of migrations applied.
func WithMigrations(migrations ...Migration) Opt {
	return func(o *options) {
		o.migrations = append(o.migrations, migrations...)
	}
}

// OpenInMemory creates an in-memory database with a single connection.
func OpenInMemory(opts ...Opt) (*Database, error) {
	return Open("file::memory:?mode=memory", append(opts, WithConnections(1), func(o *options) {
		o.fresh = true
	})...)
}

// InMemory is OpenInMemory that panics on error. It is meant for tests.
func InMemory(opts ...Opt) *Database {
	db, err := OpenInMemory(opts...)
	if err != nil {
		panic(err)
	}
	return db
}

// Open opens the database at uri in WAL mode, creating it if it doesn't exist, and applies
// the migrations the database has not seen yet.
func Open(uri string, opts ...Opt) (*Database, error) {
	o := options{connections: 16, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	pool, err := openPool(uri, o)
	if err != nil {
		return nil, err
	}
	db := &Database{pool: pool}
	if err := db.migrate(o.logger.With(zap.String("uri", uri)), o.migrations); err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return db, nil
}

func openPool(uri string, o options) (*sqlitex.Pool, error) {
	if o.fresh {
		pool, err := sqlitex.Open(uri, 0, o.connections)
		if err != nil {
			return nil, fmt.Errorf("open db %s: %w", uri, err)
		}
		return pool, nil
	}
	flags := sqlite.SQLITE_OPEN_READWRITE | sqlite.SQLITE_OPEN_WAL |
		sqlite.SQLITE_OPEN_URI | sqlite.SQLITE_OPEN_NOMUTEX
	pool, err := sqlitex.Open(uri, flags, o.connections)
	if err == nil {
		return pool, nil
	}
	if sqlite.ErrCode(err) != sqlite.SQLITE_CANTOPEN {
		return nil, fmt.Errorf("open db %s: %w", uri, err)
	}
	pool, err = sqlitex.Open(uri, flags|sqlite.SQLITE_OPEN_CREATE, o.connections)
	if err != nil {
		return nil, fmt.Errorf("create db %s: %w", uri, err)
	}
	return pool, nil
}

// Database is a pool of sqlite connections.
type Database struct {
	pool *sqlitex.Pool

	closeOnce sync.Once
	closeErr  error
}

func (db *Database) migrate(logger *zap.Logger, migrations []Migration) error {
	current, err := version(db)
	if err != nil {
		return err
	}
	if current > len(migrations) {
		return fmt.Errorf("%w: %d > %d", ErrTooNew, current, len(migrations))
	}
	for i := current; i < len(migrations); i++ {
		err := db.WithTx(context.Background(), func(tx *Tx) error {
			if err := migrations[i](tx); err != nil {
				return err
			}
			_, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1), nil, nil)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		logger.Info("applied migration", zap.Int("version", i+1))
	}
	return nil
}

func version(db Executor) (v int, err error) {
	_, err = db.Exec("PRAGMA user_version;", nil, func(stmt *Statement) bool {
		v = stmt.ColumnInt(0)
		return false
	})
	if err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}
	return v, nil
}

// acquire takes a connection from the pool, waiting until one is free or ctx is done.
func (db *Database) acquire(ctx context.Context) (*sqlite.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	conn := db.pool.Get(ctx)
	if conn == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNoConnection
	}
	connWaitLatency.Observe(time.Since(start).Seconds())
	return conn, nil
}

func (db *Database) begin(ctx context.Context, stmt string) (*Tx, error) {
	conn, err := db.acquire(ctx)
	if err != nil {
		return nil, err
	}
	tx := &Tx{db: db, conn: conn}
	if err := tx.step(stmt); err != nil {
		db.pool.Put(conn)
		return nil, fmt.Errorf("begin: %w", err)
	}
	return tx, nil
}

// Tx starts a deferred transaction. It takes the write lock only on the first write
// statement. Every transaction must be released.
// https://www.sqlite.org/lang_transaction.html
func (db *Database) Tx(ctx context.Context) (*Tx, error) {
	return db.begin(ctx, "BEGIN;")
}

// WithTx runs exec in an immediate transaction and commits it if exec succeeds.
func (db *Database) WithTx(ctx context.Context, exec func(*Tx) error) error {
	tx, err := db.begin(ctx, "BEGIN IMMEDIATE;")
	if err != nil {
		return err
	}
	defer tx.Release()
	if err := exec(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Exec runs the query on a pooled connection, waiting as long as it takes for one to
// be free. Use ExecContext to bound the wait.
func (db *Database) Exec(query string, enc Encoder, dec Decoder) (int, error) {
	return db.ExecContext(context.Background(), query, enc, dec)
}

// ExecContext is Exec that gives up waiting for a connection once ctx is done.
func (db *Database) ExecContext(ctx context.Context, query string, enc Encoder, dec Decoder) (int, error) {
	conn, err := db.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer db.pool.Put(conn)
	start := time.Now()
	defer func() {
		queryDuration.WithLabelValues(query).Observe(float64(time.Since(start)))
	}()
	return run(conn, query, enc, dec)
}

// Close closes the pool. Closing twice is a no-op.
func (db *Database) Close() error {
	db.closeOnce.Do(func() {
		if err := db.pool.Close(); err != nil {
			db.closeErr = fmt.Errorf("close pool: %w", err)
		}
	})
	return db.closeErr
}

func run(conn *sqlite.Conn, query string, enc Encoder, dec Decoder) (int, error) {
	stmt, err := conn.Prepare(query)
	if err != nil {
		return 0, fmt.Errorf("prepare %s: %w", query, err)
	}
	defer stmt.ClearBindings()
	if enc != nil {
		enc(stmt)
	}
	for rows := 0; ; rows++ {
		ok, err := stmt.Step()
		switch {
		case err != nil:
			switch sqlite.ErrCode(err) {
			case sqlite.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite.SQLITE_CONSTRAINT_UNIQUE:
				return 0, ErrObjectExists
			}
			return 0, fmt.Errorf("step %d: %w", rows, err)
		case !ok:
			return rows, nil
		case dec != nil && !dec(stmt):
			if err := stmt.Reset(); err != nil {
				return rows + 1, fmt.Errorf("reset statement: %w", err)
			}
			return rows + 1, nil
		}
	}
}

// Tx is a transaction holding one pooled connection.
type Tx struct {
	db        *Database
	conn      *sqlite.Conn
	committed bool
}

func (tx *Tx) step(query string) error {
	_, err := tx.conn.Prep(query).Step()
	return err
}

// Commit commits the transaction.
func (tx *Tx) Commit() error {
	if err := tx.step("COMMIT;"); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	tx.committed = true
	return nil
}

// Release rolls the transaction back unless it was committed, and returns the
// connection to the pool.
func (tx *Tx) Release() error {
	defer tx.db.pool.Put(tx.conn)
	if tx.committed {
		return nil
	}
	if err := tx.step("ROLLBACK;"); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// Exec runs the query within the transaction.
func (tx *Tx) Exec(query string, enc Encoder, dec Decoder) (int, error) {
	return run(tx.conn, query, enc, dec)
}
