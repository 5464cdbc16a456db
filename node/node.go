// Package node wires the record store, the libp2p transport, the gossip node and the
// http api of an ibltsync node together.
package node

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/jonboulle/clockwork"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/natefinch/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spacemeshos/go-ibltsync/api"
	"github.com/spacemeshos/go-ibltsync/config"
	"github.com/spacemeshos/go-ibltsync/database"
	"github.com/spacemeshos/go-ibltsync/gossip"
	"github.com/spacemeshos/go-ibltsync/log"
	"github.com/spacemeshos/go-ibltsync/metrics"
	"github.com/spacemeshos/go-ibltsync/sql"
	"github.com/spacemeshos/go-ibltsync/sql/records"
	"github.com/spacemeshos/go-ibltsync/timebucket"
	"github.com/spacemeshos/go-ibltsync/transport/p2pnet"
	"github.com/spacemeshos/go-ibltsync/types"
	"github.com/spacemeshos/go-ibltsync/validation"
)

const (
	identityFile = "identity.key"
	peerBookFile = "peers.cbor"
	levelDBDir   = "records"
	sqliteFile   = "records.sql"

	bookSaveInterval = time.Minute
)

// Logger names of the node modules.
const (
	NodeLogger     = "node"
	GossipLogger   = "gossip"
	IndexLogger    = "index"
	DatabaseLogger = "db"
	P2PLogger      = "p2p"
	APILogger      = "api"
	MetricsLogger  = "metrics"
)

type store interface {
	gossip.Database
	Close() error
}

// Option to modify an App instance.
type Option func(app *App)

// WithLogger sets the root logger of the app.
func WithLogger(logger *zap.Logger) Option {
	return func(app *App) {
		app.logger = logger
	}
}

// WithClock sets the clock used by the gossip node.
func WithClock(clock clockwork.Clock) Option {
	return func(app *App) {
		app.clock = clock
	}
}

// WithHost makes the app use h instead of creating a host from the p2p configuration.
// The app does not close a host it did not create.
func WithHost(h host.Host) Option {
	return func(app *App) {
		app.host = h
	}
}

// App is an ibltsync node.
type App struct {
	Config config.Config

	logger   *zap.Logger
	clock    clockwork.Clock
	fileLock *flock.Flock

	db       store
	host     host.Host
	ownsHost bool
	net      *p2pnet.Network
	addr     *validation.ContentAddress
	node     *gossip.Node

	apiAddr net.Addr
	started chan struct{}
}

// New creates an App. Initialize must be called before Start.
func New(cfg config.Config, opts ...Option) *App {
	app := &App{
		Config:  cfg,
		logger:  zap.NewNop(),
		clock:   clockwork.NewRealClock(),
		started: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(app)
	}
	return app
}

func (app *App) module(name string) *zap.Logger {
	return log.Module(app.logger, app.Config.Logging, name)
}

// Lock locks the data directory for exclusive use. It returns an error if another
// node uses the same directory.
func (app *App) Lock() error {
	if err := os.MkdirAll(app.Config.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir %s: %w", app.Config.DataDir, err)
	}
	fl := flock.New(app.Config.LockFile())
	locked, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("flock %s: %w", fl.Path(), err)
	} else if !locked {
		return fmt.Errorf("only one node should use the data dir (locking file %s)", fl.Path())
	}
	app.fileLock = fl
	return nil
}

// Unlock unlocks the data directory. It is a no-op if the app is not locked.
func (app *App) Unlock() {
	if app.fileLock == nil {
		return
	}
	if err := app.fileLock.Unlock(); err != nil {
		app.logger.Error("failed to unlock file", zap.String("path", app.fileLock.Path()), zap.Error(err))
	}
}

// Initialize validates the configuration and creates every component of the node.
func (app *App) Initialize() (err error) {
	if err := app.Config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := os.MkdirAll(app.Config.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir %s: %w", app.Config.DataDir, err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, app.Cleanup())
		}
	}()
	app.db, err = openStore(app.Config, app.module(DatabaseLogger))
	if err != nil {
		return err
	}
	app.addr, err = validation.NewContentAddress(app.Config.Hash, app.Config.Index.KeySize)
	if err != nil {
		return err
	}
	if app.host == nil {
		key, err := loadIdentity(filepath.Join(app.Config.DataDir, identityFile))
		if err != nil {
			return err
		}
		app.host, err = p2pnet.NewHost(app.module(P2PLogger), app.Config.P2P, key)
		if err != nil {
			return err
		}
		app.ownsHost = true
	}
	app.net = p2pnet.New(app.host,
		p2pnet.WithLogger(app.module(P2PLogger)),
		p2pnet.WithMaxMessageSize(app.Config.Gossip.MaxMessageSize),
	)

	book := filepath.Join(app.Config.DataDir, peerBookFile)
	app.node = gossip.New(app.db, app.net, app.addr,
		timebucket.New(app.db, app.Config.Index, timebucket.WithLogger(app.module(IndexLogger))),
		gossip.WithLogger(app.module(GossipLogger)),
		gossip.WithConfig(app.Config.Gossip),
		gossip.WithClock(app.clock),
	)
	if err := app.node.Peers().LoadFile(book); err != nil {
		app.logger.Warn("failed to load peer book", zap.String("path", book), zap.Error(err))
	}
	for _, id := range app.host.Network().Peers() {
		app.node.AddPeer(p2pnet.PeerID(id))
	}
	app.host.Network().Notify(&network.NotifyBundle{
		ConnectedF: func(_ network.Network, c network.Conn) {
			app.node.AddPeer(p2pnet.PeerID(c.RemotePeer()))
		},
	})
	app.logger.Info("initialized node",
		zap.Stringer("id", app.ID()),
		zap.Strings("listen", app.Config.P2P.Listen),
		zap.String("backend", app.Config.Backend),
		zap.Int("known peers", app.node.Peers().Total()),
	)
	return nil
}

func openStore(cfg config.Config, logger *zap.Logger) (store, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		db, err := sql.Open(filepath.Join(cfg.DataDir, sqliteFile),
			sql.WithLogger(logger),
			sql.WithMigrations(records.Migrations()...),
		)
		if err != nil {
			return nil, err
		}
		return records.NewStore(db), nil
	default:
		return database.Open(filepath.Join(cfg.DataDir, levelDBDir), cfg.Database, logger)
	}
}

// loadIdentity reads the host key from path, creating it on the first start.
func loadIdentity(path string) (crypto.PrivKey, error) {
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		key, err := p2pnet.GenerateKey()
		if err != nil {
			return nil, err
		}
		raw, err := crypto.MarshalPrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("marshal identity: %w", err)
		}
		if err := atomic.WriteFile(path, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("write identity %s: %w", path, err)
		}
		return key, nil
	case err != nil:
		return nil, fmt.Errorf("read identity %s: %w", path, err)
	}
	key, err := crypto.UnmarshalPrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal identity %s: %w", path, err)
	}
	return key, nil
}

// Start runs the node until ctx is canceled or a service fails.
func (app *App) Start(ctx context.Context) error {
	app.node.Start(ctx)
	connected, err := p2pnet.Connect(ctx, app.module(P2PLogger), app.host, app.Config.P2P)
	if err != nil {
		return err
	}
	for _, id := range connected {
		app.node.AddPeer(id)
	}
	eg, ctx := errgroup.WithContext(ctx)
	if app.Config.API.Listen != "" {
		l, err := net.Listen("tcp", app.Config.API.Listen)
		if err != nil {
			return fmt.Errorf("listen api on %s: %w", app.Config.API.Listen, err)
		}
		app.apiAddr = l.Addr()
		srv := api.New(app.module(APILogger), app.Config.API, app)
		eg.Go(func() error {
			return srv.Serve(ctx, l)
		})
	}
	if app.Config.Metrics.URL != "" {
		eg.Go(func() error {
			metrics.PushMetrics(ctx, app.module(MetricsLogger), app.Config.Metrics, app.ID().String())
			return nil
		})
	}
	eg.Go(func() error {
		ticker := app.clock.NewTicker(bookSaveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.Chan():
				app.saveBook()
			}
		}
	})
	close(app.started)
	app.logger.Info("node started", zap.Int("bootnodes", len(connected)))
	return eg.Wait()
}

// Started is closed once the services of the node are running.
func (app *App) Started() <-chan struct{} {
	return app.started
}

func (app *App) saveBook() {
	path := filepath.Join(app.Config.DataDir, peerBookFile)
	if err := app.node.Peers().SaveFile(path); err != nil {
		app.logger.Warn("failed to save peer book", zap.String("path", path), zap.Error(err))
	}
}

// Cleanup stops the node and releases its resources. It can be called after a failed
// Initialize.
func (app *App) Cleanup() error {
	var errs []error
	if app.node != nil {
		if err := app.node.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop gossip: %w", err))
		}
		app.saveBook()
	}
	if app.net != nil {
		if err := app.net.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close network: %w", err))
		}
	}
	if app.host != nil && app.ownsHost {
		if err := app.host.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close host: %w", err))
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ID returns the peer ID of the node.
func (app *App) ID() types.PeerID {
	return p2pnet.PeerID(app.host.ID())
}

// Node returns the gossip node.
func (app *App) Node() *gossip.Node {
	return app.node
}

// APIAddr returns the address the api listens on, nil if the api is disabled or the
// node was not started.
func (app *App) APIAddr() net.Addr {
	return app.apiAddr
}

// PeerInfo implements api.Node.
func (app *App) PeerInfo() []gossip.PeerInfo {
	return app.node.PeerInfo()
}

// Get implements api.Node.
func (app *App) Get(ctx context.Context, key types.Key) (types.Record, error) {
	return app.db.Get(ctx, key)
}

// Publish stores a record addressed by the value and timestamped with the current time.
// Peers receive it in the next rounds that reconcile the current window.
func (app *App) Publish(ctx context.Context, value []byte) (types.Record, error) {
	rec := app.addr.Record(value, time.UnixMilli(app.clock.Now().UnixMilli()).UTC())
	if err := app.node.Put(ctx, rec); err != nil {
		return types.Record{}, err
	}
	return rec, nil
}
