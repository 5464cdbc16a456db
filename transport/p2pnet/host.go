package p2pnet

import (
	"context"
	"errors"
	"fmt"
	"time"

	lp2plog "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/transport"
	"github.com/libp2p/go-libp2p/p2p/host/peerstore/pstoremem"
	"github.com/libp2p/go-libp2p/p2p/muxer/yamux"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/spacemeshos/go-ibltsync/types"
)

const userAgent = "go-ibltsync"

// Config is the configuration of the libp2p host.
type Config struct {
	// Listen are the multiaddrs the host listens on.
	Listen []string `mapstructure:"listen"`
	// Bootnodes are multiaddrs with a /p2p/ component of peers connected on start.
	Bootnodes []string `mapstructure:"bootnodes"`
	// LowPeers and HighPeers are the watermarks of the connection manager.
	LowPeers           int           `mapstructure:"low-peers"`
	HighPeers          int           `mapstructure:"high-peers"`
	GracePeersShutdown time.Duration `mapstructure:"grace-peers-shutdown"`
	// see https://lwn.net/Articles/542629/ for reuseport explanation
	DisableReusePort bool `mapstructure:"disable-reuseport"`
	DisableNatPort   bool `mapstructure:"disable-natport"`
	// LogLevel is the level of the libp2p internal loggers.
	LogLevel string `mapstructure:"log-level"`
}

// DefaultConfig returns the default host configuration.
func DefaultConfig() Config {
	return Config{
		Listen:             []string{"/ip4/0.0.0.0/tcp/7513"},
		LowPeers:           40,
		HighPeers:          100,
		GracePeersShutdown: 30 * time.Second,
		DisableNatPort:     true,
		LogLevel:           "error",
	}
}

// Validate checks that every address parses.
func (c Config) Validate() error {
	var errs []error
	for _, addr := range c.Listen {
		if _, err := ma.NewMultiaddr(addr); err != nil {
			errs = append(errs, fmt.Errorf("listen address %q: %w", addr, err))
		}
	}
	if _, err := c.bootnodes(); err != nil {
		errs = append(errs, err)
	}
	if c.LowPeers < 0 || c.HighPeers < c.LowPeers {
		errs = append(errs, fmt.Errorf("bad peer watermarks low %d high %d", c.LowPeers, c.HighPeers))
	}
	if _, err := lp2plog.LevelFromString(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("libp2p log level: %w", err))
	}
	return errors.Join(errs...)
}

func (c Config) bootnodes() ([]peer.AddrInfo, error) {
	infos := make([]peer.AddrInfo, 0, len(c.Bootnodes))
	for _, addr := range c.Bootnodes {
		maddr, err := ma.NewMultiaddr(addr)
		if err != nil {
			return nil, fmt.Errorf("bootnode %q: %w", addr, err)
		}
		info, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			return nil, fmt.Errorf("bootnode %q: %w", addr, err)
		}
		infos = append(infos, *info)
	}
	return infos, nil
}

// NewHost creates a libp2p host with the given identity. The host uses tcp transports,
// noise security and yamux multiplexing, and logs libp2p internals through logger.
func NewHost(logger *zap.Logger, cfg Config, key crypto.PrivKey) (host.Host, error) {
	lp2plog.SetPrimaryCore(logger.Core())
	level, err := lp2plog.LevelFromString(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("libp2p log level: %w", err)
	}
	lp2plog.SetAllLoggers(level)
	cm, err := connmgr.NewConnManager(cfg.LowPeers, cfg.HighPeers, connmgr.WithGracePeriod(cfg.GracePeersShutdown))
	if err != nil {
		return nil, fmt.Errorf("create conn manager: %w", err)
	}
	ps, err := pstoremem.NewPeerstore()
	if err != nil {
		return nil, fmt.Errorf("create peer store: %w", err)
	}
	opts := []libp2p.Option{
		libp2p.Identity(key),
		libp2p.ListenAddrStrings(cfg.Listen...),
		libp2p.UserAgent(userAgent),
		libp2p.Transport(func(upgrader transport.Upgrader, rcmgr network.ResourceManager) (transport.Transport, error) {
			var opts []tcp.Option
			if cfg.DisableReusePort {
				opts = append(opts, tcp.DisableReuseport())
			}
			return tcp.NewTCPTransport(upgrader, rcmgr, opts...)
		}),
		libp2p.Security(noise.ID, noise.New),
		libp2p.Muxer(yamux.ID, yamux.DefaultTransport),
		libp2p.ConnectionManager(cm),
		libp2p.Peerstore(ps),
	}
	if !cfg.DisableNatPort {
		opts = append(opts, libp2p.NATPortMap())
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create libp2p host: %w", err)
	}
	logger.Info("local node identity", zap.Stringer("identity", h.ID()), zap.Any("addrs", h.Addrs()))
	return h, nil
}

// Connect connects to the bootnodes and returns the IDs of the ones that succeeded.
func Connect(ctx context.Context, logger *zap.Logger, h host.Host, cfg Config) ([]types.PeerID, error) {
	infos, err := cfg.bootnodes()
	if err != nil {
		return nil, err
	}
	var connected []types.PeerID
	for _, info := range infos {
		if err := h.Connect(ctx, info); err != nil {
			logger.Warn("failed to connect to bootnode", zap.Stringer("peer", info.ID), zap.Error(err))
			continue
		}
		connected = append(connected, PeerID(info.ID))
	}
	return connected, nil
}

// GenerateKey creates a new ed25519 host identity.
func GenerateKey() (crypto.PrivKey, error) {
	key, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	return key, nil
}
