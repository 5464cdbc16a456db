package gossip

import (
	"errors"
	"fmt"
	"time"

	"github.com/spacemeshos/go-ibltsync/wire"
)

// Config is the configuration of the gossip node.
type Config struct {
	// MaxMessageSize is the largest message this node sends or accepts.
	MaxMessageSize int `mapstructure:"max-message-size"`
	// MaxValueSize is the largest record value accepted from peers.
	MaxValueSize int `mapstructure:"max-value-size"`
	// MaxClockSkew is how far in the future a record timestamp may be.
	MaxClockSkew time.Duration `mapstructure:"max-clock-skew"`

	// RoundInterval is the interval between scheduling passes.
	RoundInterval time.Duration `mapstructure:"round-interval"`
	// RoundTimeout bounds the duration of a single round.
	RoundTimeout time.Duration `mapstructure:"round-timeout"`
	// PeersPerRound is the number of peers contacted in a scheduling pass.
	PeersPerRound int `mapstructure:"peers-per-round"`
	// MaxConcurrentRounds limits the number of outbound rounds running at once.
	MaxConcurrentRounds int `mapstructure:"max-concurrent-rounds"`
	// MaxRoundsPerSecond limits the rate of outbound round starts across all peers.
	MaxRoundsPerSecond float64 `mapstructure:"max-rounds-per-second"`
	// PeerInterval is the minimum interval between rounds initiated with the same peer.
	PeerInterval time.Duration `mapstructure:"peer-interval"`
	// WindowInterval is the minimum interval between reconciliations of the same window
	// with the same peer, unless the window was modified locally in the meantime.
	WindowInterval time.Duration `mapstructure:"window-interval"`

	// WindowsPerRound is the number of windows reconciled in a round.
	WindowsPerRound int `mapstructure:"windows-per-round"`
	// Lookback is the number of windows preceding the current one that are always
	// candidates for reconciliation.
	Lookback int `mapstructure:"lookback"`
	// Horizon is the age of the oldest window that is ever reconciled.
	Horizon time.Duration `mapstructure:"horizon"`
	// Selection is the window selection policy, see SelectorByName.
	Selection string `mapstructure:"selection"`

	// KeepAlive is the time an idle peer is kept before it is disconnected.
	KeepAlive time.Duration `mapstructure:"keep-alive"`
	// Backoff is the time a peer is ignored after a protocol error.
	Backoff time.Duration `mapstructure:"backoff"`
	// MaxBackoffPeers bounds the number of peers tracked in backoff.
	MaxBackoffPeers int `mapstructure:"max-backoff-peers"`
	// MaxTrackedWindows bounds the number of recently modified windows remembered.
	MaxTrackedWindows int `mapstructure:"max-tracked-windows"`
	// MaxKeyListKeys bounds the number of keys accepted in a full key list exchange.
	MaxKeyListKeys int `mapstructure:"max-key-list-keys"`
	// InboxSize is the number of messages queued per peer. Messages arriving at a full
	// inbox are dropped.
	InboxSize int `mapstructure:"inbox-size"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxMessageSize:      wire.DefaultMaxMessageSize,
		MaxValueSize:        64 << 10,
		MaxClockSkew:        time.Minute,
		RoundInterval:       10 * time.Second,
		RoundTimeout:        30 * time.Second,
		PeersPerRound:       3,
		MaxConcurrentRounds: 8,
		MaxRoundsPerSecond:  10,
		PeerInterval:        30 * time.Second,
		WindowInterval:      5 * time.Minute,
		WindowsPerRound:     4,
		Lookback:            2,
		Horizon:             7 * 24 * time.Hour,
		Selection:           SelectRecentFirst,
		KeepAlive:           5 * time.Minute,
		Backoff:             10 * time.Minute,
		MaxBackoffPeers:     1024,
		MaxTrackedWindows:   1024,
		MaxKeyListKeys:      1 << 20,
		InboxSize:           256,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.MaxMessageSize < wire.MinMessageSize {
		errs = append(errs, fmt.Errorf("max message size %d below %d", c.MaxMessageSize, wire.MinMessageSize))
	}
	if c.MaxValueSize <= 0 || c.MaxValueSize >= c.MaxMessageSize {
		errs = append(errs, fmt.Errorf("max value size %d must be positive and below max message size",
			c.MaxValueSize))
	}
	if c.RoundTimeout <= 0 || c.RoundInterval <= 0 || c.KeepAlive <= 0 {
		errs = append(errs, errors.New("round interval, round timeout and keep-alive must be positive"))
	}
	if c.PeersPerRound <= 0 || c.MaxConcurrentRounds <= 0 || c.WindowsPerRound <= 0 {
		errs = append(errs, errors.New("peers per round, max concurrent rounds and windows per round must be positive"))
	}
	if c.MaxRoundsPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("bad max rounds per second %v", c.MaxRoundsPerSecond))
	}
	if c.Lookback < 0 || c.Horizon < 0 {
		errs = append(errs, errors.New("lookback and horizon can't be negative"))
	}
	if _, err := SelectorByName(c.Selection); err != nil {
		errs = append(errs, err)
	}
	if c.MaxBackoffPeers <= 0 || c.MaxTrackedWindows <= 0 ||
		c.MaxKeyListKeys <= 0 || c.InboxSize <= 0 {
		errs = append(errs, errors.New("cache and queue sizes must be positive"))
	}
	return errors.Join(errs...)
}
