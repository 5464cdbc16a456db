// Package config contains the configuration of an ibltsync node.
package config

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/spacemeshos/go-ibltsync/api"
	"github.com/spacemeshos/go-ibltsync/database"
	"github.com/spacemeshos/go-ibltsync/gossip"
	"github.com/spacemeshos/go-ibltsync/log"
	"github.com/spacemeshos/go-ibltsync/metrics"
	"github.com/spacemeshos/go-ibltsync/timebucket"
	"github.com/spacemeshos/go-ibltsync/transport/p2pnet"
	"github.com/spacemeshos/go-ibltsync/validation"
)

const (
	// BackendLevelDB stores records in goleveldb.
	BackendLevelDB = "leveldb"
	// BackendSQLite stores records in sqlite.
	BackendSQLite = "sqlite"
)

// Config is the top level configuration of a node.
type Config struct {
	BaseConfig `mapstructure:"main"`
	Gossip     gossip.Config      `mapstructure:"gossip"`
	Index      timebucket.Config  `mapstructure:"index"`
	Database   database.Config    `mapstructure:"database"`
	P2P        p2pnet.Config      `mapstructure:"p2p"`
	API        api.Config         `mapstructure:"api"`
	Metrics    metrics.PushConfig `mapstructure:"metrics-push"`
	Logging    log.Config         `mapstructure:"logging"`
}

// BaseConfig holds the options of the node itself.
type BaseConfig struct {
	// DataDir holds the database, the peer book and the host identity.
	DataDir string `mapstructure:"data-dir"`
	// Backend is the record store, BackendLevelDB or BackendSQLite.
	Backend string `mapstructure:"backend"`
	// Hash is the hash function of the content addresses, see validation.
	Hash string `mapstructure:"hash"`
	// Preset is the name of the preset the config file overrides.
	Preset string `mapstructure:"preset"`
}

// LockFile returns the path of the data directory lock.
func (c *BaseConfig) LockFile() string {
	return filepath.Join(c.DataDir, "LOCK")
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BaseConfig: BaseConfig{
			DataDir: "./ibltsync",
			Backend: BackendLevelDB,
			Hash:    validation.AlgBlake3,
		},
		Gossip:   gossip.DefaultConfig(),
		Index:    timebucket.DefaultConfig(),
		Database: database.DefaultConfig(),
		P2P:      p2pnet.DefaultConfig(),
		API:      api.DefaultConfig(),
		Metrics:  metrics.DefaultPushConfig(),
		Logging:  log.DefaultConfig(),
	}
}

// Validate checks the configuration of every component.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendLevelDB, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	switch c.Hash {
	case validation.AlgBlake3, validation.AlgSHA256:
	default:
		errs = append(errs, fmt.Errorf("unknown hash %q", c.Hash))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data dir is not set"))
	}
	if err := c.Gossip.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("gossip: %w", err))
	}
	if err := c.Index.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("index: %w", err))
	}
	if err := c.P2P.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("p2p: %w", err))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	return errors.Join(errs...)
}

// Load overrides cfg with the values in the config file. Fields that are not set in the
// file keep their values, lists and maps set in the file replace the existing ones.
func Load(cfg *Config, path string) error {
	return LoadFs(afero.NewOsFs(), cfg, path)
}

// LoadFs is Load reading the config file from fs.
func LoadFs(fs afero.Fs, cfg *Config, path string) error {
	v := viper.New()
	v.SetFs(fs)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	)
	if err := v.Unmarshal(cfg,
		viper.DecodeHook(hook),
		withZeroFields(),
		withIgnoreUntagged(),
		withErrorUnused(),
	); err != nil {
		return fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	return nil
}

// PresetName returns the preset named in the config file, if any.
func PresetName(path string) (string, error) {
	return PresetNameFs(afero.NewOsFs(), path)
}

// PresetNameFs is PresetName reading the config file from fs.
func PresetNameFs(fs afero.Fs, path string) (string, error) {
	v := viper.New()
	v.SetFs(fs)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config %s: %w", path, err)
	}
	return v.GetString("main.preset"), nil
}

func withZeroFields() viper.DecoderConfigOption {
	return func(cfg *mapstructure.DecoderConfig) {
		cfg.ZeroFields = true
	}
}

func withIgnoreUntagged() viper.DecoderConfigOption {
	return func(cfg *mapstructure.DecoderConfig) {
		cfg.IgnoreUntaggedFields = true
	}
}

func withErrorUnused() viper.DecoderConfigOption {
	return func(cfg *mapstructure.DecoderConfig) {
		cfg.ErrorUnused = true
	}
}
