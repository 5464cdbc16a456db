// Package cmd contains the flags and configuration loading shared by the executables.
package cmd

import (
	"fmt"
	"slices"

	"github.com/spf13/pflag"

	"github.com/spacemeshos/go-ibltsync/config"
	"github.com/spacemeshos/go-ibltsync/config/presets"
)

var (
	// Version is the app's semantic version. Designed to be overwritten by make.
	Version string

	// Commit is the git commit used to build the app. Designed to be overwritten by make.
	Commit string
)

// AddFlags adds the node flags to the flag set, bound to the fields of conf. It returns
// the value of the config file flag.
func AddFlags(flags *pflag.FlagSet, conf *config.Config) (configPath *string) {
	configPath = flags.StringP("config", "c", "", "load configuration from file")
	flags.StringVarP(&conf.Preset, "preset", "p", conf.Preset,
		fmt.Sprintf("preset overwrites default values of the config. options %+s", presets.Options()))

	/** ======================== Base Flags ========================== **/

	flags.StringVarP(&conf.DataDir, "data-dir", "d", conf.DataDir, "directory of the records, the peer book and the identity")
	flags.StringVar(&conf.Backend, "backend", conf.Backend, "record store: leveldb or sqlite")
	flags.StringVar(&conf.Hash, "hash", conf.Hash, "hash of the content addresses: blake3 or sha256")

	/** ======================== P2P Flags ========================== **/

	flags.StringSliceVar(&conf.P2P.Listen, "listen", conf.P2P.Listen, "multiaddrs to listen on")
	flags.StringSliceVar(&conf.P2P.Bootnodes, "bootnode", conf.P2P.Bootnodes, "multiaddrs of peers to connect on start")

	/** ======================== Gossip Flags ========================== **/

	flags.DurationVar(&conf.Gossip.RoundInterval, "round-interval", conf.Gossip.RoundInterval,
		"interval between rounds")
	flags.DurationVar(&conf.Gossip.RoundTimeout, "round-timeout", conf.Gossip.RoundTimeout,
		"round is abandoned if the peer doesn't finish it in time")
	flags.IntVar(&conf.Gossip.PeersPerRound, "peers-per-round", conf.Gossip.PeersPerRound,
		"number of peers a round is initiated with")
	flags.IntVar(&conf.Gossip.WindowsPerRound, "windows-per-round", conf.Gossip.WindowsPerRound,
		"number of windows reconciled in a round")
	flags.StringVar(&conf.Gossip.Selection, "selection", conf.Gossip.Selection,
		"window selection policy: recent-first or newest-first")
	flags.DurationVar(&conf.Index.Width, "window-width", conf.Index.Width,
		"width of the time windows, must be the same on every node")

	/** ======================== API Flags ========================== **/

	flags.StringVar(&conf.API.Listen, "api-listen", conf.API.Listen, "address of the http api, disabled if empty")
	flags.StringVar(&conf.Metrics.URL, "metrics-push", conf.Metrics.URL, "push metrics to url")
	flags.DurationVar(&conf.Metrics.Period, "metrics-push-period", conf.Metrics.Period, "push period")

	/** ======================== Logging Flags ========================== **/

	flags.StringVar(&conf.Logging.Level, "log-level", conf.Logging.Level, "default log level")
	flags.StringVar(&conf.Logging.Encoder, "log-encoder", conf.Logging.Encoder, "log encoder: console or json")
	return configPath
}

// Configure replaces conf with the preset, overrides it with the config file and then
// with the flags set on the command line.
func Configure(flags *pflag.FlagSet, configPath string, conf *config.Config) error {
	var overrides []func() error
	flags.Visit(func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			vals := slices.Clone(sv.GetSlice())
			overrides = append(overrides, func() error { return sv.Replace(vals) })
			return
		}
		val := f.Value.String()
		overrides = append(overrides, func() error { return f.Value.Set(val) })
	})

	preset := conf.Preset
	if preset == "" && configPath != "" {
		var err error
		if preset, err = config.PresetName(configPath); err != nil {
			return err
		}
	}
	base := config.DefaultConfig()
	if preset != "" {
		var err error
		if base, err = presets.Get(preset); err != nil {
			return err
		}
		base.Preset = preset
	}
	*conf = base
	if configPath != "" {
		if err := config.Load(conf, configPath); err != nil {
			return err
		}
	}
	for _, apply := range overrides {
		if err := apply(); err != nil {
			return fmt.Errorf("apply flags: %w", err)
		}
	}
	return nil
}
