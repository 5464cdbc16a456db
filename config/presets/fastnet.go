package presets

import (
	"time"

	"github.com/spacemeshos/go-ibltsync/config"
)

func init() {
	register("fastnet", fastnet())
}

// fastnet uses short windows and intervals for local clusters and tests.
func fastnet() config.Config {
	conf := config.DefaultConfig()
	conf.DataDir = "/tmp/ibltsync-fastnet"
	conf.Index.Width = time.Minute
	conf.Gossip.RoundInterval = 2 * time.Second
	conf.Gossip.RoundTimeout = 5 * time.Second
	conf.Gossip.PeerInterval = 5 * time.Second
	conf.Gossip.WindowInterval = 30 * time.Second
	conf.Gossip.Horizon = time.Hour
	conf.Gossip.Backoff = 30 * time.Second
	conf.Gossip.KeepAlive = 30 * time.Second
	conf.Gossip.MaxClockSkew = 10 * time.Second
	return conf
}
