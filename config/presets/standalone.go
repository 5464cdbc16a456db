package presets

import (
	"time"

	"github.com/spacemeshos/go-ibltsync/config"
)

func init() {
	register("standalone", standalone())
}

// standalone runs a single node without peers, listening only on loopback.
func standalone() config.Config {
	conf := config.DefaultConfig()
	conf.DataDir = "/tmp/ibltsync-standalone"
	conf.Backend = config.BackendSQLite
	conf.P2P.Listen = []string{"/ip4/127.0.0.1/tcp/0"}
	conf.P2P.Bootnodes = nil
	conf.Gossip.RoundInterval = time.Minute
	conf.Metrics.URL = ""
	conf.Logging.Level = "debug"
	return conf
}
