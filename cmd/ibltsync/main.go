// ibltsync replicates a set of timestamped records between peers.
package main

import (
	"os"

	"github.com/spacemeshos/go-ibltsync/cmd"
	"github.com/spacemeshos/go-ibltsync/node"
)

var (
	version string
	commit  string
)

func main() {
	cmd.Version = version
	cmd.Commit = commit
	if err := node.GetCommand().Execute(); err != nil {
		// the error was already printed by cobra
		os.Exit(1)
	}
}
