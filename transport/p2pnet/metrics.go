package p2pnet

import "github.com/spacemeshos/go-ibltsync/metrics"

const subsystem = "p2pnet"

var (
	messages = metrics.NewCounter(
		"messages",
		subsystem,
		"number of messages sent and received",
		[]string{"direction"},
	)
	streamErrors = metrics.NewCounter(
		"stream_errors",
		subsystem,
		"number of streams reset after an error",
		[]string{"direction"},
	)
	dropped = metrics.NewCounter(
		"dropped",
		subsystem,
		"number of received messages dropped on a full inbox",
		[]string{},
	).WithLabelValues()
)
