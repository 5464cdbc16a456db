package gossip

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/spacemeshos/go-ibltsync/metrics"
)

const subsystem = "gossip"

var (
	roundCount = metrics.NewCounter(
		"rounds",
		subsystem,
		"Number of rounds initiated by this node",
		[]string{"result"},
	)
	roundsOK     = roundCount.WithLabelValues("ok")
	roundsFailed = roundCount.WithLabelValues("failed")

	roundDuration = metrics.NewHistogramWithBuckets(
		"round_duration_seconds",
		subsystem,
		"Duration of the rounds initiated by this node",
		[]string{},
		prometheus.ExponentialBuckets(0.001, 2, 16),
	).WithLabelValues()

	windowCount = metrics.NewCounter(
		"windows",
		subsystem,
		"Number of windows reconciled by outcome",
		[]string{"outcome"},
	)

	decodeResidual = metrics.NewCounter(
		"decode_residual",
		subsystem,
		"Number of table decodes that left a residual",
		[]string{},
	).WithLabelValues()

	recordCount = metrics.NewCounter(
		"records",
		subsystem,
		"Number of records received from peers by result",
		[]string{"result"},
	)
	recordsAccepted  = recordCount.WithLabelValues("accepted")
	recordsRejected  = recordCount.WithLabelValues("rejected")
	recordsDuplicate = recordCount.WithLabelValues("duplicate")
	recordsFailed    = recordCount.WithLabelValues("failed")

	keysWanted = metrics.NewCounter(
		"keys_wanted",
		subsystem,
		"Number of keys requested from peers",
		[]string{},
	).WithLabelValues()

	recordsPushed = metrics.NewCounter(
		"records_pushed",
		subsystem,
		"Number of records pushed to peers",
		[]string{},
	).WithLabelValues()

	messageBytes = metrics.NewCounter(
		"message_bytes",
		subsystem,
		"Message bytes by direction and kind",
		[]string{"direction", "kind"},
	)

	peerErrors = metrics.NewCounter(
		"peer_errors",
		subsystem,
		"Number of peer errors by kind",
		[]string{"kind"},
	)
	protocolErrors  = peerErrors.WithLabelValues("protocol")
	transportErrors = peerErrors.WithLabelValues("transport")
	droppedMessages = peerErrors.WithLabelValues("dropped")

	peerStates = metrics.NewGauge(
		"peer_states",
		subsystem,
		"Number of peers by connection state",
		[]string{"state"},
	)
)
