package sql

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/spacemeshos/go-ibltsync/metrics"
)

const subsystem = "sqlite"

var (
	queryDuration = metrics.NewHistogramWithBuckets(
		"query_duration",
		subsystem,
		"Duration of sqlite queries in nanoseconds",
		[]string{"query"},
		prometheus.ExponentialBuckets(100_000, 2, 20),
	)
	connWaitLatency = metrics.NewHistogramWithBuckets(
		"conn_wait_seconds",
		subsystem,
		"Time spent waiting for a pooled sqlite connection",
		[]string{},
		prometheus.ExponentialBuckets(0.0001, 2, 16),
	).WithLabelValues()
)
