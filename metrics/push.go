package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

// PushConfig configures pushing metrics to a Prometheus push gateway.
type PushConfig struct {
	// URL of the push gateway. Metrics are not pushed if empty.
	URL      string            `mapstructure:"url"`
	Period   time.Duration     `mapstructure:"period"`
	Username string            `mapstructure:"username"`
	Password string            `mapstructure:"password"`
	Headers  map[string]string `mapstructure:"headers"`
}

// DefaultPushConfig returns the default push configuration, with pushing disabled.
func DefaultPushConfig() PushConfig {
	return PushConfig{Period: time.Minute}
}

// PushMetrics pushes the metrics of the default registry to the gateway every period,
// until ctx is canceled. Metrics are grouped by the node ID.
func PushMetrics(ctx context.Context, logger *zap.Logger, cfg PushConfig, nodeID string) {
	header := http.Header{}
	for k, v := range cfg.Headers {
		header.Add(k, v)
	}
	pusher := push.New(cfg.URL, Namespace).Gatherer(prometheus.DefaultGatherer).
		Grouping("node", nodeID).
		Header(header)
	if cfg.Username != "" && cfg.Password != "" {
		pusher = pusher.BasicAuth(cfg.Username, cfg.Password)
	}
	ticker := time.NewTicker(cfg.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := pusher.PushContext(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("failed to push metrics", zap.String("url", cfg.URL), zap.Error(err))
			}
		}
	}
}
