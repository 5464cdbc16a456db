package metrics_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spacemeshos/go-ibltsync/metrics"
)

func TestPushMetrics(t *testing.T) {
	var pushes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/node/test") && r.Header.Get("X-Test") == "yes" {
			pushes.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	metrics.NewCounter("pushed", "test", "counter pushed in tests", []string{}).WithLabelValues().Inc()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		metrics.PushMetrics(ctx, zaptest.NewLogger(t), metrics.PushConfig{
			URL:     srv.URL,
			Period:  10 * time.Millisecond,
			Headers: map[string]string{"X-Test": "yes"},
		}, "test")
	}()
	require.Eventually(t, func() bool { return pushes.Load() >= 2 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
