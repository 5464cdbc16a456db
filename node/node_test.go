package node_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spacemeshos/go-ibltsync/api"
	"github.com/spacemeshos/go-ibltsync/config"
	"github.com/spacemeshos/go-ibltsync/gossip"
	"github.com/spacemeshos/go-ibltsync/node"
	"github.com/spacemeshos/go-ibltsync/transport/p2pnet"
)

func testConfig(t *testing.T, backend string) config.Config {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Backend = backend
	cfg.P2P.Listen = []string{"/ip4/127.0.0.1/tcp/0"}
	cfg.API.Listen = ""
	cfg.Gossip.RoundInterval = time.Hour
	return cfg
}

// startApp initializes and starts the app, stopping it when the test ends.
func startApp(t *testing.T, cfg config.Config, opts ...node.Option) *node.App {
	t.Helper()
	app := node.New(cfg, append([]node.Option{node.WithLogger(zaptest.NewLogger(t))}, opts...)...)
	require.NoError(t, app.Lock())
	require.NoError(t, app.Initialize())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- app.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-errc)
		require.NoError(t, app.Cleanup())
		app.Unlock()
	})
	select {
	case <-app.Started():
	case err := <-errc:
		require.FailNow(t, "app failed to start", err)
	}
	return app
}

func TestReplication(t *testing.T) {
	for _, backend := range []string{config.BackendLevelDB, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			mesh, err := mocknet.FullMeshConnected(2)
			require.NoError(t, err)
			t.Cleanup(func() { mesh.Close() })
			hosts := mesh.Hosts()

			acfg := testConfig(t, backend)
			acfg.API.Listen = "127.0.0.1:0"
			a := startApp(t, acfg, node.WithHost(hosts[0]))
			b := startApp(t, testConfig(t, backend), node.WithHost(hosts[1]))
			require.Equal(t, p2pnet.PeerID(hosts[1].ID()), b.ID())

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			rec, err := a.Publish(ctx, []byte("hello"))
			require.NoError(t, err)

			result, err := a.Node().SyncPeer(ctx, b.ID())
			require.NoError(t, err)
			require.Equal(t, 1, result.Pushed)

			got, err := b.Get(ctx, rec.Key)
			require.NoError(t, err)
			require.Equal(t, rec.Value, got.Value)
			require.True(t, rec.Timestamp.Equal(got.Timestamp))

			resp, err := http.Get(fmt.Sprintf("http://%s/records/%s", a.APIAddr(), rec.Key))
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, http.StatusOK, resp.StatusCode)
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			var fetched api.Record
			require.NoError(t, json.Unmarshal(body, &fetched))
			require.Equal(t, rec.Key.String(), fetched.Key)

			var ids []string
			for _, info := range a.PeerInfo() {
				ids = append(ids, info.ID.String())
			}
			require.Contains(t, ids, b.ID().String())
		})
	}
}

func TestPublishRejected(t *testing.T) {
	mesh, err := mocknet.FullMeshConnected(1)
	require.NoError(t, err)
	t.Cleanup(func() { mesh.Close() })
	cfg := testConfig(t, config.BackendLevelDB)
	cfg.Gossip.MaxValueSize = 8
	app := startApp(t, cfg, node.WithHost(mesh.Hosts()[0]))

	_, err = app.Publish(context.Background(), make([]byte, 9))
	require.ErrorIs(t, err, gossip.ErrValidationRejected)
}

func TestDataDirLocked(t *testing.T) {
	cfg := testConfig(t, config.BackendLevelDB)
	first := node.New(cfg)
	require.NoError(t, first.Lock())
	t.Cleanup(first.Unlock)

	second := node.New(cfg)
	require.ErrorContains(t, second.Lock(), "only one node")
}

func TestIdentityPersisted(t *testing.T) {
	// libp2p keeps logging through the host logger after the test ends
	cfg := testConfig(t, config.BackendSQLite)
	app := node.New(cfg)
	require.NoError(t, app.Initialize())
	id := app.ID()
	require.NoError(t, app.Cleanup())

	app = node.New(cfg)
	require.NoError(t, app.Initialize())
	t.Cleanup(func() { require.NoError(t, app.Cleanup()) })
	require.Equal(t, id, app.ID())
}

func TestInitializeInvalidConfig(t *testing.T) {
	cfg := testConfig(t, "bolt")
	require.ErrorContains(t, node.New(cfg).Initialize(), "unknown backend")
}
