package p2pnet_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spacemeshos/go-ibltsync/codec"
	"github.com/spacemeshos/go-ibltsync/database"
	"github.com/spacemeshos/go-ibltsync/gossip"
	"github.com/spacemeshos/go-ibltsync/timebucket"
	"github.com/spacemeshos/go-ibltsync/transport/p2pnet"
	"github.com/spacemeshos/go-ibltsync/types"
	"github.com/spacemeshos/go-ibltsync/validation"
	"github.com/spacemeshos/go-ibltsync/wire"
)

func newNetworks(t *testing.T, n int, opts ...p2pnet.Opt) []*p2pnet.Network {
	t.Helper()
	mesh, err := mocknet.FullMeshConnected(n)
	require.NoError(t, err)
	t.Cleanup(func() { mesh.Close() })
	nets := make([]*p2pnet.Network, n)
	for i, h := range mesh.Hosts() {
		nets[i] = p2pnet.New(h, append([]p2pnet.Opt{p2pnet.WithLogger(zaptest.NewLogger(t))}, opts...)...)
		t.Cleanup(func() { require.NoError(t, nets[i].Close()) })
	}
	return nets
}

func receive(t *testing.T, n *p2pnet.Network) (types.PeerID, []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	from, msg, ok := n.Receive(ctx)
	require.True(t, ok, "no message received")
	return from, msg
}

func TestSendReceive(t *testing.T) {
	nets := newNetworks(t, 2)
	ctx := context.Background()
	for i := range 3 {
		require.NoError(t, nets[0].Send(ctx, nets[1].ID(), []byte{byte(i)}))
	}
	for i := range 3 {
		from, msg := receive(t, nets[1])
		require.Equal(t, nets[0].ID(), from)
		require.Equal(t, []byte{byte(i)}, msg)
	}

	require.NoError(t, nets[1].Send(ctx, nets[0].ID(), []byte("reply")))
	from, msg := receive(t, nets[0])
	require.Equal(t, nets[1].ID(), from)
	require.Equal(t, []byte("reply"), msg)
}

func TestSendBadPeerID(t *testing.T) {
	nets := newNetworks(t, 1)
	require.Error(t, nets[0].Send(context.Background(), "not a peer id", []byte("msg")))
}

func TestMaxSizeFrame(t *testing.T) {
	const size = wire.MinMessageSize
	nets := newNetworks(t, 2, p2pnet.WithMaxMessageSize(size))
	frame, err := codec.AppendFrame(nil, bytes.Repeat([]byte{1}, size))
	require.NoError(t, err)
	require.NoError(t, nets[0].Send(context.Background(), nets[1].ID(), frame))
	from, msg := receive(t, nets[1])
	require.Equal(t, nets[0].ID(), from)
	require.Equal(t, frame, msg)
}

func TestMessageTooLarge(t *testing.T) {
	nets := newNetworks(t, 2, p2pnet.WithMaxMessageSize(16))
	ctx := context.Background()
	// the receiver resets the stream, a later send reopens it
	_ = nets[0].Send(ctx, nets[1].ID(), bytes.Repeat([]byte{1}, 16+codec.MaxVarintLen+1))
	require.Eventually(t, func() bool {
		_ = nets[0].Send(ctx, nets[1].ID(), []byte("small"))
		rctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, msg, ok := nets[1].Receive(rctx)
		return ok && bytes.Equal(msg, []byte("small"))
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSendAfterClose(t *testing.T) {
	nets := newNetworks(t, 2)
	require.NoError(t, nets[0].Close())
	require.ErrorIs(t, nets[0].Send(context.Background(), nets[1].ID(), []byte("msg")), p2pnet.ErrClosed)
	_, _, ok := nets[0].Receive(context.Background())
	require.False(t, ok)
}

func TestGossipOverLibp2p(t *testing.T) {
	nets := newNetworks(t, 2)
	addr, err := validation.NewContentAddress(validation.AlgBlake3, 32)
	require.NoError(t, err)
	cfg := gossip.DefaultConfig()
	cfg.RoundInterval = time.Hour
	nodes := make([]*gossip.Node, len(nets))
	dbs := make([]*database.LDBDatabase, len(nets))
	for i, net := range nets {
		dbs[i] = database.NewMemDatabase()
		logger := zaptest.NewLogger(t)
		index := timebucket.New(dbs[i], timebucket.DefaultConfig(), timebucket.WithLogger(logger))
		nodes[i] = gossip.New(dbs[i], net, addr, index, gossip.WithLogger(logger), gossip.WithConfig(cfg))
		nodes[i].Start(context.Background())
		t.Cleanup(func() {
			require.NoError(t, nodes[i].Stop())
			require.NoError(t, dbs[i].Close())
		})
	}
	now := time.Now()
	ra := addr.Record([]byte("from a"), now)
	rb := addr.Record([]byte("from b"), now)
	require.NoError(t, nodes[0].Put(context.Background(), ra))
	require.NoError(t, nodes[1].Put(context.Background(), rb))

	res, err := nodes[0].SyncPeer(context.Background(), nets[1].ID())
	require.NoError(t, err)
	require.Equal(t, 1, res.Accepted)
	require.Equal(t, 1, res.Pushed)
	_, err = dbs[0].Get(context.Background(), rb.Key)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, err := dbs[1].Get(context.Background(), ra.Key)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, p2pnet.DefaultConfig().Validate())

	key, err := p2pnet.GenerateKey()
	require.NoError(t, err)
	id, err := peer.IDFromPrivateKey(key)
	require.NoError(t, err)
	cfg := p2pnet.DefaultConfig()
	cfg.Bootnodes = []string{"/ip4/127.0.0.1/tcp/7513/p2p/" + id.String()}
	require.NoError(t, cfg.Validate())

	cfg.Bootnodes = []string{"/ip4/127.0.0.1/tcp/7513"}
	require.Error(t, cfg.Validate())
	cfg.Bootnodes = nil
	cfg.Listen = []string{"not an address"}
	require.Error(t, cfg.Validate())
}
