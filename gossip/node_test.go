package gossip_test

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/spacemeshos/go-ibltsync/database"
	"github.com/spacemeshos/go-ibltsync/gossip"
	"github.com/spacemeshos/go-ibltsync/iblt"
	"github.com/spacemeshos/go-ibltsync/timebucket"
	"github.com/spacemeshos/go-ibltsync/transport/memnet"
	"github.com/spacemeshos/go-ibltsync/types"
	"github.com/spacemeshos/go-ibltsync/validation"
	"github.com/spacemeshos/go-ibltsync/wire"
)

var epoch = time.Date(2024, 5, 1, 12, 3, 0, 0, time.UTC)

func testConfig() gossip.Config {
	cfg := gossip.DefaultConfig()
	cfg.RoundInterval = time.Hour
	cfg.RoundTimeout = 10 * time.Second
	cfg.WindowInterval = 0
	cfg.Lookback = 0
	cfg.WindowsPerRound = 1
	return cfg
}

type testNode struct {
	*gossip.Node
	id    types.PeerID
	db    *database.LDBDatabase
	clock clockwork.Clock
	addr  *validation.ContentAddress
	index *timebucket.Index
}

type nodeOpts struct {
	cfg   gossip.Config
	index timebucket.Config
	clock clockwork.Clock
	ctx   context.Context
	wrap  func(gossip.Database) gossip.Database
}

type nodeOpt func(*nodeOpts)

func withConfig(f func(*gossip.Config)) nodeOpt {
	return func(o *nodeOpts) { f(&o.cfg) }
}

func withIndex(f func(*timebucket.Config)) nodeOpt {
	return func(o *nodeOpts) { f(&o.index) }
}

func withContext(ctx context.Context) nodeOpt {
	return func(o *nodeOpts) { o.ctx = ctx }
}

func withDatabase(wrap func(gossip.Database) gossip.Database) nodeOpt {
	return func(o *nodeOpts) { o.wrap = wrap }
}

func withRealClock() nodeOpt {
	return func(o *nodeOpts) { o.clock = clockwork.NewRealClock() }
}

func newTestNode(t *testing.T, net *memnet.Network, id types.PeerID, opts ...nodeOpt) *testNode {
	t.Helper()
	o := nodeOpts{
		cfg:   testConfig(),
		index: timebucket.DefaultConfig(),
		clock: clockwork.NewFakeClockAt(epoch),
		ctx:   context.Background(),
		wrap:  func(db gossip.Database) gossip.Database { return db },
	}
	for _, opt := range opts {
		opt(&o)
	}
	addr, err := validation.NewContentAddress(validation.AlgBlake3, o.index.KeySize)
	require.NoError(t, err)
	logger := zaptest.NewLogger(t).Named(string(id))
	db := database.NewMemDatabase()
	wrapped := o.wrap(db)
	index := timebucket.New(wrapped, o.index, timebucket.WithLogger(logger))
	ep := net.Endpoint(id)
	n := gossip.New(wrapped, ep, addr, index,
		gossip.WithLogger(logger),
		gossip.WithConfig(o.cfg),
		gossip.WithClock(o.clock),
	)
	n.Start(o.ctx)
	t.Cleanup(func() {
		ep.Close()
		require.NoError(t, n.Stop())
		require.NoError(t, db.Close())
	})
	return &testNode{Node: n, id: id, db: db, clock: o.clock, addr: addr, index: index}
}

// put stores count new records created at ts.
func (n *testNode) put(t *testing.T, ts time.Time, count int) []types.Record {
	t.Helper()
	records := make([]types.Record, count)
	for i := range records {
		records[i] = n.addr.Record([]byte(fmt.Sprintf("%s-%d-%d", n.id, ts.UnixNano(), i)), ts)
		require.NoError(t, n.Put(context.Background(), records[i]))
	}
	return records
}

func (n *testNode) has(t *testing.T, rec types.Record) bool {
	t.Helper()
	got, err := n.db.Get(context.Background(), rec.Key)
	if err != nil {
		require.ErrorIs(t, err, types.ErrNotFound)
		return false
	}
	return bytes.Equal(rec.Value, got.Value)
}

func (n *testNode) keys(t *testing.T, w types.Window) []types.Key {
	t.Helper()
	keys, err := n.index.Keys(context.Background(), w)
	require.NoError(t, err)
	return keys
}

func requireStored(t *testing.T, n *testNode, records ...types.Record) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, rec := range records {
			if !n.has(t, rec) {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSingleRecordSets(t *testing.T) {
	net := memnet.New()
	a := newTestNode(t, net, "a")
	b := newTestNode(t, net, "b")
	ra := a.put(t, a.clock.Now(), 1)
	rb := b.put(t, b.clock.Now(), 1)
	w := a.index.BucketFor(a.clock.Now())

	res, err := a.SyncPeer(context.Background(), b.id)
	require.NoError(t, err)
	require.Equal(t, []gossip.WindowResult{{Window: w, Outcome: gossip.OutcomeDecoded}}, res.Windows)
	require.Equal(t, 1, res.Offered)
	require.Equal(t, 1, res.Accepted)
	require.Zero(t, res.Rejected)
	require.Equal(t, 1, res.PeerWants)
	require.Equal(t, 1, res.Pushed)
	require.Zero(t, res.Wanted)
	require.True(t, a.has(t, rb[0]))
	requireStored(t, b, ra...)
	require.ElementsMatch(t, a.keys(t, w), b.keys(t, w))
}

func TestIdempotentReconciliation(t *testing.T) {
	net := memnet.New()
	a := newTestNode(t, net, "a")
	b := newTestNode(t, net, "b")
	ra := a.put(t, a.clock.Now(), 10)
	b.put(t, b.clock.Now(), 7)

	res, err := a.SyncPeer(context.Background(), b.id)
	require.NoError(t, err)
	require.Equal(t, 7, res.Accepted)
	require.Equal(t, 10, res.Pushed)
	requireStored(t, b, ra...)

	res, err = a.SyncPeer(context.Background(), b.id)
	require.NoError(t, err)
	require.True(t, res.Empty(), "second round exchanged data: %+v", res)
	require.Len(t, res.Windows, 1)
	require.Equal(t, gossip.OutcomeDecoded, res.Windows[0].Outcome)
}

func TestRoleSwapOnLargerPeer(t *testing.T) {
	net := memnet.New()
	a := newTestNode(t, net, "a")
	b := newTestNode(t, net, "b")
	ra := a.put(t, a.clock.Now(), 1)
	rb := b.put(t, b.clock.Now(), 200)

	res, err := a.SyncPeer(context.Background(), b.id)
	require.NoError(t, err)
	require.Len(t, res.Windows, 1)
	require.Equal(t, gossip.OutcomeSwapped, res.Windows[0].Outcome)
	require.Equal(t, 200, res.Wanted)
	require.Equal(t, 200, res.Accepted)
	require.Equal(t, 1, res.Pushed)
	for _, rec := range rb {
		require.True(t, a.has(t, rec))
	}
	requireStored(t, b, ra...)
}

func TestFallbackToKeyLists(t *testing.T) {
	net := memnet.New()
	small := func(cfg *gossip.Config) {
		cfg.MaxMessageSize = wire.MinMessageSize
		cfg.MaxValueSize = 128
	}
	a := newTestNode(t, net, "a", withConfig(small))
	b := newTestNode(t, net, "b", withConfig(small))
	ra := a.put(t, a.clock.Now(), 30)
	rb := b.put(t, b.clock.Now(), 40)

	res, err := a.SyncPeer(context.Background(), b.id)
	require.NoError(t, err)
	require.Len(t, res.Windows, 1)
	require.Equal(t, gossip.OutcomeFallback, res.Windows[0].Outcome)
	require.Equal(t, 40, res.Accepted)
	require.Equal(t, 30, res.Pushed)
	for _, rec := range rb {
		require.True(t, a.has(t, rec))
	}
	requireStored(t, b, ra...)
}

func TestValidationGate(t *testing.T) {
	net := memnet.New()
	a := newTestNode(t, net, "a")
	b := newTestNode(t, net, "b")
	now := b.clock.Now()
	bad := b.addr.Record([]byte("forged"), now)
	bad.Value = []byte("tampered")
	// bypasses validation
	require.NoError(t, b.db.Put(context.Background(), bad))
	good := b.put(t, now, 1)

	res, err := a.SyncPeer(context.Background(), b.id)
	require.NoError(t, err)
	require.Equal(t, 2, res.Offered)
	require.Equal(t, 1, res.Accepted)
	require.Equal(t, 1, res.Rejected)
	require.True(t, a.has(t, good[0]))
	require.False(t, a.has(t, bad))

	// rejected records don't penalize the peer
	_, err = a.SyncPeer(context.Background(), b.id)
	require.NoError(t, err)
}

// sendRaw encodes the message and sends it from ep to the peer.
func sendRaw(t *testing.T, ep *memnet.Endpoint, to *testNode, h wire.Header, m wire.Message) {
	t.Helper()
	c := wire.Codec{KeySize: to.index.KeySize(), MaxMessageSize: wire.DefaultMaxMessageSize}
	frame, err := c.Encode(h, m)
	require.NoError(t, err)
	require.NoError(t, ep.Send(context.Background(), to.id, frame))
}

func TestForgedPushDoesNotBlockRecord(t *testing.T) {
	net := memnet.New()
	a := newTestNode(t, net, "a")
	b := newTestNode(t, net, "b")
	forger := net.Endpoint("forger")
	good := b.put(t, b.clock.Now(), 1)[0]
	forged := good.Clone()
	forged.Value = []byte("junk")

	sendRaw(t, forger, a, wire.Header{Round: 1}, &wire.RecordPush{Records: []types.Record{forged}})
	// the hello is answered after the push was handled
	sendRaw(t, forger, a, wire.Header{Round: 2}, &wire.Hello{
		Version:        wire.Version,
		MaxMessageSize: wire.DefaultMaxMessageSize,
		KeySize:        uint64(a.index.KeySize()),
		WindowWidth:    a.index.Width(),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	from, _, ok := forger.Receive(ctx)
	require.True(t, ok)
	require.Equal(t, a.id, from)
	require.False(t, a.has(t, good))

	res, err := b.SyncPeer(context.Background(), a.id)
	require.NoError(t, err)
	require.Equal(t, 1, res.PeerWants)
	require.Equal(t, 1, res.Pushed)
	requireStored(t, a, good)
}

func TestSummaryCountBoundedByTable(t *testing.T) {
	net := memnet.New()
	a := newTestNode(t, net, "a")
	a.put(t, a.clock.Now(), 3)
	peer := net.Endpoint("peer")
	c := wire.Codec{KeySize: a.index.KeySize(), MaxMessageSize: wire.DefaultMaxMessageSize}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	next := func() (wire.Header, wire.Message) {
		from, frame, ok := peer.Receive(ctx)
		require.True(t, ok)
		require.Equal(t, a.id, from)
		h, m, err := c.Decode(frame)
		require.NoError(t, err)
		return h, m
	}

	sendRaw(t, peer, a, wire.Header{Round: 1}, &wire.Hello{
		Version:        wire.Version,
		MaxMessageSize: wire.DefaultMaxMessageSize,
		KeySize:        uint64(a.index.KeySize()),
		WindowWidth:    a.index.Width(),
	})
	_, m := next()
	require.IsType(t, &wire.Hello{}, m)

	tbl, err := iblt.New(a.index.Params(0), a.index.Hasher())
	require.NoError(t, err)
	summary := wire.NewBucketSummary(a.index.BucketFor(a.clock.Now()), 0, tbl)
	summary.Count = 1 << 40
	sendRaw(t, peer, a, wire.Header{Round: 1}, summary)
	_, m = next()
	require.IsType(t, &wire.BucketSummary{}, m)
	reply := m.(*wire.BucketSummary)
	expected := a.index.Params(len(summary.Cells))
	require.Equal(t, expected.Capacity, reply.Capacity)
	require.EqualValues(t, len(summary.Cells), reply.Count)
}

func TestConflictingTimestampKeepsFirstSeen(t *testing.T) {
	net := memnet.New()
	a := newTestNode(t, net, "a")
	b := newTestNode(t, net, "b")
	value := []byte("same value")
	recent := a.addr.Record(value, a.clock.Now())
	older := b.addr.Record(value, b.clock.Now().Add(-time.Hour))
	require.Equal(t, recent.Key, older.Key)
	require.NoError(t, a.Put(context.Background(), recent))
	require.NoError(t, b.Put(context.Background(), older))

	for range 2 {
		res, err := a.SyncPeer(context.Background(), b.id)
		require.NoError(t, err)
		require.Zero(t, res.Wanted)
		require.Zero(t, res.PeerWants)
		require.Zero(t, res.Accepted)
	}
	got, err := b.db.Get(context.Background(), older.Key)
	require.NoError(t, err)
	require.Equal(t, older.Timestamp.UnixMilli(), got.Timestamp.UnixMilli())
	got, err = a.db.Get(context.Background(), recent.Key)
	require.NoError(t, err)
	require.Equal(t, recent.Timestamp.UnixMilli(), got.Timestamp.UnixMilli())
}

func TestVersionMismatchBackoff(t *testing.T) {
	net := memnet.New()
	a := newTestNode(t, net, "a")
	// peers with different window widths can't reconcile
	b := newTestNode(t, net, "b", withIndex(func(cfg *timebucket.Config) {
		cfg.Width = 5 * time.Minute
	}))
	a.put(t, a.clock.Now(), 1)

	_, err := a.SyncPeer(context.Background(), b.id)
	require.ErrorIs(t, err, wire.ErrVersion)
	_, err = a.SyncPeer(context.Background(), b.id)
	require.ErrorIs(t, err, gossip.ErrBackoff)
}

func TestTransportFailure(t *testing.T) {
	net := memnet.New()
	a := newTestNode(t, net, "a")
	_, err := a.SyncPeer(context.Background(), "nobody")
	require.ErrorIs(t, err, gossip.ErrTransport)
	require.Eventually(t, func() bool {
		for _, info := range a.PeerInfo() {
			if info.ID == "nobody" {
				return info.State == gossip.StateDisconnected.String()
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRoundTimeout(t *testing.T) {
	net := memnet.New(memnet.WithLoss(1))
	timeout := withConfig(func(cfg *gossip.Config) {
		cfg.RoundTimeout = 100 * time.Millisecond
	})
	a := newTestNode(t, net, "a", withRealClock(), timeout)
	b := newTestNode(t, net, "b", withRealClock(), timeout)

	_, err := a.SyncPeer(context.Background(), b.id)
	require.ErrorIs(t, err, gossip.ErrRoundTimeout)

	// the peer is not penalized beyond the failed round
	net.SetLoss(0)
	_, err = a.SyncPeer(context.Background(), b.id)
	require.NoError(t, err)
}

func TestSyncPeerCanceled(t *testing.T) {
	net := memnet.New(memnet.WithLoss(1))
	a := newTestNode(t, net, "a")
	net.Endpoint("b")
	ctx, cancel := context.WithCancel(context.Background())
	var eg errgroup.Group
	eg.Go(func() error {
		_, err := a.SyncPeer(ctx, "b")
		return err
	})
	cancel()
	require.ErrorIs(t, eg.Wait(), context.Canceled)
}

// cancelingDatabase cancels the node the first time a window is counted.
type cancelingDatabase struct {
	gossip.Database
	cancel context.CancelFunc
	counts atomic.Int32
}

func (d *cancelingDatabase) CountInWindow(ctx context.Context, _ types.Window) (int, error) {
	d.counts.Add(1)
	d.cancel()
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestCanceledWhileSendingSummaries(t *testing.T) {
	net := memnet.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var db *cancelingDatabase
	a := newTestNode(t, net, "a",
		withContext(ctx),
		withDatabase(func(inner gossip.Database) gossip.Database {
			db = &cancelingDatabase{Database: inner, cancel: cancel}
			return db
		}),
		withConfig(func(cfg *gossip.Config) {
			cfg.Lookback = 2
			cfg.WindowsPerRound = 3
		}),
	)
	b := newTestNode(t, net, "b")

	_, err := a.SyncPeer(context.Background(), b.id)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, int32(1), db.counts.Load())
}

func TestConcurrentRoundsBothWays(t *testing.T) {
	net := memnet.New()
	a := newTestNode(t, net, "a")
	b := newTestNode(t, net, "b")
	ra := a.put(t, a.clock.Now(), 25)
	rb := b.put(t, b.clock.Now(), 25)

	var eg errgroup.Group
	eg.Go(func() error {
		_, err := a.SyncPeer(context.Background(), b.id)
		return err
	})
	eg.Go(func() error {
		_, err := b.SyncPeer(context.Background(), a.id)
		return err
	})
	require.NoError(t, eg.Wait())
	requireStored(t, a, rb...)
	requireStored(t, b, ra...)
}

func TestLossyConvergence(t *testing.T) {
	net := memnet.New(memnet.WithLoss(0.2))
	opts := []nodeOpt{
		withRealClock(),
		withConfig(func(cfg *gossip.Config) {
			cfg.RoundTimeout = 200 * time.Millisecond
			cfg.Lookback = 1
			cfg.WindowsPerRound = 3
		}),
	}
	nodes := make([]*testNode, 4)
	var all []types.Record
	for i := range nodes {
		nodes[i] = newTestNode(t, net, types.PeerID(fmt.Sprintf("node-%d", i)), opts...)
		all = append(all, nodes[i].put(t, time.Now(), 10)...)
	}
	converged := func() bool {
		for _, n := range nodes {
			for _, rec := range all {
				if !n.has(t, rec) {
					return false
				}
			}
		}
		return true
	}
	require.Eventually(t, func() bool {
		var wg sync.WaitGroup
		for i, n := range nodes {
			wg.Add(1)
			go func() {
				defer wg.Done()
				// errors are expected on a lossy network
				_, _ = n.SyncPeer(context.Background(), nodes[(i+1)%len(nodes)].id)
			}()
		}
		wg.Wait()
		return converged()
	}, 30*time.Second, 10*time.Millisecond)
}

func TestPeerInfo(t *testing.T) {
	net := memnet.New()
	a := newTestNode(t, net, "a")
	b := newTestNode(t, net, "b")
	a.AddPeer("c")

	_, err := a.SyncPeer(context.Background(), b.id)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		infos := a.PeerInfo()
		return len(infos) == 2 &&
			infos[0].ID == b.id && infos[0].State == gossip.StateIdle.String() &&
			infos[1].ID == "c" && infos[1].State == gossip.StateDisconnected.String()
	}, 5*time.Second, 10*time.Millisecond)
	require.Contains(t, b.Peers().SelectBest(10, nil), a.id)
}

func TestPutValidates(t *testing.T) {
	net := memnet.New()
	a := newTestNode(t, net, "a")
	rec := a.addr.Record([]byte("value"), a.clock.Now())
	rec.Value = []byte("other")
	require.ErrorIs(t, a.Put(context.Background(), rec), gossip.ErrValidationRejected)
	require.False(t, a.has(t, rec))
}
