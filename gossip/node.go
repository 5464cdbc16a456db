// Package gossip implements anti-entropy replication of time-bucketed records between
// peers, using IBLT summaries to find the records each side is missing.
package gossip

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/spacemeshos/go-ibltsync/log"
	"github.com/spacemeshos/go-ibltsync/peers"
	"github.com/spacemeshos/go-ibltsync/timebucket"
	"github.com/spacemeshos/go-ibltsync/types"
	"github.com/spacemeshos/go-ibltsync/wire"
)

var (
	// ErrTransport is returned when a message can't be handed to the network.
	ErrTransport = errors.New("transport failure")
	// ErrRoundTimeout is returned when a round doesn't complete within the round timeout.
	ErrRoundTimeout = errors.New("round timed out")
	// ErrBusy is returned when a round with the peer is already queued.
	ErrBusy = errors.New("peer busy")
	// ErrBackoff is returned for peers ignored after a protocol error.
	ErrBackoff = errors.New("peer in backoff")
	// ErrStopped is returned after the node was stopped.
	ErrStopped = errors.New("node stopped")
)

// Opt is an option for Node.
type Opt func(*Node)

// WithLogger specifies the logger for the Node.
func WithLogger(logger *zap.Logger) Opt {
	return func(n *Node) {
		n.logger = logger
	}
}

// WithConfig specifies the configuration of the Node.
func WithConfig(cfg Config) Opt {
	return func(n *Node) {
		n.cfg = cfg
	}
}

// WithClock specifies the clock used by the Node.
func WithClock(clock clockwork.Clock) Opt {
	return func(n *Node) {
		n.clock = clock
	}
}

// WithPeers specifies the set of known peers. Peers learned from inbound messages are
// added to it.
func WithPeers(p *peers.Peers) Opt {
	return func(n *Node) {
		n.peers = p
	}
}

// WithSelector overrides the window selection policy named in the configuration.
func WithSelector(s WindowSelector) Opt {
	return func(n *Node) {
		n.selector = s
	}
}

// Node reconciles the local Database with peers.
type Node struct {
	logger    *zap.Logger
	cfg       Config
	clock     clockwork.Clock
	db        Database
	net       Network
	index     *timebucket.Index
	peers     *peers.Peers
	selector  WindowSelector
	validator *recordValidator
	codec     wire.Codec
	hello     wire.Hello

	backoff *backoff
	tracker *activityTracker
	limiter *rate.Limiter
	rounds  atomic.Uint64

	// peerGates are owned by the scheduler goroutine.
	peerGates map[types.PeerID]*IntervalGate

	mu      sync.Mutex
	workers map[types.PeerID]*worker
	stopped bool

	eg     errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Node replicating the records of db.
func New(db Database, net Network, validator Validator, index *timebucket.Index, opts ...Opt) *Node {
	n := &Node{
		logger:    zap.NewNop(),
		cfg:       DefaultConfig(),
		clock:     clockwork.NewRealClock(),
		db:        db,
		net:       net,
		index:     index,
		peerGates: make(map[types.PeerID]*IntervalGate),
		workers:   make(map[types.PeerID]*worker),
	}
	n.ctx, n.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(n)
	}
	if n.peers == nil {
		n.peers = peers.New()
	}
	if n.selector == nil {
		s, err := SelectorByName(n.cfg.Selection)
		if err != nil {
			n.logger.Warn("falling back to the default window selection", zap.Error(err))
			s = RecentFirst
		}
		n.selector = s
	}
	n.validator = &recordValidator{
		validator: validator,
		clock:     n.clock,
		keySize:   index.KeySize(),
		maxValue:  n.cfg.MaxValueSize,
		maxSkew:   n.cfg.MaxClockSkew,
	}
	n.codec = wire.Codec{KeySize: index.KeySize(), MaxMessageSize: n.cfg.MaxMessageSize}
	n.hello = wire.Hello{
		Version:        wire.Version,
		MaxMessageSize: uint64(n.cfg.MaxMessageSize),
		KeySize:        uint64(index.KeySize()),
		WindowWidth:    index.Width(),
	}
	n.backoff = newBackoff(n.clock, n.cfg.Backoff, n.cfg.MaxBackoffPeers)
	n.tracker = newActivityTracker(index.Width(), n.cfg.MaxTrackedWindows)
	n.limiter = rate.NewLimiter(rate.Limit(n.cfg.MaxRoundsPerSecond), max(1, n.cfg.MaxConcurrentRounds))
	return n
}

// Start starts receiving messages and scheduling rounds. It returns immediately; the
// background goroutines run until ctx is canceled or Stop is called.
func (n *Node) Start(ctx context.Context) {
	context.AfterFunc(ctx, n.cancel)
	n.eg.Go(func() error {
		n.receive(n.ctx)
		return nil
	})
	n.eg.Go(func() error {
		n.runScheduler(n.ctx)
		return nil
	})
}

// Stop stops the node and waits for every goroutine to exit.
func (n *Node) Stop() error {
	n.mu.Lock()
	n.stopped = true
	n.mu.Unlock()
	n.cancel()
	return n.eg.Wait()
}

// AddPeer adds a peer to the set of peers rounds are initiated with.
func (n *Node) AddPeer(peer types.PeerID) {
	n.peers.Add(peer)
}

// Peers returns the set of known peers.
func (n *Node) Peers() *peers.Peers {
	return n.peers
}

// Put validates and stores a record created locally.
func (n *Node) Put(ctx context.Context, rec types.Record) error {
	if err := n.validator.check(rec); err != nil {
		return err
	}
	if err := n.db.Put(ctx, rec); err != nil {
		return fmt.Errorf("put %s: %w", rec.Key.ShortString(), err)
	}
	n.tracker.touch(n.index.BucketFor(rec.Timestamp), n.clock.Now())
	return nil
}

// SyncPeer runs a round with the peer and waits for it to finish. The result is
// returned even when the round times out, in which case the error is ErrRoundTimeout
// and the unresolved windows have OutcomeTimeout.
func (n *Node) SyncPeer(ctx context.Context, peer types.PeerID) (RoundResult, error) {
	if n.backoff.has(peer) {
		return RoundResult{Peer: peer}, fmt.Errorf("%w: %s", ErrBackoff, peer.ShortString())
	}
	req := &roundReq{ctx: ctx, done: make(chan roundDone, 1)}
	if err := n.enqueue(peer, req); err != nil {
		return RoundResult{Peer: peer}, err
	}
	select {
	case <-ctx.Done():
		return RoundResult{Peer: peer}, ctx.Err()
	case done := <-req.done:
		return done.result, done.err
	}
}

func (n *Node) enqueue(peer types.PeerID, req *roundReq) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	w := n.workerLocked(peer)
	if w == nil {
		return ErrStopped
	}
	select {
	case w.reqs <- req:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrBusy, peer.ShortString())
	}
}

// PeerInfo returns a snapshot of the sessions with the known peers, sorted by peer ID.
func (n *Node) PeerInfo() []PeerInfo {
	n.mu.Lock()
	infos := make([]PeerInfo, 0, len(n.workers))
	seen := make(map[types.PeerID]struct{}, len(n.workers))
	for id, w := range n.workers {
		infos = append(infos, w.snapshot())
		seen[id] = struct{}{}
	}
	n.mu.Unlock()
	for _, s := range n.peers.Stats(n.peers.Total()).BestPeers {
		if _, ok := seen[s.ID]; ok {
			continue
		}
		infos = append(infos, PeerInfo{
			ID:          s.ID,
			State:       StateDisconnected.String(),
			LastContact: s.LastContact,
		})
	}
	slices.SortFunc(infos, func(a, b PeerInfo) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return infos
}

func (n *Node) receive(ctx context.Context) {
	for {
		peer, frame, ok := n.net.Receive(ctx)
		if !ok {
			return
		}
		if n.backoff.has(peer) {
			droppedMessages.Inc()
			continue
		}
		n.peers.Add(peer)
		n.dispatch(peer, frame)
	}
}

func (n *Node) dispatch(peer types.PeerID, frame []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	w := n.workerLocked(peer)
	if w == nil {
		return
	}
	select {
	case w.inbox <- frame:
	default:
		droppedMessages.Inc()
		n.logger.Debug("peer inbox full, dropping message", log.ZShortStringer("peer", peer))
	}
}

// workerLocked returns the worker serving the peer, starting one if needed.
// It returns nil once the node is stopped. n.mu must be held.
func (n *Node) workerLocked(peer types.PeerID) *worker {
	if n.stopped {
		return nil
	}
	if w, ok := n.workers[peer]; ok {
		return w
	}
	w := newWorker(n, peer)
	n.workers[peer] = w
	n.eg.Go(func() error {
		w.run(n.ctx)
		return nil
	})
	return w
}

func (n *Node) removeWorker(w *worker) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.workers[w.peer] == w {
		delete(n.workers, w.peer)
	}
	for {
		select {
		case req := <-w.reqs:
			req.done <- roundDone{result: RoundResult{Peer: w.peer}, err: ErrStopped}
		default:
			return
		}
	}
}
