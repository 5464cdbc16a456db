// Package memnet is an in-process datagram network. Messages between a pair of
// endpoints are delivered in order, unless dropped by the configured loss rate or by a
// full inbox.
package memnet

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/seehuhn/mt19937"

	"github.com/spacemeshos/go-ibltsync/types"
)

var (
	// ErrUnknownPeer is returned when sending to a peer without an endpoint.
	ErrUnknownPeer = errors.New("unknown peer")
	// ErrClosed is returned when sending from a closed endpoint.
	ErrClosed = errors.New("endpoint closed")
)

// Opt is an option for Network.
type Opt func(*Network)

// WithLoss drops each message with the given probability.
func WithLoss(p float64) Opt {
	return func(n *Network) {
		n.loss = p
	}
}

// WithSeed seeds the generator deciding which messages are lost, so that the same
// sequence of sends loses the same messages.
func WithSeed(seed uint64) Opt {
	return func(n *Network) {
		n.seed = seed
	}
}

// WithInboxSize sets the number of messages queued per endpoint.
func WithInboxSize(size int) Opt {
	return func(n *Network) {
		n.inboxSize = size
	}
}

// Network connects endpoints in the same process.
type Network struct {
	loss      float64
	inboxSize int
	seed      uint64

	rngMu sync.Mutex
	rng   *rand.Rand

	mu        sync.RWMutex
	endpoints map[types.PeerID]*Endpoint
	blocked   map[[2]types.PeerID]struct{}
}

// New creates a network.
func New(opts ...Opt) *Network {
	n := &Network{
		inboxSize: 1024,
		seed:      rand.Uint64(),
		endpoints: make(map[types.PeerID]*Endpoint),
		blocked:   make(map[[2]types.PeerID]struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	mt := mt19937.New()
	mt.Seed(int64(n.seed))
	n.rng = rand.New(mt)
	return n
}

// Endpoint returns the endpoint of the peer, creating it if needed.
func (n *Network) Endpoint(id types.PeerID) *Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ep, ok := n.endpoints[id]; ok {
		return ep
	}
	ep := &Endpoint{
		net:    n,
		id:     id,
		inbox:  make(chan packet, n.inboxSize),
		closed: make(chan struct{}),
	}
	n.endpoints[id] = ep
	return ep
}

// SetLoss changes the probability of dropping a message.
func (n *Network) SetLoss(p float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.loss = p
}

// Partition drops every message between a and b until Heal is called.
func (n *Network) Partition(a, b types.PeerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blocked[[2]types.PeerID{a, b}] = struct{}{}
	n.blocked[[2]types.PeerID{b, a}] = struct{}{}
}

// Heal removes every partition.
func (n *Network) Heal() {
	n.mu.Lock()
	defer n.mu.Unlock()
	clear(n.blocked)
}

func (n *Network) deliver(from, to types.PeerID, msg []byte) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ep, ok := n.endpoints[to]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, to)
	}
	if _, ok := n.blocked[[2]types.PeerID{from, to}]; ok {
		return nil
	}
	if n.lost() {
		return nil
	}
	select {
	case <-ep.closed:
	case ep.inbox <- packet{from: from, msg: append([]byte(nil), msg...)}:
	default:
	}
	return nil
}

func (n *Network) lost() bool {
	if n.loss <= 0 {
		return false
	}
	n.rngMu.Lock()
	defer n.rngMu.Unlock()
	return n.rng.Float64() < n.loss
}

type packet struct {
	from types.PeerID
	msg  []byte
}

// Endpoint is the attachment of a single peer to the network.
type Endpoint struct {
	net    *Network
	id     types.PeerID
	inbox  chan packet
	once   sync.Once
	closed chan struct{}
}

// ID returns the peer ID of the endpoint.
func (e *Endpoint) ID() types.PeerID {
	return e.id
}

// Send delivers a copy of msg to the peer. Lost messages are not reported.
func (e *Endpoint) Send(ctx context.Context, to types.PeerID, msg []byte) error {
	select {
	case <-e.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return e.net.deliver(e.id, to, msg)
}

// Receive blocks until a message arrives. It returns false once the endpoint is
// closed or ctx is canceled.
func (e *Endpoint) Receive(ctx context.Context) (types.PeerID, []byte, bool) {
	select {
	case <-ctx.Done():
		return "", nil, false
	case <-e.closed:
		return "", nil, false
	case p := <-e.inbox:
		return p.from, p.msg, true
	}
}

// Close detaches the endpoint. Messages sent to it are dropped.
func (e *Endpoint) Close() {
	e.once.Do(func() {
		close(e.closed)
	})
}
