// Package p2pnet carries gossip messages over libp2p. Each peer pair uses a long-lived
// outbound stream per direction; messages on a stream are varint length-prefixed.
// Delivery is best-effort: a failed stream is reset and reopened by the next Send.
package p2pnet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-msgio"
	"go.uber.org/zap"

	"github.com/spacemeshos/go-ibltsync/codec"
	"github.com/spacemeshos/go-ibltsync/log"
	"github.com/spacemeshos/go-ibltsync/types"
	"github.com/spacemeshos/go-ibltsync/wire"
)

// ProtocolID is the libp2p protocol of the gossip streams.
const ProtocolID = protocol.ID("/ibltsync/gossip/1")

// ErrClosed is returned after the network was closed.
var ErrClosed = errors.New("network closed")

// Opt is an option for Network.
type Opt func(*Network)

// WithLogger specifies the logger for the Network.
func WithLogger(logger *zap.Logger) Opt {
	return func(n *Network) {
		n.logger = logger
	}
}

// WithMaxMessageSize limits the size of received messages, not counting the length
// prefix every gossip frame carries. Streams carrying larger messages are reset.
func WithMaxMessageSize(size int) Opt {
	return func(n *Network) {
		n.maxMessageSize = size
	}
}

// WithInboxSize sets the number of received messages queued for Receive.
func WithInboxSize(size int) Opt {
	return func(n *Network) {
		n.inboxSize = size
	}
}

// WithWriteTimeout bounds the time a single Send may block on a stream.
func WithWriteTimeout(timeout time.Duration) Opt {
	return func(n *Network) {
		n.writeTimeout = timeout
	}
}

type packet struct {
	from types.PeerID
	msg  []byte
}

type outbound struct {
	mu     sync.Mutex
	stream network.Stream
	w      msgio.WriteCloser
}

// Network implements the gossip transport on top of a libp2p host.
type Network struct {
	logger         *zap.Logger
	h              host.Host
	maxMessageSize int
	inboxSize      int
	writeTimeout   time.Duration

	inbox  chan packet
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	streams map[peer.ID]*outbound
	inbound map[network.Stream]struct{}
	wg      sync.WaitGroup
}

// New creates a Network and registers its stream handler on the host.
func New(h host.Host, opts ...Opt) *Network {
	n := &Network{
		logger:         zap.NewNop(),
		h:              h,
		maxMessageSize: wire.DefaultMaxMessageSize,
		inboxSize:      1024,
		writeTimeout:   10 * time.Second,
		closed:         make(chan struct{}),
		streams:        make(map[peer.ID]*outbound),
		inbound:        make(map[network.Stream]struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.inbox = make(chan packet, n.inboxSize)
	h.SetStreamHandler(ProtocolID, n.handleStream)
	return n
}

// ID returns the peer ID of the local host.
func (n *Network) ID() types.PeerID {
	return PeerID(n.h.ID())
}

// PeerID converts a libp2p peer ID.
func PeerID(id peer.ID) types.PeerID {
	return types.PeerID(id.String())
}

func (n *Network) handleStream(s network.Stream) {
	n.mu.Lock()
	select {
	case <-n.closed:
		n.mu.Unlock()
		s.Reset()
		return
	default:
	}
	n.inbound[s] = struct{}{}
	n.wg.Add(1)
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		delete(n.inbound, s)
		n.mu.Unlock()
		n.wg.Done()
	}()

	from := PeerID(s.Conn().RemotePeer())
	logger := n.logger.With(log.ZShortStringer("peer", from))
	r := msgio.NewVarintReaderSize(s, n.maxMessageSize+codec.MaxVarintLen)
	for {
		msg, err := r.ReadMsg()
		if err != nil {
			if errors.Is(err, msgio.ErrMsgTooLarge) {
				streamErrors.WithLabelValues("in").Inc()
				logger.Debug("message too large, resetting stream", zap.Error(err))
			}
			s.Reset()
			return
		}
		// ReadMsg returns a pooled buffer
		p := packet{from: from, msg: append([]byte(nil), msg...)}
		r.ReleaseMsg(msg)
		select {
		case <-n.closed:
			s.Reset()
			return
		case n.inbox <- p:
			messages.WithLabelValues("in").Inc()
		default:
			dropped.Inc()
		}
	}
}

// Send writes msg to the outbound stream to the peer, opening it if needed.
func (n *Network) Send(ctx context.Context, to types.PeerID, msg []byte) error {
	select {
	case <-n.closed:
		return ErrClosed
	default:
	}
	id, err := peer.Decode(string(to))
	if err != nil {
		return fmt.Errorf("decode peer id %s: %w", to.ShortString(), err)
	}
	out := n.outbound(id)
	out.mu.Lock()
	defer out.mu.Unlock()
	if out.stream == nil {
		s, err := n.h.NewStream(ctx, id, ProtocolID)
		if err != nil {
			streamErrors.WithLabelValues("out").Inc()
			return fmt.Errorf("open stream to %s: %w", to.ShortString(), err)
		}
		out.stream = s
		out.w = msgio.NewVarintWriter(s)
	}
	deadline := time.Now().Add(n.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := out.stream.SetWriteDeadline(deadline); err != nil {
		n.logger.Debug("failed to set write deadline", zap.Error(err))
	}
	if err := out.w.WriteMsg(msg); err != nil {
		streamErrors.WithLabelValues("out").Inc()
		out.stream.Reset()
		out.stream, out.w = nil, nil
		return fmt.Errorf("write to %s: %w", to.ShortString(), err)
	}
	messages.WithLabelValues("out").Inc()
	return nil
}

func (n *Network) outbound(id peer.ID) *outbound {
	n.mu.Lock()
	defer n.mu.Unlock()
	out, ok := n.streams[id]
	if !ok {
		out = &outbound{}
		n.streams[id] = out
	}
	return out
}

// Receive blocks until a message arrives. It returns false once the network is
// closed or ctx is canceled.
func (n *Network) Receive(ctx context.Context) (types.PeerID, []byte, bool) {
	select {
	case <-ctx.Done():
		return "", nil, false
	case <-n.closed:
		return "", nil, false
	case p := <-n.inbox:
		return p.from, p.msg, true
	}
}

// Close removes the stream handler and resets every stream.
func (n *Network) Close() error {
	n.once.Do(func() {
		n.h.RemoveStreamHandler(ProtocolID)
		n.mu.Lock()
		close(n.closed)
		for s := range n.inbound {
			s.Reset()
		}
		streams := n.streams
		n.streams = make(map[peer.ID]*outbound)
		n.mu.Unlock()
		for _, out := range streams {
			out.mu.Lock()
			if out.stream != nil {
				out.stream.Reset()
			}
			out.mu.Unlock()
		}
		n.wg.Wait()
	})
	return nil
}
