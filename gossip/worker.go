package gossip

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spacemeshos/go-ibltsync/log"
	"github.com/spacemeshos/go-ibltsync/timebucket"
	"github.com/spacemeshos/go-ibltsync/types"
	"github.com/spacemeshos/go-ibltsync/wire"
)

// maxResponderRounds bounds the number of rounds initiated by the peer that are tracked
// at once.
const maxResponderRounds = 4

var (
	errTooManyKeys = errors.New("too many keys")
	// errWorkerExit is returned by handlers after fail decided that the worker exits.
	errWorkerExit = errors.New("worker exit")
)

type roundReq struct {
	ctx  context.Context
	done chan roundDone
}

type roundDone struct {
	result RoundResult
	err    error
}

// windowError is a local error that prevents reconciling a single window.
type windowError struct {
	window types.Window
	err    error
}

func (e *windowError) Error() string {
	return fmt.Sprintf("window %s: %v", e.window, e.err)
}

func (e *windowError) Unwrap() error {
	return e.err
}

func isProtocolError(err error) bool {
	return errors.Is(err, wire.ErrMalformed) ||
		errors.Is(err, wire.ErrMessageTooLarge) ||
		errors.Is(err, wire.ErrVersion) ||
		errors.Is(err, timebucket.ErrBadWindow) ||
		errors.Is(err, errTooManyKeys)
}

// worker serves a single peer. Everything except the fields guarded by mu is owned by
// the worker goroutine.
type worker struct {
	n      *Node
	logger *zap.Logger
	peer   types.PeerID
	inbox  chan []byte
	reqs   chan *roundReq

	// send is the codec for outgoing messages, limited by the peer's max message size.
	send        wire.Codec
	state       PeerState
	lastContact time.Time
	out         *round
	in          map[uint64]*exchange
	windowGates map[int64]*IntervalGate
	sweep       types.Window

	mu   sync.Mutex
	info PeerInfo
}

func newWorker(n *Node, peer types.PeerID) *worker {
	w := &worker{
		n:      n,
		logger: n.logger.With(log.ZShortStringer("peer", peer)),
		peer:   peer,
		inbox:  make(chan []byte, n.cfg.InboxSize),
		reqs:   make(chan *roundReq, 1),
		// until the peer tells its limit only the smallest messages are sent
		send:        wire.Codec{KeySize: n.codec.KeySize, MaxMessageSize: wire.MinMessageSize},
		state:       StateDisconnected,
		in:          make(map[uint64]*exchange),
		windowGates: make(map[int64]*IntervalGate),
	}
	peerStates.WithLabelValues(w.state.String()).Inc()
	w.publish()
	return w
}

func (w *worker) run(ctx context.Context) {
	defer w.exit()
	keepAlive := w.n.clock.NewTimer(w.n.cfg.KeepAlive)
	defer keepAlive.Stop()
	for {
		var (
			reqs     <-chan *roundReq
			timeout  <-chan time.Time
			canceled <-chan struct{}
		)
		if w.out == nil {
			reqs = w.reqs
		} else {
			timeout = w.out.timer.Chan()
			canceled = w.out.req.ctx.Done()
		}
		select {
		case <-ctx.Done():
			w.abort(ctx, ctx.Err())
			return
		case frame := <-w.inbox:
			w.lastContact = w.n.clock.Now()
			if err := w.handleFrame(ctx, frame); err != nil &&
				(errors.Is(err, errWorkerExit) || w.fail(ctx, err)) {
				return
			}
		case req := <-reqs:
			if err := w.startRound(ctx, req); err != nil && w.fail(ctx, err) {
				return
			}
		case <-timeout:
			w.finish(ctx, ErrRoundTimeout)
		case <-canceled:
			w.finish(ctx, w.out.req.ctx.Err())
		case <-keepAlive.Chan():
			if w.evict() {
				return
			}
		}
		if w.out != nil && w.out.complete() {
			w.finish(ctx, nil)
		}
		w.publish()
		keepAlive.Reset(w.n.cfg.KeepAlive)
	}
}

func (w *worker) exit() {
	w.n.removeWorker(w)
	peerStates.WithLabelValues(w.state.String()).Dec()
}

// evict returns true if the worker was idle and was removed from the node.
func (w *worker) evict() bool {
	w.pruneResponder()
	if w.out != nil || len(w.in) != 0 {
		return false
	}
	w.n.mu.Lock()
	if len(w.inbox) != 0 || len(w.reqs) != 0 {
		w.n.mu.Unlock()
		return false
	}
	delete(w.n.workers, w.peer)
	w.n.mu.Unlock()
	w.setState(StateDisconnected)
	w.logger.Debug("disconnected idle peer")
	return true
}

// pruneResponder forgets rounds initiated by the peer that were never ended with Done.
func (w *worker) pruneResponder() {
	for id, ex := range w.in {
		if w.n.clock.Since(ex.started) > 2*w.n.cfg.RoundTimeout {
			delete(w.in, id)
		}
	}
}

// fail handles an error that ended the handling of a message or a round. It returns
// true if the worker must exit.
func (w *worker) fail(ctx context.Context, err error) bool {
	var werr *windowError
	switch {
	case ctx.Err() != nil:
		w.abort(ctx, ctx.Err())
		return true
	case isProtocolError(err):
		protocolErrors.Inc()
		w.logger.Warn("protocol error, backing off", zap.Error(err))
		w.n.backoff.add(w.peer)
		w.n.peers.OnFailure(w.peer)
		w.abort(ctx, err)
		w.setState(StateDisconnected)
		return true
	case errors.Is(err, ErrTransport):
		w.logger.Debug("transport failure", zap.Error(err))
		w.n.peers.OnFailure(w.peer)
		w.abort(ctx, err)
		w.setState(StateDisconnected)
	case errors.As(err, &werr):
		w.logger.Warn("failed to reconcile window", zap.Object("window", werr.window), zap.Error(err))
		if w.out != nil {
			if ws := w.out.ex.windows[werr.window.ID()]; ws != nil {
				w.out.resolve(ws, OutcomeFailed)
			}
		}
	default:
		w.logger.Error("local failure", zap.Error(err))
	}
	return false
}

// abort ends every round in progress with the peer.
func (w *worker) abort(ctx context.Context, err error) {
	if w.out != nil {
		w.finish(ctx, err)
	}
	clear(w.in)
}

func (w *worker) setState(to PeerState) {
	if w.state == to {
		return
	}
	if !validTransition(w.state, to) {
		w.logger.Error("BUG: invalid peer state transition",
			zap.Stringer("from", w.state),
			zap.Stringer("to", to))
		return
	}
	w.logger.Debug("peer state changed", zap.Stringer("from", w.state), zap.Stringer("to", to))
	peerStates.WithLabelValues(w.state.String()).Dec()
	peerStates.WithLabelValues(to.String()).Inc()
	w.state = to
}

// connect moves the peer to Syncing through Connecting.
func (w *worker) connect() {
	if w.state == StateDisconnected || w.state == StateIdle {
		w.setState(StateConnecting)
	}
	w.setState(StateSyncing)
}

// settle moves the peer to Idle once no round is in progress.
func (w *worker) settle() {
	if w.state == StateSyncing && w.out == nil && len(w.in) == 0 {
		w.setState(StateIdle)
	}
}

func (w *worker) publish() {
	info := PeerInfo{
		ID:          w.peer,
		State:       w.state.String(),
		LastContact: w.lastContact,
	}
	if w.out != nil {
		info.Windows = w.out.windows()
		info.Wants = len(w.out.wants)
	}
	w.mu.Lock()
	w.info = info
	w.mu.Unlock()
}

func (w *worker) snapshot() PeerInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.info
}

// sendMsg encodes and sends a message. Encoding failures are local errors, send
// failures are wrapped in ErrTransport.
func (w *worker) sendMsg(ctx context.Context, h wire.Header, m wire.Message) error {
	frame, err := w.send.Encode(h, m)
	if err != nil {
		return fmt.Errorf("encode %s: %v", m.Kind(), err)
	}
	return w.sendFrame(ctx, m.Kind(), frame)
}

func (w *worker) sendFrame(ctx context.Context, kind wire.Kind, frame []byte) error {
	if err := w.n.net.Send(ctx, w.peer, frame); err != nil {
		transportErrors.Inc()
		return fmt.Errorf("%w: send %s: %w", ErrTransport, kind, err)
	}
	messageBytes.WithLabelValues("out", kind.String()).Add(float64(len(frame)))
	return nil
}

func (w *worker) setPeerHello(m *wire.Hello) error {
	if err := w.n.hello.Compatible(m); err != nil {
		return err
	}
	w.send.MaxMessageSize = int(min(uint64(w.n.cfg.MaxMessageSize), m.MaxMessageSize))
	return nil
}
