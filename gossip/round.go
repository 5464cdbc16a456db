package gossip

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/spacemeshos/go-ibltsync/types"
	"github.com/spacemeshos/go-ibltsync/wire"
)

type windowState struct {
	window types.Window
	// swapped is set once this side sent or decoded the second summary of the window.
	swapped bool
	// fallback is set once full key lists are exchanged for the window.
	fallback bool
	// keys accumulates the key list received from the peer.
	keys    []types.Key
	outcome WindowOutcome
}

// exchange is the state of one round as seen from one side.
type exchange struct {
	// header is the header of the messages this side sends in the round.
	header    wire.Header
	initiator bool
	started   time.Time
	windows   map[int64]*windowState
	// rejected are the keys of records from the peer that failed validation in this
	// round. They are not requested again from the peer until the round ends.
	rejected map[string]struct{}
	// result is only set on the initiating side.
	result *RoundResult
}

func newExchange(h wire.Header, initiator bool, now time.Time) *exchange {
	return &exchange{
		header:    h,
		initiator: initiator,
		started:   now,
		windows:   make(map[int64]*windowState),
		rejected:  make(map[string]struct{}),
	}
}

// window returns the state of the window. The initiating side only tracks the windows
// it selected, the responding side tracks every window the peer brings up.
func (ex *exchange) window(w types.Window) *windowState {
	ws, ok := ex.windows[w.ID()]
	if ok || ex.initiator {
		return ws
	}
	ws = &windowState{window: w}
	ex.windows[w.ID()] = ws
	return ws
}

type round struct {
	id      uint64
	req     *roundReq
	started time.Time
	timer   clockwork.Timer
	hello   bool
	ex      *exchange
	order   []types.Window
	// wants are the keys requested from the peer that haven't arrived yet.
	wants  map[string]struct{}
	result RoundResult
}

func (r *round) resolve(ws *windowState, outcome WindowOutcome) {
	if ws.outcome != OutcomePending {
		return
	}
	ws.outcome = outcome
	windowCount.WithLabelValues(outcome.String()).Inc()
}

// resolveFinal resolves the window once its final want list was sent or received.
func (r *round) resolveFinal(ws *windowState) {
	switch {
	case ws.fallback:
		r.resolve(ws, OutcomeFallback)
	case ws.swapped:
		r.resolve(ws, OutcomeSwapped)
	default:
		r.resolve(ws, OutcomeDecoded)
	}
}

func (r *round) complete() bool {
	if !r.hello || len(r.wants) != 0 {
		return false
	}
	for _, ws := range r.ex.windows {
		if ws.outcome == OutcomePending {
			return false
		}
	}
	return true
}

func (r *round) windows() []types.Window {
	return append([]types.Window(nil), r.order...)
}

func (w *worker) startRound(ctx context.Context, req *roundReq) error {
	now := w.n.clock.Now()
	r := &round{
		id:      w.n.rounds.Add(1),
		req:     req,
		started: now,
		timer:   w.n.clock.NewTimer(w.n.cfg.RoundTimeout),
		wants:   make(map[string]struct{}),
		result:  RoundResult{Peer: w.peer},
	}
	r.ex = newExchange(wire.Header{Round: r.id}, true, now)
	r.ex.result = &r.result
	w.out = r
	if w.state != StateSyncing {
		w.setState(StateConnecting)
	}
	w.logger.Debug("starting round", zap.Uint64("round", r.id))
	hello := w.n.hello
	return w.sendMsg(ctx, r.ex.header, &hello)
}

// beginWindows selects the windows of the round and sends their summaries. It is called
// once the peer answered the Hello.
func (w *worker) beginWindows(ctx context.Context) error {
	r := w.out
	r.order = w.selectWindows()
	for _, win := range r.order {
		r.ex.windows[win.ID()] = &windowState{window: win}
	}
	for _, win := range r.order {
		ws := r.ex.windows[win.ID()]
		params, local, err := w.n.index.ParamsFor(ctx, win, 0)
		if err == nil {
			err = w.sendSummary(ctx, r.ex, ws, params, local)
		} else {
			err = &windowError{window: win, err: err}
		}
		var werr *windowError
		switch {
		case errors.As(err, &werr):
			if w.fail(ctx, err) {
				return errWorkerExit
			}
		case err != nil:
			return err
		}
		if w.out != r {
			return nil
		}
	}
	return nil
}

// selectWindows picks the windows reconciled in the round: the current window, the
// lookback windows, recently modified windows within the horizon and one older window
// walked by the sweep cursor. Each window is rate limited by its gate, unless it was
// modified after the gate last fired.
func (w *worker) selectWindows() []types.Window {
	cfg := &w.n.cfg
	now := w.n.clock.Now()
	cur := w.n.index.BucketFor(now)
	oldest := now.Add(-cfg.Horizon)

	var candidates []Candidate
	seen := make(map[int64]struct{})
	add := func(win types.Window) {
		if _, ok := seen[win.ID()]; ok || win.End().Before(oldest) || win.Start.After(cur.Start) {
			return
		}
		seen[win.ID()] = struct{}{}
		candidates = append(candidates, Candidate{Window: win, Modified: w.n.tracker.modifiedAt(win)})
	}
	win := cur
	for range cfg.Lookback + 1 {
		add(win)
		win = win.Prev()
	}
	for _, recent := range w.n.tracker.recent() {
		add(recent)
	}
	if w.sweep.Start.IsZero() || !w.sweep.Start.Before(win.Start) || w.sweep.End().Before(oldest) {
		w.sweep = win
	}
	sweep := w.sweep
	add(sweep)

	var selected []types.Window
	for _, c := range w.n.selector(candidates) {
		if len(selected) == cfg.WindowsPerRound {
			break
		}
		gate, ok := w.windowGates[c.Window.ID()]
		if !ok {
			gate = NewIntervalGate(w.n.clock, cfg.WindowInterval)
			w.windowGates[c.Window.ID()] = gate
		}
		if !gate.Ready() && !c.Modified.After(gate.Last()) {
			continue
		}
		gate.Fire()
		selected = append(selected, c.Window)
		if c.Window.Equal(sweep) {
			w.sweep = sweep.Prev()
		}
	}
	for id := range w.windowGates {
		if time.UnixMilli(id).Add(w.n.index.Width()).Before(oldest) {
			delete(w.windowGates, id)
		}
	}
	return selected
}

// finish ends the outbound round. A round ended by its timeout still reports the
// windows resolved so far.
func (w *worker) finish(ctx context.Context, err error) {
	r := w.out
	w.out = nil
	r.timer.Stop()
	outcome := OutcomeFailed
	if errors.Is(err, ErrRoundTimeout) {
		outcome = OutcomeTimeout
	}
	for _, win := range r.order {
		ws := r.ex.windows[win.ID()]
		r.resolve(ws, outcome)
		r.result.Windows = append(r.result.Windows, WindowResult{Window: win, Outcome: ws.outcome})
	}
	if err == nil || errors.Is(err, ErrRoundTimeout) {
		if serr := w.sendMsg(ctx, r.ex.header, &wire.Done{}); serr != nil {
			w.logger.Debug("failed to send done", zap.Error(serr))
		}
	}
	r.result.Duration = w.n.clock.Since(r.started)
	roundDuration.Observe(r.result.Duration.Seconds())
	if err == nil {
		roundsOK.Inc()
		w.n.peers.OnSuccess(w.peer, r.result.Duration, w.n.clock.Now())
		w.logger.Debug("round completed", zap.Uint64("round", r.id), zap.Object("result", &r.result))
	} else {
		roundsFailed.Inc()
		if errors.Is(err, ErrRoundTimeout) {
			w.n.peers.OnFailure(w.peer)
		}
		w.logger.Debug("round failed",
			zap.Uint64("round", r.id),
			zap.Object("result", &r.result),
			zap.Error(err))
	}
	if w.state == StateConnecting {
		w.setState(StateDisconnected)
	}
	w.settle()
	r.req.done <- roundDone{result: r.result, err: err}
}
