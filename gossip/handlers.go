package gossip

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/spacemeshos/go-ibltsync/iblt"
	"github.com/spacemeshos/go-ibltsync/types"
	"github.com/spacemeshos/go-ibltsync/wire"
)

// reply returns the header for messages answering a message with header h.
func reply(h wire.Header) wire.Header {
	return wire.Header{Round: h.Round, Flags: h.Flags ^ wire.FlagReply}
}

func (w *worker) handleFrame(ctx context.Context, frame []byte) error {
	h, m, err := w.n.codec.Decode(frame)
	if err != nil {
		return err
	}
	messageBytes.WithLabelValues("in", h.Kind.String()).Add(float64(len(frame)))
	ex := w.lookup(h)
	switch m := m.(type) {
	case *wire.Hello:
		return w.handleHello(ctx, h, m)
	case *wire.BucketSummary:
		return w.handleSummary(ctx, ex, m)
	case *wire.KeyList:
		return w.handleKeyList(ctx, ex, m)
	case *wire.WantList:
		return w.handleWantList(ctx, h, ex, m)
	case *wire.RecordPush:
		w.handleRecordPush(ctx, ex, m)
		return nil
	case *wire.Done:
		if !h.IsReply() {
			delete(w.in, h.Round)
			w.settle()
		}
		return nil
	}
	return nil
}

// lookup returns the exchange the message belongs to, or nil if the round is unknown.
// Rounds initiated by the peer are tracked on demand, so that a round survives the
// loss of its Hello.
func (w *worker) lookup(h wire.Header) *exchange {
	if h.IsReply() {
		if w.out != nil && w.out.id == h.Round {
			return w.out.ex
		}
		return nil
	}
	if h.Kind == wire.KindDone {
		return nil
	}
	if ex, ok := w.in[h.Round]; ok {
		return ex
	}
	if len(w.in) >= maxResponderRounds {
		var (
			oldest uint64
			at     time.Time
		)
		for id, ex := range w.in {
			if at.IsZero() || ex.started.Before(at) {
				oldest, at = id, ex.started
			}
		}
		delete(w.in, oldest)
	}
	ex := newExchange(reply(h), false, w.n.clock.Now())
	w.in[h.Round] = ex
	return ex
}

func (w *worker) handleHello(ctx context.Context, h wire.Header, m *wire.Hello) error {
	if h.IsReply() {
		r := w.out
		if r == nil || r.id != h.Round || r.hello {
			return nil
		}
		if err := w.setPeerHello(m); err != nil {
			return err
		}
		r.hello = true
		w.connect()
		return w.beginWindows(ctx)
	}
	// the peer may have restarted and reused the round id
	w.in[h.Round] = newExchange(reply(h), false, w.n.clock.Now())
	hello := w.n.hello
	if err := w.sendMsg(ctx, reply(h), &hello); err != nil {
		return err
	}
	if err := w.setPeerHello(m); err != nil {
		return err
	}
	w.connect()
	return nil
}

// window checks that the window is aligned to the local window width.
func (w *worker) window(win types.Window) error {
	_, err := w.n.index.Window(win.ID(), win.Width)
	return err
}

func (w *worker) handleSummary(ctx context.Context, ex *exchange, m *wire.BucketSummary) error {
	if err := w.window(m.Window); err != nil {
		return err
	}
	if ex == nil {
		return nil
	}
	ws := ex.window(m.Window)
	if ws == nil || ws.outcome != OutcomePending {
		return nil
	}
	peerCount := int(min(m.Count, math.MaxInt32))
	if w.n.index.Params(peerCount).Capacity > len(m.Cells) {
		// the peer can't make this node size the window beyond the table it sent
		peerCount = len(m.Cells)
	}
	params, local, err := w.n.index.ParamsFor(ctx, m.Window, peerCount)
	if err != nil {
		return &windowError{window: m.Window, err: err}
	}
	if err := m.CheckParams(params); err != nil {
		w.logger.Debug("summary params mismatch", zap.Error(err))
		if !ex.initiator && !ws.swapped {
			// the larger side sends the summary the other side decodes
			ws.swapped = true
			return w.sendSummary(ctx, ex, ws, params, max(local, peerCount))
		}
		return w.sendKeyList(ctx, ex, ws)
	}
	peer, err := m.Table(w.n.codec.KeySize, w.n.index.Hasher())
	if err != nil {
		return fmt.Errorf("%w: %w", wire.ErrMalformed, err)
	}
	tbl, _, err := w.n.index.Build(ctx, m.Window, params)
	if err != nil {
		return &windowError{window: m.Window, err: err}
	}
	diff, err := tbl.Subtract(peer)
	if err != nil {
		return &windowError{window: m.Window, err: err}
	}
	if ex.initiator {
		ws.swapped = true
	}
	plus, minus, res, err := diff.Diff()
	if err != nil {
		return &windowError{window: m.Window, err: err}
	}
	if !res.Complete() {
		decodeResidual.Inc()
		w.logger.Debug("summary not decoded, exchanging key lists",
			zap.Object("window", m.Window),
			zap.Int("recovered", res.Recovered),
			zap.Int("residual", res.Residual))
		return w.sendKeyList(ctx, ex, ws)
	}
	return w.reconcile(ctx, ex, ws, plus, minus)
}

// sendSummary sends the IBLT of the window, falling back to the key list if the summary
// doesn't fit into a message.
func (w *worker) sendSummary(
	ctx context.Context,
	ex *exchange,
	ws *windowState,
	params iblt.Params,
	count int,
) error {
	tbl, _, err := w.n.index.Build(ctx, ws.window, params)
	if err != nil {
		return &windowError{window: ws.window, err: err}
	}
	msg := wire.NewBucketSummary(ws.window, count, tbl)
	frame, err := w.send.Encode(ex.header, msg)
	switch {
	case errors.Is(err, wire.ErrMessageTooLarge):
		w.logger.Debug("summary too large, exchanging key lists",
			zap.Object("window", ws.window),
			zap.Stringer("params", params))
		return w.sendKeyList(ctx, ex, ws)
	case err != nil:
		return &windowError{window: ws.window, err: err}
	}
	return w.sendFrame(ctx, msg.Kind(), frame)
}

func (w *worker) sendKeyList(ctx context.Context, ex *exchange, ws *windowState) error {
	ws.fallback = true
	keys, err := w.n.index.Keys(ctx, ws.window)
	if err != nil {
		return &windowError{window: ws.window, err: err}
	}
	chunks := w.send.ChunkKeys(keys)
	for i, chunk := range chunks {
		msg := &wire.KeyList{Window: ws.window, Keys: chunk, Final: i == len(chunks)-1}
		if err := w.sendMsg(ctx, ex.header, msg); err != nil {
			return err
		}
	}
	return nil
}

func (w *worker) handleKeyList(ctx context.Context, ex *exchange, m *wire.KeyList) error {
	if err := w.window(m.Window); err != nil {
		return err
	}
	if ex == nil {
		return nil
	}
	ws := ex.window(m.Window)
	if ws == nil || ws.outcome != OutcomePending {
		return nil
	}
	ws.fallback = true
	if len(ws.keys)+len(m.Keys) > w.n.cfg.MaxKeyListKeys {
		return fmt.Errorf("%w: key list for window %s exceeds %d keys",
			errTooManyKeys, m.Window, w.n.cfg.MaxKeyListKeys)
	}
	for _, k := range m.Keys {
		ws.keys = append(ws.keys, k.Clone())
	}
	if !m.Final {
		return nil
	}
	peerKeys := make(map[string]struct{}, len(ws.keys))
	for _, k := range ws.keys {
		peerKeys[string(k)] = struct{}{}
	}
	local, err := w.n.index.Keys(ctx, m.Window)
	if err != nil {
		return &windowError{window: m.Window, err: err}
	}
	localKeys := make(map[string]struct{}, len(local))
	var plus, minus []types.Key
	for _, k := range local {
		localKeys[string(k)] = struct{}{}
		if _, ok := peerKeys[string(k)]; !ok {
			plus = append(plus, k)
		}
	}
	for _, k := range ws.keys {
		if _, ok := localKeys[string(k)]; !ok {
			minus = append(minus, k)
		}
	}
	ws.keys = nil
	return w.reconcile(ctx, ex, ws, plus, minus)
}

// reconcile pushes the records the peer is missing and requests the records this node
// is missing. The final want list is always sent, it resolves the window for the
// initiating side.
func (w *worker) reconcile(ctx context.Context, ex *exchange, ws *windowState, plus, minus []types.Key) error {
	if err := w.pushKeys(ctx, ex.header, ex.result, ws.window, plus); err != nil {
		return err
	}
	wants := minus[:0]
	for _, key := range minus {
		if _, ok := ex.rejected[string(key)]; ok {
			continue
		}
		_, err := w.n.db.Get(ctx, key)
		switch {
		case errors.Is(err, types.ErrNotFound):
			wants = append(wants, key)
		case err != nil:
			return &windowError{window: ws.window, err: err}
		}
	}
	chunks := w.send.ChunkKeys(wants)
	for i, chunk := range chunks {
		msg := &wire.WantList{Window: ws.window, Keys: chunk, Final: i == len(chunks)-1}
		if err := w.sendMsg(ctx, ex.header, msg); err != nil {
			return err
		}
	}
	keysWanted.Add(float64(len(wants)))
	if ex.initiator {
		r := w.out
		r.result.Wanted += len(wants)
		for _, key := range wants {
			r.wants[string(key)] = struct{}{}
		}
		r.resolveFinal(ws)
	}
	w.logger.Debug("window reconciled",
		zap.Object("window", ws.window),
		zap.Int("pushed", len(plus)),
		zap.Int("wanted", len(wants)))
	return nil
}

// pushKeys sends the records with the given keys. Keys that are no longer found are
// skipped.
func (w *worker) pushKeys(
	ctx context.Context,
	h wire.Header,
	result *RoundResult,
	win types.Window,
	keys []types.Key,
) error {
	if len(keys) == 0 {
		return nil
	}
	records := make([]types.Record, 0, len(keys))
	for _, key := range keys {
		rec, err := w.n.db.Get(ctx, key)
		switch {
		case errors.Is(err, types.ErrNotFound):
			w.logger.Debug("record to push not found", zap.Stringer("key", key))
		case err != nil:
			return &windowError{window: win, err: fmt.Errorf("get %s: %w", key.ShortString(), err)}
		default:
			records = append(records, rec)
		}
	}
	chunks, tooLarge := w.send.ChunkRecords(records)
	for _, rec := range tooLarge {
		w.logger.Warn("record exceeds peer max message size", zap.Object("record", rec))
	}
	for _, chunk := range chunks {
		if err := w.sendMsg(ctx, h, &wire.RecordPush{Records: chunk}); err != nil {
			return err
		}
		recordsPushed.Add(float64(len(chunk)))
		if result != nil {
			result.Pushed += len(chunk)
		}
	}
	return nil
}

// handleWantList answers with the requested records. Want lists of unknown rounds are
// answered as well.
func (w *worker) handleWantList(ctx context.Context, h wire.Header, ex *exchange, m *wire.WantList) error {
	if err := w.window(m.Window); err != nil {
		return err
	}
	var result *RoundResult
	if ex != nil && ex.initiator {
		result = ex.result
		result.PeerWants += len(m.Keys)
	}
	if err := w.pushKeys(ctx, reply(h), result, m.Window, m.Keys); err != nil {
		return err
	}
	if m.Final && ex != nil && ex.initiator {
		if ws := ex.window(m.Window); ws != nil {
			w.out.resolveFinal(ws)
		}
	}
	return nil
}

// handleRecordPush stores the records that pass validation. Records are accepted
// regardless of the round they arrive in.
func (w *worker) handleRecordPush(ctx context.Context, ex *exchange, m *wire.RecordPush) {
	var result *RoundResult
	if ex != nil && ex.initiator {
		result = ex.result
		result.Offered += len(m.Records)
	}
	for _, rec := range m.Records {
		if ex != nil && ex.initiator {
			delete(w.out.wants, string(rec.Key))
		}
		err := w.n.accept(ctx, rec)
		switch {
		case err == nil:
			if result != nil {
				result.Accepted++
			}
		case errors.Is(err, ErrValidationRejected):
			if result != nil {
				result.Rejected++
			}
			if ex != nil && !errors.Is(err, errFutureTimestamp) {
				ex.rejected[string(rec.Key)] = struct{}{}
			}
			w.logger.Debug("record rejected", zap.Object("record", rec), zap.Error(err))
		case errors.Is(err, errDuplicate):
		default:
			w.logger.Error("failed to store record", zap.Object("record", rec), zap.Error(err))
		}
	}
}
