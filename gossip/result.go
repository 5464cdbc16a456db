package gossip

import (
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/spacemeshos/go-ibltsync/types"
)

// WindowOutcome tells how a window was reconciled in a round.
type WindowOutcome int

const (
	// OutcomePending means the window wasn't resolved yet.
	OutcomePending WindowOutcome = iota
	// OutcomeDecoded means the peer decoded the difference from this node's summary.
	OutcomeDecoded
	// OutcomeSwapped means the peer expected a larger table and this node decoded the
	// difference from the peer's summary.
	OutcomeSwapped
	// OutcomeFallback means the difference couldn't be decoded and full key lists were
	// exchanged.
	OutcomeFallback
	// OutcomeTimeout means the round ended before the window was resolved.
	OutcomeTimeout
	// OutcomeFailed means a local error prevented reconciling the window.
	OutcomeFailed
)

func (o WindowOutcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeDecoded:
		return "decoded"
	case OutcomeSwapped:
		return "swapped"
	case OutcomeFallback:
		return "fallback"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// WindowResult is the result of reconciling one window.
type WindowResult struct {
	Window  types.Window
	Outcome WindowOutcome
}

// RoundResult summarizes a round initiated by this node.
type RoundResult struct {
	Peer    types.PeerID
	Windows []WindowResult
	// Wanted is the number of keys this node requested from the peer.
	Wanted int
	// PeerWants is the number of keys the peer requested from this node.
	PeerWants int
	// Pushed is the number of records sent to the peer, requested or not.
	Pushed int
	// Offered is the number of records received from the peer.
	Offered int
	// Accepted is the number of received records that were stored.
	Accepted int
	// Rejected is the number of received records that failed validation.
	Rejected int
	Duration time.Duration
}

// Empty returns true if nothing was exchanged in the round besides the summaries.
func (r *RoundResult) Empty() bool {
	return r.Wanted == 0 && r.PeerWants == 0 && r.Pushed == 0 && r.Offered == 0
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (r *RoundResult) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("peer", r.Peer.ShortString())
	enc.AddArray("windows", zapcore.ArrayMarshalerFunc(func(ae zapcore.ArrayEncoder) error {
		for _, w := range r.Windows {
			ae.AppendString(w.Window.String() + ": " + w.Outcome.String())
		}
		return nil
	}))
	enc.AddInt("wanted", r.Wanted)
	enc.AddInt("peer wants", r.PeerWants)
	enc.AddInt("pushed", r.Pushed)
	enc.AddInt("offered", r.Offered)
	enc.AddInt("accepted", r.Accepted)
	enc.AddInt("rejected", r.Rejected)
	enc.AddDuration("duration", r.Duration)
	return nil
}
