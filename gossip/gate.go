package gossip

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// IntervalGate allows an action at most once per interval.
// It is not safe for concurrent use, each gate is owned by a single goroutine.
type IntervalGate struct {
	clock clockwork.Clock
	freq  time.Duration
	last  time.Time
}

// NewIntervalGate creates a gate that opens once per freq.
func NewIntervalGate(clock clockwork.Clock, freq time.Duration) *IntervalGate {
	return &IntervalGate{clock: clock, freq: freq}
}

// Ready returns true if Allow would succeed now.
func (g *IntervalGate) Ready() bool {
	return g.last.IsZero() || g.clock.Since(g.last) >= g.freq
}

// Allow returns true and records the current time if at least freq has passed since
// the last time the gate allowed the action.
func (g *IntervalGate) Allow() bool {
	if !g.Ready() {
		return false
	}
	g.Fire()
	return true
}

// Fire records the current time as the time of the last action, regardless of the
// interval.
func (g *IntervalGate) Fire() {
	g.last = g.clock.Now()
}

// Last returns the time the gate last allowed the action.
func (g *IntervalGate) Last() time.Time {
	return g.last
}
