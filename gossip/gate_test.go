package gossip_test

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/spacemeshos/go-ibltsync/gossip"
)

func TestIntervalGate(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	gate := gossip.NewIntervalGate(clock, time.Minute)
	require.True(t, gate.Last().IsZero())
	require.True(t, gate.Ready())
	require.True(t, gate.Allow())
	require.Equal(t, epoch, gate.Last())
	require.False(t, gate.Allow())

	clock.Advance(time.Minute - time.Second)
	require.False(t, gate.Ready())
	clock.Advance(time.Second)
	require.True(t, gate.Ready())
	require.True(t, gate.Allow())
	require.False(t, gate.Ready())

	clock.Advance(time.Second)
	gate.Fire()
	require.Equal(t, epoch.Add(time.Minute+time.Second), gate.Last())
	clock.Advance(time.Minute - time.Second)
	require.False(t, gate.Allow())
}

func TestIntervalGateZero(t *testing.T) {
	gate := gossip.NewIntervalGate(clockwork.NewFakeClockAt(epoch), 0)
	for range 3 {
		require.True(t, gate.Allow())
	}
}
