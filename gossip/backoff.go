package gossip

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"

	"github.com/spacemeshos/go-ibltsync/types"
)

// backoff tracks peers that are ignored for a while after a protocol error.
type backoff struct {
	mu    sync.Mutex
	clock clockwork.Clock
	d     time.Duration
	until *lru.Cache[types.PeerID, time.Time]
}

func newBackoff(clock clockwork.Clock, d time.Duration, size int) *backoff {
	cache, err := lru.New[types.PeerID, time.Time](size)
	if err != nil {
		panic("BUG: bad backoff cache size: " + err.Error())
	}
	return &backoff{clock: clock, d: d, until: cache}
}

func (b *backoff) add(peer types.PeerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.until.Add(peer, b.clock.Now().Add(b.d))
}

func (b *backoff) has(peer types.PeerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	until, ok := b.until.Peek(peer)
	if !ok {
		return false
	}
	if b.clock.Now().Before(until) {
		return true
	}
	b.until.Remove(peer)
	return false
}
