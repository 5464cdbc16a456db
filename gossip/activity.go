package gossip

import (
	"slices"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/spacemeshos/go-ibltsync/types"
)

// activityTracker remembers when windows were last modified locally.
// It is safe for concurrent use.
type activityTracker struct {
	width   time.Duration
	windows *lru.Cache[int64, time.Time]
}

func newActivityTracker(width time.Duration, size int) *activityTracker {
	cache, err := lru.New[int64, time.Time](size)
	if err != nil {
		panic("BUG: bad activity tracker size: " + err.Error())
	}
	return &activityTracker{width: width, windows: cache}
}

func (t *activityTracker) touch(w types.Window, at time.Time) {
	t.windows.Add(w.ID(), at)
}

// modifiedAt returns the time the window was last modified, or zero time if unknown.
func (t *activityTracker) modifiedAt(w types.Window) time.Time {
	at, _ := t.windows.Peek(w.ID())
	return at
}

// recent returns the tracked windows, most recently modified first.
func (t *activityTracker) recent() []types.Window {
	ids := t.windows.Keys()
	slices.Reverse(ids)
	r := make([]types.Window, len(ids))
	for n, id := range ids {
		r[n] = types.Window{Start: time.UnixMilli(id).UTC(), Width: t.width}
	}
	return r
}
