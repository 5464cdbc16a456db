package gossip

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/spacemeshos/go-ibltsync/types"
)

const (
	// SelectRecentFirst prefers the most recently modified windows, then the newest.
	SelectRecentFirst = "recent-first"
	// SelectNewestFirst prefers the newest windows regardless of modification time.
	SelectNewestFirst = "newest-first"
)

// Candidate is a window that may be reconciled in a round.
type Candidate struct {
	Window types.Window
	// Modified is the last local modification time of the window, zero if unknown.
	Modified time.Time
}

// WindowSelector orders candidate windows by priority. The node reconciles the first
// windows allowed by their rate gates, up to the per-round budget.
type WindowSelector func(candidates []Candidate) []Candidate

// SelectorByName returns the selection policy with the given name.
func SelectorByName(name string) (WindowSelector, error) {
	switch name {
	case SelectRecentFirst, "":
		return RecentFirst, nil
	case SelectNewestFirst:
		return NewestFirst, nil
	default:
		return nil, fmt.Errorf("unknown window selection policy %q", name)
	}
}

// RecentFirst orders windows by last modification time, most recent first. Windows
// that were not modified follow, newest first.
func RecentFirst(candidates []Candidate) []Candidate {
	slices.SortStableFunc(candidates, func(a, b Candidate) int {
		if c := b.Modified.Compare(a.Modified); c != 0 {
			return c
		}
		return cmp.Compare(b.Window.ID(), a.Window.ID())
	})
	return candidates
}

// NewestFirst orders windows by start time, newest first.
func NewestFirst(candidates []Candidate) []Candidate {
	slices.SortStableFunc(candidates, func(a, b Candidate) int {
		return cmp.Compare(b.Window.ID(), a.Window.ID())
	})
	return candidates
}
