package gossip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/spacemeshos/go-ibltsync/types"
)

var (
	// ErrValidationRejected is returned for records that may not be stored.
	ErrValidationRejected = errors.New("record rejected")
	// errFutureTimestamp rejects records that may become valid once the local clock
	// catches up with them.
	errFutureTimestamp = errors.New("timestamp in the future")
)

// recordValidator checks records received from peers before they reach the Database.
type recordValidator struct {
	validator Validator
	clock     clockwork.Clock
	keySize   int
	maxValue  int
	maxSkew   time.Duration
}

func (v *recordValidator) check(rec types.Record) error {
	switch {
	case len(rec.Key) != v.keySize:
		return fmt.Errorf("%w: key size %d", ErrValidationRejected, len(rec.Key))
	case len(rec.Value) > v.maxValue:
		return fmt.Errorf("%w: value size %d > %d", ErrValidationRejected, len(rec.Value), v.maxValue)
	case rec.Timestamp.After(v.clock.Now().Add(v.maxSkew)):
		return fmt.Errorf("%w: %w: %s", ErrValidationRejected, errFutureTimestamp, rec.Timestamp)
	case !v.validator.Validate(rec.Key, rec.Value):
		return fmt.Errorf("%w: invalid", ErrValidationRejected)
	}
	return nil
}

var errDuplicate = errors.New("duplicate record")

// accept validates and stores a record received from a peer.
func (n *Node) accept(ctx context.Context, rec types.Record) error {
	_, err := n.db.Get(ctx, rec.Key)
	switch {
	case err == nil:
		// records are immutable, a stored key keeps its first-seen timestamp even when
		// the peer's copy falls into another window
		recordsDuplicate.Inc()
		return errDuplicate
	case !errors.Is(err, types.ErrNotFound):
		recordsFailed.Inc()
		return fmt.Errorf("get %s: %w", rec.Key.ShortString(), err)
	}
	if err := n.validator.check(rec); err != nil {
		recordsRejected.Inc()
		return err
	}
	if err := n.db.Put(ctx, rec.Clone()); err != nil {
		recordsFailed.Inc()
		return fmt.Errorf("put %s: %w", rec.Key.ShortString(), err)
	}
	n.tracker.touch(n.index.BucketFor(rec.Timestamp), n.clock.Now())
	recordsAccepted.Inc()
	return nil
}
