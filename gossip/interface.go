package gossip

import (
	"context"
	"iter"

	"github.com/spacemeshos/go-ibltsync/types"
)

//go:generate mockgen -typed -package=gossip -destination=./mocks.go -source=./interface.go

// Database is the durable record store. It must tolerate concurrent reads and
// concurrent single-record writes.
type Database interface {
	// Get returns the record with the given key or types.ErrNotFound.
	Get(ctx context.Context, key types.Key) (types.Record, error)
	// Put stores the record. Storing a record whose key already exists is a no-op.
	Put(ctx context.Context, rec types.Record) error
	// ListKeysInWindow enumerates the keys of the records whose timestamp falls into
	// the window.
	ListKeysInWindow(ctx context.Context, w types.Window) iter.Seq2[types.Key, error]
	// CountInWindow returns the number of records whose timestamp falls into the window.
	CountInWindow(ctx context.Context, w types.Window) (int, error)
}

// Network is an unreliable datagram transport between peers.
type Network interface {
	// Send sends msg to the peer. Delivery is best-effort, an error is returned only
	// on obvious local failures.
	Send(ctx context.Context, to types.PeerID, msg []byte) error
	// Receive blocks until a message arrives. It returns false on shutdown.
	Receive(ctx context.Context) (types.PeerID, []byte, bool)
}

// Validator decides whether a record received from a peer can be trusted.
type Validator interface {
	Validate(key types.Key, value []byte) bool
}
