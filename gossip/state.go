package gossip

import (
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/spacemeshos/go-ibltsync/types"
)

// PeerState is the state of the connection with a peer.
type PeerState int

const (
	StateDisconnected PeerState = iota
	StateConnecting
	StateSyncing
	StateIdle
)

func (s PeerState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSyncing:
		return "syncing"
	case StateIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// validTransition returns true if the connection may move from one state to another.
// Idle peers go back to Connecting when a new round starts.
func validTransition(from, to PeerState) bool {
	switch from {
	case StateDisconnected:
		return to == StateConnecting
	case StateConnecting:
		return to == StateSyncing || to == StateDisconnected
	case StateSyncing:
		return to == StateIdle || to == StateDisconnected
	case StateIdle:
		return to == StateConnecting || to == StateDisconnected
	}
	return false
}

// PeerInfo is a snapshot of the session with a peer.
type PeerInfo struct {
	ID          types.PeerID   `json:"id"`
	State       string         `json:"state"`
	LastContact time.Time      `json:"last_contact"`
	Windows     []types.Window `json:"windows,omitempty"`
	Wants       int            `json:"wants"`
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (i *PeerInfo) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("id", i.ID.String())
	enc.AddString("state", i.State)
	enc.AddTime("last contact", i.LastContact)
	enc.AddInt("windows", len(i.Windows))
	enc.AddInt("wants", i.Wants)
	return nil
}
