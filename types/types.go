// Package types holds the data model shared by the sketch, the wire protocol and the
// gossip node.
package types

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap/zapcore"
)

// Key identifies a record. All keys handled by a node have the same size.
type Key []byte

// String implements fmt.Stringer.
func (k Key) String() string {
	return hex.EncodeToString(k)
}

// ShortString returns the hex form of the first 5 bytes of the key.
func (k Key) ShortString() string {
	if len(k) < 5 {
		return k.String()
	}
	return hex.EncodeToString(k[:5])
}

// Clone returns a copy of the key.
func (k Key) Clone() Key {
	return slices.Clone(k)
}

// Equal returns true if both keys consist of the same bytes.
func (k Key) Equal(other Key) bool {
	return bytes.Equal(k, other)
}

// IsZero returns true if all bytes in the key are zero.
func (k Key) IsZero() bool {
	for _, b := range k {
		if b != 0 {
			return false
		}
	}
	return true
}

// Xor XORs other into the key in place. Both keys must have the same length.
func (k Key) Xor(other Key) {
	if len(k) != len(other) {
		panic("BUG: xor of keys with different lengths")
	}
	for n := range k {
		k[n] ^= other[n]
	}
}

// RandomKey generates a random key for testing.
func RandomKey(size int) Key {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		panic("failed to generate random key: " + err.Error())
	}
	return b
}

// HexToKey converts a hex string to Key.
func HexToKey(s string) Key {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic("bad hex key: " + err.Error())
	}
	return Key(b)
}

// Record is an immutable key/value pair. Timestamp is the creation time of the record
// and determines the time window the record belongs to on every node.
type Record struct {
	Key       Key
	Timestamp time.Time
	Value     []byte
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (r Record) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("key", r.Key.ShortString())
	enc.AddTime("timestamp", r.Timestamp)
	enc.AddInt("size", len(r.Value))
	return nil
}

// Window is a half-open time interval [Start, Start+Width).
type Window struct {
	Start time.Time
	Width time.Duration
}

// End returns the exclusive end of the window.
func (w Window) End() time.Time {
	return w.Start.Add(w.Width)
}

// Contains returns true if t falls within the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End())
}

// Prev returns the window immediately preceding this one.
func (w Window) Prev() Window {
	return Window{Start: w.Start.Add(-w.Width), Width: w.Width}
}

// ID returns the window start in unix milliseconds, which identifies the window among
// windows of the same width.
func (w Window) ID() int64 {
	return w.Start.UnixMilli()
}

// Equal returns true if both windows cover the same interval.
func (w Window) Equal(other Window) bool {
	return w.Start.Equal(other.Start) && w.Width == other.Width
}

// String implements fmt.Stringer.
func (w Window) String() string {
	return fmt.Sprintf("[%s, +%s)", w.Start.UTC().Format(time.RFC3339), w.Width)
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (w Window) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddTime("start", w.Start)
	enc.AddDuration("width", w.Width)
	return nil
}

// PeerID is the network address of a peer.
type PeerID string

// String implements fmt.Stringer.
func (p PeerID) String() string {
	return string(p)
}

// ShortString returns an abbreviated form of the peer ID suitable for logs.
func (p PeerID) ShortString() string {
	if len(p) <= 12 {
		return string(p)
	}
	return string(p[len(p)-12:])
}

// ErrNotFound is returned by record stores when a record doesn't exist.
var ErrNotFound = errors.New("record not found")

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	return Record{Key: r.Key.Clone(), Timestamp: r.Timestamp, Value: slices.Clone(r.Value)}
}
