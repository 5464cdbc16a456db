// Package wire defines the messages exchanged by the reconciliation protocol and their
// binary encoding.
//
// Every message is a frame:
//
//	uvarint(length) | kind | flags | uvarint(round) | body
//
// where length covers everything after the length prefix. All lengths and counts in
// the body are varint-encoded, keys and checksums are fixed-width.
package wire

import (
	"errors"
	"fmt"

	"github.com/spacemeshos/go-ibltsync/codec"
)

// Version is the protocol version spoken by this implementation.
const Version = 1

// DefaultMaxMessageSize is the default limit on the length of a frame.
const DefaultMaxMessageSize = 4 << 20

// MinMessageSize is the smallest message size limit a peer may announce.
const MinMessageSize = 1 << 10

// headerOverhead is the maximum size of the length prefix and the header.
const headerOverhead = 2*codec.MaxVarintLen + 2

var (
	// ErrMalformed is returned for messages that can't be parsed.
	ErrMalformed = errors.New("wire: malformed message")
	// ErrMessageTooLarge is returned for messages exceeding the maximum message size.
	ErrMessageTooLarge = errors.New("wire: message too large")
	// ErrVersion is returned when the peer speaks an incompatible protocol.
	ErrVersion = errors.New("wire: incompatible protocol")
)

// Kind is the message kind.
type Kind byte

const (
	KindHello Kind = iota + 1
	KindBucketSummary
	KindWantList
	KindRecordPush
	KindKeyList
	KindDone
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "hello"
	case KindBucketSummary:
		return "bucket-summary"
	case KindWantList:
		return "want-list"
	case KindRecordPush:
		return "record-push"
	case KindKeyList:
		return "key-list"
	case KindDone:
		return "done"
	default:
		return fmt.Sprintf("<unknown %d>", byte(k))
	}
}

// Flags carry per-message bits.
type Flags byte

const (
	// FlagReply is set on messages that belong to a round initiated by the receiver.
	FlagReply Flags = 1 << iota

	knownFlags = FlagReply
)

// Header precedes the body of every message.
type Header struct {
	Kind  Kind
	Flags Flags
	// Round identifies the round among the rounds started by the initiating side.
	Round uint64
}

// IsReply returns true if FlagReply is set.
func (h Header) IsReply() bool {
	return h.Flags&FlagReply != 0
}

// Message is a protocol message.
type Message interface {
	Kind() Kind
	encode(e *encoder)
	decode(d *codec.Decoder, c *Codec) error
}

// Codec encodes and decodes messages for a given key size and message size limit.
type Codec struct {
	// KeySize is the size of the keys.
	KeySize int
	// MaxMessageSize limits the length of a frame, excluding its length prefix.
	MaxMessageSize int
}

// Encode encodes the message into a length-prefixed frame. ErrMessageTooLarge is
// returned if the message doesn't fit into MaxMessageSize.
func (c *Codec) Encode(h Header, m Message) ([]byte, error) {
	h.Kind = m.Kind()
	e := &encoder{keySize: c.KeySize}
	e.byte(byte(h.Kind))
	e.byte(byte(h.Flags))
	e.uvarint(h.Round)
	m.encode(e)
	if e.err != nil {
		return nil, fmt.Errorf("encode %s: %w", h.Kind, e.err)
	}
	if len(e.buf) > c.MaxMessageSize {
		return nil, fmt.Errorf("%w: %s of %d bytes, limit %d",
			ErrMessageTooLarge, h.Kind, len(e.buf), c.MaxMessageSize)
	}
	return codec.AppendFrame(make([]byte, 0, len(e.buf)+codec.MaxVarintLen), e.buf)
}

// Decode parses a frame. The declared length is checked against MaxMessageSize before
// anything else is decoded. Keys and values in the returned message alias frame.
func (c *Codec) Decode(frame []byte) (Header, Message, error) {
	body, err := codec.SplitFrame(frame, c.MaxMessageSize)
	switch {
	case errors.Is(err, codec.ErrFrameTooLarge):
		return Header{}, nil, fmt.Errorf("%w: %w", ErrMessageTooLarge, err)
	case err != nil:
		return Header{}, nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	d := codec.NewDecoder(body)
	h, err := decodeHeader(d)
	if err != nil {
		return Header{}, nil, fmt.Errorf("%w: header: %w", ErrMalformed, err)
	}
	var m Message
	switch h.Kind {
	case KindHello:
		m = &Hello{}
	case KindBucketSummary:
		m = &BucketSummary{}
	case KindWantList:
		m = &WantList{}
	case KindRecordPush:
		m = &RecordPush{}
	case KindKeyList:
		m = &KeyList{}
	case KindDone:
		m = &Done{}
	default:
		return h, nil, fmt.Errorf("%w: unknown kind %d", ErrMalformed, h.Kind)
	}
	if err := m.decode(d, c); err != nil {
		return h, nil, fmt.Errorf("%w: %s: %w", ErrMalformed, h.Kind, err)
	}
	if err := d.Done(); err != nil {
		return h, nil, fmt.Errorf("%w: %s: %w", ErrMalformed, h.Kind, err)
	}
	return h, m, nil
}

func decodeHeader(d *codec.Decoder) (Header, error) {
	var h Header
	b, err := d.Byte()
	if err != nil {
		return h, err
	}
	h.Kind = Kind(b)
	b, err = d.Byte()
	if err != nil {
		return h, err
	}
	h.Flags = Flags(b)
	if h.Flags&^knownFlags != 0 {
		return h, fmt.Errorf("unknown flags %08b", b)
	}
	h.Round, err = d.Uvarint()
	return h, err
}

type encoder struct {
	buf     []byte
	keySize int
	err     error
}

func (e *encoder) byte(b byte) {
	e.buf = append(e.buf, b)
}

func (e *encoder) uvarint(v uint64) {
	if e.err != nil {
		return
	}
	e.buf, e.err = codec.AppendUvarint(e.buf, v)
}

func (e *encoder) varint(v int64) {
	if e.err != nil {
		return
	}
	e.buf, e.err = codec.AppendVarint(e.buf, v)
}

func (e *encoder) key(k []byte) {
	if e.err != nil {
		return
	}
	if len(k) != e.keySize {
		e.err = fmt.Errorf("key size %d, expected %d", len(k), e.keySize)
		return
	}
	e.buf = append(e.buf, k...)
}

func (e *encoder) bytes(b []byte) {
	e.uvarint(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) bool(v bool) {
	if v {
		e.byte(1)
	} else {
		e.byte(0)
	}
}

func decodeBool(d *codec.Decoder) (bool, error) {
	b, err := d.Byte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("bad bool %d", b)
	}
}
