package peers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/natefinch/atomic"

	"github.com/spacemeshos/go-ibltsync/types"
)

const bookVersion = 1

type bookEntry struct {
	ID          string    `cbor:"1,keyasint"`
	Success     int       `cbor:"2,keyasint"`
	Failures    int       `cbor:"3,keyasint"`
	Latency     int64     `cbor:"4,keyasint"`
	LastContact time.Time `cbor:"5,keyasint,omitempty"`
}

type book struct {
	Version       int         `cbor:"1,keyasint"`
	GlobalLatency int64       `cbor:"2,keyasint"`
	Peers         []bookEntry `cbor:"3,keyasint"`
}

var encMode = func() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Persist writes the peer set to w.
func (p *Peers) Persist(w io.Writer) error {
	p.mu.Lock()
	b := book{
		Version:       bookVersion,
		GlobalLatency: int64(p.globalLatency),
		Peers:         make([]bookEntry, 0, len(p.peers)),
	}
	for _, d := range p.peers {
		b.Peers = append(b.Peers, bookEntry{
			ID:          string(d.id),
			Success:     d.success,
			Failures:    d.failures,
			Latency:     int64(d.averageLatency),
			LastContact: d.lastContact,
		})
	}
	p.mu.Unlock()
	return encMode.NewEncoder(w).Encode(&b)
}

// Recover adds the peers read from r to the set. Peers that are already known keep
// their current statistics.
func (p *Peers) Recover(r io.Reader) error {
	var b book
	if err := cbor.NewDecoder(r).Decode(&b); err != nil {
		return fmt.Errorf("decode peer book: %w", err)
	}
	if b.Version != bookVersion {
		return fmt.Errorf("unsupported peer book version %d", b.Version)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.globalLatency == 0 {
		p.globalLatency = float64(b.GlobalLatency)
	}
	for _, e := range b.Peers {
		id := types.PeerID(e.ID)
		if _, exist := p.peers[id]; exist || id == "" {
			continue
		}
		d := &data{
			id:             id,
			success:        e.Success,
			failures:       e.Failures,
			averageLatency: float64(e.Latency),
			lastContact:    e.LastContact,
		}
		if d.success+d.failures > 0 {
			d.failRate = float64(d.failures) / float64(d.success+d.failures)
		}
		p.peers[id] = d
	}
	return nil
}

// SaveFile atomically replaces the file at path with the persisted peer set.
func (p *Peers) SaveFile(path string) error {
	var buf bytes.Buffer
	if err := p.Persist(&buf); err != nil {
		return err
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("write peer book %s: %w", path, err)
	}
	return nil
}

// LoadFile recovers the peer set from the file at path. A missing file is not an error.
func (p *Peers) LoadFile(path string) error {
	f, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("open peer book: %w", err)
	}
	defer f.Close()
	return p.Recover(f)
}
