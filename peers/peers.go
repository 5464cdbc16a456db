// Package peers keeps track of known peers and ranks them by responsiveness.
package peers

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/spacemeshos/go-ibltsync/types"
)

type data struct {
	id                types.PeerID
	success, failures int
	failRate          float64
	averageLatency    float64
	lastContact       time.Time
}

func (d *data) latency(global float64) float64 {
	if d.success+d.failures == 0 {
		return 0.9 * global // try out new peers first
	} else if d.success == 0 {
		return 1.1 * global
	}
	return d.averageLatency + d.failRate*global
}

func (d *data) less(other *data, global float64) bool {
	dl, ol := d.latency(global), other.latency(global)
	if dl != ol {
		return dl < ol
	}
	return strings.Compare(string(d.id), string(other.id)) == -1
}

// Peers is the set of known peers. It is safe for concurrent use.
type Peers struct {
	mu    sync.Mutex
	peers map[types.PeerID]*data

	// globalLatency is the average round latency over all peers. It is the reference
	// value for new peers and scales the penalty for failures.
	globalLatency float64
}

// New creates an empty peer set.
func New() *Peers {
	return &Peers{
		peers: map[types.PeerID]*data{},
	}
}

// Add adds the peer to the set. It returns false if the peer is already known.
func (p *Peers) Add(id types.PeerID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exist := p.peers[id]; exist {
		return false
	}
	p.peers[id] = &data{id: id}
	return true
}

// Delete removes the peer from the set.
func (p *Peers) Delete(id types.PeerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.peers, id)
}

// Contains returns true if the peer is known.
func (p *Peers) Contains(id types.PeerID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, exist := p.peers[id]
	return exist
}

// OnFailure records a failed round with the peer.
func (p *Peers) OnFailure(id types.PeerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	peer, exist := p.peers[id]
	if !exist {
		return
	}
	peer.failures++
	peer.failRate = float64(peer.failures) / float64(peer.success+peer.failures)
}

// OnSuccess records a completed round with the peer and updates the average peer and
// global round latency.
func (p *Peers) OnSuccess(id types.PeerID, latency time.Duration, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	peer, exist := p.peers[id]
	if !exist {
		return
	}
	peer.success++
	peer.lastContact = at
	peer.failRate = float64(peer.failures) / float64(peer.success+peer.failures)
	if peer.averageLatency != 0 {
		peer.averageLatency += (float64(latency) - peer.averageLatency) / 10
	} else {
		peer.averageLatency = float64(latency)
	}
	if p.globalLatency != 0 {
		p.globalLatency += (float64(latency) - p.globalLatency) / 25
	} else {
		p.globalLatency = float64(latency)
	}
}

// LastContact returns the time of the last successful round with the peer.
func (p *Peers) LastContact(id types.PeerID) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if peer, exist := p.peers[id]; exist {
		return peer.lastContact
	}
	return time.Time{}
}

// SelectBest selects at most n peers sorted by responsiveness and latency. Peers for
// which skip returns true are not considered; skip may be nil.
func (p *Peers) SelectBest(n int, skip func(types.PeerID) bool) []types.PeerID {
	p.mu.Lock()
	defer p.mu.Unlock()
	lth := min(len(p.peers), n)
	if lth <= 0 {
		return nil
	}
	best := make([]*data, 0, lth)
	for _, peer := range p.peers {
		if skip != nil && skip(peer.id) {
			continue
		}
		worst := peer
		for i := range best {
			if worst.less(best[i], p.globalLatency) {
				best[i], worst = worst, best[i]
			}
		}
		if len(best) < cap(best) {
			best = append(best, worst)
		}
	}
	if len(best) == 0 {
		return nil
	}
	rst := make([]types.PeerID, len(best))
	for i := range rst {
		rst[i] = best[i].id
	}
	return rst
}

// Total returns the number of known peers.
func (p *Peers) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.peers)
}

// Stats returns the statistics of the peer set, including the n best peers.
func (p *Peers) Stats(n int) Stats {
	best := p.SelectBest(n, nil)
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := Stats{
		Total:                len(p.peers),
		GlobalAverageLatency: time.Duration(p.globalLatency),
	}
	for _, id := range best {
		peer, exist := p.peers[id]
		if !exist {
			continue
		}
		stats.BestPeers = append(stats.BestPeers, PeerStats{
			ID:          peer.id,
			Success:     peer.success,
			Failures:    peer.failures,
			Latency:     time.Duration(peer.averageLatency),
			LastContact: peer.lastContact,
		})
	}
	return stats
}

// Stats is a snapshot of the peer set.
type Stats struct {
	Total                int           `json:"total"`
	GlobalAverageLatency time.Duration `json:"global_average_latency"`
	BestPeers            []PeerStats   `json:"best_peers"`
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (s *Stats) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("total", s.Total)
	enc.AddDuration("global average latency", s.GlobalAverageLatency)
	enc.AddArray("best peers", zapcore.ArrayMarshalerFunc(func(arrEnc zapcore.ArrayEncoder) error {
		for _, peer := range s.BestPeers {
			arrEnc.AppendObject(&peer)
		}
		return nil
	}))
	return nil
}

// PeerStats are the statistics of a single peer.
type PeerStats struct {
	ID          types.PeerID  `json:"id"`
	Success     int           `json:"success"`
	Failures    int           `json:"failures"`
	Latency     time.Duration `json:"latency"`
	LastContact time.Time     `json:"last_contact"`
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (p *PeerStats) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("id", p.ID.String())
	enc.AddInt("success", p.Success)
	enc.AddInt("failures", p.Failures)
	enc.AddDuration("latency", p.Latency)
	enc.AddTime("last contact", p.LastContact)
	return nil
}
