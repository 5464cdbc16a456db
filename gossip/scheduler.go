package gossip

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spacemeshos/go-ibltsync/log"
	"github.com/spacemeshos/go-ibltsync/types"
)

func (n *Node) runScheduler(ctx context.Context) {
	ticker := n.clock.NewTicker(n.cfg.RoundInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			n.schedule(ctx)
		}
	}
}

// selectPeers picks the peers contacted in this pass. Peers in backoff and peers
// contacted less than PeerInterval ago are skipped.
func (n *Node) selectPeers() []types.PeerID {
	gate := func(peer types.PeerID) *IntervalGate {
		g, ok := n.peerGates[peer]
		if !ok {
			g = NewIntervalGate(n.clock, n.cfg.PeerInterval)
			n.peerGates[peer] = g
		}
		return g
	}
	selected := n.peers.SelectBest(n.cfg.PeersPerRound, func(peer types.PeerID) bool {
		return n.backoff.has(peer) || !gate(peer).Ready()
	})
	for _, peer := range selected {
		gate(peer).Allow()
	}
	for peer := range n.peerGates {
		if !n.peers.Contains(peer) {
			delete(n.peerGates, peer)
		}
	}
	return selected
}

// schedule runs a round with each selected peer and waits for them to finish.
func (n *Node) schedule(ctx context.Context) {
	selected := n.selectPeers()
	if len(selected) == 0 {
		return
	}
	var eg errgroup.Group
	eg.SetLimit(n.cfg.MaxConcurrentRounds)
	for _, peer := range selected {
		eg.Go(func() error {
			if err := n.limiter.Wait(ctx); err != nil {
				return nil
			}
			result, err := n.SyncPeer(ctx, peer)
			switch {
			case err == nil:
				n.logger.Debug("round completed", zap.Object("result", &result))
			case errors.Is(err, context.Canceled):
			case errors.Is(err, ErrBusy), errors.Is(err, ErrBackoff):
				n.logger.Debug("round skipped", log.ZShortStringer("peer", peer), zap.Error(err))
			default:
				n.logger.Info("round failed",
					log.ZShortStringer("peer", peer),
					zap.Object("result", &result),
					zap.Error(err))
			}
			return nil
		})
	}
	eg.Wait()
}
