package node

import (
	"errors"
	"time"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/config"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/chain"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/p2p"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// requestChain asks peer for canonical blocks starting at from, at most
// once per cooldown per peer.
func (n *Node) requestChain(peer types.PublicKey, from uint64) {
	if last, ok := n.lastRequest[peer]; ok && time.Since(last) < chainRequestCooldown {
		return
	}
	n.sendChainRequest(peer, from)
}

func (n *Node) sendChainRequest(peer types.PublicKey, from uint64) {
	if from == 0 {
		from = 1
	}
	if err := n.net.RequestChain(peer, from); err != nil {
		n.logger.Debug().Err(err).Str("peer", peer.Short()).Msg("Chain request not sent")
		return
	}
	n.lastRequest[peer] = time.Now()
}

// syncWithBestPeer requests the missing range from the highest peer when
// it is ahead of the local tip.
func (n *Node) syncWithBestPeer() {
	peer, height, err := n.net.BestPeer()
	if err != nil {
		return
	}
	local := n.ch.Height()
	if height <= local {
		return
	}
	n.logger.Debug().
		Str("peer", peer.Short()).
		Uint64("local", local).
		Uint64("remote", height).
		Msg("Behind best peer, requesting blocks")
	n.requestChain(peer, local+1)
}

// handleChainResponse applies a batch of blocks in order. A batch whose
// first block does not attach to any known block means the peer is on a
// fork below our request point, so the request walks back one batch at a
// time, bounded by the maximum reorg depth.
func (n *Node) handleChainResponse(from types.PublicKey, cr *p2p.ChainResponse) {
	if len(cr.Blocks) == 0 {
		return
	}
	first := cr.Blocks[0]
	if first.Height > 0 && !n.ch.HasBlock(first.PreviousHash) {
		n.walkBack(from, first.Height)
		return
	}

	var (
		applied int
		last    uint64
	)
	for _, blk := range cr.Blocks {
		if blk == nil {
			n.net.Bans().RecordOffense(from, p2p.PenaltyMalformed, "nil block in chain response")
			return
		}
		if _, err := n.acceptBlock(blk, from, false); err != nil && !errors.Is(err, chain.ErrBlockKnown) {
			n.logger.Warn().
				Err(err).
				Str("peer", from.Short()).
				Uint64("height", blk.Height).
				Msg("Chain response stopped at invalid block")
			return
		}
		applied++
		last = blk.Height
	}

	n.logger.Info().
		Str("peer", from.Short()).
		Int("blocks", applied).
		Uint64("height", n.ch.Height()).
		Uint64("remote", cr.TipHeight).
		Msg("Synced blocks from peer")

	if cr.TipHeight > last && n.cfg.EnableChainRequest {
		n.sendChainRequest(from, last+1)
	}
}

func (n *Node) walkBack(from types.PublicKey, height uint64) {
	next := uint64(1)
	if height > p2p.MaxChainResponseBlocks+1 {
		next = height - p2p.MaxChainResponseBlocks
	}
	if tip := n.ch.Height(); tip > next && tip-next > config.MaxReorgDepth {
		n.logger.Warn().
			Str("peer", from.Short()).
			Uint64("tip", tip).
			Uint64("from", next).
			Msg("Peer fork is deeper than the reorg limit, ignoring")
		return
	}
	if next == height {
		return
	}
	n.logger.Info().Str("peer", from.Short()).Uint64("from", next).Msg("Unknown ancestor, requesting earlier blocks")
	n.sendChainRequest(from, next)
}
