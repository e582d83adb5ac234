package p2p

import (
	"errors"
	"fmt"

	klog "github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/log"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/block"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/tx"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// ErrNoPeers is returned when a request has nobody to go to.
var ErrNoPeers = errors.New("no connected peers")

// ErrPeerNotConnected is returned when sending to an unknown peer.
var ErrPeerNotConnected = errors.New("peer not connected")

// BroadcastBlock gossips b to every peer except the one it came from.
// Delivery is fire-and-forget.
func (n *Node) BroadcastBlock(b *block.Block, except types.PublicKey) error {
	n.markSeen(b.Hash)
	m, err := NewMessage(MsgBlockBroadcast, BlockBroadcast{Block: b})
	if err != nil {
		return err
	}
	n.broadcast(m, except)
	return nil
}

// BroadcastTx gossips t to every peer except the one it came from.
func (n *Node) BroadcastTx(t *tx.Transaction, except types.PublicKey) error {
	n.markSeen(t.Hash())
	m, err := NewMessage(MsgTxBroadcast, TxBroadcast{Transaction: t})
	if err != nil {
		return err
	}
	n.broadcast(m, except)
	return nil
}

// broadcast enqueues m on each peer. A full queue is retried a bounded
// number of times, paced by the shared retry limiter.
func (n *Node) broadcast(m Message, except types.PublicKey) {
	n.mu.RLock()
	targets := make([]*Peer, 0, len(n.peers))
	for k, p := range n.peers {
		if k != except {
			targets = append(targets, p)
		}
	}
	n.mu.RUnlock()

	for _, p := range targets {
		if p.trySend(m) {
			continue
		}
		go n.retrySend(p, m)
	}
}

func (n *Node) retrySend(p *Peer, m Message) {
	for i := 0; i < n.cfg.BroadcastRetries; i++ {
		if err := n.retry.Wait(n.ctx); err != nil {
			return
		}
		if p.closed() {
			return
		}
		if p.trySend(m) {
			return
		}
	}
	klog.P2P.Warn().
		Str("peer", p.Key.Short()).
		Str("type", string(m.Type)).
		Int("retries", n.cfg.BroadcastRetries).
		Msg("Dropping message, peer send queue full")
}

// RequestChain sends CHAIN_REQUEST{from} to key.
func (n *Node) RequestChain(key types.PublicKey, from uint64) error {
	p := n.peer(key)
	if p == nil {
		return fmt.Errorf("%w: %s", ErrPeerNotConnected, key.Short())
	}
	m, err := NewMessage(MsgChainRequest, ChainRequest{FromHeight: from})
	if err != nil {
		return err
	}
	if !p.trySend(m) {
		return fmt.Errorf("chain request to %s: send queue full", key.Short())
	}
	klog.P2P.Debug().Str("peer", key.Short()).Uint64("from", from).Msg("Chain requested")
	return nil
}

// BestPeer returns the connected peer with the highest announced height.
// Ties go to the lower key.
func (n *Node) BestPeer() (types.PublicKey, uint64, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	var (
		best   types.PublicKey
		height uint64
		found  bool
	)
	for k, p := range n.peers {
		h := p.Height()
		if !found || h > height || (h == height && k.Compare(best) < 0) {
			best, height, found = k, h, true
		}
	}
	if !found {
		return types.PublicKey{}, 0, ErrNoPeers
	}
	return best, height, nil
}

// serveChainRequest answers from the canonical chain on the requesting
// peer's read goroutine. Block reads are snapshot reads.
func (n *Node) serveChainRequest(p *Peer, m Message) {
	if n.cfg.Blocks == nil {
		return
	}
	var req ChainRequest
	if err := m.Decode(&req); err != nil {
		n.bans.RecordOffense(p.Key, PenaltyMalformed, "malformed chain request")
		return
	}
	height, _ := n.cfg.Status()
	blocks, err := n.cfg.Blocks(req.FromHeight, MaxChainResponseBlocks)
	if err != nil {
		klog.P2P.Warn().Err(err).Uint64("from", req.FromHeight).Msg("Chain request failed")
		return
	}
	resp, err := NewMessage(MsgChainResponse, ChainResponse{Blocks: blocks, TipHeight: height})
	if err != nil {
		return
	}
	if !p.trySend(resp) {
		go n.retrySend(p, resp)
	}
}
