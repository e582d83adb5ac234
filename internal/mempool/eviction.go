package mempool

import (
	"fmt"
	"sort"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/log"
)

// evictLocked makes room for incoming by dropping the cheapest transaction
// that ends another sender's nonce chain. It fails when no such
// transaction pays less than incoming.
func (p *Pool) evictLocked(incoming *entry) bool {
	var victim *entry
	for sender, queue := range p.bySender {
		if sender == incoming.tx.From {
			continue
		}
		tail := queue[highestNonce(queue)]
		if victim == nil || cheaper(tail, victim) {
			victim = tail
		}
	}
	if victim == nil || !victim.fee.Lt(incoming.fee) {
		return false
	}
	p.removeLocked(victim.tx.ID)
	log.Mempool.Debug().Str("tx", victim.tx.ID.String()).Msg("Transaction evicted for higher fee")
	return true
}

// Prune drops transactions the committed chain has made stale: nonces at
// or below the sender's committed nonce, committed ids, and anything no
// longer contiguous with the committed nonce. It returns how many were
// removed.
func (p *Pool) Prune() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	senders := make([]*entry, 0, len(p.bySender))
	for _, queue := range p.bySender {
		for _, e := range queue {
			senders = append(senders, e)
			break
		}
	}
	sort.Slice(senders, func(i, j int) bool {
		return senders[i].tx.From.Compare(senders[j].tx.From) < 0
	})

	removed := 0
	for _, s := range senders {
		from := s.tx.From
		chainNonce, err := p.state.AccountNonce(from)
		if err != nil {
			return removed, fmt.Errorf("account nonce: %w", err)
		}
		next := chainNonce + 1
		for _, t := range sortedQueue(p.bySender[from]) {
			committed, err := p.state.HasTransaction(t.ID)
			if err != nil {
				return removed, fmt.Errorf("check committed: %w", err)
			}
			if t.Nonce == next && !committed {
				next++
				continue
			}
			p.removeLocked(t.ID)
			removed++
		}
	}
	if removed > 0 {
		log.Mempool.Debug().Int("removed", removed).Int("remaining", len(p.txs)).Msg("Mempool pruned")
	}
	return removed, nil
}
