// Package mempool manages pending transactions waiting for block inclusion.
package mempool

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/log"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/tx"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// Mempool errors. Nonce and duplicate errors classify as
// types.ErrNonceConflict.
var (
	ErrAlreadyExists  = fmt.Errorf("%w: transaction already in mempool", types.ErrNonceConflict)
	ErrCommitted      = fmt.Errorf("%w: transaction already committed", types.ErrNonceConflict)
	ErrNonceMismatch  = fmt.Errorf("%w: unexpected nonce", types.ErrNonceConflict)
	ErrReplacementFee = fmt.Errorf("%w: replacement needs a strictly higher fee", types.ErrNonceConflict)
	ErrPoolFull       = errors.New("mempool is full")
	ErrFeeTooLow      = errors.New("transaction fee below minimum")
)

// ChainState is the committed state the pool admits against.
type ChainState interface {
	AccountNonce(types.PublicKey) (uint64, error)
	HasTransaction(types.Hash) (bool, error)
}

// entry wraps a transaction with its fee.
type entry struct {
	tx  *tx.Transaction
	fee *uint256.Int
}

// Pool holds unconfirmed transactions, chained per sender by nonce.
type Pool struct {
	mu       sync.RWMutex
	txs      map[types.Hash]*entry                     // id -> entry
	bySender map[types.PublicKey]map[uint64]*entry // sender -> nonce -> entry
	maxSize  int
	state    ChainState
	policy   *Policy
}

// New creates a pool over the committed chain state.
func New(state ChainState, maxSize int, policy *Policy) *Pool {
	if maxSize <= 0 {
		maxSize = 5000
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Pool{
		txs:      make(map[types.Hash]*entry),
		bySender: make(map[types.PublicKey]map[uint64]*entry),
		maxSize:  maxSize,
		state:    state,
		policy:   policy,
	}
}

// Add validates and admits a transaction. A transaction whose sender
// already has a pooled transaction with the same nonce replaces it only
// when it pays a strictly higher fee; otherwise the nonce must be the next
// one after both the committed nonce and the sender's pooled nonces.
func (p *Pool) Add(transaction *tx.Transaction) error {
	if err := p.policy.Check(transaction); err != nil {
		return err
	}
	if err := transaction.Check(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.txs[transaction.ID]; exists {
		return ErrAlreadyExists
	}
	committed, err := p.state.HasTransaction(transaction.ID)
	if err != nil {
		return fmt.Errorf("check committed: %w", err)
	}
	if committed {
		return ErrCommitted
	}

	chainNonce, err := p.state.AccountNonce(transaction.From)
	if err != nil {
		return fmt.Errorf("account nonce: %w", err)
	}
	if transaction.Nonce <= chainNonce {
		return fmt.Errorf("%w: nonce %d already used (account nonce %d)", ErrNonceMismatch, transaction.Nonce, chainNonce)
	}

	e := &entry{tx: transaction, fee: transaction.FeeOrZero()}
	queue := p.bySender[transaction.From]
	if old, ok := queue[transaction.Nonce]; ok {
		if !e.fee.Gt(old.fee) {
			return fmt.Errorf("%w: pooled fee %s, offered %s", ErrReplacementFee, old.fee.Dec(), e.fee.Dec())
		}
		p.removeLocked(old.tx.ID)
		p.insertLocked(e)
		log.Mempool.Debug().
			Str("old", old.tx.ID.String()).
			Str("new", transaction.ID.String()).
			Uint64("nonce", transaction.Nonce).
			Msg("Transaction replaced")
		return nil
	}

	expected := chainNonce + 1
	if top := highestNonce(queue); top >= expected {
		expected = top + 1
	}
	if transaction.Nonce != expected {
		return fmt.Errorf("%w: expected %d, got %d", ErrNonceMismatch, expected, transaction.Nonce)
	}

	if len(p.txs) >= p.maxSize && !p.evictLocked(e) {
		return ErrPoolFull
	}
	p.insertLocked(e)
	return nil
}

func highestNonce(queue map[uint64]*entry) uint64 {
	var top uint64
	for n := range queue {
		if n > top {
			top = n
		}
	}
	return top
}

func (p *Pool) insertLocked(e *entry) {
	p.txs[e.tx.ID] = e
	queue, ok := p.bySender[e.tx.From]
	if !ok {
		queue = make(map[uint64]*entry)
		p.bySender[e.tx.From] = queue
	}
	queue[e.tx.Nonce] = e
}

// Remove removes a transaction from the mempool by id.
func (p *Pool) Remove(id types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(id)
}

func (p *Pool) removeLocked(id types.Hash) {
	e, exists := p.txs[id]
	if !exists {
		return
	}
	delete(p.txs, id)
	queue := p.bySender[e.tx.From]
	delete(queue, e.tx.Nonce)
	if len(queue) == 0 {
		delete(p.bySender, e.tx.From)
	}
}

// RemoveConfirmed removes all transactions that were included in a block.
func (p *Pool) RemoveConfirmed(transactions []*tx.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range transactions {
		p.removeLocked(t.ID)
	}
}

// Has checks if a transaction exists in the mempool.
func (p *Pool) Has(id types.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, exists := p.txs[id]
	return exists
}

// Get retrieves a transaction from the mempool.
func (p *Pool) Get(id types.Hash) *tx.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, exists := p.txs[id]
	if !exists {
		return nil
	}
	return e.tx
}

// Count returns the number of transactions in the mempool.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.txs)
}

// Senders returns the number of accounts with pending transactions.
func (p *Pool) Senders() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.bySender)
}

// Hashes returns the ids of all transactions in the mempool.
func (p *Pool) Hashes() []types.Hash {
	p.mu.RLock()
	defer p.mu.RUnlock()
	hashes := make([]types.Hash, 0, len(p.txs))
	for h := range p.txs {
		hashes = append(hashes, h)
	}
	return hashes
}

// Pending returns the pooled transactions of one sender in nonce order.
func (p *Pool) Pending(sender types.PublicKey) []*tx.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return sortedQueue(p.bySender[sender])
}

// PendingNonce returns the highest pooled nonce of sender, or 0.
func (p *Pool) PendingNonce(sender types.PublicKey) uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return highestNonce(p.bySender[sender])
}

func sortedQueue(queue map[uint64]*entry) []*tx.Transaction {
	out := make([]*tx.Transaction, 0, len(queue))
	for _, e := range queue {
		out = append(out, e.tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nonce < out[j].Nonce })
	return out
}

// SelectForBlock returns up to limit transactions. Each sender's
// transactions stay in nonce order; across senders the next transaction
// with the highest fee goes first, ties broken by lower id.
func (p *Pool) SelectForBlock(limit int) []*tx.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	queues := make([][]*tx.Transaction, 0, len(p.bySender))
	for _, q := range p.bySender {
		queues = append(queues, sortedQueue(q))
	}

	var result []*tx.Transaction
	for len(result) < limit {
		best := -1
		for i, q := range queues {
			if len(q) == 0 {
				continue
			}
			if best < 0 || better(q[0], queues[best][0]) {
				best = i
			}
		}
		if best < 0 {
			break
		}
		result = append(result, queues[best][0])
		queues[best] = queues[best][1:]
	}
	return result
}

func better(a, b *tx.Transaction) bool {
	if c := a.FeeOrZero().Cmp(b.FeeOrZero()); c != 0 {
		return c > 0
	}
	return a.ID.Less(b.ID)
}

// Reinject re-admits transactions from blocks that left the canonical
// chain, in order. It returns how many were accepted.
func (p *Pool) Reinject(transactions []*tx.Transaction) int {
	n := 0
	for _, t := range transactions {
		if err := p.Add(t); err != nil {
			log.Mempool.Debug().Err(err).Str("tx", t.ID.String()).Msg("Reverted transaction dropped")
			continue
		}
		n++
	}
	return n
}
