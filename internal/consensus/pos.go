package consensus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/config"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/block"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/crypto"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// PoS errors.
var (
	ErrNoAllowedPeers = errors.New("allowed validator set is empty")
	ErrNotAllowed     = errors.New("key is not in the allowed validator set")
	ErrNoSigner       = errors.New("no signer configured")
	ErrWrongProducer  = fmt.Errorf("%w: producer is not the selected validator", types.ErrInvalidBlockStructural)
)

// PoS selects one producer per height by stake weight among the allowed
// validators. When the selected producer lets a slot pass without a block,
// the next validator in the producer order takes over.
type PoS struct {
	mu      sync.RWMutex
	allowed []types.PublicKey
	signer  crypto.Signer
	slot    time.Duration
}

// NewPoS creates an engine over the ALLOWED_PEERS keys.
func NewPoS(allowed []types.PublicKey) (*PoS, error) {
	if len(allowed) == 0 {
		return nil, ErrNoAllowedPeers
	}
	keys := make([]types.PublicKey, len(allowed))
	copy(keys, allowed)
	types.SortPublicKeys(keys)
	return &PoS{allowed: keys, slot: config.DefaultProducerSlot}, nil
}

// SetSlot sets the producer slot length. Zero restores the default.
func (p *PoS) SetSlot(d time.Duration) {
	if d <= 0 {
		d = config.DefaultProducerSlot
	}
	p.mu.Lock()
	p.slot = d
	p.mu.Unlock()
}

// Slot returns the producer slot length.
func (p *PoS) Slot() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.slot
}

// SetSigner sets the local key used by Seal. It must be an allowed key.
func (p *PoS) SetSigner(s crypto.Signer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.isAllowed(s.PublicKey()) {
		return ErrNotAllowed
	}
	p.signer = s
	return nil
}

// Signer returns the local key, or nil.
func (p *PoS) Signer() crypto.Signer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.signer
}

// Allowed returns a copy of the allowed set in key order.
func (p *PoS) Allowed() []types.PublicKey {
	out := make([]types.PublicKey, len(p.allowed))
	copy(out, p.allowed)
	return out
}

// IsAllowed reports whether k is in the allowed set.
func (p *PoS) IsAllowed(k types.PublicKey) bool {
	return p.isAllowed(k)
}

func (p *PoS) isAllowed(k types.PublicKey) bool {
	for _, a := range p.allowed {
		if a == k {
			return true
		}
	}
	return false
}

// SelectAt returns the producer of a block at timestamp. Slot n, counted
// from parentTime, belongs to entry n of the producer order, wrapping
// around once every candidate has had a slot.
func (p *PoS) SelectAt(prevHash types.Hash, height uint64, parentTime, timestamp int64, src StakeSource) (types.PublicKey, error) {
	candidates, err := Snapshot(p.allowed, src)
	if err != nil {
		return types.PublicKey{}, err
	}
	order, err := ProducerOrder(prevHash, height, candidates)
	if err != nil {
		return types.PublicKey{}, err
	}
	slot := SlotIndex(parentTime, timestamp, p.Slot())
	return order[slot%uint64(len(order))], nil
}

// VerifyHeader checks that the producer owns the slot of the block
// timestamp and that it signed the block hash.
func (p *PoS) VerifyHeader(blk *block.Block, parentTime int64, src StakeSource) error {
	sel, err := p.SelectAt(blk.PreviousHash, blk.Height, parentTime, blk.Timestamp, src)
	if err != nil {
		return fmt.Errorf("%w: select producer: %v", types.ErrInvalidBlockStructural, err)
	}
	if sel != blk.Producer {
		return fmt.Errorf("%w: height %d slot %d want %s, got %s", ErrWrongProducer, blk.Height,
			SlotIndex(parentTime, blk.Timestamp, p.Slot()), sel.Short(), blk.Producer.Short())
	}
	return blk.VerifySignature()
}

// Seal signs blk with the local key. blk.Producer must be the local key.
func (p *PoS) Seal(blk *block.Block) error {
	s := p.Signer()
	if s == nil {
		return ErrNoSigner
	}
	return blk.Seal(s)
}

// Weight returns the fork-choice weight a block by producer contributes:
// the producer's active stake in the parent state.
func Weight(producer types.PublicKey, src StakeSource) (*uint256.Int, error) {
	w, err := src.ActiveStake(producer)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return new(uint256.Int), nil
	}
	return new(uint256.Int).Set(w), nil
}
