// Package miner implements block production for the agriblock chain.
package miner

import (
	"errors"
	"fmt"
	"time"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/config"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/chain"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/log"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/block"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/tx"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// ErrNotSelected is returned when another validator owns the next height.
var ErrNotSelected = errors.New("local validator is not the selected producer")

// ChainState builds candidate blocks against the canonical tip.
type ChainState interface {
	NextProducer(timestamp int64) (types.PublicKey, chain.Tip, error)
	BuildBlock(producer types.PublicKey, timestamp int64, candidates []*tx.Transaction) (*block.Block, []chain.Skipped, error)
}

// Sealer signs a block as the local validator.
type Sealer interface {
	Seal(blk *block.Block) error
}

// MempoolSelector selects transactions for block inclusion.
type MempoolSelector interface {
	SelectForBlock(limit int) []*tx.Transaction
	Remove(id types.Hash)
}

// Miner produces new blocks.
type Miner struct {
	chain       ChainState
	sealer      Sealer
	pool        MempoolSelector
	validator   types.PublicKey
	maxBlockTxs int
}

// New creates a new block producer for the validator key.
func New(c ChainState, sealer Sealer, pool MempoolSelector, validator types.PublicKey) *Miner {
	return &Miner{
		chain:       c,
		sealer:      sealer,
		pool:        pool,
		validator:   validator,
		maxBlockTxs: config.MaxBlockTxs,
	}
}

// SetMaxBlockTxs caps the transactions taken from the pool per block.
func (m *Miner) SetMaxBlockTxs(n int) {
	if n > 0 && n <= config.MaxBlockTxs {
		m.maxBlockTxs = n
	}
}

// Validator returns the key blocks are produced under.
func (m *Miner) Validator() types.PublicKey { return m.validator }

// IsSelected reports whether the local validator owns the next block at
// the current time.
func (m *Miner) IsSelected() (bool, error) {
	producer, _, err := m.chain.NextProducer(time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	return producer == m.validator, nil
}

// ProduceBlock builds and seals a block using the current time.
// The block is NOT applied to the chain; the caller must call ProcessBlock.
func (m *Miner) ProduceBlock() (*block.Block, error) {
	return m.ProduceBlockAt(time.Now().UnixMilli())
}

// ProduceBlockAt builds and seals a block with the given timestamp (unix
// milliseconds). The local validator must own the slot of that timestamp.
// Pool transactions that fail execution are dropped from the pool.
func (m *Miner) ProduceBlockAt(timestamp int64) (*block.Block, error) {
	producer, tip, err := m.chain.NextProducer(timestamp)
	if err != nil {
		return nil, fmt.Errorf("select producer: %w", err)
	}
	if producer != m.validator {
		return nil, fmt.Errorf("%w: height %d belongs to %s", ErrNotSelected, tip.Height+1, producer.Short())
	}

	var selected []*tx.Transaction
	if m.pool != nil {
		selected = m.pool.SelectForBlock(m.maxBlockTxs)
	}

	blk, skipped, err := m.chain.BuildBlock(producer, timestamp, selected)
	if err != nil {
		return nil, fmt.Errorf("build block: %w", err)
	}
	for _, s := range skipped {
		if errors.Is(s.Err, block.ErrBlockTooLarge) {
			continue
		}
		if m.pool != nil {
			m.pool.Remove(s.Tx.ID)
		}
		log.Miner.Debug().Err(s.Err).Str("tx", s.Tx.ID.String()).Msg("Dropping unexecutable transaction")
	}

	if err := m.sealer.Seal(blk); err != nil {
		return nil, fmt.Errorf("seal block: %w", err)
	}

	log.Miner.Debug().
		Uint64("height", blk.Height).
		Int("txs", len(blk.Transactions)).
		Int("skipped", len(skipped)).
		Msg("Block produced")
	return blk, nil
}
