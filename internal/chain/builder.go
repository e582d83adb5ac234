package chain

import (
	"fmt"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/config"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/block"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/tx"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// Skipped is a candidate transaction left out of a built block.
type Skipped struct {
	Tx  *tx.Transaction
	Err error
}

// NextProducer returns the validator that owns the block after the tip at
// timestamp. A timestamp behind the tip is raised to it, as BuildBlock does.
func (c *Chain) NextProducer(timestamp int64) (types.PublicKey, Tip, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tip := c.Tip()
	if !c.Initialized() {
		return types.PublicKey{}, tip, ErrNotInitialized
	}
	if timestamp < tip.Timestamp {
		timestamp = tip.Timestamp
	}
	k, err := c.engine.SelectAt(tip.Hash, tip.Height+1, tip.Timestamp, timestamp, c.State())
	return k, tip, err
}

// BuildBlock assembles an unsealed block on top of the tip. Candidates are
// executed in order, each in its own scratch overlay; ones that fail are
// reported in skipped and left out. The timestamp is raised to the tip
// timestamp if it is behind.
func (c *Chain) BuildBlock(producer types.PublicKey, timestamp int64, candidates []*tx.Transaction) (*block.Block, []Skipped, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.Initialized() {
		return nil, nil, ErrNotInitialized
	}
	tip := c.Tip()
	if timestamp < tip.Timestamp {
		timestamp = tip.Timestamp
	}
	blk := &block.Block{
		Height:       tip.Height + 1,
		PreviousHash: tip.Hash,
		Timestamp:    timestamp,
		Producer:     producer,
	}

	o := NewOverlay(c.store)
	size := len(blk.SigningBytes())
	var skipped []Skipped
	for _, t := range candidates {
		if len(blk.Transactions) >= config.MaxBlockTxs {
			break
		}
		n := len(t.SigningBytes())
		if size+n > config.MaxBlockSize {
			skipped = append(skipped, Skipped{Tx: t, Err: fmt.Errorf("%w: no room in block", block.ErrBlockTooLarge)})
			continue
		}
		if err := t.Check(); err != nil {
			skipped = append(skipped, Skipped{Tx: t, Err: err})
			continue
		}
		child := NewOverlay(o)
		if err := executeTx(child, t, blk.Height, len(blk.Transactions), producer); err != nil {
			skipped = append(skipped, Skipped{Tx: t, Err: err})
			continue
		}
		if err := child.MergeInto(o); err != nil {
			return nil, nil, err
		}
		blk.Transactions = append(blk.Transactions, t)
		size += n
	}
	blk.StateRoot = computeStateRoot(tip.StateRoot, o.Changes())
	blk.TxRoot = block.TxRoot(blk.Transactions)
	return blk, skipped, nil
}
