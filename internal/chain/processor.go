package chain

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/config"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/consensus"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/log"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/storage"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/block"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/tx"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// Status describes what ProcessBlock did with a block.
type Status int

// Block outcomes.
const (
	// StatusExtended means the block was committed on top of the tip.
	StatusExtended Status = iota
	// StatusReorganized means the block completed a heavier branch that
	// replaced part of the canonical chain.
	StatusReorganized
	// StatusSide means the block is valid so far but its branch is not
	// heavier than the canonical chain.
	StatusSide
)

func (s Status) String() string {
	switch s {
	case StatusExtended:
		return "extended"
	case StatusReorganized:
		return "reorganized"
	case StatusSide:
		return "side"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result reports the effect of ProcessBlock.
type Result struct {
	Status Status
	// Connected are the blocks that became canonical, oldest first.
	Connected []*block.Block
	// Disconnected are the blocks that left the canonical chain, newest first.
	Disconnected []*block.Block
	// Reverted are transactions of disconnected blocks that the new
	// branch does not include. They may be resubmitted to the pool.
	Reverted []*tx.Transaction
}

// ProcessBlock takes a received block through structural validation,
// state re-execution and commit. A block whose parent is the tip extends
// the chain; one whose parent is elsewhere on a known branch enters fork
// choice. Blocks with an unknown parent return ErrUnknownParent so the
// caller can request the missing range.
func (c *Chain) ProcessBlock(blk *block.Block) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.Initialized() {
		return nil, ErrNotInitialized
	}
	if blk == nil {
		return nil, fmt.Errorf("%w: nil block", types.ErrInvalidBlockStructural)
	}
	if blk.Height == 0 {
		return nil, ErrGenesisBlock
	}
	if err := blk.Validate(); err != nil {
		return nil, err
	}
	if c.HasBlock(blk.Hash) {
		return nil, ErrBlockKnown
	}
	maxTime := c.now().Add(config.MaxFutureDrift).UnixMilli()
	if blk.Timestamp > maxTime {
		return nil, fmt.Errorf("%w: %d exceeds %d", ErrTimestampFuture, blk.Timestamp, maxTime)
	}

	tip := c.Tip()
	if blk.PreviousHash == tip.Hash {
		o, next, err := c.connectBlock(c.store, tip, blk)
		if err != nil {
			return nil, err
		}
		if err := c.commit(o, next); err != nil {
			return nil, err
		}
		log.Chain.Debug().
			Uint64("height", blk.Height).
			Str("hash", blk.Hash.String()).
			Int("txs", len(blk.Transactions)).
			Str("producer", blk.Producer.Short()).
			Msg("Block committed")
		return &Result{Status: StatusExtended, Connected: []*block.Block{blk}}, nil
	}

	if !c.HasBlock(blk.PreviousHash) {
		return nil, fmt.Errorf("%w: %s (height %d)", ErrUnknownParent, blk.PreviousHash, blk.Height-1)
	}
	c.sideBlocks.Add(blk.Hash, blk)
	return c.tryReorg(blk)
}

// connectBlock re-executes blk on top of parent in a scratch overlay over
// base. The returned overlay holds every row the block writes, including
// the block rows, the new tip and the undo record; nothing is committed.
func (c *Chain) connectBlock(base Reader, parent Tip, blk *block.Block) (*Overlay, Tip, error) {
	if blk.Height != parent.Height+1 {
		return nil, Tip{}, fmt.Errorf("%w: got %d, parent %d", ErrBadHeight, blk.Height, parent.Height)
	}
	if blk.PreviousHash != parent.Hash {
		return nil, Tip{}, fmt.Errorf("%w: got %s, parent %s", ErrBadPrevHash, blk.PreviousHash, parent.Hash)
	}
	if blk.Timestamp < parent.Timestamp {
		return nil, Tip{}, fmt.Errorf("%w: %d < %d", ErrTimestampBehind, blk.Timestamp, parent.Timestamp)
	}

	view := NewStateView(base)
	if err := c.engine.VerifyHeader(blk, parent.Timestamp, view); err != nil {
		return nil, Tip{}, err
	}
	weight, err := consensus.Weight(blk.Producer, view)
	if err != nil {
		return nil, Tip{}, err
	}

	o := NewOverlay(base)
	for i, t := range blk.Transactions {
		if err := executeTx(o, t, blk.Height, i, blk.Producer); err != nil {
			return nil, Tip{}, fmt.Errorf("%w: tx %d (%s): %w", types.ErrInvalidBlockState, i, t.ID, err)
		}
	}
	root := computeStateRoot(parent.StateRoot, o.Changes())
	if root != blk.StateRoot {
		return nil, Tip{}, fmt.Errorf("%w: block %s, computed %s", ErrStateRoot, blk.StateRoot, root)
	}

	next := Tip{
		Height:    blk.Height,
		Hash:      blk.Hash,
		Timestamp: blk.Timestamp,
		StateRoot: root,
		Weight:    new(uint256.Int).Add(types.AmountOrZero(parent.Weight), weight),
	}
	if err := putBlockRows(o, blk, next); err != nil {
		return nil, Tip{}, err
	}
	undo := &undoRecord{Hash: blk.Hash, Weight: weight, Changes: o.Undo()}
	if err := putJSON(o, storage.KeyspaceMeta, undoKey(blk.Height), undo); err != nil {
		return nil, Tip{}, err
	}
	return o, next, nil
}

// commit writes o in one store batch and moves the in-memory tip.
func (c *Chain) commit(o *Overlay, tip Tip) error {
	b := storage.NewWriteBatch()
	o.Flush(b)
	if err := c.store.Write(b); err != nil {
		if !errors.Is(err, types.ErrBatchFailure) {
			err = fmt.Errorf("%w: %w", types.ErrBatchFailure, err)
		}
		return err
	}
	c.setTip(tip)
	return nil
}
