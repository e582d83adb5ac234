package chain

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/config"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/log"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/storage"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/block"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/tx"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// collectBranch walks from head back through side blocks to the first
// block whose parent is canonical. The branch is returned oldest first.
func (c *Chain) collectBranch(head *block.Block) ([]*block.Block, error) {
	branch := []*block.Block{head}
	cur := head
	for {
		canonical, err := c.blocks.HasBlock(cur.PreviousHash)
		if err != nil {
			return nil, err
		}
		if canonical {
			break
		}
		if len(branch) >= config.MaxReorgDepth {
			return nil, fmt.Errorf("%w: branch longer than %d", ErrReorgTooDeep, config.MaxReorgDepth)
		}
		parent, ok := c.sideBlocks.Peek(cur.PreviousHash)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownParent, cur.PreviousHash)
		}
		branch = append(branch, parent)
		cur = parent
	}
	for i, j := 0, len(branch)-1; i < j; i, j = i+1, j-1 {
		branch[i], branch[j] = branch[j], branch[i]
	}
	return branch, nil
}

// tryReorg runs fork choice for the branch ending at head. The canonical
// blocks above the fork point are reverted from their undo records and
// the branch is replayed on top, all inside one overlay. The heavier
// branch wins; on equal weight the branch whose first block has the
// lower hash wins. Adoption is a single store batch.
func (c *Chain) tryReorg(head *block.Block) (*Result, error) {
	branch, err := c.collectBranch(head)
	if err != nil {
		return nil, err
	}
	forkHeight, err := c.blocks.HeightOf(branch[0].PreviousHash)
	if err != nil {
		return nil, fmt.Errorf("%w: fork point: %w", types.ErrForkResolution, err)
	}
	tip := c.Tip()
	if tip.Height-forkHeight > config.MaxReorgDepth {
		return nil, fmt.Errorf("%w: %d blocks", ErrReorgTooDeep, tip.Height-forkHeight)
	}

	o := NewOverlay(c.store)
	oldWeight := new(uint256.Int)
	var disconnected []*block.Block
	for h := tip.Height; h > forkHeight; h-- {
		old, err := c.blocks.GetBlockByHeight(h)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrForkResolution, err)
		}
		undo, err := c.blocks.GetUndo(h)
		if err != nil {
			return nil, err
		}
		if undo.Hash != old.Hash {
			return nil, fmt.Errorf("%w: undo at %d is for %s", ErrMissingUndo, h, undo.Hash)
		}
		if err := o.Apply(undo.Changes); err != nil {
			return nil, err
		}
		if err := o.Delete(storage.KeyspaceMeta, undoKey(h)); err != nil {
			return nil, err
		}
		oldWeight.Add(oldWeight, types.AmountOrZero(undo.Weight))
		disconnected = append(disconnected, old)
	}

	parent, found, err := NewBlockStore(o).GetTip()
	if err != nil {
		return nil, err
	}
	if !found || parent.Hash != branch[0].PreviousHash {
		return nil, fmt.Errorf("%w: reverted tip is %s, want %s", ErrMissingUndo, parent.Hash, branch[0].PreviousHash)
	}

	newWeight := new(uint256.Int)
	for i, blk := range branch {
		child, next, err := c.connectBlock(o, parent, blk)
		if err != nil {
			for _, bad := range branch[i:] {
				c.sideBlocks.Remove(bad.Hash)
			}
			return nil, fmt.Errorf("%w: block %d %s: %w", ErrBranchInvalid, blk.Height, blk.Hash, err)
		}
		if err := child.MergeInto(o); err != nil {
			return nil, err
		}
		newWeight.Add(newWeight, new(uint256.Int).Sub(next.Weight, types.AmountOrZero(parent.Weight)))
		parent = next
	}

	if !heavier(branch, newWeight, disconnected, oldWeight) {
		log.Chain.Debug().
			Uint64("fork_height", forkHeight).
			Str("head", head.Hash.String()).
			Str("branch_weight", newWeight.Dec()).
			Str("canonical_weight", oldWeight.Dec()).
			Msg("Side branch stored")
		return &Result{Status: StatusSide}, nil
	}

	if err := c.commit(o, parent); err != nil {
		return nil, err
	}
	for _, blk := range branch {
		c.sideBlocks.Remove(blk.Hash)
	}
	for _, blk := range disconnected {
		c.sideBlocks.Add(blk.Hash, blk)
	}

	log.Chain.Warn().
		Uint64("fork_height", forkHeight).
		Int("reverted", len(disconnected)).
		Int("applied", len(branch)).
		Uint64("new_height", parent.Height).
		Str("new_tip", parent.Hash.String()).
		Msg("Chain reorganized")

	return &Result{
		Status:       StatusReorganized,
		Connected:    branch,
		Disconnected: disconnected,
		Reverted:     revertedTxs(disconnected, branch),
	}, nil
}

// heavier decides fork choice. disconnected is newest first.
func heavier(branch []*block.Block, newWeight *uint256.Int, disconnected []*block.Block, oldWeight *uint256.Int) bool {
	if len(disconnected) == 0 {
		return true
	}
	switch newWeight.Cmp(oldWeight) {
	case 1:
		return true
	case -1:
		return false
	}
	return branch[0].Hash.Less(disconnected[len(disconnected)-1].Hash)
}

// revertedTxs returns transactions of old that are not in connected,
// oldest block first.
func revertedTxs(old, connected []*block.Block) []*tx.Transaction {
	kept := make(map[types.Hash]bool)
	for _, blk := range connected {
		for _, t := range blk.Transactions {
			kept[t.ID] = true
		}
	}
	var out []*tx.Transaction
	for i := len(old) - 1; i >= 0; i-- {
		for _, t := range old[i].Transactions {
			if !kept[t.ID] {
				out = append(out, t)
			}
		}
	}
	return out
}
