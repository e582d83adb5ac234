package chain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/storage"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/block"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// BlockStore reads canonical blocks and chain metadata. Writes go through
// overlays and a single store batch.
type BlockStore struct {
	r Reader
}

// NewBlockStore creates a block store over r.
func NewBlockStore(r Reader) *BlockStore {
	return &BlockStore{r: r}
}

// GetBlockByHeight retrieves the canonical block at height.
func (bs *BlockStore) GetBlockByHeight(height uint64) (*block.Block, error) {
	data, err := bs.r.Get(storage.KeyspaceBlock, storage.HeightKey(height))
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", height, err)
	}
	var blk block.Block
	if err := json.Unmarshal(data, &blk); err != nil {
		return nil, fmt.Errorf("block %d unmarshal: %w", height, err)
	}
	return &blk, nil
}

// HeightOf returns the height of a canonical block hash.
func (bs *BlockStore) HeightOf(hash types.Hash) (uint64, error) {
	hk, err := bs.r.Get(storage.KeyspaceBHash, bhashKey(hash))
	if err != nil {
		return 0, fmt.Errorf("bhash %s: %w", hash, err)
	}
	return storage.ParseHeightKey(hk)
}

// GetBlockByHash retrieves a canonical block by hash.
func (bs *BlockStore) GetBlockByHash(hash types.Hash) (*block.Block, error) {
	h, err := bs.HeightOf(hash)
	if err != nil {
		return nil, err
	}
	blk, err := bs.GetBlockByHeight(h)
	if err != nil {
		return nil, err
	}
	if blk.Hash != hash {
		return nil, fmt.Errorf("bhash index for %s points at %s", hash, blk.Hash)
	}
	return blk, nil
}

// HasBlock reports whether hash is on the canonical chain.
func (bs *BlockStore) HasBlock(hash types.Hash) (bool, error) {
	_, err := bs.r.Get(storage.KeyspaceBHash, bhashKey(hash))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// GetTip returns the persisted tip; found is false on a fresh store.
func (bs *BlockStore) GetTip() (tip Tip, found bool, err error) {
	found, err = getJSON(bs.r, storage.KeyspaceMeta, keyTip, &tip)
	return tip, found, err
}

// GetUndo loads the undo record of the canonical block at height.
func (bs *BlockStore) GetUndo(height uint64) (*undoRecord, error) {
	var u undoRecord
	found, err := getJSON(bs.r, storage.KeyspaceMeta, undoKey(height), &u)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: height %d", ErrMissingUndo, height)
	}
	return &u, nil
}

// GenesisHash returns the hash recorded at genesis, or the zero hash.
func (bs *BlockStore) GenesisHash() (types.Hash, error) {
	v, err := bs.r.Get(storage.KeyspaceMeta, keyGenesis)
	if errors.Is(err, storage.ErrNotFound) {
		return types.Hash{}, nil
	}
	if err != nil {
		return types.Hash{}, err
	}
	return types.HexToHash(string(v))
}

// putBlockRows writes the block row, its bhash index and the new tip.
func putBlockRows(o *Overlay, blk *block.Block, tip Tip) error {
	if err := putJSON(o, storage.KeyspaceBlock, storage.HeightKey(blk.Height), blk); err != nil {
		return err
	}
	if err := o.Put(storage.KeyspaceBHash, bhashKey(blk.Hash), storage.HeightKey(blk.Height)); err != nil {
		return err
	}
	return putJSON(o, storage.KeyspaceMeta, keyTip, tip)
}
