package chain

import (
	"fmt"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/config"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/log"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/storage"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/block"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/crypto"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// CreateGenesisBlock builds and signs block 0 and the overlay holding the
// initial balances and stakes. The block has no transactions and a zero
// previousHash; its producer is the genesis key. Signing is deterministic,
// so every node holding the genesis key derives the same block.
func CreateGenesisBlock(gs *config.GenesisState, signer crypto.Signer) (*block.Block, *Overlay, error) {
	if gs == nil {
		return nil, nil, fmt.Errorf("genesis state is nil")
	}
	if signer == nil || signer.PublicKey() != gs.GenesisKey {
		return nil, nil, fmt.Errorf("genesis must be signed by the genesis key %s", gs.GenesisKey.Short())
	}

	o := NewOverlay(emptyReader{})
	for k, bal := range gs.Balances {
		acct := &Account{Address: k, Balance: types.AmountOrZero(bal).Clone()}
		if err := putJSON(o, storage.KeyspaceState, accountKey(k), acct); err != nil {
			return nil, nil, err
		}
	}
	for k, amt := range gs.Stakes {
		st := &Stake{Validator: k, Amount: types.AmountOrZero(amt).Clone(), Status: StakeActive}
		if err := putJSON(o, storage.KeyspaceStake, stakeKey(k), st); err != nil {
			return nil, nil, err
		}
	}

	blk := &block.Block{
		Height:    0,
		Timestamp: gs.Timestamp,
		Producer:  gs.GenesisKey,
		StateRoot: computeStateRoot(types.Hash{}, o.Changes()),
	}
	if err := blk.Seal(signer); err != nil {
		return nil, nil, fmt.Errorf("seal genesis: %w", err)
	}

	tip := Tip{Height: 0, Hash: blk.Hash, Timestamp: blk.Timestamp, StateRoot: blk.StateRoot}
	if err := putBlockRows(o, blk, tip.clone()); err != nil {
		return nil, nil, err
	}
	if err := o.Put(storage.KeyspaceMeta, keyGenesis, []byte(blk.Hash.String())); err != nil {
		return nil, nil, err
	}
	return blk, o, nil
}

// InitFromGenesis commits the genesis block on an empty store. On a store
// that already has a chain it only checks that the genesis matches.
func (c *Chain) InitFromGenesis(gs *config.GenesisState, signer crypto.Signer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	blk, o, err := CreateGenesisBlock(gs, signer)
	if err != nil {
		return err
	}

	if c.Initialized() {
		if c.genesisHash != blk.Hash {
			return fmt.Errorf("%w: stored %s, configured %s", ErrGenesisMismatch, c.genesisHash, blk.Hash)
		}
		return nil
	}

	tip, _, err := NewBlockStore(o).GetTip()
	if err != nil {
		return err
	}
	if err := c.commit(o, tip); err != nil {
		return fmt.Errorf("commit genesis: %w", err)
	}
	c.genesisHash = blk.Hash

	log.Chain.Info().
		Str("hash", blk.Hash.String()).
		Str("chain_id", gs.ChainID).
		Int("accounts", len(gs.Balances)).
		Int("validators", len(gs.Stakes)).
		Msg("Genesis block committed")
	return nil
}

type emptyReader struct{}

func (emptyReader) Get(storage.Keyspace, []byte) ([]byte, error) { return nil, storage.ErrNotFound }
