// Package chain implements the validating state machine: block
// verification, re-execution, atomic commit, fork choice and queries.
package chain

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/consensus"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/log"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/storage"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/block"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// ErrNotFound is returned by queries for rows that do not exist.
var ErrNotFound = storage.ErrNotFound

// DefaultSideCacheSize bounds the number of non-canonical blocks kept for
// fork choice.
const DefaultSideCacheSize = 2048

// Chain is the canonical chain over an injected store. ProcessBlock and
// InitFromGenesis are serialized; readers get tip snapshots and read the
// store directly.
type Chain struct {
	mu sync.Mutex // serializes state transitions

	tipMu  sync.RWMutex
	tip    Tip
	hasTip bool

	store       storage.Store
	blocks      *BlockStore
	engine      consensus.Engine
	sideBlocks  *lru.Cache[types.Hash, *block.Block]
	genesisHash types.Hash
	now         func() time.Time
}

// Option configures a Chain.
type Option func(*Chain)

// WithClock overrides the wall clock used for timestamp bounds.
func WithClock(now func() time.Time) Option {
	return func(c *Chain) { c.now = now }
}

// New opens the chain stored in store. A fresh store needs InitFromGenesis.
func New(store storage.Store, engine consensus.Engine, opts ...Option) (*Chain, error) {
	if store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("consensus engine is nil")
	}
	side, err := lru.New[types.Hash, *block.Block](DefaultSideCacheSize)
	if err != nil {
		return nil, err
	}
	c := &Chain{
		store:      store,
		blocks:     NewBlockStore(store),
		engine:     engine,
		sideBlocks: side,
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}

	tip, found, err := c.blocks.GetTip()
	if err != nil {
		return nil, fmt.Errorf("recover tip: %w", err)
	}
	if found {
		c.setTip(tip)
		if c.genesisHash, err = c.blocks.GenesisHash(); err != nil {
			return nil, fmt.Errorf("recover genesis: %w", err)
		}
		log.Chain.Info().
			Uint64("height", tip.Height).
			Str("tip", tip.Hash.String()).
			Msg("Chain state recovered")
	}
	return c, nil
}

func (c *Chain) setTip(t Tip) {
	c.tipMu.Lock()
	c.tip = t.clone()
	c.hasTip = true
	c.tipMu.Unlock()
}

// Tip returns a snapshot of the canonical head. The zero Tip is returned
// before genesis.
func (c *Chain) Tip() Tip {
	c.tipMu.RLock()
	defer c.tipMu.RUnlock()
	return c.tip.clone()
}

// Initialized reports whether the genesis block is committed.
func (c *Chain) Initialized() bool {
	c.tipMu.RLock()
	defer c.tipMu.RUnlock()
	return c.hasTip
}

// Height returns the canonical height.
func (c *Chain) Height() uint64 { return c.Tip().Height }

// GenesisHash returns the hash of block 0.
func (c *Chain) GenesisHash() types.Hash { return c.genesisHash }

// Engine returns the consensus engine.
func (c *Chain) Engine() consensus.Engine { return c.engine }

// State returns a view of the committed state.
func (c *Chain) State() *StateView { return NewStateView(c.store) }

// GetBlockByHeight retrieves a canonical block by height.
func (c *Chain) GetBlockByHeight(height uint64) (*block.Block, error) {
	return c.blocks.GetBlockByHeight(height)
}

// GetBlockByHash retrieves a canonical block by hash.
func (c *Chain) GetBlockByHash(hash types.Hash) (*block.Block, error) {
	return c.blocks.GetBlockByHash(hash)
}

// HasBlock reports whether hash is canonical or held as a side block.
func (c *Chain) HasBlock(hash types.Hash) bool {
	if c.sideBlocks.Contains(hash) {
		return true
	}
	ok, err := c.blocks.HasBlock(hash)
	return err == nil && ok
}

// BlocksFrom returns up to max consecutive canonical blocks starting at
// height from.
func (c *Chain) BlocksFrom(from uint64, max int) ([]*block.Block, error) {
	tip := c.Tip()
	if from > tip.Height || max <= 0 {
		return nil, nil
	}
	var out []*block.Block
	err := c.store.IterateRange(storage.KeyspaceBlock, storage.HeightKey(from), storage.HeightKey(tip.Height+1), func(key, value []byte) error {
		var blk block.Block
		if err := json.Unmarshal(value, &blk); err != nil {
			return fmt.Errorf("block %s unmarshal: %w", key, err)
		}
		if blk.Height != from+uint64(len(out)) {
			return fmt.Errorf("block row %s holds height %d", key, blk.Height)
		}
		out = append(out, &blk)
		if len(out) == max {
			return errStopIteration
		}
		return nil
	})
	if err != nil && err != errStopIteration {
		return out, err
	}
	return out, nil
}

// GetTransaction returns a committed transaction record.
func (c *Chain) GetTransaction(id types.Hash) (*TxRecord, error) {
	rec, err := c.State().TxRecord(id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("tx %s: %w", id, ErrNotFound)
	}
	return rec, nil
}

// HasTransaction reports whether id is committed.
func (c *Chain) HasTransaction(id types.Hash) (bool, error) {
	return c.State().HasTx(id)
}

// GetAccount returns the account row; unknown addresses are zero accounts.
func (c *Chain) GetAccount(k types.PublicKey) (*Account, error) {
	return c.State().Account(k)
}

// AccountNonce returns the committed nonce of k.
func (c *Chain) AccountNonce(k types.PublicKey) (uint64, error) {
	a, err := c.State().Account(k)
	if err != nil {
		return 0, err
	}
	return a.Nonce, nil
}

// GetStake returns the stake row of a validator.
func (c *Chain) GetStake(k types.PublicKey) (*Stake, error) {
	s, err := c.State().Stake(k)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("stake %s: %w", k.Short(), ErrNotFound)
	}
	return s, nil
}

// Stakes lists every stake row in key order.
func (c *Chain) Stakes() ([]*Stake, error) {
	var out []*Stake
	err := c.store.Iterate(storage.KeyspaceStake, nil, func(key, _ []byte) error {
		k, err := types.ParsePublicKey(string(key))
		if err != nil {
			return fmt.Errorf("stake key %q: %w", key, err)
		}
		s, err := c.State().Stake(k)
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

func userOrNotFound(u *User, err error, what string) (*User, error) {
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("user %s: %w", what, ErrNotFound)
	}
	return u, nil
}

// GetUser returns a registered user by id.
func (c *Chain) GetUser(userID string) (*User, error) {
	u, err := c.State().User(userID)
	return userOrNotFound(u, err, userID)
}

// GetUserByEmail returns a registered user by email.
func (c *Chain) GetUserByEmail(email string) (*User, error) {
	u, err := c.State().UserByEmail(email)
	return userOrNotFound(u, err, email)
}

// GetUserByGoogleID returns a registered user by Google id.
func (c *Chain) GetUserByGoogleID(googleID string) (*User, error) {
	u, err := c.State().UserByGoogleID(googleID)
	return userOrNotFound(u, err, googleID)
}

// SearchTxKeys lists txhash keys starting with prefix, at most limit.
func (c *Chain) SearchTxKeys(prefix string, limit int) ([]string, error) {
	var out []string
	err := c.store.Iterate(storage.KeyspaceTxHash, []byte(prefix), func(key, _ []byte) error {
		if limit > 0 && len(out) >= limit {
			return errStopIteration
		}
		out = append(out, string(key))
		return nil
	})
	if err == errStopIteration {
		err = nil
	}
	return out, err
}

var errStopIteration = fmt.Errorf("stop iteration")

// Certifications returns the certify transactions of a product in chain order.
func (c *Chain) Certifications(productID string) ([]*TxRecord, error) {
	var ids []types.Hash
	err := c.store.Iterate(storage.KeyspaceTxHash, []byte(ProductPrefix+productID+":"), func(_, value []byte) error {
		id, err := types.HexToHash(string(value))
		if err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]*TxRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := c.GetTransaction(id)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
