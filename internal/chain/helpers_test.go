package chain

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/config"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/consensus"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/storage"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/block"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/crypto"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/tx"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

const genesisTime = int64(1_700_000_000_000)

// testNet is a two-validator network: A stakes 100, B stakes 50.
type testNet struct {
	a, b, genesis *crypto.PrivateKey
	keys          map[types.PublicKey]*crypto.PrivateKey
	gs            *config.GenesisState
}

func mustKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	k, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return k
}

func newTestNet(t *testing.T) *testNet {
	t.Helper()
	n := &testNet{a: mustKey(t), b: mustKey(t), genesis: mustKey(t)}
	n.keys = map[types.PublicKey]*crypto.PrivateKey{
		n.a.PublicKey(): n.a,
		n.b.PublicKey(): n.b,
	}
	n.gs = &config.GenesisState{
		ChainID:    "agri-test",
		Timestamp:  genesisTime,
		GenesisKey: n.genesis.PublicKey(),
		Balances: map[types.PublicKey]*uint256.Int{
			n.a.PublicKey():       uint256.NewInt(1000),
			n.b.PublicKey():       uint256.NewInt(500),
			n.genesis.PublicKey(): uint256.NewInt(1_000_000),
		},
		Stakes: map[types.PublicKey]*uint256.Int{
			n.a.PublicKey(): uint256.NewInt(100),
			n.b.PublicKey(): uint256.NewInt(50),
		},
	}
	return n
}

func (n *testNet) allowed() []types.PublicKey {
	return []types.PublicKey{n.a.PublicKey(), n.b.PublicKey()}
}

// newChain returns an initialized chain on a fresh memory store.
func (n *testNet) newChain(t *testing.T) (*Chain, *storage.KeyspaceStore) {
	t.Helper()
	store, err := storage.Open(config.BackendMemory, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	c := n.openChain(t, store)
	if err := c.InitFromGenesis(n.gs, n.genesis); err != nil {
		t.Fatalf("InitFromGenesis: %v", err)
	}
	return c, store
}

func (n *testNet) openChain(t *testing.T, store storage.Store) *Chain {
	t.Helper()
	engine, err := consensus.NewPoS(n.allowed())
	if err != nil {
		t.Fatalf("NewPoS: %v", err)
	}
	c, err := New(store, engine, WithClock(func() time.Time {
		return time.UnixMilli(genesisTime).Add(24 * time.Hour)
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// build assembles and seals the next block on c by the selected producer.
// Every candidate must be included.
func (n *testNet) build(t *testing.T, c *Chain, offset int64, txs ...*tx.Transaction) *block.Block {
	t.Helper()
	producer, _, err := c.NextProducer(genesisTime + offset)
	if err != nil {
		t.Fatalf("NextProducer: %v", err)
	}
	blk, skipped, err := c.BuildBlock(producer, genesisTime+offset, txs)
	if err != nil {
		t.Fatalf("BuildBlock: %v", err)
	}
	for _, s := range skipped {
		t.Fatalf("tx %s skipped: %v", s.Tx.ID, s.Err)
	}
	if err := blk.Seal(n.keys[producer]); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	return blk
}

// extend builds and processes the next block.
func (n *testNet) extend(t *testing.T, c *Chain, offset int64, txs ...*tx.Transaction) *block.Block {
	t.Helper()
	blk := n.build(t, c, offset, txs...)
	res, err := c.ProcessBlock(blk)
	if err != nil {
		t.Fatalf("ProcessBlock(%d): %v", blk.Height, err)
	}
	if res.Status != StatusExtended {
		t.Fatalf("status = %s, want extended", res.Status)
	}
	return blk
}

// reseal re-signs blk after a test mutated it.
func (n *testNet) reseal(t *testing.T, blk *block.Block) {
	t.Helper()
	key, ok := n.keys[blk.Producer]
	if !ok {
		t.Fatalf("no key for producer %s", blk.Producer.Short())
	}
	if err := blk.Seal(key); err != nil {
		t.Fatalf("Seal: %v", err)
	}
}

var txClock = genesisTime

func signTx(t *testing.T, b *tx.Builder, key *crypto.PrivateKey) *tx.Transaction {
	t.Helper()
	txClock++
	out, err := b.Timestamp(txClock).Sign(key)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return out
}

func transfer(t *testing.T, from *crypto.PrivateKey, to types.PublicKey, amount, nonce uint64) *tx.Transaction {
	t.Helper()
	return signTx(t, tx.NewBuilder(tx.TypeTransfer).To(to).Nonce(nonce).Amount(uint256.NewInt(amount)), from)
}

func amountTx(t *testing.T, typ tx.Type, from *crypto.PrivateKey, amount, nonce uint64) *tx.Transaction {
	t.Helper()
	return signTx(t, tx.NewBuilder(typ).Nonce(nonce).Amount(uint256.NewInt(amount)), from)
}

func register(t *testing.T, from *crypto.PrivateKey, p tx.RegisterPayload, nonce uint64) *tx.Transaction {
	t.Helper()
	return signTx(t, tx.NewBuilder(tx.TypeRegister).Nonce(nonce).Payload(p), from)
}

func certify(t *testing.T, from *crypto.PrivateKey, payload any, nonce uint64) *tx.Transaction {
	t.Helper()
	return signTx(t, tx.NewBuilder(tx.TypeCertify).Nonce(nonce).Payload(payload), from)
}

func balance(t *testing.T, c *Chain, k types.PublicKey) uint64 {
	t.Helper()
	acct, err := c.GetAccount(k)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	return acct.Balance.Uint64()
}
