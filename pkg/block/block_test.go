package block

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/crypto"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/tx"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

func mustKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	k, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func testBlock(t *testing.T, producer *crypto.PrivateKey, ntx int) *Block {
	t.Helper()
	recipient := mustKey(t).PublicKey()
	sender := mustKey(t)
	b := &Block{
		Height:       1,
		PreviousHash: types.Hash{0xaa},
		Timestamp:    1_700_000_000_000,
		Producer:     producer.PublicKey(),
		StateRoot:    types.Hash{0xbb},
	}
	for i := 0; i < ntx; i++ {
		t1, err := tx.NewBuilder(tx.TypeTransfer).
			To(recipient).
			Nonce(uint64(i + 1)).
			Amount(uint256.NewInt(10)).
			Sign(sender)
		if err != nil {
			t.Fatal(err)
		}
		b.Transactions = append(b.Transactions, t1)
	}
	if err := b.Seal(producer); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	return b
}

func TestBlock_SealAndValidate(t *testing.T) {
	b := testBlock(t, mustKey(t), 3)
	if err := b.Validate(); err != nil {
		t.Fatalf("sealed block rejected: %v", err)
	}
	if b.TxRoot != TxRoot(b.Transactions) {
		t.Error("seal should set the tx root")
	}
}

func TestBlock_SealRejectsForeignSigner(t *testing.T) {
	p := mustKey(t)
	b := &Block{Height: 1, Timestamp: 1, Producer: p.PublicKey()}
	if err := b.Seal(mustKey(t)); err == nil {
		t.Error("sealing with a non-producer key should fail")
	}
}

func TestBlock_HashExcludesSignature(t *testing.T) {
	b := testBlock(t, mustKey(t), 1)
	h := b.ComputeHash()
	b.Signature = []byte{1, 2, 3}
	if b.ComputeHash() != h {
		t.Error("signature should not affect the block hash")
	}
}

func TestBlock_HashCoversLink(t *testing.T) {
	b := testBlock(t, mustKey(t), 0)
	h := b.ComputeHash()
	b.PreviousHash[0] ^= 0xff
	if b.ComputeHash() == h {
		t.Error("previous hash should affect the block hash")
	}
}

func TestBlock_Validate_Errors(t *testing.T) {
	producer := mustKey(t)
	tests := []struct {
		name   string
		mutate func(b *Block)
		want   error
	}{
		{"zero timestamp", func(b *Block) { b.Timestamp = 0 }, ErrZeroTimestamp},
		{"tampered hash", func(b *Block) { b.Hash[0] ^= 0xff }, ErrBadHash},
		{"tampered state root", func(b *Block) { b.StateRoot[0] ^= 0xff }, ErrBadHash},
		{"dropped tx", func(b *Block) { b.Transactions = b.Transactions[:1] }, ErrBadTxRoot},
		{"missing sig", func(b *Block) { b.Signature = nil }, ErrMissingSig},
		{"wrong producer", func(b *Block) {
			b.Producer = mustKey(t).PublicKey()
			b.Hash = b.ComputeHash()
		}, ErrInvalidSig},
		{"duplicate tx", func(b *Block) {
			b.Transactions[1] = b.Transactions[0]
			b.TxRoot = TxRoot(b.Transactions)
			if err := b.Seal(producer); err != nil {
				t.Fatal(err)
			}
		}, ErrDuplicateTx},
		{"bad tx sig", func(b *Block) {
			b.Transactions[0].Signature[5] ^= 0xff
		}, ErrInvalidTx},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testBlock(t, producer, 2)
			tt.mutate(b)
			err := b.Validate()
			if !errors.Is(err, tt.want) {
				t.Fatalf("Validate() = %v, want %v", err, tt.want)
			}
			if !errors.Is(err, types.ErrInvalidBlockStructural) {
				t.Errorf("error should classify as structural: %v", err)
			}
		})
	}
}

func TestBlock_JSON(t *testing.T) {
	b := testBlock(t, mustKey(t), 2)
	data, err := json.Marshal(b)
	if err != nil {
		t.Fatal(err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"height", "hash", "previousHash", "timestamp", "transactions", "producer", "signature", "stateRoot", "txRoot"} {
		if _, ok := fields[k]; !ok {
			t.Errorf("missing field %q", k)
		}
	}

	var got Block
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("decoded block should validate: %v", err)
	}
	if got.Hash != b.Hash {
		t.Error("hash changed across encoding")
	}
}
