package tx

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/crypto"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// Builder constructs transactions incrementally.
type Builder struct {
	tx  *Transaction
	err error
}

// NewBuilder creates a builder for a transaction of the given type.
func NewBuilder(typ Type) *Builder {
	return &Builder{
		tx: &Transaction{
			Type:      typ,
			Payload:   []byte("{}"),
			Timestamp: time.Now().UnixMilli(),
			Fee:       uint256.NewInt(0),
		},
	}
}

// From sets the sender.
func (b *Builder) From(k types.PublicKey) *Builder {
	b.tx.From = k
	return b
}

// To sets the recipient.
func (b *Builder) To(k types.PublicKey) *Builder {
	b.tx.To = k
	return b
}

// Nonce sets the sender nonce.
func (b *Builder) Nonce(n uint64) *Builder {
	b.tx.Nonce = n
	return b
}

// Fee sets the fee paid to the block producer.
func (b *Builder) Fee(fee *uint256.Int) *Builder {
	b.tx.Fee = new(uint256.Int).Set(fee)
	return b
}

// Timestamp overrides the creation time (unix milliseconds).
func (b *Builder) Timestamp(ms int64) *Builder {
	b.tx.Timestamp = ms
	return b
}

// Payload encodes v as the canonical payload.
func (b *Builder) Payload(v any) *Builder {
	p, err := EncodePayload(v)
	if err != nil {
		b.err = err
		return b
	}
	b.tx.Payload = p
	return b
}

// Amount sets an AmountPayload.
func (b *Builder) Amount(amount *uint256.Int) *Builder {
	return b.Payload(AmountPayload{Amount: amount})
}

// Sign fills in the sender from key, computes the id and signs it.
func (b *Builder) Sign(key *crypto.PrivateKey) (*Transaction, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.tx.From = key.PublicKey()
	if err := b.tx.Sign(key); err != nil {
		return nil, err
	}
	return b.tx, nil
}

// Build returns the unsigned transaction with its id computed.
func (b *Builder) Build() (*Transaction, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.tx.ID = b.tx.Hash()
	return b.tx, nil
}

// Sign computes the id and signs it with key. key must belong to From.
func (tx *Transaction) Sign(key *crypto.PrivateKey) error {
	if key.PublicKey() != tx.From {
		return fmt.Errorf("sign tx: key %s does not match sender %s", key.PublicKey().Short(), tx.From.Short())
	}
	tx.ID = tx.Hash()
	sig, err := key.Sign(tx.ID[:])
	if err != nil {
		return fmt.Errorf("sign tx: %w", err)
	}
	tx.Signature = sig
	return nil
}
