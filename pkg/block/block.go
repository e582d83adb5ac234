// Package block defines the block type, its canonical header encoding and
// structural validation.
package block

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/crypto"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/tx"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// Block is a hash-linked, producer-signed batch of transactions.
type Block struct {
	Height       uint64            `json:"height"`
	Hash         types.Hash        `json:"hash"`
	PreviousHash types.Hash        `json:"previousHash"`
	Timestamp    int64             `json:"timestamp"` // unix milliseconds
	Transactions []*tx.Transaction `json:"transactions"`
	Producer     types.PublicKey   `json:"producer"`
	Signature    []byte            `json:"signature"`
	StateRoot    types.Hash        `json:"stateRoot"`
	TxRoot       types.Hash        `json:"txRoot"`
}

// blockJSON carries the signature as hex.
type blockJSON struct {
	Height       uint64            `json:"height"`
	Hash         types.Hash        `json:"hash"`
	PreviousHash types.Hash        `json:"previousHash"`
	Timestamp    int64             `json:"timestamp"`
	Transactions []*tx.Transaction `json:"transactions"`
	Producer     types.PublicKey   `json:"producer"`
	Signature    string            `json:"signature"`
	StateRoot    types.Hash        `json:"stateRoot"`
	TxRoot       types.Hash        `json:"txRoot"`
}

// MarshalJSON encodes the block with a hex signature.
func (b *Block) MarshalJSON() ([]byte, error) {
	txs := b.Transactions
	if txs == nil {
		txs = []*tx.Transaction{}
	}
	return json.Marshal(blockJSON{
		Height:       b.Height,
		Hash:         b.Hash,
		PreviousHash: b.PreviousHash,
		Timestamp:    b.Timestamp,
		Transactions: txs,
		Producer:     b.Producer,
		Signature:    hex.EncodeToString(b.Signature),
		StateRoot:    b.StateRoot,
		TxRoot:       b.TxRoot,
	})
}

// UnmarshalJSON decodes a block with a hex signature.
func (b *Block) UnmarshalJSON(data []byte) error {
	var j blockJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	sig, err := hex.DecodeString(j.Signature)
	if err != nil {
		return fmt.Errorf("block signature: %w", err)
	}
	*b = Block{
		Height:       j.Height,
		Hash:         j.Hash,
		PreviousHash: j.PreviousHash,
		Timestamp:    j.Timestamp,
		Transactions: j.Transactions,
		Producer:     j.Producer,
		Signature:    sig,
		StateRoot:    j.StateRoot,
		TxRoot:       j.TxRoot,
	}
	return nil
}

// SigningBytes returns the canonical header encoding. The hash field and
// the signature are excluded; transactions enter through TxRoot.
// Format: height(8) | previous_hash(32) | timestamp(8) | tx_root(32) | state_root(32) | producer(33)
func (b *Block) SigningBytes() []byte {
	buf := make([]byte, 0, 8+32+8+32+32+types.PublicKeySize)
	buf = binary.LittleEndian.AppendUint64(buf, b.Height)
	buf = append(buf, b.PreviousHash[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(b.Timestamp))
	buf = append(buf, b.TxRoot[:]...)
	buf = append(buf, b.StateRoot[:]...)
	buf = append(buf, b.Producer[:]...)
	return buf
}

// ComputeHash hashes the signing bytes.
func (b *Block) ComputeHash() types.Hash {
	return crypto.Hash(b.SigningBytes())
}

// Seal fills in TxRoot and Hash and signs the hash. The signer must be
// the block producer.
func (b *Block) Seal(signer crypto.Signer) error {
	if signer.PublicKey() != b.Producer {
		return fmt.Errorf("seal: signer %s is not producer %s", signer.PublicKey().Short(), b.Producer.Short())
	}
	b.TxRoot = TxRoot(b.Transactions)
	b.Hash = b.ComputeHash()
	sig, err := signer.Sign(b.Hash[:])
	if err != nil {
		return fmt.Errorf("seal: %w", err)
	}
	b.Signature = sig
	return nil
}

// TxIDs returns the ids of the block transactions in order.
func (b *Block) TxIDs() []types.Hash {
	ids := make([]types.Hash, len(b.Transactions))
	for i, t := range b.Transactions {
		ids[i] = t.ID
	}
	return ids
}

// Size returns header plus transaction signing bytes.
func (b *Block) Size() int {
	n := len(b.SigningBytes())
	for _, t := range b.Transactions {
		n += len(t.SigningBytes())
	}
	return n
}
