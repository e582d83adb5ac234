// Package tx defines the account-model transaction and its canonical encoding.
package tx

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"

	"github.com/holiman/uint256"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/crypto"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// Type distinguishes what a transaction does to state.
type Type string

// Transaction types.
const (
	TypeTransfer Type = "transfer"
	TypeStake    Type = "stake"
	TypeUnstake  Type = "unstake"
	TypeRegister Type = "register"
	TypeCertify  Type = "certify"
)

// Known reports whether t is a supported transaction type.
func (t Type) Known() bool {
	switch t {
	case TypeTransfer, TypeStake, TypeUnstake, TypeRegister, TypeCertify:
		return true
	}
	return false
}

// Transaction is a signed state transition issued by one account.
type Transaction struct {
	ID        types.Hash      `json:"id"`
	Type      Type            `json:"type"`
	From      types.PublicKey `json:"from"`
	To        types.PublicKey `json:"to"`
	Payload   json.RawMessage `json:"payload"`
	Nonce     uint64          `json:"nonce"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
	Fee       *uint256.Int    `json:"fee"`
	Signature []byte          `json:"signature"`
}

// txJSON is the wire form with a hex signature. The zero recipient is
// omitted for transaction types that have none.
type txJSON struct {
	ID        types.Hash       `json:"id"`
	Type      Type             `json:"type"`
	From      types.PublicKey  `json:"from"`
	To        *types.PublicKey `json:"to,omitempty"`
	Payload   json.RawMessage  `json:"payload"`
	Nonce     uint64           `json:"nonce"`
	Timestamp int64            `json:"timestamp"`
	Fee       *uint256.Int     `json:"fee"`
	Signature string           `json:"signature"`
}

// MarshalJSON encodes the transaction with a hex signature.
func (tx *Transaction) MarshalJSON() ([]byte, error) {
	j := txJSON{
		ID:        tx.ID,
		Type:      tx.Type,
		From:      tx.From,
		Payload:   tx.Payload,
		Nonce:     tx.Nonce,
		Timestamp: tx.Timestamp,
		Fee:       types.AmountOrZero(tx.Fee),
		Signature: hex.EncodeToString(tx.Signature),
	}
	if !tx.To.IsZero() {
		to := tx.To
		j.To = &to
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes a transaction with a hex signature.
func (tx *Transaction) UnmarshalJSON(data []byte) error {
	var j txJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	sig, err := hex.DecodeString(j.Signature)
	if err != nil {
		return err
	}
	*tx = Transaction{
		ID:        j.ID,
		Type:      j.Type,
		From:      j.From,
		Payload:   j.Payload,
		Nonce:     j.Nonce,
		Timestamp: j.Timestamp,
		Fee:       types.AmountOrZero(j.Fee),
		Signature: sig,
	}
	if j.To != nil {
		tx.To = *j.To
	}
	return nil
}

// Hash computes the transaction id: BLAKE3 of the signing bytes.
func (tx *Transaction) Hash() types.Hash {
	return crypto.Hash(tx.SigningBytes())
}

// SigningBytes returns the canonical encoding of every field except id
// and signature.
// Format: type_len(2) | type | from(33) | to(33) | payload_len(4) | payload | nonce(8) | timestamp(8) | fee(32, big endian)
func (tx *Transaction) SigningBytes() []byte {
	buf := make([]byte, 0, 2+len(tx.Type)+66+4+len(tx.Payload)+16+32)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(tx.Type)))
	buf = append(buf, tx.Type...)
	buf = append(buf, tx.From[:]...)
	buf = append(buf, tx.To[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tx.Payload)))
	buf = append(buf, tx.Payload...)
	buf = binary.LittleEndian.AppendUint64(buf, tx.Nonce)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(tx.Timestamp))
	fee := types.AmountOrZero(tx.Fee).Bytes32()
	buf = append(buf, fee[:]...)
	return buf
}

// FeeOrZero returns the fee, treating nil as zero.
func (tx *Transaction) FeeOrZero() *uint256.Int {
	return types.AmountOrZero(tx.Fee)
}
