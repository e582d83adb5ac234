package tx

import (
	"fmt"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/config"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/crypto"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// Validation errors. All of them classify as types.ErrMalformedTransaction.
var (
	ErrUnknownType      = fmt.Errorf("%w: unknown transaction type", types.ErrMalformedTransaction)
	ErrMissingSender    = fmt.Errorf("%w: missing sender", types.ErrMalformedTransaction)
	ErrMissingRecipient = fmt.Errorf("%w: missing recipient", types.ErrMalformedTransaction)
	ErrSelfTransfer     = fmt.Errorf("%w: sender and recipient are the same", types.ErrMalformedTransaction)
	ErrUnexpectedTo     = fmt.Errorf("%w: recipient not allowed for this type", types.ErrMalformedTransaction)
	ErrZeroNonce        = fmt.Errorf("%w: nonce must start at 1", types.ErrMalformedTransaction)
	ErrZeroTimestamp    = fmt.Errorf("%w: timestamp is zero", types.ErrMalformedTransaction)
	ErrBadPayload       = fmt.Errorf("%w: invalid payload", types.ErrMalformedTransaction)
	ErrPayloadTooLarge  = fmt.Errorf("%w: payload too large", types.ErrMalformedTransaction)
	ErrZeroAmount       = fmt.Errorf("%w: amount must be positive", types.ErrMalformedTransaction)
	ErrBadID            = fmt.Errorf("%w: id does not match contents", types.ErrMalformedTransaction)
	ErrMissingSig       = fmt.Errorf("%w: missing signature", types.ErrMalformedTransaction)
	ErrInvalidSig       = fmt.Errorf("%w: invalid signature", types.ErrMalformedTransaction)
)

// Validate checks transaction structure and its type-specific payload.
// It does not look at chain state (nonce, balance, role).
func (tx *Transaction) Validate() error {
	if !tx.Type.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownType, tx.Type)
	}
	if tx.From.IsZero() {
		return ErrMissingSender
	}
	if tx.Nonce == 0 {
		return ErrZeroNonce
	}
	if tx.Timestamp <= 0 {
		return ErrZeroTimestamp
	}
	if len(tx.Payload) > config.MaxTxPayload {
		return fmt.Errorf("%w: %d bytes, max %d", ErrPayloadTooLarge, len(tx.Payload), config.MaxTxPayload)
	}
	if !isCanonical(tx.Payload) {
		return fmt.Errorf("%w: payload is not canonical JSON", ErrBadPayload)
	}

	switch tx.Type {
	case TypeTransfer:
		if tx.To.IsZero() {
			return ErrMissingRecipient
		}
		if tx.To == tx.From {
			return ErrSelfTransfer
		}
		if _, err := tx.AmountPayload(); err != nil {
			return err
		}
	case TypeStake, TypeUnstake:
		if !tx.To.IsZero() {
			return ErrUnexpectedTo
		}
		if _, err := tx.AmountPayload(); err != nil {
			return err
		}
	case TypeRegister:
		if !tx.To.IsZero() {
			return ErrUnexpectedTo
		}
		if _, err := tx.RegisterPayload(); err != nil {
			return err
		}
	case TypeCertify:
		if _, err := tx.CertifyPayload(); err != nil {
			return err
		}
	}

	if tx.ID != tx.Hash() {
		return ErrBadID
	}
	return nil
}

// VerifySignature checks the signature over the id under the sender key.
func (tx *Transaction) VerifySignature() error {
	if len(tx.Signature) == 0 {
		return ErrMissingSig
	}
	id := tx.Hash()
	if !crypto.VerifySignature(id[:], tx.Signature, tx.From) {
		return ErrInvalidSig
	}
	return nil
}

// Check runs Validate and VerifySignature.
func (tx *Transaction) Check() error {
	if err := tx.Validate(); err != nil {
		return err
	}
	return tx.VerifySignature()
}
