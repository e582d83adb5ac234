package block

import (
	"fmt"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/config"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/crypto"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// Validation errors. All classify as types.ErrInvalidBlockStructural.
var (
	ErrZeroTimestamp = fmt.Errorf("%w: block timestamp is zero", types.ErrInvalidBlockStructural)
	ErrTooManyTxs    = fmt.Errorf("%w: too many transactions in block", types.ErrInvalidBlockStructural)
	ErrBlockTooLarge = fmt.Errorf("%w: block too large", types.ErrInvalidBlockStructural)
	ErrBadTxRoot     = fmt.Errorf("%w: tx root mismatch", types.ErrInvalidBlockStructural)
	ErrBadHash       = fmt.Errorf("%w: block hash mismatch", types.ErrInvalidBlockStructural)
	ErrMissingSig    = fmt.Errorf("%w: block is not signed", types.ErrInvalidBlockStructural)
	ErrInvalidSig    = fmt.Errorf("%w: invalid producer signature", types.ErrInvalidBlockStructural)
	ErrInvalidTx     = fmt.Errorf("%w: invalid transaction", types.ErrInvalidBlockStructural)
	ErrDuplicateTx   = fmt.Errorf("%w: duplicate transaction in block", types.ErrInvalidBlockStructural)
)

// Validate checks everything that can be checked without chain context:
// hash and tx root consistency, producer signature, and every transaction's
// structure and signature. Link, producer eligibility and state are the
// chain's job.
func (b *Block) Validate() error {
	if b.Timestamp <= 0 {
		return ErrZeroTimestamp
	}
	for i, t := range b.Transactions {
		if t == nil {
			return fmt.Errorf("%w: tx %d is nil", ErrInvalidTx, i)
		}
	}
	if len(b.Transactions) > config.MaxBlockTxs {
		return fmt.Errorf("%w: %d txs, max %d", ErrTooManyTxs, len(b.Transactions), config.MaxBlockTxs)
	}
	if size := b.Size(); size > config.MaxBlockSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrBlockTooLarge, size, config.MaxBlockSize)
	}
	if root := TxRoot(b.Transactions); root != b.TxRoot {
		return fmt.Errorf("%w: header=%s computed=%s", ErrBadTxRoot, b.TxRoot, root)
	}
	if h := b.ComputeHash(); h != b.Hash {
		return fmt.Errorf("%w: claimed=%s computed=%s", ErrBadHash, b.Hash, h)
	}
	if err := b.VerifySignature(); err != nil {
		return err
	}

	seen := make(map[types.Hash]struct{}, len(b.Transactions))
	for i, t := range b.Transactions {
		if err := t.Check(); err != nil {
			return fmt.Errorf("%w: tx %d: %v", ErrInvalidTx, i, err)
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateTx, t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}

// VerifySignature checks the producer signature over the block hash.
func (b *Block) VerifySignature() error {
	if len(b.Signature) == 0 {
		return ErrMissingSig
	}
	if !crypto.VerifySignature(b.Hash[:], b.Signature, b.Producer) {
		return ErrInvalidSig
	}
	return nil
}
