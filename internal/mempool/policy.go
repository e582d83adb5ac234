package mempool

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/config"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/tx"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// DefaultMaxTxSize is the maximum transaction size in bytes (signing bytes).
const DefaultMaxTxSize = 32_768

// Policy defines transaction acceptance rules.
type Policy struct {
	MaxTxSize int          // Maximum transaction size in signing bytes.
	MinFee    *uint256.Int // Minimum fee; nil accepts free transactions.
}

// DefaultPolicy returns a policy with sensible defaults.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxTxSize: DefaultMaxTxSize,
	}
}

// Check validates a transaction against policy rules.
// This is separate from consensus validation; policy rules can vary per node.
func (p *Policy) Check(transaction *tx.Transaction) error {
	size := len(transaction.SigningBytes())
	if p.MaxTxSize > 0 && size > p.MaxTxSize {
		return fmt.Errorf("%w: transaction too large: %d bytes, max %d", types.ErrMalformedTransaction, size, p.MaxTxSize)
	}
	if len(transaction.Payload) > config.MaxTxPayload {
		return fmt.Errorf("%w: payload too large: %d bytes, max %d", types.ErrMalformedTransaction, len(transaction.Payload), config.MaxTxPayload)
	}
	if p.MinFee != nil && transaction.FeeOrZero().Lt(p.MinFee) {
		return fmt.Errorf("%w: got %s, need %s", ErrFeeTooLow, transaction.FeeOrZero().Dec(), p.MinFee.Dec())
	}
	return nil
}
