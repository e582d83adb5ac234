// Package consensus implements stake-weighted producer selection.
package consensus

import (
	"github.com/holiman/uint256"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/block"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// StakeSource reports the active stake of a validator in some state
// snapshot. Inactive or missing stakes are zero.
type StakeSource interface {
	ActiveStake(validator types.PublicKey) (*uint256.Int, error)
}

// Engine is the interface for consensus implementations. src is always
// the state the block's parent left behind, and parentTime its timestamp.
type Engine interface {
	// SelectAt returns the producer of a block at timestamp.
	SelectAt(prevHash types.Hash, height uint64, parentTime, timestamp int64, src StakeSource) (types.PublicKey, error)
	VerifyHeader(blk *block.Block, parentTime int64, src StakeSource) error
	Seal(blk *block.Block) error
}
