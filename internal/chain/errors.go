package chain

import (
	"errors"
	"fmt"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// Block processing errors.
var (
	ErrBlockKnown       = errors.New("block already known")
	ErrUnknownParent    = errors.New("parent block not known")
	ErrNotInitialized   = errors.New("chain has no genesis")
	ErrGenesisMismatch  = errors.New("stored genesis does not match configuration")
	ErrBadHeight        = fmt.Errorf("%w: height does not follow parent", types.ErrInvalidBlockStructural)
	ErrBadPrevHash      = fmt.Errorf("%w: previousHash does not match parent", types.ErrInvalidBlockStructural)
	ErrGenesisBlock     = fmt.Errorf("%w: genesis blocks are not accepted from peers", types.ErrInvalidBlockStructural)
	ErrTimestampFuture  = fmt.Errorf("%w: block timestamp too far in the future", types.ErrInvalidBlockStructural)
	ErrTimestampBehind  = fmt.Errorf("%w: block timestamp before parent", types.ErrInvalidBlockStructural)
	ErrStateRoot        = fmt.Errorf("%w: state root mismatch", types.ErrInvalidBlockState)
	ErrReorgTooDeep     = fmt.Errorf("%w: reorg too deep", types.ErrForkResolution)
	ErrBranchInvalid    = fmt.Errorf("%w: branch failed validation", types.ErrForkResolution)
	ErrMissingUndo      = fmt.Errorf("%w: undo record missing", types.ErrForkResolution)
)

// Transaction execution errors. Nonce errors classify as
// types.ErrNonceConflict, everything else as types.ErrInvalidBlockState.
var (
	ErrBadNonce            = fmt.Errorf("%w: nonce is not account nonce + 1", types.ErrNonceConflict)
	ErrTxKnown             = fmt.Errorf("%w: transaction already committed", types.ErrNonceConflict)
	ErrInsufficientBalance = fmt.Errorf("%w: insufficient balance", types.ErrInvalidBlockState)
	ErrInsufficientStake   = fmt.Errorf("%w: insufficient stake", types.ErrInvalidBlockState)
	ErrUserExists          = fmt.Errorf("%w: user already registered", types.ErrInvalidBlockState)
	ErrAccountRegistered   = fmt.Errorf("%w: account already bound to a user", types.ErrInvalidBlockState)
	ErrNotPermitted        = fmt.Errorf("%w: account role may not certify", types.ErrInvalidBlockState)
	ErrBalanceOverflow     = fmt.Errorf("%w: balance overflow", types.ErrInvalidBlockState)
)
