package types

import "errors"

// Error classes shared by every layer of the node. Package-level sentinels
// wrap one of these so callers can classify failures with errors.Is.
var (
	// ErrMalformedTransaction: bad signature or encoding. Rejected at the pool.
	ErrMalformedTransaction = errors.New("malformed transaction")
	// ErrNonceConflict: stale, duplicate, or out-of-sequence nonce.
	ErrNonceConflict = errors.New("nonce conflict")
	// ErrInvalidBlockStructural: bad link, signature, or producer.
	ErrInvalidBlockStructural = errors.New("invalid block structure")
	// ErrInvalidBlockState: transaction re-execution failed.
	ErrInvalidBlockState = errors.New("invalid block state")
	// ErrForkResolution: competing branch could not be adopted.
	ErrForkResolution = errors.New("fork resolution failure")
	// ErrBatchFailure: an atomic store batch could not be committed.
	ErrBatchFailure = errors.New("store batch failure")
	// ErrPeerUnauthorized: remote key is outside the allow-list or failed authentication.
	ErrPeerUnauthorized = errors.New("peer unauthorized")
)
