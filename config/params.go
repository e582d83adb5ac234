package config

import "time"

// =============================================================================
// Protocol Rules
// These MUST match across all nodes or consensus breaks.
// =============================================================================

// Block and transaction limits.
const (
	MaxBlockSize = 2_000_000 // header + all tx signing bytes
	MaxBlockTxs  = 500
	MaxTxPayload = 16_384 // bytes of canonical JSON payload
)

// MaxFutureDrift bounds how far ahead of local time a block timestamp may be.
const MaxFutureDrift = 2 * time.Minute

// DefaultProducerSlot is how long the selected producer has before the next
// validator in the producer order may build on the same parent.
const DefaultProducerSlot = 15 * time.Second

// MaxReorgDepth is the deepest fork the node will switch to.
const MaxReorgDepth = 1000

// SyncBatchSize is the number of blocks carried by one CHAIN_RESPONSE.
const SyncBatchSize = 100
