package block

import (
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/crypto"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/tx"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// TxRoot returns the merkle root over the transaction ids.
func TxRoot(txs []*tx.Transaction) types.Hash {
	ids := make([]types.Hash, len(txs))
	for i, t := range txs {
		ids[i] = t.Hash()
	}
	return ComputeMerkleRoot(ids)
}

// ComputeMerkleRoot builds a binary BLAKE3 merkle tree. An empty list has
// the zero root, a single leaf is its own root, and odd levels duplicate
// their last node.
func ComputeMerkleRoot(leaves []types.Hash) types.Hash {
	switch len(leaves) {
	case 0:
		return types.Hash{}
	case 1:
		return leaves[0]
	}

	level := make([]types.Hash, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		next := make([]types.Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, crypto.HashConcat(level[i], level[i+1]))
		}
		level = next
	}
	return level[0]
}
