package block

import (
	"testing"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/crypto"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

func TestComputeMerkleRoot(t *testing.T) {
	a, b, c := types.Hash{0x01}, types.Hash{0x02}, types.Hash{0x03}
	ab := crypto.HashConcat(a, b)
	cc := crypto.HashConcat(c, c)

	tests := []struct {
		name   string
		leaves []types.Hash
		want   types.Hash
	}{
		{"empty", nil, types.Hash{}},
		{"single", []types.Hash{a}, a},
		{"pair", []types.Hash{a, b}, ab},
		{"odd duplicates last", []types.Hash{a, b, c}, crypto.HashConcat(ab, cc)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeMerkleRoot(tt.leaves); got != tt.want {
				t.Errorf("root = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestComputeMerkleRoot_OrderMatters(t *testing.T) {
	a, b := types.Hash{0x01}, types.Hash{0x02}
	if ComputeMerkleRoot([]types.Hash{a, b}) == ComputeMerkleRoot([]types.Hash{b, a}) {
		t.Error("swapping leaves should change the root")
	}
}

func TestComputeMerkleRoot_DoesNotMutateInput(t *testing.T) {
	leaves := []types.Hash{{0x01}, {0x02}, {0x03}}
	ComputeMerkleRoot(leaves)
	if len(leaves) != 3 || leaves[2] != (types.Hash{0x03}) {
		t.Error("input slice was modified")
	}
}
