package wallet

import (
	"fmt"

	"github.com/tyler-smith/go-bip32"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/crypto"
)

// Account keys live at m/44'/CoinType'/account'/0/index.
const (
	PurposeBIP44 = bip32.FirstHardenedChild + 44
	// CoinType is an unregistered coin type reserved for Agriblock keys.
	CoinType = bip32.FirstHardenedChild + 7460
)

// HDKey is a BIP-32 extended key.
type HDKey struct {
	key *bip32.Key
}

// NewMasterKey creates a master HD key from a 64-byte seed.
func NewMasterKey(seed []byte) (*HDKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	return &HDKey{key: master}, nil
}

// DerivePath derives a key along a sequence of indices. Add
// bip32.FirstHardenedChild to an index for hardened derivation.
func (k *HDKey) DerivePath(indices ...uint32) (*HDKey, error) {
	current := k.key
	for _, idx := range indices {
		child, err := current.NewChildKey(idx)
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", idx, err)
		}
		current = child
	}
	return &HDKey{key: current}, nil
}

// Depth returns the derivation depth (0 for master).
func (k *HDKey) Depth() uint8 { return k.key.Depth }

// PrivateKey returns the signing key. Public-only keys return an error.
func (k *HDKey) PrivateKey() (*crypto.PrivateKey, error) {
	if !k.key.IsPrivate {
		return nil, fmt.Errorf("public-only key has no private part")
	}
	// bip32 stores private keys as 33 bytes with a leading zero.
	raw := k.key.Key
	if len(raw) == 33 && raw[0] == 0 {
		raw = raw[1:]
	}
	return crypto.PrivateKeyFromBytes(raw)
}

// DeriveAccountKey derives the signing key of account/index from a seed.
func DeriveAccountKey(seed []byte, account, index uint32) (*crypto.PrivateKey, error) {
	master, err := NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	child, err := master.DerivePath(PurposeBIP44, CoinType, bip32.FirstHardenedChild+account, 0, index)
	if err != nil {
		return nil, err
	}
	return child.PrivateKey()
}
