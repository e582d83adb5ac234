package types

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// PublicKeySize is the length of a compressed secp256k1 public key.
const PublicKeySize = 33

// PublicKey identifies both an account and a validator. Accounts are keyed
// by the hex form of the compressed key in the state keyspace.
type PublicKey [PublicKeySize]byte

// IsZero returns true if the key is all zeros.
func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}

// String returns the lower-case hex encoding (66 characters).
func (k PublicKey) String() string {
	return hex.EncodeToString(k[:])
}

// Short returns the first 8 hex characters, for log lines.
func (k PublicKey) Short() string {
	return k.String()[:8]
}

// Bytes returns a copy of the key as a byte slice.
func (k PublicKey) Bytes() []byte {
	b := make([]byte, PublicKeySize)
	copy(b, k[:])
	return b
}

// Compare orders keys byte-wise.
func (k PublicKey) Compare(other PublicKey) int {
	return bytes.Compare(k[:], other[:])
}

// MarshalText encodes the key as hex, and the zero key as "". Used by JSON
// (including map keys) and YAML.
func (k PublicKey) MarshalText() ([]byte, error) {
	if k.IsZero() {
		return []byte{}, nil
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes a hex key. An empty string yields the zero key.
func (k *PublicKey) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*k = PublicKey{}
		return nil
	}
	parsed, err := ParsePublicKey(string(data))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParsePublicKey parses a hex-encoded compressed public key. A leading
// "0x" is tolerated.
func ParsePublicKey(s string) (PublicKey, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return PublicKey{}, fmt.Errorf("empty public key")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("invalid public key hex: %w", err)
	}
	return PublicKeyFromBytes(b)
}

// PublicKeyFromBytes copies a 33-byte compressed key.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	if len(b) != PublicKeySize {
		return PublicKey{}, fmt.Errorf("public key must be %d bytes, got %d", PublicKeySize, len(b))
	}
	if b[0] != 0x02 && b[0] != 0x03 {
		return PublicKey{}, fmt.Errorf("public key must be compressed (0x02/0x03 prefix), got 0x%02x", b[0])
	}
	var k PublicKey
	copy(k[:], b)
	return k, nil
}

// SortPublicKeys sorts keys in place, byte-wise ascending.
func SortPublicKeys(keys []PublicKey) {
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].Compare(keys[j]) < 0
	})
}
