package types

import (
	"fmt"

	"github.com/holiman/uint256"
)

// ParseAmount parses a base-10 amount string.
func ParseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return v, nil
}

// AmountOrZero returns v, or a fresh zero when v is nil.
func AmountOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	return v
}
