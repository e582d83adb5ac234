package consensus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/crypto"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// ErrNoEligibleValidators is returned when no allowed key holds active stake.
var ErrNoEligibleValidators = errors.New("no eligible validators")

// Candidate is one eligible validator and its selection weight.
type Candidate struct {
	Validator types.PublicKey `json:"validator"`
	Weight    *uint256.Int    `json:"weight"`
}

// Snapshot returns the eligible validators among allowed, in key order.
// A key is eligible when its active stake is positive; the weight is the
// stake itself.
func Snapshot(allowed []types.PublicKey, src StakeSource) ([]Candidate, error) {
	keys := make([]types.PublicKey, len(allowed))
	copy(keys, allowed)
	types.SortPublicKeys(keys)

	out := make([]Candidate, 0, len(keys))
	var prev types.PublicKey
	for i, k := range keys {
		if i > 0 && k == prev {
			continue
		}
		prev = k
		stake, err := src.ActiveStake(k)
		if err != nil {
			return nil, fmt.Errorf("stake of %s: %w", k.Short(), err)
		}
		if stake == nil || stake.IsZero() {
			continue
		}
		out = append(out, Candidate{Validator: k, Weight: new(uint256.Int).Set(stake)})
	}
	return out, nil
}

// Seed derives the selection seed for a height from the parent hash.
func Seed(prevHash types.Hash, height uint64) types.Hash {
	var h [8]byte
	binary.LittleEndian.PutUint64(h[:], height)
	return crypto.HashParts(prevHash[:], h[:])
}

// SelectProducer picks the producer for height from the candidates. The
// pick is seed mod total weight, located on the cumulative weight line, so
// every node with the same inputs picks the same key.
func SelectProducer(prevHash types.Hash, height uint64, candidates []Candidate) (types.PublicKey, error) {
	i, err := pickWeighted(Seed(prevHash, height), candidates)
	if err != nil {
		return types.PublicKey{}, err
	}
	return candidates[i].Validator, nil
}

// ProducerOrder ranks every candidate for height by stake-weighted sampling
// without replacement. Entry 0 is the SelectProducer pick; entry i is drawn
// from the candidates left after i rounds with the seed of round i.
func ProducerOrder(prevHash types.Hash, height uint64, candidates []Candidate) ([]types.PublicKey, error) {
	remaining := make([]Candidate, len(candidates))
	copy(remaining, candidates)

	base := Seed(prevHash, height)
	order := make([]types.PublicKey, 0, len(candidates))
	for round := uint64(0); len(remaining) > 0; round++ {
		seed := base
		if round > 0 {
			var r [8]byte
			binary.LittleEndian.PutUint64(r[:], round)
			seed = crypto.HashParts(base[:], r[:])
		}
		i, err := pickWeighted(seed, remaining)
		if err != nil {
			return nil, err
		}
		order = append(order, remaining[i].Validator)
		remaining = append(remaining[:i], remaining[i+1:]...)
	}
	if len(order) == 0 {
		return nil, ErrNoEligibleValidators
	}
	return order, nil
}

// SlotIndex returns how many whole slots separate a block timestamp from
// its parent's. Timestamps at or behind the parent are slot 0.
func SlotIndex(parentTime, timestamp int64, slot time.Duration) uint64 {
	ms := slot.Milliseconds()
	if ms <= 0 || timestamp <= parentTime {
		return 0
	}
	return uint64((timestamp - parentTime) / ms)
}

func pickWeighted(seed types.Hash, candidates []Candidate) (int, error) {
	total := new(uint256.Int)
	for _, c := range candidates {
		if _, overflow := total.AddOverflow(total, c.Weight); overflow {
			return 0, errors.New("total stake overflows")
		}
	}
	if total.IsZero() {
		return 0, ErrNoEligibleValidators
	}

	pick := new(uint256.Int).SetBytes32(seed[:])
	pick.Mod(pick, total)

	cum := new(uint256.Int)
	for i, c := range candidates {
		cum.Add(cum, c.Weight)
		if pick.Lt(cum) {
			return i, nil
		}
	}
	// Unreachable: pick < total == final cum.
	return len(candidates) - 1, nil
}
