package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/crypto"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// Genesis defines the initial state. It is immutable after chain launch;
// every node must use the same values and the same GENESIS_PRIVATE_KEY.
type Genesis struct {
	ChainID   string `yaml:"chainId" json:"chainId"`
	Timestamp int64  `yaml:"timestamp" json:"timestamp"` // unix milliseconds

	// Supply is credited to the account of GENESIS_PRIVATE_KEY.
	Supply string `yaml:"supply" json:"supply"`

	// Alloc maps public key -> initial balance.
	Alloc map[string]string `yaml:"alloc" json:"alloc,omitempty"`

	// Stakes maps public key -> initial stake.
	Stakes map[string]string `yaml:"stakes" json:"stakes,omitempty"`

	// ValidatorStake is given to every ALLOWED_PEERS key without an
	// explicit Stakes entry. Empty or "0" disables it.
	ValidatorStake string `yaml:"validatorStake" json:"validatorStake,omitempty"`

	// SlotDuration is the producer slot length. Zero means DefaultProducerSlot.
	SlotDuration time.Duration `yaml:"slotDuration" json:"slotDuration,omitempty"`
}

// ProducerSlot returns the effective producer slot length.
func (g *Genesis) ProducerSlot() time.Duration {
	if g.SlotDuration == 0 {
		return DefaultProducerSlot
	}
	return g.SlotDuration
}

// GenesisState is a Genesis with every amount and key parsed.
type GenesisState struct {
	ChainID    string
	Timestamp  int64
	GenesisKey types.PublicKey
	Balances   map[types.PublicKey]*uint256.Int
	Stakes     map[types.PublicKey]*uint256.Int
}

// Resolve parses the genesis definition. The genesis account receives
// Supply; allowed validators without an explicit stake receive ValidatorStake.
func (g *Genesis) Resolve(genesisKey types.PublicKey, allowed []types.PublicKey) (*GenesisState, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	st := &GenesisState{
		ChainID:    g.ChainID,
		Timestamp:  g.Timestamp,
		GenesisKey: genesisKey,
		Balances:   make(map[types.PublicKey]*uint256.Int),
		Stakes:     make(map[types.PublicKey]*uint256.Int),
	}

	if g.Supply != "" {
		supply, err := types.ParseAmount(g.Supply)
		if err != nil {
			return nil, fmt.Errorf("genesis supply: %w", err)
		}
		if !supply.IsZero() {
			st.Balances[genesisKey] = supply
		}
	}
	for k, v := range g.Alloc {
		key, _ := types.ParsePublicKey(k)
		amt, _ := types.ParseAmount(v)
		bal, ok := st.Balances[key]
		if !ok {
			bal = new(uint256.Int)
			st.Balances[key] = bal
		}
		bal.Add(bal, amt)
	}
	for k, v := range g.Stakes {
		key, _ := types.ParsePublicKey(k)
		amt, _ := types.ParseAmount(v)
		if !amt.IsZero() {
			st.Stakes[key] = amt
		}
	}
	if g.ValidatorStake != "" {
		def, err := types.ParseAmount(g.ValidatorStake)
		if err != nil {
			return nil, fmt.Errorf("genesis validatorStake: %w", err)
		}
		if !def.IsZero() {
			for _, key := range allowed {
				if _, ok := st.Stakes[key]; !ok {
					st.Stakes[key] = new(uint256.Int).Set(def)
				}
			}
		}
	}
	return st, nil
}

// Validate checks that the genesis definition is well formed.
func (g *Genesis) Validate() error {
	if g.ChainID == "" {
		return fmt.Errorf("genesis chainId is required")
	}
	if g.Timestamp <= 0 {
		return fmt.Errorf("genesis timestamp must be positive")
	}
	if g.SlotDuration != 0 && g.SlotDuration < time.Millisecond {
		return fmt.Errorf("genesis slotDuration must be at least 1ms")
	}
	for k, v := range g.Alloc {
		if _, err := types.ParsePublicKey(k); err != nil {
			return fmt.Errorf("invalid alloc key %q: %w", k, err)
		}
		if _, err := types.ParseAmount(v); err != nil {
			return fmt.Errorf("invalid alloc amount for %s: %w", k, err)
		}
	}
	for k, v := range g.Stakes {
		if _, err := types.ParsePublicKey(k); err != nil {
			return fmt.Errorf("invalid stake key %q: %w", k, err)
		}
		if _, err := types.ParseAmount(v); err != nil {
			return fmt.Errorf("invalid stake amount for %s: %w", k, err)
		}
	}
	return nil
}

// Hash returns a BLAKE3 hash of the genesis definition.
// Used to detect genesis mismatches in the store.
func (g *Genesis) Hash() (types.Hash, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Hash(data), nil
}
