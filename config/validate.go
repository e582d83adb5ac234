package config

import (
	"fmt"
	"net/url"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/crypto"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// Validate checks runtime node config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	switch cfg.DBBackend {
	case BackendBadger, BackendLevelDB, BackendMemory:
	default:
		return fmt.Errorf("DB_BACKEND must be %q, %q or %q", BackendBadger, BackendLevelDB, BackendMemory)
	}

	if cfg.PrivateKey == "" {
		return fmt.Errorf("PRIVATE_KEY is required")
	}
	if _, err := crypto.PrivateKeyFromHex(cfg.PrivateKey); err != nil {
		return fmt.Errorf("PRIVATE_KEY: %w", err)
	}
	if cfg.GenesisPrivateKey == "" {
		return fmt.Errorf("GENESIS_PRIVATE_KEY is required")
	}
	if _, err := crypto.PrivateKeyFromHex(cfg.GenesisPrivateKey); err != nil {
		return fmt.Errorf("GENESIS_PRIVATE_KEY: %w", err)
	}

	if err := validateWSAddress(cfg.MyAddress); err != nil {
		return fmt.Errorf("MY_ADDRESS: %w", err)
	}
	allowed, err := cfg.AllowedPeers.Keys()
	if err != nil {
		return err
	}
	if len(allowed) == 0 {
		return fmt.Errorf("ALLOWED_PEERS must list at least one public key")
	}
	seen := make(map[types.PublicKey]bool, len(cfg.Peers))
	for i, p := range cfg.Peers {
		key, err := types.ParsePublicKey(p.PublicKey)
		if err != nil {
			return fmt.Errorf("PEERS[%d].publicKey: %w", i, err)
		}
		if seen[key] {
			return fmt.Errorf("PEERS has duplicate key %s", key.Short())
		}
		seen[key] = true
		if err := validateWSAddress(p.WSAddress); err != nil {
			return fmt.Errorf("PEERS[%d].wsAddress: %w", i, err)
		}
	}

	if cfg.Chain.BlockInterval <= 0 {
		return fmt.Errorf("CHAIN.blockInterval must be positive")
	}
	if cfg.Chain.MaxBlockTxs <= 0 || cfg.Chain.MaxBlockTxs > MaxBlockTxs {
		return fmt.Errorf("CHAIN.maxBlockTxs must be in range [1, %d]", MaxBlockTxs)
	}
	if _, err := types.ParseAmount(cfg.Chain.MinFee); err != nil {
		return fmt.Errorf("CHAIN.minFee: %w", err)
	}
	return cfg.Genesis.Validate()
}

func validateWSAddress(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%q must use ws:// or wss://", s)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", s)
	}
	return nil
}
