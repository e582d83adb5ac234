package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides cfg with the node keys found in the environment.
// PEERS is a JSON array of {publicKey, wsAddress}; ALLOWED_PEERS is either
// a JSON array (of keys or peer objects) or a comma-separated key list.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}

	str("DATA_DIR", &cfg.DataDir)
	str("DB_BACKEND", &cfg.DBBackend)
	str("PRIVATE_KEY", &cfg.PrivateKey)
	str("GENESIS_PRIVATE_KEY", &cfg.GenesisPrivateKey)
	str("MY_ADDRESS", &cfg.MyAddress)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("API_ADDR", &cfg.API.Addr)

	for key, dst := range map[string]*bool{
		"ENABLE_CHAIN_REQUEST": &cfg.EnableChainRequest,
		"ENABLE_API":           &cfg.EnableAPI,
		"ENABLE_MINING":        &cfg.EnableMining,
		"IS_ORDERER_NODE":      &cfg.IsOrdererNode,
	} {
		if err := boolean(key, dst); err != nil {
			return err
		}
	}

	if v, ok := lookup("PEERS"); ok && strings.TrimSpace(v) != "" {
		var peers []PeerConfig
		if err := json.Unmarshal([]byte(v), &peers); err != nil {
			return fmt.Errorf("PEERS: %w", err)
		}
		cfg.Peers = peers
	}
	if v, ok := lookup("ALLOWED_PEERS"); ok && strings.TrimSpace(v) != "" {
		keys, err := parseKeyList(v)
		if err != nil {
			return fmt.Errorf("ALLOWED_PEERS: %w", err)
		}
		cfg.AllowedPeers = keys
	}
	return nil
}

func parseKeyList(v string) (KeyList, error) {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "[") {
		return KeyList(parseStringList(v)), nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(v), &raw); err != nil {
		return nil, err
	}
	out := make(KeyList, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			out = append(out, s)
			continue
		}
		var p PeerConfig
		if err := json.Unmarshal(r, &p); err != nil {
			return nil, err
		}
		out = append(out, p.PublicKey)
	}
	return out, nil
}

// parseStringList splits a comma-separated list, dropping empty entries.
func parseStringList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
