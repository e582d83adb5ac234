// Package config handles node configuration.
//
// Configuration is split into two categories:
//   - Protocol rules: genesis and the constants in params.go, which must match across all nodes
//   - Node settings: keys, peers and feature flags, which vary per node
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
	"gopkg.in/yaml.v3"
)

// Storage backends accepted by DB_BACKEND.
const (
	BackendBadger  = "badger"
	BackendLevelDB = "leveldb"
	BackendMemory  = "memory"
)

// Config holds node-specific runtime configuration. The upper-case keys
// are shared by the YAML file and the environment.
type Config struct {
	// Core
	DataDir   string `yaml:"DATA_DIR"`
	DBBackend string `yaml:"DB_BACKEND"`

	// Identity
	PrivateKey        string `yaml:"PRIVATE_KEY"`
	GenesisPrivateKey string `yaml:"GENESIS_PRIVATE_KEY"`

	// Networking
	MyAddress    string       `yaml:"MY_ADDRESS"`
	Peers        []PeerConfig `yaml:"PEERS"`
	AllowedPeers KeyList      `yaml:"ALLOWED_PEERS"`

	// Feature flags
	EnableChainRequest bool `yaml:"ENABLE_CHAIN_REQUEST"`
	EnableAPI          bool `yaml:"ENABLE_API"`
	EnableMining       bool `yaml:"ENABLE_MINING"`
	IsOrdererNode      bool `yaml:"IS_ORDERER_NODE"`

	API     APIConfig   `yaml:"API"`
	Chain   ChainConfig `yaml:"CHAIN"`
	Log     LogConfig   `yaml:"LOG"`
	Genesis Genesis     `yaml:"GENESIS"`
}

// PeerConfig is a statically configured peer.
type PeerConfig struct {
	PublicKey string `yaml:"publicKey" json:"publicKey"`
	WSAddress string `yaml:"wsAddress" json:"wsAddress"`
}

// APIConfig holds the JSON-RPC query server settings.
type APIConfig struct {
	Addr       string   `yaml:"addr"`
	AllowedIPs []string `yaml:"allowedIps"`
	RateLimit  float64  `yaml:"rateLimit"` // requests per second per server, 0 = unlimited
}

// ChainConfig holds operational chain settings (not consensus rules).
type ChainConfig struct {
	BlockInterval time.Duration `yaml:"blockInterval"`
	SyncInterval  time.Duration `yaml:"syncInterval"`
	MaxBlockTxs   int           `yaml:"maxBlockTxs"`
	MempoolSize   int           `yaml:"mempoolSize"`
	MinFee        string        `yaml:"minFee"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	JSON       bool   `yaml:"json"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
}

// KeyList is a list of hex public keys. In YAML each entry may be a bare
// key or a {publicKey, wsAddress} mapping, since deployments share one
// peer list for PEERS and ALLOWED_PEERS.
type KeyList []string

// UnmarshalYAML accepts scalars and {publicKey: ...} mappings.
func (k *KeyList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: expected a list of public keys", node.Line)
	}
	out := make(KeyList, 0, len(node.Content))
	for _, item := range node.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			out = append(out, item.Value)
		case yaml.MappingNode:
			var p PeerConfig
			if err := item.Decode(&p); err != nil {
				return err
			}
			out = append(out, p.PublicKey)
		default:
			return fmt.Errorf("line %d: unsupported entry in key list", item.Line)
		}
	}
	*k = out
	return nil
}

// Keys parses the list into public keys.
func (k KeyList) Keys() ([]types.PublicKey, error) {
	out := make([]types.PublicKey, 0, len(k))
	for i, s := range k {
		pk, err := types.ParsePublicKey(s)
		if err != nil {
			return nil, fmt.Errorf("ALLOWED_PEERS[%d]: %w", i, err)
		}
		out = append(out, pk)
	}
	return out, nil
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the default data directory (~/.agriblock).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agriblock"
	}
	return filepath.Join(home, ".agriblock")
}

// DBDir returns the store directory for the configured backend.
func (c *Config) DBDir() string {
	return filepath.Join(c.DataDir, "db-"+c.DBBackend)
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the default config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "node.yaml")
}
