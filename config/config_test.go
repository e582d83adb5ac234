package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	node, err := crypto.GenerateKey()
	require.NoError(t, err)
	gen, err := crypto.GenerateKey()
	require.NoError(t, err)

	cfg := Default()
	cfg.DataDir = t.TempDir()
	cfg.PrivateKey = node.Hex()
	cfg.GenesisPrivateKey = gen.Hex()
	cfg.AllowedPeers = KeyList{node.PublicKey().String()}
	return cfg
}

func TestValidate_Default(t *testing.T) {
	cfg := validConfig(t)
	require.NoError(t, Validate(cfg))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing private key", func(c *Config) { c.PrivateKey = "" }},
		{"bad private key", func(c *Config) { c.PrivateKey = "abcd" }},
		{"missing genesis key", func(c *Config) { c.GenesisPrivateKey = "" }},
		{"bad backend", func(c *Config) { c.DBBackend = "sqlite" }},
		{"http address", func(c *Config) { c.MyAddress = "http://127.0.0.1:6001" }},
		{"empty allow-list", func(c *Config) { c.AllowedPeers = nil }},
		{"bad allowed key", func(c *Config) { c.AllowedPeers = KeyList{"nothex"} }},
		{"bad peer address", func(c *Config) {
			c.Peers = []PeerConfig{{PublicKey: c.AllowedPeers[0], WSAddress: "tcp://x"}}
		}},
		{"zero block interval", func(c *Config) { c.Chain.BlockInterval = 0 }},
		{"too many block txs", func(c *Config) { c.Chain.MaxBlockTxs = MaxBlockTxs + 1 }},
		{"bad min fee", func(c *Config) { c.Chain.MinFee = "-1" }},
		{"missing chain id", func(c *Config) { c.Genesis.ChainID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestLoadFile_YAML(t *testing.T) {
	k1, _ := crypto.GenerateKey()
	k2, _ := crypto.GenerateKey()
	yml := "PRIVATE_KEY: " + k1.Hex() + "\n" +
		"MY_ADDRESS: ws://10.0.0.1:6001\n" +
		"ENABLE_MINING: true\n" +
		"IS_ORDERER_NODE: true\n" +
		"PEERS:\n" +
		"  - publicKey: " + k2.PublicKey().String() + "\n" +
		"    wsAddress: ws://10.0.0.2:6001\n" +
		"ALLOWED_PEERS:\n" +
		"  - " + k1.PublicKey().String() + "\n" +
		"  - publicKey: " + k2.PublicKey().String() + "\n" +
		"    wsAddress: ws://10.0.0.2:6001\n" +
		"CHAIN:\n" +
		"  blockInterval: 2s\n" +
		"GENESIS:\n" +
		"  chainId: test-chain\n" +
		"  timestamp: 1700000000000\n" +
		"  stakes:\n" +
		"    " + k1.PublicKey().String() + ": \"100\"\n"

	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yml), 0600))

	cfg := Default()
	require.NoError(t, LoadFile(path, cfg))

	assert.Equal(t, k1.Hex(), cfg.PrivateKey)
	assert.Equal(t, "ws://10.0.0.1:6001", cfg.MyAddress)
	assert.True(t, cfg.EnableMining)
	assert.True(t, cfg.IsOrdererNode)
	require.Len(t, cfg.Peers, 1)
	assert.Equal(t, "ws://10.0.0.2:6001", cfg.Peers[0].WSAddress)
	assert.Equal(t, KeyList{k1.PublicKey().String(), k2.PublicKey().String()}, cfg.AllowedPeers)
	assert.Equal(t, 2*time.Second, cfg.Chain.BlockInterval)
	assert.Equal(t, "test-chain", cfg.Genesis.ChainID)
	assert.Equal(t, "100", cfg.Genesis.Stakes[k1.PublicKey().String()])
	// Untouched keys keep their defaults.
	assert.True(t, cfg.EnableChainRequest)
}

func TestLoadFile_UnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ENABLE_MINNING: true\n"), 0600))
	assert.Error(t, LoadFile(path, Default()))
}

func TestLoadFile_Missing(t *testing.T) {
	assert.NoError(t, LoadFile(filepath.Join(t.TempDir(), "absent.yaml"), Default()))
}

func TestApplyEnv(t *testing.T) {
	k1, _ := crypto.GenerateKey()
	k2, _ := crypto.GenerateKey()
	env := map[string]string{
		"PRIVATE_KEY":          k1.Hex(),
		"ENABLE_MINING":        "true",
		"ENABLE_CHAIN_REQUEST": "false",
		"PEERS":                `[{"publicKey":"` + k2.PublicKey().String() + `","wsAddress":"ws://peer:6001"}]`,
		"ALLOWED_PEERS":        k1.PublicKey().String() + "," + k2.PublicKey().String(),
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, ApplyEnv(cfg, lookup))
	assert.Equal(t, k1.Hex(), cfg.PrivateKey)
	assert.True(t, cfg.EnableMining)
	assert.False(t, cfg.EnableChainRequest)
	require.Len(t, cfg.Peers, 1)
	assert.Equal(t, "ws://peer:6001", cfg.Peers[0].WSAddress)
	assert.Len(t, cfg.AllowedPeers, 2)

	env["ALLOWED_PEERS"] = `[{"publicKey":"` + k2.PublicKey().String() + `","wsAddress":"ws://peer:6001"}]`
	require.NoError(t, ApplyEnv(cfg, lookup))
	assert.Equal(t, KeyList{k2.PublicKey().String()}, cfg.AllowedPeers)

	env["ENABLE_API"] = "maybe"
	assert.Error(t, ApplyEnv(cfg, lookup))
}

func TestApplyFlags_Precedence(t *testing.T) {
	cfg := Default()
	cfg.EnableMining = true
	f, err := ParseFlags([]string{"--mine=false", "--orderer", "--db", "leveldb"}, os.Stderr)
	require.NoError(t, err)
	ApplyFlags(cfg, f)
	assert.False(t, cfg.EnableMining)
	assert.True(t, cfg.IsOrdererNode)
	assert.Equal(t, BackendLevelDB, cfg.DBBackend)
	// Flags left unset do not clobber config values.
	assert.True(t, cfg.EnableAPI)
}
