package config

import "time"

// Default returns the default node configuration.
func Default() *Config {
	return &Config{
		DataDir:            DefaultDataDir(),
		DBBackend:          BackendBadger,
		MyAddress:          "ws://0.0.0.0:6001",
		EnableChainRequest: true,
		EnableAPI:          true,
		EnableMining:       false,
		IsOrdererNode:      false,
		API: APIConfig{
			Addr:       "127.0.0.1:3001",
			AllowedIPs: []string{"127.0.0.1"},
			RateLimit:  50,
		},
		Chain: ChainConfig{
			BlockInterval: 5 * time.Second,
			SyncInterval:  10 * time.Second,
			MaxBlockTxs:   MaxBlockTxs,
			MempoolSize:   5000,
			MinFee:        "0",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
		},
		Genesis: Genesis{
			ChainID:        "agriblock-1",
			Timestamp:      1735689600000, // 2025-01-01
			Supply:         "1000000000",
			ValidatorStake: "100",
		},
	}
}
