package config

import (
	"flag"
	"fmt"
	"io"
	"os"
)

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	DataDir   string
	Config    string
	DBBackend string

	// Networking
	Listen string

	// API
	APIAddr string

	// Feature flags
	Mine         bool
	Orderer      bool
	API          bool
	ChainRequest bool

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Explicitly-set bool flags (for true/false overrides).
	SetMine         bool
	SetOrderer      bool
	SetAPI          bool
	SetChainRequest bool
	SetLogJSON      bool
}

// ParseFlags parses command-line arguments (without the program name).
func ParseFlags(args []string, stderr io.Writer) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("agrinoded", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")

	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path (YAML)")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")
	fs.StringVar(&f.DBBackend, "db", "", "Storage backend: badger, leveldb or memory")

	fs.StringVar(&f.Listen, "listen", "", "Own ws:// endpoint (MY_ADDRESS)")
	fs.StringVar(&f.APIAddr, "api-addr", "", "Query API listen address")

	fs.BoolVar(&f.Mine, "mine", false, "Enable block production (ENABLE_MINING)")
	fs.BoolVar(&f.Orderer, "orderer", false, "Run as orderer node (IS_ORDERER_NODE)")
	fs.BoolVar(&f.API, "api", true, "Enable query API (ENABLE_API)")
	fs.BoolVar(&f.ChainRequest, "chain-request", true, "Request missing blocks from peers (ENABLE_CHAIN_REQUEST)")

	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path (rotated)")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	fs.Usage = func() { PrintUsage(stderr) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	f.SetMine = isFlagSet(fs, "mine")
	f.SetOrderer = isFlagSet(fs, "orderer")
	f.SetAPI = isFlagSet(fs, "api")
	f.SetChainRequest = isFlagSet(fs, "chain-request")
	f.SetLogJSON = isFlagSet(fs, "log-json")
	return f, nil
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) {
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
	if f.DBBackend != "" {
		cfg.DBBackend = f.DBBackend
	}
	if f.Listen != "" {
		cfg.MyAddress = f.Listen
	}
	if f.APIAddr != "" {
		cfg.API.Addr = f.APIAddr
	}
	if f.SetMine {
		cfg.EnableMining = f.Mine
	}
	if f.SetOrderer {
		cfg.IsOrdererNode = f.Orderer
	}
	if f.SetAPI {
		cfg.EnableAPI = f.API
	}
	if f.SetChainRequest {
		cfg.EnableChainRequest = f.ChainRequest
	}
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
}

// isFlagSet checks if a flag was explicitly set.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// PrintUsage writes the agrinoded help text.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, `Agriblock node - proof-of-stake chain for agricultural traceability

Usage:
  agrinoded [options]

Options:
  --config, -c      YAML config file (default: <datadir>/node.yaml)
  --datadir         Data directory (default: ~/.agriblock)
  --db              Storage backend: badger (default), leveldb, memory
  --listen          Own ws:// endpoint, overrides MY_ADDRESS
  --api-addr        Query API listen address
  --mine            Produce blocks when selected (ENABLE_MINING)
  --orderer         Act as orderer node (IS_ORDERER_NODE)
  --api             Serve the query API (ENABLE_API, default: true)
  --chain-request   Request missing blocks from peers (default: true)
  --log-level       debug, info, warn, error (default: info)
  --log-file        Also write JSON logs to a rotated file
  --log-json        Console logs as JSON

Environment:
  PRIVATE_KEY, GENESIS_PRIVATE_KEY, MY_ADDRESS, PEERS, ALLOWED_PEERS,
  ENABLE_CHAIN_REQUEST, ENABLE_API, ENABLE_MINING, IS_ORDERER_NODE
  override the config file; flags override the environment.
`)
}

// Load loads configuration with the following precedence:
// 1. Default values
// 2. Config file
// 3. Environment
// 4. Command-line flags
func Load(args []string) (*Config, *Flags, error) {
	flags, err := ParseFlags(args, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	if flags.Help || flags.Version {
		return nil, flags, nil
	}

	cfg := Default()
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}
	if err := LoadFile(configPath, cfg); err != nil {
		return nil, nil, err
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, nil, fmt.Errorf("environment: %w", err)
	}
	ApplyFlags(cfg, flags)

	if err := Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating data dir: %w", err)
	}
	return cfg, flags, nil
}
