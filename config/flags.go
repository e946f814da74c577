package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/DemoYeti/bitcoin-canister/pkg/types"
)

// Load builds the effective configuration: defaults for the selected
// network, overlaid by a .env file, the .conf file in the data
// directory, and finally command-line flags.
func Load() (*Config, error) {
	// A .env file in the working directory may pre-seed the environment.
	_ = godotenv.Load()

	fs := flag.NewFlagSet(filepath.Base(os.Args[0]), flag.ContinueOnError)

	networkFlag := fs.String("network", envOr("BTCWATCH_NETWORK", string(types.Mainnet)), "network to track (mainnet|testnet|regtest|signet)")
	dataDir := fs.String("datadir", envOr("BTCWATCH_DATADIR", ""), "data directory (default ~/.btcwatch)")
	confFile := fs.String("conf", "", "path to configuration file (default <datadir>/btcwatch.conf)")
	stability := fs.Uint("stability-threshold", 0, "confirmations before a block is considered stable (0 = network default)")
	syncing := fs.Bool("syncing", true, "enable the block fetcher")
	apiAccess := fs.Bool("api-access", true, "enable query endpoints")
	apiStrict := fs.Bool("disable-api-if-not-fully-synced", true, "refuse queries until fully synced")
	apiAddr := fs.String("api-addr", "", "query API listen address")
	apiPort := fs.Int("api-port", 0, "query API listen port (0 = network default)")
	ingestBudget := fs.Uint64("ingest-budget", 0, "per-round ingestion instruction budget (0 = default)")
	logLevel := fs.String("log-level", "", "log level (debug|info|warn|error)")
	logJSON := fs.Bool("log-json", false, "log JSON to the console")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, err
	}

	network, err := types.ParseNetwork(*networkFlag)
	if err != nil {
		return nil, err
	}
	cfg := Default(network)

	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	// File config sits between defaults and flags.
	confPath := *confFile
	if confPath == "" {
		confPath = filepath.Join(cfg.DataDir, "btcwatch.conf")
	}
	values, err := LoadFile(confPath)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", confPath, err)
	}
	if err := ApplyFileConfig(cfg, values); err != nil {
		return nil, err
	}

	// Explicit flags win over everything.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "datadir":
			cfg.DataDir = *dataDir
		case "stability-threshold":
			if *stability != 0 {
				cfg.StabilityThreshold = uint32(*stability)
			}
		case "syncing":
			cfg.Syncing = *syncing
		case "api-access":
			cfg.API.Access = *apiAccess
		case "disable-api-if-not-fully-synced":
			cfg.API.DisableIfNotFullySynced = *apiStrict
		case "api-addr":
			cfg.API.Addr = *apiAddr
		case "api-port":
			if *apiPort != 0 {
				cfg.API.Port = *apiPort
			}
		case "ingest-budget":
			if *ingestBudget != 0 {
				cfg.Ingest.InstructionBudget = *ingestBudget
			}
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-json":
			cfg.Log.JSON = *logJSON
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
