// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Engine parameters: network and stability threshold, fixed for the
//     lifetime of a data directory
//   - Node settings: runtime configuration, can vary per node
package config

import (
	"os"
	"path/filepath"

	"github.com/DemoYeti/bitcoin-canister/pkg/types"
)

// Config holds the tracker's configuration.
type Config struct {
	// Core
	Network types.Network `conf:"network"`
	DataDir string        `conf:"datadir"`

	// StabilityThreshold is the confirmation depth at which a block can
	// never be reverted and is ingested into the stable UTXO set.
	StabilityThreshold uint32 `conf:"stability_threshold"`

	// Syncing enables the external block fetcher.
	Syncing bool `conf:"syncing"`

	// API server
	API APIConfig

	// Ingest tuning
	Ingest IngestConfig

	// Logging
	Log LogConfig
}

// APIConfig holds query endpoint settings.
type APIConfig struct {
	// Access gates all query endpoints.
	Access bool `conf:"api.access"`
	// DisableIfNotFullySynced additionally requires the engine to be
	// fully synced before queries are served.
	DisableIfNotFullySynced bool   `conf:"api.disable_if_not_fully_synced"`
	Addr                    string `conf:"api.addr"`
	Port                    int    `conf:"api.port"`
}

// IngestConfig holds block ingestion tuning.
type IngestConfig struct {
	// InstructionBudget is the per-round budget of the time-sliced
	// ingestor, in performance counter units.
	InstructionBudget uint64 `conf:"ingest.instruction_budget"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	JSON  bool   `conf:"log.json"`
	File  string `conf:"log.file"`
}

// DefaultDataDir returns the default data directory for the tracker.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".btcwatch"
	}
	return filepath.Join(home, ".btcwatch")
}

// ChainDataDir returns the directory holding the engine's database.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network), "chaindata")
}

// SnapshotPath returns the path of the serialized state snapshot.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.DataDir, string(c.Network), "state.cbor")
}

// LogsDir returns the directory for log files.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, string(c.Network), "logs")
}
