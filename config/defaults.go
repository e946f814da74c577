package config

import "github.com/DemoYeti/bitcoin-canister/pkg/types"

// DefaultMainnet returns the default configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network:            types.Mainnet,
		DataDir:            DefaultDataDir(),
		StabilityThreshold: 30,
		Syncing:            true,
		API: APIConfig{
			Access:                  true,
			DisableIfNotFullySynced: true,
			Addr:                    "127.0.0.1",
			Port:                    8333,
		},
		Ingest: IngestConfig{
			InstructionBudget: 100_000_000,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultTestnet returns the default configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = types.Testnet
	cfg.StabilityThreshold = 144
	cfg.API.Port = 18333
	return cfg
}

// DefaultRegtest returns the default configuration for regtest.
func DefaultRegtest() *Config {
	cfg := DefaultMainnet()
	cfg.Network = types.Regtest
	cfg.StabilityThreshold = 1
	cfg.API.Port = 18444
	return cfg
}

// DefaultSignet returns the default configuration for signet.
func DefaultSignet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = types.Signet
	cfg.API.Port = 38333
	return cfg
}

// Default returns the default configuration for the given network.
func Default(network types.Network) *Config {
	switch network {
	case types.Testnet:
		return DefaultTestnet()
	case types.Regtest:
		return DefaultRegtest()
	case types.Signet:
		return DefaultSignet()
	default:
		return DefaultMainnet()
	}
}
