package config

import "fmt"

// MaxStabilityThreshold caps the confirmation depth; beyond it the
// unstable tree would hold an unreasonable number of block bodies.
const MaxStabilityThreshold = 1000

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("datadir must not be empty")
	}
	if c.StabilityThreshold > MaxStabilityThreshold {
		return fmt.Errorf("stability threshold %d exceeds maximum %d", c.StabilityThreshold, MaxStabilityThreshold)
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("invalid API port %d", c.API.Port)
	}
	if c.Ingest.InstructionBudget == 0 {
		return fmt.Errorf("ingest instruction budget must be positive")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}
