package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadFile loads configuration from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse key = value
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := applyValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

func applyValue(cfg *Config, key, value string) error {
	switch key {
	case "network":
		// Handled by Load before defaults are chosen.
	case "datadir":
		cfg.DataDir = value
	case "stability_threshold":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return err
		}
		cfg.StabilityThreshold = uint32(n)
	case "syncing":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		cfg.Syncing = b
	case "api.access":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		cfg.API.Access = b
	case "api.disable_if_not_fully_synced":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		cfg.API.DisableIfNotFullySynced = b
	case "api.addr":
		cfg.API.Addr = value
	case "api.port":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.API.Port = n
	case "ingest.instruction_budget":
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		cfg.Ingest.InstructionBudget = n
	case "log.level":
		cfg.Log.Level = value
	case "log.json":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		cfg.Log.JSON = b
	case "log.file":
		cfg.Log.File = value
	default:
		return fmt.Errorf("unknown key")
	}
	return nil
}
