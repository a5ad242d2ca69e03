package llvm

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// ToolConfig holds optional tool configuration loaded from a JSON file.
type ToolConfig struct {
	CustomPasses []string `json:"custom_passes"`
	OptProfile   string   `json:"opt_profile"`
}

// LoadConfig reads, parses, and validates a tool configuration JSON file.
func LoadConfig(path string) (*ToolConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}

	var cfg ToolConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}

	for i, p := range cfg.CustomPasses {
		if err := ValidatePassFlag(p); err != nil {
			return nil, fmt.Errorf("config %q: custom_passes[%d]: %w", path, i, err)
		}
		cfg.CustomPasses[i] = strings.TrimSpace(p)
	}

	if cfg.OptProfile != "" {
		if _, ok := profiles[strings.ToLower(strings.TrimSpace(cfg.OptProfile))]; !ok {
			return nil, fmt.Errorf("config %q: unknown opt_profile %q", path, cfg.OptProfile)
		}
	}

	return &cfg, nil
}
