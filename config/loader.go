package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix prefixes environment overrides, e.g. PERSISTUNIT_DEFAULT_UNIT.
const DefaultEnvPrefix = "PERSISTUNIT"

// Load reads the file at path, applies environment overrides with
// DefaultEnvPrefix and validates the result. The format is chosen by extension:
// .yaml/.yml, .toml or .json.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg, DefaultEnvPrefix); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	if cfg.DataSetDir != "" && !filepath.IsAbs(cfg.DataSetDir) {
		cfg.DataSetDir = filepath.Join(filepath.Dir(path), cfg.DataSetDir)
	}
	return cfg, nil
}

// DecodeFile decodes path into target according to its extension.
func DecodeFile(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, target)
	case ".toml":
		err = toml.Unmarshal(data, target)
	case ".json":
		err = json.Unmarshal(data, target)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
