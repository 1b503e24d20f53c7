package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the first of agentd.yaml, agentd.yml, agentd.json under dir.
// A missing file yields Default(); a malformed file is an error.
func Load(dir string) (*AppConfig, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	path, raw, err := readPayload(dir)
	if errors.Is(err, fs.ErrNotExist) {
		cfg := Default()
		cfg.Normalize()
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFile reads a specific config file.
func LoadFile(path string) (*AppConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML or JSON into a normalized AppConfig.
func Parse(raw []byte) (*AppConfig, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, errors.New("config payload is empty")
	}
	cfg := &AppConfig{}
	if err := decodeMixedYAMLJSON(raw, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return cfg, nil
}

func readPayload(dir string) (string, []byte, error) {
	candidates := []string{"agentd.yaml", "agentd.yml", "agentd.json"}
	for _, name := range candidates {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return path, nil, err
		}
		return path, data, nil
	}
	return filepath.Join(dir, candidates[0]), nil, fs.ErrNotExist
}

func decodeMixedYAMLJSON(data []byte, out any) error {
	if err := yaml.Unmarshal(data, out); err == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err == nil {
		return nil
	}
	return errors.New("config decode failed: unsupported format")
}
