package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// FromFile loads configuration from a file, auto-detecting the format by
// extension. Supported extensions: .yaml, .yml, .json.
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	default:
		return Config{}, fmt.Errorf("unsupported config file extension: %s", ext)
	}
}

// FromYAML parses YAML data into a Config, filling unset fields from the
// defaults.
func FromYAML(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromJSON parses JSON data into a Config, filling unset fields from the
// defaults.
func FromJSON(data []byte) (Config, error) {
	if !gjson.ValidBytes(data) {
		return Config{}, fmt.Errorf("parse json: invalid document")
	}

	cfg := Default()
	if v := gjson.GetBytes(data, "log_level"); v.Exists() {
		cfg.LogLevel = v.String()
	}
	if v := gjson.GetBytes(data, "stream_buffer"); v.Exists() {
		cfg.StreamBuffer = int(v.Int())
	}
	if v := gjson.GetBytes(data, "metrics"); v.Exists() {
		cfg.Metrics = v.Bool()
	}
	if v := gjson.GetBytes(data, "device"); v.Exists() {
		cfg.Device = v.String()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
