package ppl

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds the optional runner settings read from ppl.yaml.
type Config struct {
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text or json
	// Sandbox restricts all file access to the given directory for every
	// run, as if the pipeline began with 'set sandbox = <dir>'.
	Sandbox string `yaml:"sandbox"`
	// DefaultChunkSize streams every CSV source in batches of this many
	// rows unless the source line carries its own 'chunk N'.
	DefaultChunkSize int `yaml:"default_chunk_size"`
}

// DefaultConfig returns the settings used when no config file exists.
func DefaultConfig() *Config {
	return &Config{LogLevel: "warn", LogFormat: "text"}
}

// LoadConfig reads a yaml config file. A missing file is not an error and
// yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read config '%s'", path)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config '%s'", path)
	}
	return cfg, nil
}
