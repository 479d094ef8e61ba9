// Package config loads engine settings from a yaml or json file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/tinyzimmer/fastzip/pkg/types"
)

// Config represents the optional configuration file accepted by the CLI. Every field is
// optional, zero values leave the corresponding default in place.
type Config struct {
	// The compression level used when none is given on the command line
	Level int `json:"level,omitempty" yaml:"level,omitempty"`
	// The number of concurrent compression workers
	Workers int `json:"workers,omitempty" yaml:"workers,omitempty"`
	// Additional doublestar patterns to leave out of directory archives
	Excludes []string `json:"excludes,omitempty" yaml:"excludes,omitempty"`
	// Files larger than this many bytes are streamed instead of buffered
	StreamThreshold int64 `json:"streamThreshold,omitempty" yaml:"streamThreshold,omitempty"`
	// A comment template rendered into archives
	Comment string `json:"comment,omitempty" yaml:"comment,omitempty"`
	// The directory to use for working files
	TempDir string `json:"tempDir,omitempty" yaml:"tempDir,omitempty"`
}

// NewDefaultConfig returns a Config populated with the engine defaults.
func NewDefaultConfig() *Config {
	opts := types.NewDefaultEngineOptions()
	return &Config{
		Level:           int(opts.Level),
		StreamThreshold: opts.StreamThreshold,
	}
}

// FromFile will unmarshal a file containing a configuration on top of the defaults.
// The format is picked by the file extension.
func FromFile(path string) (*Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := NewDefaultConfig()
	if strings.HasSuffix(path, ".json") {
		err = json.Unmarshal(body, cfg)
	} else if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		err = yaml.UnmarshalStrict(body, cfg)
	} else {
		return nil, fmt.Errorf("%s is not a valid yaml or json file", path)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the values that can be checked without touching the filesystem.
func (c *Config) Validate() error {
	if c.Level != 0 && !types.Level(c.Level).Valid() {
		return &types.InvalidLevelError{Level: c.Level}
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.StreamThreshold < 0 {
		return fmt.Errorf("streamThreshold must not be negative, got %d", c.StreamThreshold)
	}
	return nil
}

// ApplyTo copies every value set in the configuration onto opts. Excludes are added
// to the ones already present.
func (c *Config) ApplyTo(opts *types.EngineOptions) {
	if c.Level != 0 {
		opts.Level = types.Level(c.Level)
	}
	if c.Workers != 0 {
		opts.Workers = c.Workers
	}
	if c.StreamThreshold != 0 {
		opts.StreamThreshold = c.StreamThreshold
	}
	if c.Comment != "" {
		opts.Comment = c.Comment
	}
	opts.Excludes = append(opts.Excludes, c.Excludes...)
}
