// Package config loads the scenemerge configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for a config file.
const DefaultPath = ".scenemerge/config.yaml"

// Config holds all settings.
type Config struct {
	Merge   MergeConfig   `yaml:"merge"`
	Journal JournalConfig `yaml:"journal"`
	Log     LogConfig     `yaml:"log"`
}

// MergeConfig controls the merge operations.
type MergeConfig struct {
	SelectionGroups bool `yaml:"selectionGroups"`
	Layers          bool `yaml:"layers"`
	// Exclude lists doublestar patterns matched against entity names.
	// Actions on matching entities are deactivated.
	Exclude []string `yaml:"exclude"`
}

// JournalConfig locates the merge journal database.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the settings used without a config file.
func Default() *Config {
	return &Config{
		Merge: MergeConfig{
			SelectionGroups: true,
			Layers:          true,
		},
		Journal: JournalConfig{Path: ".scenemerge/journal.db"},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads a config file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadOrDefault loads path, or returns the defaults if the file doesn't exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// Validate checks the patterns and the log level.
func (c *Config) Validate() error {
	for _, pattern := range c.Merge.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// LogLevel parses the configured level. An empty level means info.
func (c *Config) LogLevel() (log.Level, error) {
	if c.Log.Level == "" {
		return log.InfoLevel, nil
	}
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.InfoLevel, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}

// EntityFilter returns a predicate reporting whether an entity name matches
// one of the exclude patterns, or nil if there are none.
func (c *Config) EntityFilter() func(entityName string) bool {
	if len(c.Merge.Exclude) == 0 {
		return nil
	}
	patterns := append([]string(nil), c.Merge.Exclude...)

	return func(entityName string) bool {
		for _, pattern := range patterns {
			match, err := doublestar.Match(pattern, entityName)
			if err != nil {
				continue
			}
			if match {
				return true
			}
		}
		return false
	}
}

// Save writes the config to path, creating the parent directory.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
