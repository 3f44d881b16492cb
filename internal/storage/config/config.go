package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete storage configuration.
type Config struct {
	// DataDir is the root directory for persistent storage files.
	DataDir string `yaml:"data_dir"`

	// Backend selects the storage backend: memory or file.
	Backend string `yaml:"backend"`

	// Mode configures mode state machine behavior.
	Mode ModeConfig `yaml:"mode"`

	// Buffer configures per-type record capacity.
	Buffer BufferConfig `yaml:"buffer"`

	// Batch configures the batch streaming protocol.
	Batch BatchConfig `yaml:"batch"`

	// Stats configures latency tracking.
	Stats StatsConfig `yaml:"stats"`

	// Shell configures the diagnostic shell.
	Shell ShellConfig `yaml:"shell"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// ModeConfig configures mode state machine behavior.
type ModeConfig struct {
	// Initial is the mode entered at startup: passthrough or buffer.
	Initial string `yaml:"initial"`

	// PublishTimeout bounds how long a notification waits for a slow
	// subscriber before being dropped.
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// BufferConfig configures per-type record capacity.
type BufferConfig struct {
	// CapacityPerType is the maximum number of buffered records per
	// data type before overwrite-oldest eviction.
	CapacityPerType int `yaml:"capacity_per_type"`

	// MaxTypes is the maximum number of registered data types.
	MaxTypes int `yaml:"max_types"`

	// MaxRecordSize is the maximum record size in bytes.
	MaxRecordSize int `yaml:"max_record_size"`

	// BlockSize overrides the filesystem block size for the file
	// backend. Zero means ask the filesystem.
	BlockSize int `yaml:"block_size"`
}

// BatchConfig configures the batch streaming protocol.
type BatchConfig struct {
	// PipeSize is the batch pipe capacity in bytes.
	PipeSize int `yaml:"pipe_size"`

	// SessionTimeout closes a batch session with no consumer activity.
	// Zero disables the timeout.
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

// StatsConfig configures latency tracking.
type StatsConfig struct {
	// Enabled enables store latency sketches.
	Enabled bool `yaml:"enabled"`

	// Accuracy is the sketch relative accuracy (0.01 = 1% error).
	Accuracy float64 `yaml:"accuracy"`
}

// ShellConfig configures the diagnostic shell.
type ShellConfig struct {
	// Enabled starts the interactive shell on stdin.
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is the minimum level: debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON switches output from text to JSON.
	JSON bool `yaml:"json"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "/var/lib/stash",
		Backend: "memory",
		Mode: ModeConfig{
			Initial:        "passthrough",
			PublishTimeout: time.Second,
		},
		Buffer: BufferConfig{
			CapacityPerType: 64,
			MaxTypes:        8,
			MaxRecordSize:   256,
		},
		Batch: BatchConfig{
			PipeSize:       1024,
			SessionTimeout: 2 * time.Minute,
		},
		Stats: StatsConfig{
			Enabled:  true,
			Accuracy: 0.01,
		},
		Shell: ShellConfig{
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
