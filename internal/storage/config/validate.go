package config

import (
	"errors"
	"fmt"
	"os"
)

// pipeFrameOverhead is the per-item framing in the batch pipe: one tag
// byte and a little-endian u16 payload size.
const pipeFrameOverhead = 3

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Backend != "memory" && c.Backend != "file" {
		errs = append(errs, fmt.Errorf("backend must be one of: memory, file (got %q)", c.Backend))
	}

	if c.Backend == "file" && c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required for the file backend"))
	}

	if err := c.Mode.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("mode: %w", err))
	}

	if err := c.Buffer.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("buffer: %w", err))
	}

	if err := c.Batch.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("batch: %w", err))
	}

	// Each piped item carries a 3-byte frame ahead of the record. A pipe
	// that cannot hold one framed record makes batch rounds spin without
	// ever delivering anything.
	if min := pipeFrameOverhead + c.Buffer.MaxRecordSize; c.Batch.PipeSize < min {
		errs = append(errs, fmt.Errorf("batch: pipe_size must be at least %d to hold one framed record of max_record_size %d",
			min, c.Buffer.MaxRecordSize))
	}

	if err := c.Stats.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("stats: %w", err))
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the mode configuration.
func (c *ModeConfig) Validate() error {
	var errs []error

	if c.Initial != "passthrough" && c.Initial != "buffer" {
		errs = append(errs, fmt.Errorf("initial must be one of: passthrough, buffer (got %q)", c.Initial))
	}

	if c.PublishTimeout <= 0 {
		errs = append(errs, errors.New("publish_timeout must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the buffer configuration.
func (c *BufferConfig) Validate() error {
	var errs []error

	if c.CapacityPerType <= 0 {
		errs = append(errs, errors.New("capacity_per_type must be positive"))
	}

	if c.MaxTypes <= 0 {
		errs = append(errs, errors.New("max_types must be positive"))
	}

	if c.MaxRecordSize <= 0 {
		errs = append(errs, errors.New("max_record_size must be positive"))
	}

	// the pipe frame encodes the record size as a u16
	if c.MaxRecordSize > 65535 {
		errs = append(errs, errors.New("max_record_size must not exceed 65535"))
	}

	if c.BlockSize < 0 {
		errs = append(errs, errors.New("block_size must be non-negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the batch configuration.
func (c *BatchConfig) Validate() error {
	var errs []error

	if c.PipeSize <= 0 {
		errs = append(errs, errors.New("pipe_size must be positive"))
	}

	if c.SessionTimeout < 0 {
		errs = append(errs, errors.New("session_timeout must be non-negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the stats configuration.
func (c *StatsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Accuracy <= 0 || c.Accuracy > 1 {
		return errors.New("accuracy must be between 0 and 1")
	}
	return nil
}

// Validate checks the logging configuration.
func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error", "":
		return nil
	}
	return fmt.Errorf("level must be one of: debug, info, warn, error (got %q)", c.Level)
}

// EnsureDirectories creates the storage directory for the file backend.
func (c *Config) EnsureDirectories() error {
	if c.Backend != "file" {
		return nil
	}
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", c.DataDir, err)
	}
	return nil
}
