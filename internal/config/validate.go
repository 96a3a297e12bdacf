package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateOutput(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.OutputRoot == "" {
		return errors.New("paths.output_root must be set")
	}
	return nil
}

func (c *Config) validateOutput() error {
	if c.Output.Alignment <= 0 || c.Output.Alignment&(c.Output.Alignment-1) != 0 {
		return fmt.Errorf("output.alignment must be a positive power of two, got %d", c.Output.Alignment)
	}
	switch c.Output.Packing {
	case "aligned", "tight":
	default:
		return fmt.Errorf("output.packing must be \"aligned\" or \"tight\", got %q", c.Output.Packing)
	}
	switch c.Output.Compression {
	case "none", "lz4", "zstd":
	default:
		return fmt.Errorf("output.compression must be one of none, lz4, zstd, got %q", c.Output.Compression)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json", "":
	default:
		return fmt.Errorf("logging.format must be \"console\" or \"json\", got %q", c.Logging.Format)
	}
	return nil
}
