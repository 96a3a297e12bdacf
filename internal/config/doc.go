// Package config loads, validates, and normalizes kiln's TOML configuration.
//
// Configuration covers directory layout, per-kind cooking concurrency, cooked
// output packing, logging, and the cook catalog. Load resolves the config file
// (explicit path, then ~/.config/kiln/config.toml, then ./kiln.toml), applies
// defaults for missing fields, expands ~ in paths, and validates the result.
package config
