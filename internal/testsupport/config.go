// Package testsupport provides shared fixtures for kiln's tests: temp-dir
// configs, catalog stores, and source asset generators.
package testsupport

import (
	"path/filepath"
	"testing"

	"kiln/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.OutputRoot = filepath.Join(base, "cooked")
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Catalog.Enabled = false

	// Small pools keep goroutine churn down in tests.
	cfg.Cooking.ThreadPoolSize = 2
	for _, sc := range []*config.StageConcurrency{
		&cfg.Cooking.Texture, &cfg.Cooking.Buffer, &cfg.Cooking.Material,
		&cfg.Cooking.Geometry, &cfg.Cooking.Scene,
	} {
		sc.Workers = 1
		sc.QueueCapacity = 4
	}

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithCatalog enables the catalog at the given path.
func WithCatalog(path string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Catalog.Enabled = true
		cfg.Catalog.Path = path
	}
}

// WithAlignment overrides the output alignment.
func WithAlignment(alignment int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Output.Alignment = alignment
	}
}
