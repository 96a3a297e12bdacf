package preflight_test

import (
	"testing"

	"kiln/internal/preflight"
	"kiln/internal/testsupport"
)

func TestRunPassesOnWritableTempDirs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	checks := preflight.Run(cfg)
	if !preflight.Healthy(checks) {
		t.Fatalf("checks failed: %+v", checks)
	}
	if len(checks) != 4 {
		t.Fatalf("check count = %d, want 4 without a catalog", len(checks))
	}
}

func TestRunIncludesCatalogWhenEnabled(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithCatalog(cfgCatalogPath(t)))
	checks := preflight.Run(cfg)
	if len(checks) != 5 {
		t.Fatalf("check count = %d, want 5 with a catalog", len(checks))
	}
	if !preflight.Healthy(checks) {
		t.Fatalf("checks failed: %+v", checks)
	}
}

func cfgCatalogPath(t *testing.T) string {
	t.Helper()
	return t.TempDir() + "/catalog.db"
}

func TestRunFlagsUnconfiguredPaths(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.StagingDir = ""
	checks := preflight.Run(cfg)
	if preflight.Healthy(checks) {
		t.Fatal("empty staging dir passed preflight")
	}
	for _, check := range checks {
		if check.Name == "staging dir" && check.OK {
			t.Fatal("staging dir check passed with no path")
		}
	}
}
