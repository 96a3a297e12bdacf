// Package preflight evaluates the environment before cooking starts:
// writability of the output locations and available disk space.
package preflight

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"kiln/internal/config"
)

// Check is one evaluated aspect of the environment.
type Check struct {
	Name   string
	Path   string
	OK     bool
	Detail string
}

// minFreeBytes is the free-space floor below which cooking is refused;
// shared data files grow append-only and a mid-job ENOSPC leaves them
// truncated.
const minFreeBytes = 256 << 20

// Run evaluates all checks against the configuration.
func Run(cfg *config.Config) []Check {
	checks := []Check{
		checkWritable("output root", cfg.Paths.OutputRoot),
		checkWritable("staging dir", cfg.Paths.StagingDir),
		checkWritable("log dir", cfg.Paths.LogDir),
		checkFreeSpace("output free space", cfg.Paths.OutputRoot),
	}
	if cfg.Catalog.Enabled {
		checks = append(checks, checkWritable("catalog dir", filepath.Dir(cfg.CatalogPath())))
	}
	return checks
}

// Healthy reports whether every check passed.
func Healthy(checks []Check) bool {
	for _, check := range checks {
		if !check.OK {
			return false
		}
	}
	return true
}

func checkWritable(name, path string) Check {
	check := Check{Name: name, Path: path}
	if path == "" {
		check.Detail = "not configured"
		return check
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		check.Detail = fmt.Sprintf("create: %v", err)
		return check
	}
	if err := unix.Access(path, unix.W_OK); err != nil {
		check.Detail = fmt.Sprintf("not writable: %v", err)
		return check
	}
	check.OK = true
	return check
}

func checkFreeSpace(name, path string) Check {
	check := Check{Name: name, Path: path}
	if path == "" {
		check.Detail = "not configured"
		return check
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		check.Detail = fmt.Sprintf("create: %v", err)
		return check
	}
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		check.Detail = fmt.Sprintf("statfs: %v", err)
		return check
	}
	free := uint64(stat.Bavail) * uint64(stat.Bsize)
	if free < minFreeBytes {
		check.Detail = fmt.Sprintf("%d MiB free, need at least %d MiB", free>>20, int64(minFreeBytes)>>20)
		return check
	}
	check.OK = true
	check.Detail = fmt.Sprintf("%d MiB free", free>>20)
	return check
}
