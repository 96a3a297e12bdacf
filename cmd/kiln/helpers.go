package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"kiln/internal/catalog"
	"kiln/internal/config"
)

func openCatalog(cfg *config.Config) (*catalog.Store, error) {
	path := cfg.CatalogPath()
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create catalog directory %q: %w", dir, err)
		}
	}
	store, err := catalog.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %q: %w", path, err)
	}
	return store, nil
}

// progressPrinter rewrites a single progress line on interactive terminals
// and stays silent everywhere else.
type progressPrinter struct {
	mu      sync.Mutex
	out     io.Writer
	enabled bool
	dirty   bool
}

func newProgressPrinter(out io.Writer, quiet bool) *progressPrinter {
	return &progressPrinter{
		out:     out,
		enabled: !quiet && shouldColorize(out),
	}
}

func (p *progressPrinter) update(fraction float64) {
	if !p.enabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "\rcooking %3.0f%%", fraction*100)
	p.dirty = true
}

func (p *progressPrinter) finish() {
	if !p.enabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dirty {
		fmt.Fprint(p.out, "\n")
		p.dirty = false
	}
}
