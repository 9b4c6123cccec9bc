// Package symbolmeta loads and hot-reloads the symbol registry: the
// mapping of symbol code to exchange, price scale, product type, tags,
// and tick size. The registry file's mtime is checked before each
// resolution-critical read; on change the whole map is rebuilt
// atomically.
package symbolmeta

import (
	"fmt"
	"math"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultScale mirrors pricecodec.DefaultScale; duplicated here (not
// imported) to keep this package free of a pricecodec dependency.
const DefaultScale int64 = 1e4

// Entry describes one symbol's static metadata.
type Entry struct {
	Exchange    string   `yaml:"exchange"`
	PriceScale  int64    `yaml:"price_scale"`
	ProductType string   `yaml:"product_type"`
	Tags        []string `yaml:"tags"`
	TickSize    float64  `yaml:"tick_size"`
}

type registryFile struct {
	Symbols map[string]Entry `yaml:"symbols"`
}

// Registry is a hot-reloaded symbol → Entry map backed by a YAML file.
type Registry struct {
	path string

	mu      sync.RWMutex
	entries map[string]Entry
	modTime int64
}

// New loads the registry file once. Call Resolve/ScaleFactor thereafter;
// each resolution-critical read checks mtime and rebuilds if it changed.
func New(path string) (*Registry, error) {
	r := &Registry{path: path}
	if err := r.reloadIfChanged(); err != nil {
		return nil, err
	}
	return r, nil
}

// reloadIfChanged rebuilds the whole map atomically if the file's mtime
// has advanced since the last load.
func (r *Registry) reloadIfChanged() error {
	info, err := os.Stat(r.path)
	if err != nil {
		return fmt.Errorf("stat symbol registry: %w", err)
	}
	mt := info.ModTime().UnixNano()

	r.mu.RLock()
	unchanged := r.entries != nil && mt == r.modTime
	r.mu.RUnlock()
	if unchanged {
		return nil
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read symbol registry: %w", err)
	}

	var rf registryFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return fmt.Errorf("parse symbol registry: %w", err)
	}

	r.mu.Lock()
	r.entries = rf.Symbols
	r.modTime = mt
	r.mu.Unlock()
	return nil
}

// Resolve returns the Entry for symbol and whether it was found. It
// triggers a hot-reload check first.
func (r *Registry) Resolve(symbol string) (Entry, bool) {
	_ = r.reloadIfChanged()
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[symbol]
	return e, ok
}

// ScaleFactor implements pricecodec.Resolver. If price_scale is absent
// but tick_size > 0, scale is derived as round(1/tick_size). An invalid
// (non-positive) tick_size falls back to DefaultScale.
func (r *Registry) ScaleFactor(symbol string) int64 {
	e, ok := r.Resolve(symbol)
	if !ok {
		return DefaultScale
	}
	if e.PriceScale > 0 {
		return e.PriceScale
	}
	if e.TickSize > 0 {
		return int64(math.Round(1 / e.TickSize))
	}
	return DefaultScale
}
