// Package cache provides the caches behind the dashboard: a compute-once
// aggregate cache, a TTL cache for rendered plots, and a bounded memo for
// valid-option lists.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	PlotCacheSizeMB  int
	PlotTTL          time.Duration
	OptionsCacheSize int
}

// Manager manages the plot and option caches. Both hold derived data that is
// cheap to rebuild, so eviction is harmless; aggregates live in AggregateCache.
type Manager struct {
	plotCache    *bigcache.BigCache
	optionsCache *lru.Cache[string, []string]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.PlotTTL <= 0 {
		cfg.PlotTTL = 10 * time.Minute
	}
	if cfg.OptionsCacheSize <= 0 {
		cfg.OptionsCacheSize = 1024
	}

	plotCacheConfig := bigcache.Config{
		Shards:             64,
		LifeWindow:         cfg.PlotTTL,
		CleanWindow:        cfg.PlotTTL / 2,
		MaxEntriesInWindow: 1024,
		MaxEntrySize:       64 * 1024,
		HardMaxCacheSize:   cfg.PlotCacheSizeMB,
		Verbose:            false,
	}

	plotCache, err := bigcache.New(context.Background(), plotCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create plot cache: %w", err)
	}

	optionsCache, err := lru.New[string, []string](cfg.OptionsCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create options cache: %w", err)
	}

	return &Manager{
		plotCache:    plotCache,
		optionsCache: optionsCache,
	}, nil
}

// GetPlot retrieves a rendered plot from cache.
func (m *Manager) GetPlot(key string) ([]byte, bool) {
	data, err := m.plotCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetPlot stores a rendered plot in cache.
func (m *Manager) SetPlot(key string, data []byte) error {
	return m.plotCache.Set(key, data)
}

// GetOptions retrieves a memoized valid-option list.
func (m *Manager) GetOptions(key string) ([]string, bool) {
	return m.optionsCache.Get(key)
}

// SetOptions memoizes a valid-option list.
func (m *Manager) SetOptions(key string, options []string) {
	m.optionsCache.Add(key, options)
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"plot_cache_len":    m.plotCache.Len(),
		"plot_cache_cap":    m.plotCache.Capacity(),
		"options_cache_len": m.optionsCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.plotCache.Close()
}
