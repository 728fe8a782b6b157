package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Store is durable storage for computed aggregates. Implementations must be
// safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// AggregateCache computes each keyed aggregate at most once and serves the
// stored result afterwards. Concurrent first requests for a key share a single
// computation. Failed computations are not cached.
type AggregateCache struct {
	store       Store
	fingerprint string

	mu    sync.RWMutex
	mem   map[string][]byte
	group singleflight.Group

	computes atomic.Int64
}

// NewAggregateCache creates an aggregate cache. store may be nil, in which case
// results live for the lifetime of the process only. A non-empty fingerprint
// is appended to every key so a changed dataset never reuses stale results.
func NewAggregateCache(store Store, fingerprint string) *AggregateCache {
	return &AggregateCache{
		store:       store,
		fingerprint: fingerprint,
		mem:         make(map[string][]byte),
	}
}

// GetOrCompute returns the stored artifact for key, running compute only if no
// artifact exists yet.
func (c *AggregateCache) GetOrCompute(ctx context.Context, key string, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	k := ArtifactKey(key, c.fingerprint)
	if data, ok := c.lookup(k); ok {
		return data, nil
	}

	v, err, _ := c.group.Do(k, func() (interface{}, error) {
		// A flight that finished just before this one started already stored it.
		if data, ok := c.lookup(k); ok {
			return data, nil
		}
		// The result is shared by every waiter and outlives the leader's
		// request, so the leader hanging up must not abort it.
		fctx := context.WithoutCancel(ctx)
		if c.store != nil {
			data, ok, err := c.store.Get(fctx, k)
			if err != nil {
				log.Printf("[Cache] artifact read %s failed: %v", k, err)
			} else if ok {
				c.remember(k, data)
				return data, nil
			}
		}

		data, err := compute(fctx)
		if err != nil {
			return nil, err
		}
		c.computes.Add(1)
		c.remember(k, data)
		if c.store != nil {
			if err := c.store.Put(fctx, k, data); err != nil {
				log.Printf("[Cache] artifact write %s failed: %v", k, err)
			}
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// GetOrComputeJSON is GetOrCompute for values that round-trip through JSON.
// Every caller, including the one that ran compute, gets the decoded stored
// form so results are identical across calls.
func GetOrComputeJSON[T any](ctx context.Context, c *AggregateCache, key string, compute func(context.Context) (T, error)) (T, error) {
	var out T
	data, err := c.GetOrCompute(ctx, key, func(ctx context.Context) ([]byte, error) {
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to decode artifact %s: %w", key, err)
	}
	return out, nil
}

// Reset discards the artifact for key so the next request recomputes it. key
// may be a bare name or a fingerprinted key as returned by Keys.
func (c *AggregateCache) Reset(ctx context.Context, key string) error {
	keys := []string{key}
	if k := ArtifactKey(key, c.fingerprint); k != key {
		keys = append(keys, k)
	}
	c.mu.Lock()
	for _, k := range keys {
		delete(c.mem, k)
	}
	c.mu.Unlock()
	if c.store == nil {
		return nil
	}
	for _, k := range keys {
		if err := c.store.Delete(ctx, k); err != nil {
			return fmt.Errorf("failed to delete artifact %s: %w", k, err)
		}
	}
	return nil
}

// Keys lists every artifact held in memory or in the store.
func (c *AggregateCache) Keys(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	c.mu.RLock()
	for k := range c.mem {
		seen[k] = struct{}{}
	}
	c.mu.RUnlock()
	if c.store != nil {
		keys, err := c.store.Keys(ctx)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// Computes returns how many computations have succeeded.
func (c *AggregateCache) Computes() int64 {
	return c.computes.Load()
}

func (c *AggregateCache) lookup(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.mem[key]
	return data, ok
}

func (c *AggregateCache) remember(key string, data []byte) {
	c.mu.Lock()
	c.mem[key] = data
	c.mu.Unlock()
}
