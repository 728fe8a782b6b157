package cache

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestOptionsKey(t *testing.T) {
	base := "opts:ds:cluster"

	t.Run("noFilters", func(t *testing.T) {
		if got := OptionsKey("ds", "cluster", nil); got != base {
			t.Fatalf("expected %q, got %q", base, got)
		}
		if got := OptionsKey("ds", "cluster", map[string][]string{}); got != base {
			t.Fatalf("expected %q, got %q", base, got)
		}
	})

	t.Run("sortedFilters", func(t *testing.T) {
		key1 := OptionsKey("ds", "subcluster", map[string][]string{
			"supercluster": {"Y", "X"},
			"cluster":      {"B"},
		})
		key2 := OptionsKey("ds", "subcluster", map[string][]string{
			"cluster":      {"B"},
			"supercluster": {"X", "Y"},
		})
		if key1 != key2 {
			t.Fatalf("expected stable key, got %q vs %q", key1, key2)
		}
	})

	t.Run("distinctFilters", func(t *testing.T) {
		a := OptionsKey("ds", "cluster", map[string][]string{"supercluster": {"X"}})
		b := OptionsKey("ds", "cluster", map[string][]string{"supercluster": {"Y"}})
		c := OptionsKey("ds", "cluster", map[string][]string{"supercluster": {"X", "Y"}})
		if a == b || a == c || b == c {
			t.Fatalf("expected distinct keys, got %q %q %q", a, b, c)
		}
	})
}

func TestPlotKey(t *testing.T) {
	base := "plot:ds:embedding:umap"

	if got := PlotKey("ds", "embedding", nil, "umap"); got != base {
		t.Fatalf("expected %q, got %q", base, got)
	}
	if got := PlotKey("ds", "embedding", map[string][]string{}, "umap"); got != base+":none" {
		t.Fatalf("expected %q, got %q", base+":none", got)
	}
	k := PlotKey("ds", "embedding", map[string][]string{"cluster": {"A"}}, "umap")
	if k == base || k == base+":none" {
		t.Fatalf("expected filtered key to differ from base, got %q", k)
	}
}

func TestArtifactKey(t *testing.T) {
	if got := ArtifactKey("counts_per_cluster", ""); got != "counts_per_cluster" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := ArtifactKey("counts_per_cluster", "abc"); got != "counts_per_cluster@abc" {
		t.Fatalf("unexpected key %q", got)
	}
}

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	puts int
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (s *memStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[key]
	return d, ok, nil
}

func (s *memStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	s.data[key] = data
	return nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *memStore) Keys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.data))
	for k := range s.data {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func TestGetOrComputeRunsOnce(t *testing.T) {
	ctx := context.Background()
	c := NewAggregateCache(nil, "")

	var calls int
	compute := func(context.Context) ([]byte, error) {
		calls++
		return []byte("result"), nil
	}
	for i := 0; i < 5; i++ {
		got, err := c.GetOrCompute(ctx, "superclusters_per_sample", compute)
		if err != nil {
			t.Fatalf("GetOrCompute: %v", err)
		}
		if string(got) != "result" {
			t.Fatalf("unexpected result %q", got)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 computation, got %d", calls)
	}
	if c.Computes() != 1 {
		t.Fatalf("expected Computes()=1, got %d", c.Computes())
	}
}

func TestGetOrComputeConcurrentFirstAccess(t *testing.T) {
	ctx := context.Background()
	c := NewAggregateCache(newMemStore(), "")

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("shared"), nil
	}

	const n = 16
	var wg sync.WaitGroup
	results := make([][]byte, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrCompute(ctx, "counts_per_cluster", compute)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("expected 1 computation, got %d", calls.Load())
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil || string(results[i]) != "shared" {
			t.Fatalf("caller %d: got %q err=%v", i, results[i], errs[i])
		}
	}
}

func TestGetOrComputeKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	c := NewAggregateCache(nil, "")

	a, _ := c.GetOrCompute(ctx, "a", func(context.Context) ([]byte, error) { return []byte("A"), nil })
	b, _ := c.GetOrCompute(ctx, "b", func(context.Context) ([]byte, error) { return []byte("B"), nil })
	if string(a) != "A" || string(b) != "B" {
		t.Fatalf("unexpected results %q %q", a, b)
	}
	if c.Computes() != 2 {
		t.Fatalf("expected 2 computations, got %d", c.Computes())
	}
}

func TestGetOrComputeErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	c := NewAggregateCache(nil, "")
	boom := errors.New("boom")

	if _, err := c.GetOrCompute(ctx, "k", func(context.Context) ([]byte, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	got, err := c.GetOrCompute(ctx, "k", func(context.Context) ([]byte, error) { return []byte("ok"), nil })
	if err != nil || string(got) != "ok" {
		t.Fatalf("expected recomputation after error, got %q err=%v", got, err)
	}
}

func TestGetOrComputeUsesStore(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	first := NewAggregateCache(store, "fp1")
	if _, err := first.GetOrCompute(ctx, "k", func(context.Context) ([]byte, error) { return []byte("v1"), nil }); err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if _, ok := store.data["k@fp1"]; !ok {
		t.Fatalf("expected fingerprinted key in store, have %v", store.data)
	}

	// A fresh process with the same dataset reads the stored artifact.
	second := NewAggregateCache(store, "fp1")
	got, err := second.GetOrCompute(ctx, "k", func(context.Context) ([]byte, error) {
		t.Fatal("compute must not run when the store holds the artifact")
		return nil, nil
	})
	if err != nil || string(got) != "v1" {
		t.Fatalf("expected stored value, got %q err=%v", got, err)
	}

	// A changed dataset computes afresh.
	third := NewAggregateCache(store, "fp2")
	got, _ = third.GetOrCompute(ctx, "k", func(context.Context) ([]byte, error) { return []byte("v2"), nil })
	if string(got) != "v2" {
		t.Fatalf("expected recomputed value, got %q", got)
	}
}

func TestGetOrComputeSurvivesCallerCancel(t *testing.T) {
	store := newMemStore()
	ctx, cancel := context.WithCancel(context.Background())

	c := NewAggregateCache(store, "")
	got, err := c.GetOrCompute(ctx, "superclusters_per_sample", func(ctx context.Context) ([]byte, error) {
		// The client goes away while the aggregate is being computed.
		cancel()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []byte("fractions"), nil
	})
	if err != nil || string(got) != "fractions" {
		t.Fatalf("expected computed value, got %q err=%v", got, err)
	}
	if _, ok, _ := store.Get(context.Background(), "superclusters_per_sample"); !ok {
		t.Fatalf("expected artifact to be persisted after the caller cancelled")
	}

	// After a restart the stored artifact is served, even to a caller whose
	// context is already done.
	restarted := NewAggregateCache(store, "")
	got, err = restarted.GetOrCompute(ctx, "superclusters_per_sample", func(context.Context) ([]byte, error) {
		t.Fatal("compute must not run when the store holds the artifact")
		return nil, nil
	})
	if err != nil || string(got) != "fractions" {
		t.Fatalf("expected stored value, got %q err=%v", got, err)
	}
	if restarted.Computes() != 0 {
		t.Fatalf("expected no computations after restart, got %d", restarted.Computes())
	}
}

func TestResetAndKeys(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := NewAggregateCache(store, "")

	for _, k := range []string{"b", "a"} {
		k := k
		if _, err := c.GetOrCompute(ctx, k, func(context.Context) ([]byte, error) { return []byte(k), nil }); err != nil {
			t.Fatalf("GetOrCompute: %v", err)
		}
	}
	keys, err := c.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"a", "b"}) {
		t.Fatalf("unexpected keys %v", keys)
	}

	if err := c.Reset(ctx, "a"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	keys, _ = c.Keys(ctx)
	if !reflect.DeepEqual(keys, []string{"b"}) {
		t.Fatalf("unexpected keys after reset %v", keys)
	}

	got, _ := c.GetOrCompute(ctx, "a", func(context.Context) ([]byte, error) { return []byte("a2"), nil })
	if string(got) != "a2" {
		t.Fatalf("expected recomputed value after reset, got %q", got)
	}
}

func TestGetOrComputeJSON(t *testing.T) {
	ctx := context.Background()
	c := NewAggregateCache(nil, "")

	type row struct {
		Sample string  `json:"sample"`
		Frac   float64 `json:"frac"`
	}
	want := []row{{"S1", 0.25}, {"S2", 0.75}}
	var calls int
	for i := 0; i < 3; i++ {
		got, err := GetOrComputeJSON(ctx, c, "rows", func(context.Context) ([]row, error) {
			calls++
			return want, nil
		})
		if err != nil {
			t.Fatalf("GetOrComputeJSON: %v", err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 computation, got %d", calls)
	}
}

func TestManagerOptionsMemo(t *testing.T) {
	m, err := NewManager(Config{PlotCacheSizeMB: 8, PlotTTL: time.Minute, OptionsCacheSize: 2})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	m.SetOptions("a", []string{"X"})
	if got, ok := m.GetOptions("a"); !ok || !reflect.DeepEqual(got, []string{"X"}) {
		t.Fatalf("unexpected options %v ok=%v", got, ok)
	}
	m.SetOptions("b", nil)
	m.SetOptions("c", nil)
	if _, ok := m.GetOptions("a"); ok {
		t.Fatalf("expected least recently used entry to be evicted")
	}

	if err := m.SetPlot("p", []byte("png")); err != nil {
		t.Fatalf("SetPlot: %v", err)
	}
	if got, ok := m.GetPlot("p"); !ok || string(got) != "png" {
		t.Fatalf("unexpected plot %q ok=%v", got, ok)
	}
}
