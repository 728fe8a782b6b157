package artifactstore

import (
	"bytes"
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func openStore(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	return s
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, filepath.Join(t.TempDir(), "artifacts.db"))
	defer s.Close()

	if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	payload := bytes.Repeat([]byte(`{"sample":"S1","fraction":0.5}`), 100)
	if err := s.Put(ctx, "superclusters_per_sample", payload); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := s.Get(ctx, "superclusters_per_sample")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch")
	}

	entries, err := s.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Size != len(payload) {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if entries[0].Stored >= entries[0].Size {
		t.Fatalf("expected compressed payload, stored=%d size=%d", entries[0].Stored, entries[0].Size)
	}
}

func TestSQLiteStoreFirstWriteWins(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, filepath.Join(t.TempDir(), "artifacts.db"))
	defer s.Close()

	if err := s.Put(ctx, "k", []byte("first")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, "k", []byte("second")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, _, _ := s.Get(ctx, "k")
	if string(got) != "first" {
		t.Fatalf("expected first write to win, got %q", got)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Put(ctx, "k", []byte("second")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, _, _ = s.Get(ctx, "k")
	if string(got) != "second" {
		t.Fatalf("expected recomputed value after delete, got %q", got)
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "artifacts.db")

	s := openStore(t, path)
	for _, k := range []string{"counts_per_cluster", "counts_per_supercluster"} {
		if err := s.Put(ctx, k, []byte(k)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s = openStore(t, path)
	defer s.Close()
	keys, err := s.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	want := []string{"counts_per_cluster", "counts_per_supercluster"}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("expected %v, got %v", want, keys)
	}
}

func TestSQLiteStoreDeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, filepath.Join(t.TempDir(), "artifacts.db"))
	defer s.Close()

	if err := s.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	n, err := s.DeleteOlderThan(ctx, time.Now().Add(-time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("expected nothing removed, n=%d err=%v", n, err)
	}
	n, err = s.DeleteOlderThan(ctx, time.Now().Add(time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("expected one removed, n=%d err=%v", n, err)
	}
}
