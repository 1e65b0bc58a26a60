package benchmarks

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/randalmurphal/ruleflow/pkg/ruleflow"
	"github.com/randalmurphal/ruleflow/pkg/ruleflow/store"
)

// BenchmarkMemoryStore_LoadFlow loads one flow from the memory catalog.
func BenchmarkMemoryStore_LoadFlow(b *testing.B) {
	benchmarkLoadFlow(b, store.NewMemoryStore())
}

// BenchmarkSQLiteStore_LoadFlow loads one flow from a file-backed catalog.
func BenchmarkSQLiteStore_LoadFlow(b *testing.B) {
	s, err := store.NewSQLiteStore(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatal(err)
	}
	benchmarkLoadFlow(b, s)
}

// BenchmarkSQLiteStore_PutFlow upserts flows into a file-backed catalog.
func BenchmarkSQLiteStore_PutFlow(b *testing.B) {
	s, err := store.NewSQLiteStore(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.PutFlow(ctx, &ruleflow.Flow{ID: fmt.Sprintf("flow-%d", i%100), Name: "bench"})
	}
}

func benchmarkLoadFlow(b *testing.B, s store.Catalog) {
	defer s.Close()
	ctx := context.Background()
	flow := &ruleflow.Flow{
		ID:         "flow-1",
		Name:       "bench",
		Definition: map[string]any{"nodes": []any{"a", "b", "c"}},
	}
	if err := s.PutFlow(ctx, flow); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.LoadFlow(ctx, "flow-1")
	}
}
