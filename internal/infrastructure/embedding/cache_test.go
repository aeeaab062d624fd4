package embedding

import (
	"context"
	"fmt"
	"testing"
)

type countingEmbedder struct {
	calls map[string]int
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{calls: make(map[string]int)}
}

func (e *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls[text]++
	return []float32{float32(len(text)), 0.5}, nil
}

func TestCachedEmbedderHitSkipsInnerCall(t *testing.T) {
	inner := newCountingEmbedder()
	cached, err := NewCachedEmbedder(inner, 10)
	if err != nil {
		t.Fatalf("NewCachedEmbedder() error = %v", err)
	}

	first, err := cached.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	second, err := cached.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	if inner.calls["hello"] != 1 {
		t.Fatalf("expected one inner call, got %d", inner.calls["hello"])
	}
	if len(first) != len(second) || first[0] != second[0] || first[1] != second[1] {
		t.Fatalf("cached embedding must be identical")
	}

	stats := cached.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Size != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestCachedEmbedderEvictsLeastRecent(t *testing.T) {
	inner := newCountingEmbedder()
	cached, err := NewCachedEmbedder(inner, 2)
	if err != nil {
		t.Fatalf("NewCachedEmbedder() error = %v", err)
	}
	ctx := context.Background()

	_, _ = cached.Embed(ctx, "a")
	_, _ = cached.Embed(ctx, "b")
	_, _ = cached.Embed(ctx, "a") // promote a
	_, _ = cached.Embed(ctx, "c") // evicts b
	_, _ = cached.Embed(ctx, "b") // recompute

	if inner.calls["b"] != 2 {
		t.Fatalf("expected b recomputed after eviction, got %d calls", inner.calls["b"])
	}
	if stats := cached.Stats(); stats.Size != 2 {
		t.Fatalf("cache must stay bounded, got size %d", stats.Size)
	}
}

func TestCachedEmbedderDefaultSize(t *testing.T) {
	cached, err := NewCachedEmbedder(newCountingEmbedder(), 0)
	if err != nil {
		t.Fatalf("NewCachedEmbedder() error = %v", err)
	}
	for i := 0; i < DefaultCacheSize+20; i++ {
		_, _ = cached.Embed(context.Background(), fmt.Sprintf("text-%d", i))
	}
	if stats := cached.Stats(); stats.Size != DefaultCacheSize {
		t.Fatalf("expected size capped at %d, got %d", DefaultCacheSize, stats.Size)
	}
}
