package embedding

import (
	"context"
	"testing"
)

func TestEmbeddingCache_GetSet(t *testing.T) {
	c := NewEmbeddingCache(2)
	if v, ok := c.Get("a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set("a", []float32{1, 2, 3})
	v, ok := c.Get("a")
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("Get: got %v, %v", v, ok)
	}
	c.Set("b", []float32{4, 5})
	c.Set("c", []float32{6}) // evicts a
	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected b to remain")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected c to be present")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d", c.Len())
	}
}

func TestEmbeddingCache_getRefreshesRecency(t *testing.T) {
	c := NewEmbeddingCache(2)
	c.Set("a", []float32{1})
	c.Set("b", []float32{2})
	c.Get("a")
	c.Set("c", []float32{3}) // evicts b, not a
	if _, ok := c.Get("a"); !ok {
		t.Error("recently read entry should survive")
	}
	if _, ok := c.Get("b"); ok {
		t.Error("least recently used entry should be evicted")
	}
}

func TestCachedEmbedder(t *testing.T) {
	inner := NewFixedEmbedder(2).Set("x", 1, 0).Set("y", 0, 1)
	e := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	if _, err := e.Embed(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	vecs, err := e.EmbedBatch(ctx, []string{"x", "y", "x"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 3 || vecs[0][0] != 1 || vecs[1][1] != 1 || vecs[2][0] != 1 {
		t.Errorf("EmbedBatch = %v", vecs)
	}
	// "x" once for Embed, then only "y" misses.
	if inner.Calls != 2 {
		t.Errorf("inner calls = %d, want 2", inner.Calls)
	}
	if _, err := e.EmbedBatch(ctx, []string{"x", "y"}); err != nil {
		t.Fatal(err)
	}
	if inner.Calls != 2 {
		t.Errorf("cached batch should not reach the inner embedder, calls = %d", inner.Calls)
	}
	if e.Dimensions() != 2 {
		t.Errorf("Dimensions() = %d", e.Dimensions())
	}
}
