package embedding

import (
	"context"
	"testing"
)

func TestHolder_LazyInitAndSharedHandle(t *testing.T) {
	h := NewHolder(Config{Provider: "local", LocalDimensions: 32})

	vec, err := h.EmbedOne(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("EmbedOne: %v", err)
	}
	if len(vec) != 32 {
		t.Fatalf("EmbedOne dimension=%d, want 32", len(vec))
	}

	handle, err := h.Handle()
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	again, err := handle.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("handle.Embed: %v", err)
	}
	for i := range vec {
		if vec[i] != again[i] {
			t.Fatalf("handle produced different vector at %d: %v != %v", i, vec[i], again[i])
		}
	}
}

func TestHolder_EmbedMany(t *testing.T) {
	h := NewHolder(Config{Provider: "local", LocalDimensions: 16})
	vecs, err := h.EmbedMany(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedMany: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("EmbedMany returned %d vectors, want 3", len(vecs))
	}
}

func TestHolder_MemoizesConstructionError(t *testing.T) {
	h := NewHolder(Config{Provider: "bogus"})
	_, err1 := h.Handle()
	_, err2 := h.Handle()
	if err1 == nil || err2 == nil {
		t.Fatal("expected construction error for unsupported provider")
	}
	if err1.Error() != err2.Error() {
		t.Fatalf("expected memoized identical error, got %q then %q", err1, err2)
	}
}

func TestHolder_Dimensions(t *testing.T) {
	h := NewHolder(Config{Provider: "local", LocalDimensions: 128})
	dim, err := h.Dimensions()
	if err != nil {
		t.Fatalf("Dimensions: %v", err)
	}
	if dim != 128 {
		t.Fatalf("Dimensions=%d, want 128", dim)
	}
}
