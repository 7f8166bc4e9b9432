package embedding

import (
	"context"
	"fmt"
	"sync"

	"claudeindex/internal/logging"
)

// Holder is the single process-wide instance of an embedding model (C1).
// It lazily constructs its engine on first use and hands out a Handle the
// vector store (C2) uses to configure its own embedding calls identically -
// the same engine instance, never copied, so embed_one/embed_many and the
// store's own embedding calls are guaranteed to produce identical vectors
// for identical text and task type.
//
// Holder is inert across process restarts: nothing it holds is persisted,
// and a fresh process builds a fresh engine from config on first use.
type Holder struct {
	mu     sync.Mutex
	cfg    Config
	engine EmbeddingEngine
	err    error
}

// NewHolder returns a Holder configured to lazily build engines from cfg.
// No engine is constructed until the first embed_one/embed_many/handle call.
func NewHolder(cfg Config) *Holder {
	return &Holder{cfg: cfg}
}

// ensure lazily initializes the underlying engine, memoizing both success
// and failure so repeated calls after a construction error don't retry a
// doomed configuration silently - callers see the same error every time
// until the Holder is replaced.
func (h *Holder) ensure() (EmbeddingEngine, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.engine != nil || h.err != nil {
		return h.engine, h.err
	}

	logging.Embedding("Holder: lazily initializing embedding engine on first use")
	engine, err := NewEngine(h.cfg)
	if err != nil {
		h.err = fmt.Errorf("holder init: %w", err)
		return nil, h.err
	}
	h.engine = engine
	return h.engine, nil
}

// EmbedOne returns the embedding vector for a single text (spec.md §4.1's
// embed_one operation).
func (h *Holder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	engine, err := h.ensure()
	if err != nil {
		return nil, err
	}
	return engine.Embed(ctx, text)
}

// EmbedMany embeds a list of texts, batching through the engine's native
// batch call where available (spec.md §4.1's embed_many operation).
func (h *Holder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	engine, err := h.ensure()
	if err != nil {
		return nil, err
	}
	return engine.EmbedBatch(ctx, texts)
}

// Handle returns the underlying engine instance, the value the vector store
// (C2) uses to configure its own embedding calls so both sides of the
// system share one model rather than two independently-initialized copies.
func (h *Holder) Handle() (EmbeddingEngine, error) {
	return h.ensure()
}

// Dimensions reports the active engine's vector width, initializing it if
// necessary - C2 needs this before it can size its ANN index.
func (h *Holder) Dimensions() (int, error) {
	engine, err := h.ensure()
	if err != nil {
		return 0, err
	}
	return engine.Dimensions(), nil
}
