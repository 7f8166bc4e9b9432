package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"

	"claudeindex/internal/logging"
)

// LocalEngine is a deterministic, in-process embedding engine with zero
// network calls - the default provider, satisfying spec.md §1's non-goal of
// external network calls for anything but the explicit GenAI exception.
//
// It hashes overlapping word shingles into a fixed-width vector (a bag-of-
// shingles sketch, the same family as SimHash/feature-hashing), then L2-
// normalizes so cosine similarity behaves sensibly. It will never rival a
// trained sentence encoder for semantic nuance, but it is stable across
// restarts, cheap, and gives lexically similar text nearby vectors - enough
// for a default backend that a real model (ollama/genai) is meant to
// replace in any deployment that cares about retrieval quality.
type LocalEngine struct {
	dim int
}

// NewLocalEngine constructs a hash-based embedder with the given dimension.
func NewLocalEngine(dim int) *LocalEngine {
	if dim <= 0 {
		dim = 384
	}
	return &LocalEngine{dim: dim}
}

// Embed hashes text into a dim-dimensional unit vector.
func (e *LocalEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	return hashEmbed(text, e.dim), nil
}

// EmbedBatch embeds each text independently; the local engine has no batch
// API to amortize, so this is a simple loop.
func (e *LocalEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashEmbed(t, e.dim)
	}
	return out, nil
}

// Dimensions returns the configured vector width.
func (e *LocalEngine) Dimensions() int {
	return e.dim
}

// Name identifies this engine in logs and store metadata.
func (e *LocalEngine) Name() string {
	return "local:hash-shingle-384"
}

// hashEmbed implements the feature-hashing sketch: each word shingle (1- and
// 2-grams) is hashed into a bucket and signed by a second hash bit, the
// classic "hashing trick" used to keep a bag-of-features representation at a
// fixed width. The result is L2-normalized.
func hashEmbed(text string, dim int) []float32 {
	vec := make([]float32, dim)
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return vec
	}

	addShingle := func(shingle string) {
		sum := sha256.Sum256([]byte(shingle))
		bucket := binary.BigEndian.Uint64(sum[0:8]) % uint64(dim)
		sign := float32(1)
		if sum[8]&1 == 1 {
			sign = -1
		}
		vec[bucket] += sign
	}

	for i, w := range words {
		addShingle(w)
		if i+1 < len(words) {
			addShingle(w + "_" + words[i+1])
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

var _ EmbeddingEngine = (*LocalEngine)(nil)

func init() {
	logging.EmbeddingDebug("local hash-shingle embedding engine registered")
}
