package enhance

import (
	"context"
	"fmt"

	"claudeindex/internal/embedding"
)

// centroidExamples are the labeled example phrases spec.md §4.5's optional
// semantic path compares feedback text against. Centroids are the mean
// embedding of each label's examples, computed once at startup.
var centroidExamples = map[string][]string{
	SentimentPositive: {
		"that works perfectly, thank you",
		"exactly what I needed, it's fixed",
		"great, tests are passing now",
		"this solved the problem",
	},
	SentimentNegative: {
		"this is still broken",
		"that didn't fix it, same error as before",
		"nope, it fails the same way",
		"worse than before, now it crashes",
	},
	SentimentPartial: {
		"closer, but still one test failing",
		"some progress but not fully working yet",
		"almost there, one edge case left",
		"better, though the original issue persists a little",
	},
}

// EmbeddingAnalyzer implements SemanticAnalyzer by comparing a feedback
// message's embedding against the mean embedding of each sentiment label's
// example set (spec.md §4.5). Construction is the only place embeddings for
// the centroids themselves are computed; Classify only ever embeds the
// candidate content.
type EmbeddingAnalyzer struct {
	engine    embedding.EmbeddingEngine
	centroids map[string][]float32
}

// NewEmbeddingAnalyzer builds the three label centroids via one batch
// embedding call per label.
func NewEmbeddingAnalyzer(ctx context.Context, engine embedding.EmbeddingEngine) (*EmbeddingAnalyzer, error) {
	centroids := make(map[string][]float32, len(centroidExamples))
	for label, examples := range centroidExamples {
		vecs, err := engine.EmbedBatch(ctx, examples)
		if err != nil {
			return nil, fmt.Errorf("enhance: embed centroid examples for %s: %w", label, err)
		}
		centroids[label] = meanVector(vecs)
	}
	return &EmbeddingAnalyzer{engine: engine, centroids: centroids}, nil
}

// Classify embeds content and returns the label whose centroid it is most
// similar to, with the three raw similarities spec.md §3 persists
// (similarity_positive/negative/partial).
func (a *EmbeddingAnalyzer) Classify(content string) (*SemanticVerdict, error) {
	vec, err := a.engine.Embed(context.Background(), content)
	if err != nil {
		return nil, fmt.Errorf("enhance: embed feedback content: %w", err)
	}

	simPos, err := embedding.CosineSimilarity(vec, a.centroids[SentimentPositive])
	if err != nil {
		return nil, err
	}
	simNeg, err := embedding.CosineSimilarity(vec, a.centroids[SentimentNegative])
	if err != nil {
		return nil, err
	}
	simPar, err := embedding.CosineSimilarity(vec, a.centroids[SentimentPartial])
	if err != nil {
		return nil, err
	}

	sentiment := SentimentPositive
	best := simPos
	if simNeg > best {
		best, sentiment = simNeg, SentimentNegative
	}
	if simPar > best {
		best, sentiment = simPar, SentimentPartial
	}

	return &SemanticVerdict{
		Sentiment:          sentiment,
		Confidence:         best,
		SimilarityPositive: simPos,
		SimilarityNegative: simNeg,
		SimilarityPartial:  simPar,
		Method:             "embedding-cosine",
	}, nil
}

func meanVector(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	mean := make([]float32, len(vecs[0]))
	for _, v := range vecs {
		for i, x := range v {
			mean[i] += x
		}
	}
	for i := range mean {
		mean[i] /= float32(len(vecs))
	}
	return mean
}
