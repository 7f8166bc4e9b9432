package enhance

import (
	"context"
	"testing"

	"claudeindex/internal/embedding"
)

func TestEmbeddingAnalyzer_ClassifyPicksNearestCentroid(t *testing.T) {
	engine := embedding.NewLocalEngine(64)
	analyzer, err := NewEmbeddingAnalyzer(context.Background(), engine)
	if err != nil {
		t.Fatalf("NewEmbeddingAnalyzer: %v", err)
	}

	verdict, err := analyzer.Classify("exactly what I needed, it's fixed")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if verdict.Method != "embedding-cosine" {
		t.Fatalf("Method=%q, want embedding-cosine", verdict.Method)
	}
	if verdict.SimilarityPositive == 0 && verdict.SimilarityNegative == 0 && verdict.SimilarityPartial == 0 {
		t.Fatal("expected non-zero similarities")
	}
}
