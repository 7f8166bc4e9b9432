package store

import (
	"context"
	"fmt"
)

// MockEmbeddingEngine is a programmable stand-in for embedding.EmbeddingEngine,
// letting tests control exactly which vectors come back for which text
// without standing up a real model.
type MockEmbeddingEngine struct {
	EmbedFunc             func(ctx context.Context, text string) ([]float32, error)
	EmbedBatchFunc        func(ctx context.Context, texts []string) ([][]float32, error)
	DimensionsFunc        func() int
	NameFunc              func() string
	EmbedWithTaskFunc     func(ctx context.Context, text string, taskType string) ([]float32, error)
	EmbedBatchWithTaskFunc func(ctx context.Context, texts []string, taskType string) ([][]float32, error)
}

func (m *MockEmbeddingEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return []float32{0, 0, 0, 0}, nil
}

func (m *MockEmbeddingEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if m.EmbedBatchFunc != nil {
		return m.EmbedBatchFunc(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *MockEmbeddingEngine) Dimensions() int {
	if m.DimensionsFunc != nil {
		return m.DimensionsFunc()
	}
	return 4
}

func (m *MockEmbeddingEngine) Name() string {
	if m.NameFunc != nil {
		return m.NameFunc()
	}
	return "mock"
}

func (m *MockEmbeddingEngine) EmbedWithTask(ctx context.Context, text string, taskType string) ([]float32, error) {
	if m.EmbedWithTaskFunc != nil {
		return m.EmbedWithTaskFunc(ctx, text, taskType)
	}
	return m.Embed(ctx, text)
}

func (m *MockEmbeddingEngine) EmbedBatchWithTask(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	if m.EmbedBatchWithTaskFunc != nil {
		return m.EmbedBatchWithTaskFunc(ctx, texts, taskType)
	}
	return m.EmbedBatch(ctx, texts)
}

// MockErrorEmbeddingEngine always fails, for exercising error paths.
type MockErrorEmbeddingEngine struct{}

func (m *MockErrorEmbeddingEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("mock error")
}

func (m *MockErrorEmbeddingEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, fmt.Errorf("mock error")
}

func (m *MockErrorEmbeddingEngine) Dimensions() int { return 4 }
func (m *MockErrorEmbeddingEngine) Name() string    { return "mock-error" }
