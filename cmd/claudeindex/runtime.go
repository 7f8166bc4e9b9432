package main

import (
	"context"
	"fmt"
	"time"

	"claudeindex/internal/backfill"
	"claudeindex/internal/config"
	"claudeindex/internal/embedding"
	"claudeindex/internal/entry"
	"claudeindex/internal/enhance"
	"claudeindex/internal/logging"
	"claudeindex/internal/orchestrator"
	"claudeindex/internal/search"
	"claudeindex/internal/store"
)

// entryByID adapts LocalStore.GetByID to search.EntryByID, the lookup C7's
// context-chain expansion uses to resolve a previous/next message id back
// into a full Entry.
func entryByID(st *store.LocalStore) search.EntryByID {
	return func(ctx context.Context, id string) (*entry.Entry, error) {
		row, err := st.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return entry.FromMetadata(row.ID, row.Content, row.Metadata), nil
	}
}

// runtime bundles the wired components every command needs, built once from
// the loaded config.
type runtime struct {
	cfg    *config.Config
	st     *store.LocalStore
	orch   *orchestrator.Orchestrator
	search *search.Engine
	bf     *backfill.Engine
}

// buildRuntime loads config, opens the vector store, attaches the embedding
// engine, and wires the orchestrator, back-fill engine, and search engine
// around it. Every command shares this one construction path so their
// wiring cannot drift apart.
func buildRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logging.Configure(cfg.Logging.DebugMode, cfg.Logging.Level, cfg.Logging.Format == "json", cfg.Logging.Categories)

	holder := embedding.NewHolder(embedding.Config{
		Provider:        cfg.Embedding.Provider,
		LocalDimensions: 384,
		OllamaEndpoint:  cfg.Embedding.OllamaEndpoint,
		OllamaModel:     cfg.Embedding.OllamaModel,
		GenAIAPIKey:     cfg.Embedding.GenAIAPIKey,
		GenAIModel:      cfg.Embedding.GenAIModel,
		TaskType:        cfg.Embedding.TaskType,
	})
	embEngine, err := holder.Handle()
	if err != nil {
		return nil, fmt.Errorf("build embedding engine: %w", err)
	}

	st, err := store.NewLocalStore(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	st.SetEmbeddingEngine(embEngine)

	var analyzer enhance.SemanticAnalyzer
	if cfg.EnabledEnhancements.SemanticFeedback {
		a, err := enhance.NewEmbeddingAnalyzer(ctx, embEngine)
		if err != nil {
			logger.Sugar().Warnf("semantic feedback analyzer unavailable, falling back to pattern-only: %v", err)
		} else {
			analyzer = a
		}
	}

	bf := backfill.NewEngineWithWindow(st, func() string { return time.Now().UTC().Format(time.RFC3339) }, cfg.BackfillWindowSize)

	orch := orchestrator.New(orchestrator.Config{
		BatchSize:          cfg.BatchSize,
		MaxRetries:         3,
		EnhanceConcurrency: 8,
		Thresholds: orchestrator.QualityThresholds{
			EmptyContentRateMax:   cfg.QualityThresholds.EmptyContentRateMax,
			UnknownProjectRateMax: cfg.QualityThresholds.UnknownProjectRateMax,
			DuplicateIDRateMax:    cfg.QualityThresholds.DuplicateIDRateMax,
			MinQualityScore:       cfg.QualityThresholds.MinQualityScore,
			WindowSize:            cfg.QualityThresholds.WindowSize,
		},
		RedisAddr: cfg.Redis.Addr,
	}, st, analyzer, bf)

	searchEngine := search.NewEngine(st, search.ProjectTechStacks(cfg.ProjectTechStacks), entryByID(st), func() int64 {
		return time.Now().Unix()
	})

	return &runtime{cfg: cfg, st: st, orch: orch, search: searchEngine, bf: bf}, nil
}

func (r *runtime) Close() {
	if r.st != nil {
		_ = r.st.Close()
	}
}
