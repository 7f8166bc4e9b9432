package main

import (
	"context"
	"os"
	"time"

	"claudeindex/internal/backfill"
	"claudeindex/internal/config"
	"claudeindex/internal/embedding"
	"claudeindex/internal/orchestrator"
	"claudeindex/internal/store"
)

// lastSyncMarker is the sidecar file recording the timestamp of the last
// successful sync against a given store, the basis for --incremental's file
// modification filter.
func lastSyncMarker(storePath string) string {
	return storePath + ".last_sync"
}

// lastSyncCutoff reads the marker, returning the zero time (meaning "process
// everything") if it does not exist yet.
func lastSyncCutoff(storePath string) time.Time {
	data, err := os.ReadFile(lastSyncMarker(storePath))
	if err != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, string(data))
	if err != nil {
		return time.Time{}
	}
	return t
}

// stampLastSync records now as the cutoff for the next --incremental run.
func stampLastSync(storePath string) error {
	return os.WriteFile(lastSyncMarker(storePath), []byte(time.Now().UTC().Format(time.RFC3339)), 0644)
}

// modifiedAfterFunc adapts a cutoff time into the `since` predicate
// orchestrator.IncrementalSync / transcript.ModifiedAfter expect.
func modifiedAfterFunc(cutoff time.Time) func(path string) bool {
	return func(path string) bool {
		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		return info.ModTime().After(cutoff)
	}
}

// newScratchRuntime builds an orchestrator against a throwaway in-memory
// store, sharing cfg's transcript root and thresholds but never touching
// the real vector store - the engine behind --dry-run.
func newScratchRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	embEngine, err := embedding.NewEngine(embedding.Config{Provider: "local", LocalDimensions: 384})
	if err != nil {
		return nil, err
	}

	st, err := store.NewLocalStore(":memory:")
	if err != nil {
		return nil, err
	}
	st.SetEmbeddingEngine(embEngine)

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
	}, st, nil, bf)

	return &runtime{cfg: cfg, st: st, orch: orch, bf: bf}, nil
}
