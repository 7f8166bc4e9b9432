package search

import (
	"context"
	"testing"

	"claudeindex/internal/entry"
	"claudeindex/internal/store"
)

type fakeStore struct {
	results []store.QueryResult
	gotFilter store.Filter
	gotK      int
}

func (f *fakeStore) Query(ctx context.Context, queryText string, k int, filter store.Filter) ([]store.QueryResult, error) {
	f.gotFilter = filter
	f.gotK = k
	return f.results, nil
}

func meta(overrides map[string]interface{}) map[string]interface{} {
	base := map[string]interface{}{
		"session_id":     "s1",
		"role":           "assistant",
		"project_name":   "projA",
		"timestamp_unix": float64(1000),
	}
	for k, v := range overrides {
		base[k] = v
	}
	return base
}

func TestSearch_EmptyQueryErrors(t *testing.T) {
	eng := NewEngine(&fakeStore{}, nil, nil, func() int64 { return 2000 })
	_, err := eng.Search(context.Background(), Query{})
	if err != ErrEmptyQuery {
		t.Fatalf("err=%v, want ErrEmptyQuery", err)
	}
}

func TestSearch_ByTopicWithoutFocusErrors(t *testing.T) {
	eng := NewEngine(&fakeStore{}, nil, nil, func() int64 { return 2000 })
	_, err := eng.Search(context.Background(), Query{QueryText: "x", Mode: ModeByTopic})
	if err != ErrTopicFocusRequired {
		t.Fatalf("err=%v, want ErrTopicFocusRequired", err)
	}
}

func TestSearch_ModeValidatedTranslatesFilter(t *testing.T) {
	fs := &fakeStore{}
	eng := NewEngine(fs, nil, nil, func() int64 { return 2000 })
	_, err := eng.Search(context.Background(), Query{QueryText: "x", Mode: ModeValidated, Limit: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if fs.gotFilter.Eq["is_validated_solution"] != true {
		t.Fatalf("expected is_validated_solution filter, got %+v", fs.gotFilter.Eq)
	}
	if fs.gotK != 5*overFetchFactor {
		t.Fatalf("gotK=%d, want %d", fs.gotK, 5*overFetchFactor)
	}
}

func TestSearch_OverFetchClampedToCeiling(t *testing.T) {
	fs := &fakeStore{}
	eng := NewEngine(fs, nil, nil, func() int64 { return 2000 })
	_, err := eng.Search(context.Background(), Query{QueryText: "x", Limit: 1000})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if fs.gotK != overFetchCeiling {
		t.Fatalf("gotK=%d, want ceiling %d", fs.gotK, overFetchCeiling)
	}
}

func TestSearch_ProjectAffinityBoostsExactMatch(t *testing.T) {
	fs := &fakeStore{results: []store.QueryResult{
		{ID: "e1", Content: "hit", Metadata: meta(map[string]interface{}{"project_name": "projA"}), Distance: 0.2},
		{ID: "e2", Content: "hit", Metadata: meta(map[string]interface{}{"project_name": "projB"}), Distance: 0.2},
	}}
	eng := NewEngine(fs, nil, nil, func() int64 { return 2000 })
	hits, err := eng.Search(context.Background(), Query{QueryText: "x", ProjectContext: "projA", Limit: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].Entry.ID != "e1" {
		t.Fatalf("expected e1 (project match) ranked first, got %s", hits[0].Entry.ID)
	}
	if hits[0].AppliedBoosts["project"] != 1.5 {
		t.Fatalf("project boost=%v, want 1.5", hits[0].AppliedBoosts["project"])
	}
}

func TestSearch_ValidationBoostOnlyWhenRequested(t *testing.T) {
	fs := &fakeStore{results: []store.QueryResult{
		{ID: "e1", Content: "hit", Metadata: meta(map[string]interface{}{"is_validated_solution": true, "validation_strength": 0.8}), Distance: 0.2},
	}}
	eng := NewEngine(fs, nil, nil, func() int64 { return 2000 })

	hitsNoBoost, _ := eng.Search(context.Background(), Query{QueryText: "x", Limit: 5})
	hitsBoost, _ := eng.Search(context.Background(), Query{QueryText: "x", Limit: 5, UseValidationBoost: true})

	if hitsBoost[0].FinalScore <= hitsNoBoost[0].FinalScore {
		t.Fatalf("validation boost should raise score: boosted=%v unboosted=%v", hitsBoost[0].FinalScore, hitsNoBoost[0].FinalScore)
	}
}

func TestSearch_RerankTruncatesToLimit(t *testing.T) {
	results := make([]store.QueryResult, 0, 10)
	for i := 0; i < 10; i++ {
		results = append(results, store.QueryResult{ID: string(rune('a' + i)), Content: "x", Metadata: meta(nil), Distance: float64(i) / 10})
	}
	fs := &fakeStore{results: results}
	eng := NewEngine(fs, nil, nil, func() int64 { return 2000 })
	hits, err := eng.Search(context.Background(), Query{QueryText: "x", Limit: 3})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("got %d hits, want 3", len(hits))
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].FinalScore > hits[i-1].FinalScore {
			t.Fatalf("hits not ranked descending: %v", hits)
		}
	}
}

func TestSearch_ContextChainExpansion(t *testing.T) {
	fs := &fakeStore{results: []store.QueryResult{
		{ID: "e1", Content: "hit", Metadata: meta(map[string]interface{}{"previous_message_id": "e0", "next_message_id": "e2"}), Distance: 0.1},
	}}
	lookup := func(ctx context.Context, id string) (*entry.Entry, error) {
		return &entry.Entry{ID: id, Content: "context-" + id}, nil
	}
	eng := NewEngine(fs, nil, lookup, func() int64 { return 2000 })
	hits, err := eng.Search(context.Background(), Query{QueryText: "x", Limit: 5, IncludeContextChains: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits[0].ContextChain) != 2 {
		t.Fatalf("got %d context entries, want 2", len(hits[0].ContextChain))
	}
}

func TestSearch_TiesBrokenByTimestampThenID(t *testing.T) {
	fs := &fakeStore{results: []store.QueryResult{
		{ID: "z", Content: "x", Metadata: meta(map[string]interface{}{"timestamp_unix": float64(100)}), Distance: 0.2},
		{ID: "a", Content: "x", Metadata: meta(map[string]interface{}{"timestamp_unix": float64(200)}), Distance: 0.2},
	}}
	eng := NewEngine(fs, nil, nil, func() int64 { return 2000 })
	hits, err := eng.Search(context.Background(), Query{QueryText: "x", Limit: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if hits[0].Entry.ID != "a" {
		t.Fatalf("expected newer timestamp first, got %s", hits[0].Entry.ID)
	}
}
