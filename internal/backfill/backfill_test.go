package backfill

import (
	"context"
	"testing"

	"claudeindex/internal/store"
)

type fakeStore struct {
	rows    []store.QueryResult
	updates map[string]map[string]interface{}
}

func newFakeStore(rows []store.QueryResult) *fakeStore {
	return &fakeStore{rows: rows, updates: make(map[string]map[string]interface{})}
}

func (f *fakeStore) SessionEntries(ctx context.Context, sessionID string) ([]store.QueryResult, error) {
	return f.rows, nil
}

func (f *fakeStore) UpdateMetadata(ctx context.Context, id string, partial map[string]interface{}) error {
	if f.updates[id] == nil {
		f.updates[id] = map[string]interface{}{}
	}
	for k, v := range partial {
		f.updates[id][k] = v
	}
	for i, r := range f.rows {
		if r.ID == id {
			for k, v := range partial {
				f.rows[i].Metadata[k] = v
			}
		}
	}
	return nil
}

func row(id string, pos int, role string, isSolution bool, sentiment string) store.QueryResult {
	meta := map[string]interface{}{
		"session_id":                "s1",
		"role":                      role,
		"message_sequence_position": float64(pos),
		"timestamp_unix":            float64(pos),
		"is_solution_attempt":       isSolution,
		"user_feedback_sentiment":   sentiment,
	}
	return store.QueryResult{ID: id, Content: "content-" + id, Metadata: meta}
}

func TestProcessSession_LinksSolutionToFollowingFeedback(t *testing.T) {
	rows := []store.QueryResult{
		row("e0", 0, "user", false, ""),
		row("e1", 1, "assistant", true, ""),
		row("e2", 2, "user", false, "positive"),
	}
	fs := newFakeStore(rows)
	eng := NewEngine(fs, func() string { return "2026-07-31T00:00:00Z" })

	result, err := eng.ProcessSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("ProcessSession: %v", err)
	}
	if result.PairsLinked != 1 {
		t.Fatalf("PairsLinked=%d, want 1", result.PairsLinked)
	}
	if fs.updates["e1"]["feedback_message_id"] != "e2" {
		t.Fatalf("e1 feedback_message_id=%v, want e2", fs.updates["e1"]["feedback_message_id"])
	}
	if fs.updates["e2"]["related_solution_id"] != "e1" {
		t.Fatalf("e2 related_solution_id=%v, want e1", fs.updates["e2"]["related_solution_id"])
	}
}

func TestProcessSession_NoFeedbackWithinWindowLeavesUnlinked(t *testing.T) {
	rows := []store.QueryResult{
		row("e0", 0, "assistant", true, ""),
		row("e1", 1, "user", false, ""),
		row("e2", 2, "user", false, ""),
		row("e3", 3, "user", false, ""),
		row("e4", 4, "user", false, "positive"),
	}
	fs := newFakeStore(rows)
	eng := NewEngine(fs, func() string { return "ts" })

	result, err := eng.ProcessSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("ProcessSession: %v", err)
	}
	if result.PairsLinked != 0 {
		t.Fatalf("PairsLinked=%d, want 0 (feedback outside window)", result.PairsLinked)
	}
}

func TestProcessSession_AdjacencyLinksSetRegardlessOfSolution(t *testing.T) {
	rows := []store.QueryResult{
		row("e0", 0, "user", false, ""),
		row("e1", 1, "assistant", false, ""),
	}
	fs := newFakeStore(rows)
	eng := NewEngine(fs, func() string { return "ts" })

	if _, err := eng.ProcessSession(context.Background(), "s1"); err != nil {
		t.Fatalf("ProcessSession: %v", err)
	}
	if fs.updates["e0"]["next_message_id"] != "e1" {
		t.Fatalf("e0 next_message_id=%v, want e1", fs.updates["e0"]["next_message_id"])
	}
	if fs.updates["e1"]["previous_message_id"] != "e0" {
		t.Fatalf("e1 previous_message_id=%v, want e0", fs.updates["e1"]["previous_message_id"])
	}
}

func TestProcessSession_IdempotentOnRerun(t *testing.T) {
	rows := []store.QueryResult{
		row("e0", 0, "assistant", true, ""),
		row("e1", 1, "user", false, "positive"),
	}
	fs := newFakeStore(rows)
	eng := NewEngine(fs, func() string { return "ts" })

	if _, err := eng.ProcessSession(context.Background(), "s1"); err != nil {
		t.Fatalf("first ProcessSession: %v", err)
	}
	result2, err := eng.ProcessSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("second ProcessSession: %v", err)
	}
	if result2.PairsLinked != 0 {
		t.Fatalf("second run PairsLinked=%d, want 0 (already linked)", result2.PairsLinked)
	}
}
