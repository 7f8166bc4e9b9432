package store

import (
	"context"
	"testing"
)

func TestNewLocalStore_InMemory(t *testing.T) {
	s, err := NewLocalStore(":memory:")
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	defer s.Close()

	if s.GetDB() == nil {
		t.Fatal("GetDB returned nil")
	}
}

func TestLocalStore_SetEmbeddingEngineCreatesVecIndex(t *testing.T) {
	s, err := NewLocalStore(":memory:")
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	defer s.Close()

	engine := &MockEmbeddingEngine{
		DimensionsFunc: func() int { return 4 },
	}
	s.SetEmbeddingEngine(engine)

	if !s.vectorExt {
		t.Fatal("expected vectorExt true after attaching embedding engine")
	}

	if _, err := s.db.Exec("SELECT COUNT(*) FROM vec_index"); err != nil {
		t.Fatalf("vec_index table not usable: %v", err)
	}
}

func TestLocalStore_CountAndStatsEmpty(t *testing.T) {
	s, err := NewLocalStore(":memory:")
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	defer s.Close()

	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Fatalf("Count=%d, want 0", n)
	}

	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats["total"] != 0 {
		t.Fatalf("stats[total]=%d, want 0", stats["total"])
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	s, err := NewLocalStore(":memory:")
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	defer s.Close()

	if err := RunMigrations(s.db); err != nil {
		t.Fatalf("second RunMigrations call failed: %v", err)
	}

	v, err := getSchemaVersion(s.db)
	if err != nil {
		t.Fatalf("getSchemaVersion: %v", err)
	}
	if v != schemaVersion {
		t.Fatalf("schema version=%d, want %d", v, schemaVersion)
	}
}

func TestTableAndColumnExist(t *testing.T) {
	s, err := NewLocalStore(":memory:")
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	defer s.Close()

	if !tableExists(s.db, "entries") {
		t.Fatal("expected entries table to exist")
	}
	if !columnExists(s.db, "entries", "content_hash") {
		t.Fatal("expected entries.content_hash column to exist")
	}
	if columnExists(s.db, "entries", "nonexistent_column") {
		t.Fatal("columnExists should be false for a nonexistent column")
	}
}
