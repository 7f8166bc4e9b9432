// Package store implements C2, the vector store adapter: a thin wrapper over
// an embedded SQLite database holding one collection of indexed conversation
// entries. It exposes upsert, metadata-filtered k-NN query, atomic per-id
// metadata patch, and a recovery delete - nothing else is a compatibility
// surface (spec.md §4.2, §6).
//
// Two backends coexist behind the same SQL surface: the cgo sqlite-vec
// extension (build tag sqlite_vec,cgo, see init_vec.go) gives real ANN search
// via a vec0 virtual table; without it, vec_compat.go registers an in-memory
// vec0-compatible module on top of modernc.org/sqlite so the same queries
// still run, falling back to brute-force cosine similarity when even that is
// unavailable.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"claudeindex/internal/embedding"
	"claudeindex/internal/logging"
)

// LocalStore is the embedded vector store backing C2.
type LocalStore struct {
	db              *sql.DB
	mu              sync.RWMutex
	dbPath          string
	embeddingEngine embedding.EmbeddingEngine
	vectorExt       bool
	dim             int
}

// NewLocalStore opens (creating if necessary) the SQLite database at path.
// path may be ":memory:" for tests.
func NewLocalStore(path string) (*LocalStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewLocalStore")
	defer timer.Stop()

	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create store dir: %w", err)
			}
		}
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set busy_timeout: %w", err)
		}
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set journal_mode: %w", err)
		}
		if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set synchronous: %w", err)
		}
	}

	store := &LocalStore{db: db, dbPath: path}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	store.detectVecExtension()

	logging.Store("Opened vector store at %s (vec_extension=%v)", path, store.vectorExt)
	return store, nil
}

// initialize creates the single entries collection (spec.md §4.2: "a single
// named collection"). Every field named in spec.md §3 except the raw
// embedding lives inside the metadata JSON blob, keyed by field name - the
// storage contract requires persisting ~30 scalar fields per entry, not just
// provenance, and a flat JSON map with json_extract-based filtering serves
// that without needing one column per field.
func (s *LocalStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			content TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			embedding TEXT,
			metadata TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_entries_session ON entries(session_id);
		CREATE INDEX IF NOT EXISTS idx_entries_content_hash ON entries(session_id, content_hash);
	`)
	if err != nil {
		return err
	}
	return RunMigrations(s.db)
}

// detectVecExtension probes for vec0 virtual table support (true sqlite-vec
// when built with the cgo tag, the in-memory compat module otherwise).
func (s *LocalStore) detectVecExtension() {
	if _, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err == nil {
		s.vectorExt = true
		_, _ = s.db.Exec("DROP TABLE IF EXISTS vec_probe")
		return
	}
	s.vectorExt = false
}

// SetEmbeddingEngine attaches C1's handle to this store (spec.md §4.1:
// "handle() returning a value the vector store uses to configure its own
// embedding function so both components produce identical vectors"). Entries
// already present without a vec_index mirror are backfilled in the
// background since the insert can take minutes on a large store.
func (s *LocalStore) SetEmbeddingEngine(engine embedding.EmbeddingEngine) {
	s.mu.Lock()
	s.embeddingEngine = engine
	dim := engine.Dimensions()
	s.dim = dim
	s.mu.Unlock()

	logging.Store("Embedding engine attached: %s (%d dimensions)", engine.Name(), dim)
	s.initVecIndex(dim)
	go s.backfillVecIndex(dim)
}

// initVecIndex creates the vec0 mirror table once the embedding dimension is
// known. Safe to call more than once; CREATE VIRTUAL TABLE IF NOT EXISTS is
// idempotent.
func (s *LocalStore) initVecIndex(dim int) {
	if dim <= 0 || s.db == nil {
		return
	}
	stmt := fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS vec_index USING vec0(embedding float[%d], id TEXT, content TEXT, metadata TEXT)", dim)
	if _, err := s.db.Exec(stmt); err == nil {
		s.mu.Lock()
		s.vectorExt = true
		s.mu.Unlock()
		logging.Store("vec_index initialized (dimensions=%d)", dim)
	} else {
		logging.Get(logging.CategoryStore).Warn("Failed to create vec_index: %v", err)
	}
}

// Close releases the underlying database handle.
func (s *LocalStore) Close() error {
	return s.db.Close()
}

// GetDB exposes the raw handle for orchestrator-level transactions (C6's
// per-session update_metadata sequencing, maintenance backups).
func (s *LocalStore) GetDB() *sql.DB {
	return s.db
}
