package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"claudeindex/internal/embedding"
	"claudeindex/internal/logging"
)

// entryBatchCap is the internal chunk size upsert_many submits per statement
// batch, independent of the caller's configured batch_size (spec.md §4.2:
// "must tolerate the backing store's batch-size cap by chunking internally").
const entryBatchCap = 200

// UpsertRow is one row of the upsert_many contract: an id, its content, and
// a flat metadata mapping (spec.md §4.2). Complex values (maps, sets) must
// already be JSON-encoded strings by the caller (C4/C5); this layer does not
// interpret metadata, it only persists and filters it.
type UpsertRow struct {
	ID       string
	Content  string
	Metadata map[string]interface{}
}

// QueryResult is one row returned by Query: the stored id/content/metadata
// plus the raw cosine distance (not yet boosted - boosting is C7's job).
type QueryResult struct {
	ID       string
	Content  string
	Metadata map[string]interface{}
	Distance float64
}

// RangeFilter bounds a scalar metadata field. Either side may be nil.
type RangeFilter struct {
	Gte interface{}
	Lte interface{}
}

// Filter is the metadata predicate accepted by Query and DeleteWhere:
// equality and range over scalars (spec.md §4.2).
type Filter struct {
	Eq    map[string]interface{}
	Range map[string]RangeFilter
}

// Empty reports whether the filter has no clauses.
func (f Filter) Empty() bool {
	return len(f.Eq) == 0 && len(f.Range) == 0
}

// whereClause translates a Filter into a parameterized SQL fragment against
// a JSON metadata column. json_extract's path argument is bound as a
// parameter (never string-concatenated), so arbitrary field names can never
// become SQL injection.
func whereClause(f Filter, column string) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	keys := make([]string, 0, len(f.Eq))
	for k := range f.Eq {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		clauses = append(clauses, fmt.Sprintf("json_extract(%s, ?) = ?", column))
		args = append(args, "$."+k, f.Eq[k])
	}

	rkeys := make([]string, 0, len(f.Range))
	for k := range f.Range {
		rkeys = append(rkeys, k)
	}
	sort.Strings(rkeys)
	for _, k := range rkeys {
		r := f.Range[k]
		if r.Gte != nil {
			clauses = append(clauses, fmt.Sprintf("json_extract(%s, ?) >= ?", column))
			args = append(args, "$."+k, r.Gte)
		}
		if r.Lte != nil {
			clauses = append(clauses, fmt.Sprintf("json_extract(%s, ?) <= ?", column))
			args = append(args, "$."+k, r.Lte)
		}
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return strings.Join(clauses, " AND "), args
}

// UpsertMany writes rows, computing embeddings via the attached engine (or
// storing keyword-only rows when none is attached). Rejects the whole batch
// if any id repeats within it; re-running with the same ids is fine (that's
// idempotent reingestion, P5) - only intra-batch duplication is an error.
func (s *LocalStore) UpsertMany(ctx context.Context, rows []UpsertRow) (int, error) {
	timer := logging.StartTimer(logging.CategoryStore, "UpsertMany")
	defer timer.Stop()

	if len(rows) == 0 {
		return 0, nil
	}

	seen := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		if r.ID == "" {
			return 0, fmt.Errorf("upsert_many: empty id")
		}
		if _, dup := seen[r.ID]; dup {
			return 0, fmt.Errorf("upsert_many: duplicate id in batch: %s", r.ID)
		}
		seen[r.ID] = struct{}{}
	}

	stored := 0
	for i := 0; i < len(rows); i += entryBatchCap {
		end := i + entryBatchCap
		if end > len(rows) {
			end = len(rows)
		}
		n, err := s.upsertChunk(ctx, rows[i:end])
		stored += n
		if err != nil {
			return stored, err
		}
	}
	logging.Store("upsert_many stored %d/%d entries", stored, len(rows))
	return stored, nil
}

func (s *LocalStore) upsertChunk(ctx context.Context, rows []UpsertRow) (int, error) {
	s.mu.RLock()
	engine := s.embeddingEngine
	vecEnabled := s.vectorExt
	s.mu.RUnlock()

	contents := make([]string, len(rows))
	for i, r := range rows {
		contents[i] = r.Content
	}

	var embeddings [][]float32
	if engine != nil {
		var err error
		embeddings, err = embedBatchForIngestion(ctx, engine, contents)
		if err != nil {
			logging.Get(logging.CategoryStore).Error("upsert_many embedding failed: %v", err)
			return 0, fmt.Errorf("embed batch: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	stmt, err := tx.Prepare(`INSERT INTO entries (id, session_id, content, content_hash, embedding, metadata, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			content=excluded.content, content_hash=excluded.content_hash,
			embedding=excluded.embedding, metadata=excluded.metadata, updated_at=CURRENT_TIMESTAMP`)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	var vecDelStmt, vecInsStmt *sql.Stmt
	if vecEnabled {
		if vd, err := tx.Prepare("DELETE FROM vec_index WHERE id = ?"); err == nil {
			vecDelStmt = vd
			defer vd.Close()
		}
		if vi, err := tx.Prepare("INSERT INTO vec_index (embedding, id, content, metadata) VALUES (?, ?, ?, ?)"); err == nil {
			vecInsStmt = vi
			defer vi.Close()
		}
	}

	stored := 0
	for i, r := range rows {
		sessionID, _ := r.Metadata["session_id"].(string)
		contentHash, _ := r.Metadata["content_hash"].(string)
		metaJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			tx.Rollback()
			return stored, fmt.Errorf("marshal metadata for %s: %w", r.ID, err)
		}

		var embJSON interface{}
		var embBlob []byte
		if embeddings != nil && i < len(embeddings) && len(embeddings[i]) > 0 {
			b, _ := json.Marshal(embeddings[i])
			embJSON = string(b)
			embBlob = encodeFloat32Slice(embeddings[i])
		}

		if _, err := stmt.Exec(r.ID, sessionID, r.Content, contentHash, embJSON, string(metaJSON)); err != nil {
			tx.Rollback()
			return stored, fmt.Errorf("upsert %s: %w", r.ID, err)
		}

		if vecDelStmt != nil && vecInsStmt != nil && embBlob != nil {
			_, _ = vecDelStmt.Exec(r.ID)
			_, _ = vecInsStmt.Exec(embBlob, r.ID, r.Content, string(metaJSON))
		}

		stored++
	}

	if err := tx.Commit(); err != nil {
		return stored, err
	}
	return stored, nil
}

// embedBatchForIngestion prefers a task-type-aware engine so documents are
// embedded with a retrieval-document task type distinct from query-time
// embedding (spec.md §4.1 handle contract: identical vectors for identical
// text and task).
func embedBatchForIngestion(ctx context.Context, engine embedding.EmbeddingEngine, contents []string) ([][]float32, error) {
	if aware, ok := engine.(embedding.TaskTypeAwareBatchEngine); ok {
		return aware.EmbedBatchWithTask(ctx, contents, embedding.TaskRetrievalDocument)
	}
	return engine.EmbedBatch(ctx, contents)
}

// Query performs C2's unified retrieval primitive: embed query_text, run
// k-NN under filter, return up to k distance-scored rows (spec.md §4.2).
func (s *LocalStore) Query(ctx context.Context, queryText string, k int, filter Filter) ([]QueryResult, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Query")
	defer timer.Stop()

	if k <= 0 {
		k = 10
	}

	s.mu.RLock()
	engine := s.embeddingEngine
	vecEnabled := s.vectorExt
	s.mu.RUnlock()

	if engine == nil {
		return nil, fmt.Errorf("query: no embedding engine attached")
	}

	var queryVec []float32
	var err error
	if aware, ok := engine.(embedding.TaskTypeAwareEngine); ok {
		queryVec, err = aware.EmbedWithTask(ctx, queryText, embedding.TaskRetrievalQuery)
	} else {
		queryVec, err = engine.Embed(ctx, queryText)
	}
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	if vecEnabled {
		return s.queryVec(queryVec, k, filter)
	}
	return s.queryBruteForce(queryVec, k, filter)
}

func (s *LocalStore) queryVec(queryVec []float32, k int, filter Filter) ([]QueryResult, error) {
	clause, args := whereClause(filter, "metadata")
	blob := encodeFloat32Slice(queryVec)

	sqlStr := "SELECT id, content, metadata, vec_distance_cosine(embedding, ?) AS dist FROM vec_index"
	queryArgs := append([]interface{}{blob}, args...)
	if clause != "" {
		sqlStr += " WHERE " + clause
	}
	sqlStr += " ORDER BY dist ASC LIMIT ?"
	queryArgs = append(queryArgs, k)

	s.mu.RLock()
	rows, err := s.db.Query(sqlStr, queryArgs...)
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("vec query: %w", err)
	}
	defer rows.Close()

	var out []QueryResult
	for rows.Next() {
		var id, content, metaJSON string
		var dist float64
		if err := rows.Scan(&id, &content, &metaJSON, &dist); err != nil {
			continue
		}
		meta := map[string]interface{}{}
		_ = json.Unmarshal([]byte(metaJSON), &meta)
		out = append(out, QueryResult{ID: id, Content: content, Metadata: meta, Distance: dist})
	}
	return out, nil
}

func (s *LocalStore) queryBruteForce(queryVec []float32, k int, filter Filter) ([]QueryResult, error) {
	clause, args := whereClause(filter, "metadata")
	sqlStr := "SELECT id, content, metadata, embedding FROM entries WHERE embedding IS NOT NULL"
	if clause != "" {
		sqlStr += " AND " + clause
	}

	s.mu.RLock()
	rows, err := s.db.Query(sqlStr, args...)
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("brute force query: %w", err)
	}
	defer rows.Close()

	type candidate struct {
		res QueryResult
	}
	var candidates []candidate
	for rows.Next() {
		var id, content, metaJSON, embJSON string
		if err := rows.Scan(&id, &content, &metaJSON, &embJSON); err != nil {
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(embJSON), &vec); err != nil {
			continue
		}
		sim, err := embedding.CosineSimilarity(queryVec, vec)
		if err != nil {
			continue
		}
		meta := map[string]interface{}{}
		_ = json.Unmarshal([]byte(metaJSON), &meta)
		candidates = append(candidates, candidate{QueryResult{ID: id, Content: content, Metadata: meta, Distance: 1 - sim}})
	}
	rows.Close()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].res.Distance < candidates[j].res.Distance })
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]QueryResult, len(candidates))
	for i, c := range candidates {
		out[i] = c.res
	}
	return out, nil
}

// UpdateMetadata atomically patches an entry's metadata (used by C6 to write
// chain/relationship fields and by C5's feedback pass to validate/refute a
// solution entry). json_patch applies an RFC 7396 merge patch in one
// statement, so callers never need a read-modify-write race.
func (s *LocalStore) UpdateMetadata(ctx context.Context, id string, partial map[string]interface{}) error {
	timer := logging.StartTimer(logging.CategoryStore, "UpdateMetadata")
	defer timer.Stop()

	patchJSON, err := json.Marshal(partial)
	if err != nil {
		return fmt.Errorf("marshal patch for %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"UPDATE entries SET metadata = json_patch(metadata, ?), updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		string(patchJSON), id,
	)
	if err != nil {
		return fmt.Errorf("update_metadata %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("update_metadata: no entry with id %s", id)
	}

	_, _ = s.db.Exec("UPDATE vec_index SET metadata = json_patch(metadata, ?) WHERE id = ?", string(patchJSON), id)
	return nil
}

// DeleteWhere is the recovery operation: removes entries matching a metadata
// predicate (spec.md §4.2). Backs up the database first since this is
// destructive and, per spec, the only way entries are ever destroyed outside
// normal lifecycle.
func (s *LocalStore) DeleteWhere(ctx context.Context, filter Filter) (int64, error) {
	timer := logging.StartTimer(logging.CategoryStore, "DeleteWhere")
	defer timer.Stop()

	if filter.Empty() {
		return 0, fmt.Errorf("delete_where: refusing to delete with an empty predicate")
	}

	if s.dbPath != ":memory:" {
		if _, err := CreateBackup(s.dbPath); err != nil {
			logging.Get(logging.CategoryStore).Warn("delete_where: backup failed, proceeding anyway: %v", err)
		}
	}

	clause, args := whereClause(filter, "metadata")

	s.mu.Lock()
	defer s.mu.Unlock()

	idRows, err := s.db.Query("SELECT id FROM entries WHERE "+clause, args...)
	if err != nil {
		return 0, fmt.Errorf("delete_where select: %w", err)
	}
	var ids []string
	for idRows.Next() {
		var id string
		if err := idRows.Scan(&id); err == nil {
			ids = append(ids, id)
		}
	}
	idRows.Close()

	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(ids))
	idArgs := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		idArgs[i] = id
	}
	inClause := strings.Join(placeholders, ",")

	_, _ = s.db.Exec("DELETE FROM vec_index WHERE id IN ("+inClause+")", idArgs...)
	res, err := s.db.Exec("DELETE FROM entries WHERE id IN ("+inClause+")", idArgs...)
	if err != nil {
		return 0, fmt.Errorf("delete_where delete: %w", err)
	}
	n, _ := res.RowsAffected()
	logging.Store("delete_where removed %d entries", n)
	return n, nil
}

// GetByID fetches one entry's raw row, the lookup search's context-chain
// expansion (spec.md §4.7 step 6) needs to resolve a previous/next message
// id back into a full entry.
func (s *LocalStore) GetByID(ctx context.Context, id string) (*QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var content, metaJSON string
	err := s.db.QueryRow("SELECT content, metadata FROM entries WHERE id = ?", id).Scan(&content, &metaJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("get_by_id: no entry %s", id)
		}
		return nil, fmt.Errorf("get_by_id: %w", err)
	}
	meta := map[string]interface{}{}
	_ = json.Unmarshal([]byte(metaJSON), &meta)
	return &QueryResult{ID: id, Content: content, Metadata: meta}, nil
}

// Count returns the total number of stored entries.
func (s *LocalStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM entries").Scan(&n)
	return n, err
}

// Exists reports whether an id is already stored.
func (s *LocalStore) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRow("SELECT 1 FROM entries WHERE id = ? LIMIT 1", id).Scan(&n)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ContentHashExists checks the dedup key used by incremental sync: does any
// entry in this session already carry this content hash (spec.md §4.8).
func (s *LocalStore) ContentHashExists(ctx context.Context, sessionID, contentHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRow(
		"SELECT 1 FROM entries WHERE session_id = ? AND content_hash = ? LIMIT 1",
		sessionID, contentHash,
	).Scan(&n)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Stats reports store-level counters (stats()).
func (s *LocalStore) Stats(ctx context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	var total, withEmbedding int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM entries").Scan(&total); err != nil {
		return nil, err
	}
	_ = s.db.QueryRow("SELECT COUNT(*) FROM entries WHERE embedding IS NOT NULL").Scan(&withEmbedding)
	stats["total"] = total
	stats["with_embedding"] = withEmbedding
	stats["without_embedding"] = total - withEmbedding
	return stats, nil
}

// SessionEntries returns every entry for a session, ordered the way C6
// requires: message_sequence_position then timestamp_unix.
func (s *LocalStore) SessionEntries(ctx context.Context, sessionID string) ([]QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, content, metadata FROM entries WHERE session_id = ?
		 ORDER BY json_extract(metadata, '$.message_sequence_position'), json_extract(metadata, '$.timestamp_unix')`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("session_entries: %w", err)
	}
	defer rows.Close()

	var out []QueryResult
	for rows.Next() {
		var id, content, metaJSON string
		if err := rows.Scan(&id, &content, &metaJSON); err != nil {
			continue
		}
		meta := map[string]interface{}{}
		_ = json.Unmarshal([]byte(metaJSON), &meta)
		out = append(out, QueryResult{ID: id, Content: content, Metadata: meta})
	}
	return out, nil
}

// backfillVecIndex migrates entries that predate vec_index (or predate an
// embedding engine being attached) into the ANN mirror. Runs in the
// background: on a large store the insert can take minutes and must not
// block startup.
func (s *LocalStore) backfillVecIndex(dim int) {
	s.mu.RLock()
	vecEnabled := s.vectorExt
	s.mu.RUnlock()
	if !vecEnabled || dim <= 0 {
		return
	}

	rows, err := s.db.Query("SELECT id, content, embedding, metadata FROM entries WHERE embedding IS NOT NULL")
	if err != nil {
		logging.Get(logging.CategoryStore).Warn("backfillVecIndex query failed: %v", err)
		return
	}

	type row struct{ id, content, embJSON, metaJSON string }
	var toInsert []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.content, &r.embJSON, &r.metaJSON); err != nil {
			continue
		}
		toInsert = append(toInsert, r)
	}
	rows.Close()

	if len(toInsert) == 0 {
		return
	}

	const batch = 100
	migrated := 0
	for i := 0; i < len(toInsert); i += batch {
		end := i + batch
		if end > len(toInsert) {
			end = len(toInsert)
		}
		tx, err := s.db.Begin()
		if err != nil {
			continue
		}
		delStmt, err := tx.Prepare("DELETE FROM vec_index WHERE id = ?")
		if err != nil {
			tx.Rollback()
			continue
		}
		insStmt, err := tx.Prepare("INSERT INTO vec_index (embedding, id, content, metadata) VALUES (?, ?, ?, ?)")
		if err != nil {
			delStmt.Close()
			tx.Rollback()
			continue
		}
		for _, r := range toInsert[i:end] {
			var vec []float32
			if err := json.Unmarshal([]byte(r.embJSON), &vec); err != nil || len(vec) != dim {
				continue
			}
			_, _ = delStmt.Exec(r.id)
			if _, err := insStmt.Exec(encodeFloat32Slice(vec), r.id, r.content, r.metaJSON); err == nil {
				migrated++
			}
		}
		delStmt.Close()
		insStmt.Close()
		tx.Commit()
	}
	logging.Store("backfillVecIndex migrated %d entries into vec_index", migrated)
}
