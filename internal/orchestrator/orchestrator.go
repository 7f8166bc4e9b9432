// Package orchestrator implements C8: the top-level pipeline that drives
// C3 through C6 end to end, enforcing the non-negotiable ProcessingMonitor
// circuit breaker (spec.md §5) and reporting per-batch quality metrics.
package orchestrator

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"claudeindex/internal/backfill"
	"claudeindex/internal/enhance"
	"claudeindex/internal/entry"
	"claudeindex/internal/logging"
	"claudeindex/internal/store"
	"claudeindex/internal/transcript"
)

// Phase is a state in the full-sync state machine (spec.md §4.8).
type Phase string

const (
	PhaseScanning   Phase = "scanning"
	PhaseExtracting Phase = "extracting"
	PhaseEnhancing  Phase = "enhancing"
	PhaseUpserting  Phase = "upserting"
	PhaseBackFilling Phase = "backfilling"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

// ErrSystemicExtractionFailure is the circuit breaker's halt error (spec.md
// §5): raised when ingestion quality degrades past configured thresholds,
// never retried.
var ErrSystemicExtractionFailure = errors.New("orchestrator: systemic extraction failure, halting")

// Config bounds the orchestrator's batching, retry, and circuit-breaker
// behavior (spec.md §6's configuration object, the subset C8 consumes
// directly).
type Config struct {
	BatchSize          int
	MaxRetries         int // R, e.g. 3
	EnhanceConcurrency int

	Thresholds QualityThresholds

	// RedisAddr, when set, mirrors a count of the ProcessingMonitor's
	// recorded outcomes into Redis (SPEC_FULL.md §5); the breaker itself
	// still runs on this process's own window. Empty by default:
	// a one-shot CLI invocation never needs it.
	RedisAddr string
}

// DefaultConfig mirrors spec.md §5/§6's stated defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:          50,
		MaxRetries:         3,
		EnhanceConcurrency: 8,
		Thresholds:         DefaultQualityThresholds(),
	}
}

// EntryStore is the subset of C2 the orchestrator writes through.
type EntryStore interface {
	UpsertMany(ctx context.Context, rows []store.UpsertRow) (int, error)
	ContentHashExists(ctx context.Context, sessionID, contentHash string) (bool, error)
	DeleteWhere(ctx context.Context, filter store.Filter) (int64, error)
}

// Orchestrator drives full and incremental syncs.
type Orchestrator struct {
	cfg      Config
	st       EntryStore
	analyzer enhance.SemanticAnalyzer
	backfill *backfill.Engine

	mu      sync.Mutex
	phase   Phase
	monitor *ProcessingMonitor
}

// New builds an Orchestrator. bf may be nil if back-filling is skipped
// (e.g. a dry run). When cfg.RedisAddr is set, the ProcessingMonitor mirrors
// its rolling counts into Redis; a bad address degrades to a plain
// in-process monitor with a logged warning rather than failing construction,
// since the mirror is an optional cross-process refinement, never a
// correctness requirement for a single run.
func New(cfg Config, st EntryStore, analyzer enhance.SemanticAnalyzer, bf *backfill.Engine) *Orchestrator {
	monitor := NewProcessingMonitor(cfg.Thresholds)
	if cfg.RedisAddr != "" {
		mirror, err := NewRedisMirror(cfg.RedisAddr)
		if err != nil {
			logging.OrchestratorWarn("redis mirror unavailable at %s, falling back to in-process monitor: %v", cfg.RedisAddr, err)
		} else {
			monitor = monitor.WithMirror(mirror, RunID())
		}
	}

	return &Orchestrator{
		cfg:      cfg,
		st:       st,
		analyzer: analyzer,
		backfill: bf,
		phase:    PhaseScanning,
		monitor:  monitor,
	}
}

// Phase reports the orchestrator's current state-machine phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	o.phase = p
	o.mu.Unlock()
	logging.OrchestratorDebug("phase -> %s", p)
}

// RunID returns a fresh ULID-based correlation id for one sync invocation,
// used to tag log lines and (if configured) the Redis-backed monitor
// mirror. ULID, not uuid.v4: the id needs to be time-sortable for log
// triage across overlapping runs.
func RunID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0)).String()
}

// Report summarizes one sync invocation.
type Report struct {
	RunID                       string
	FilesScanned                int
	RecordsRead                 int
	EntriesExtracted            int
	EntriesSkipped              int
	EntriesSkippedAlreadyIndexed int // incremental dedup hits, not corruption
	EntriesUpserted             int
	SessionsBackfilled          int
	Halted                      bool
	HaltReason                  string
}

// FullSync walks every transcript file under root, extracts, enhances,
// upserts, and back-fills (spec.md §4.8's Scanning→Extracting→Enhancing→
// Upserting→BackFilling→Done pipeline).
func (o *Orchestrator) FullSync(ctx context.Context, root, home string) (Report, error) {
	return o.sync(ctx, root, home, nil)
}

// IncrementalSync is FullSync restricted to files modified after `since`
// returns true and content not already present by (session_id, hash)
// (spec.md §4.8).
func (o *Orchestrator) IncrementalSync(ctx context.Context, root, home string, since func(path string) bool) (Report, error) {
	return o.sync(ctx, root, home, since)
}

func (o *Orchestrator) sync(ctx context.Context, root, home string, since func(path string) bool) (Report, error) {
	report := Report{RunID: RunID()}
	logging.Orchestrator("run %s: starting sync at %s", report.RunID, root)

	proc, err := enhance.NewProcessor(o.cfg.EnhanceConcurrency, o.analyzer)
	if err != nil {
		return report, fmt.Errorf("orchestrator: build enhancement processor: %w", err)
	}
	defer proc.Release()

	o.setPhase(PhaseScanning)
	seq := entry.NewSequencer()

	var batch []*entry.Entry
	sessionsSeen := map[string]bool{}
	seenIDs := map[string]bool{}
	filesSeen := map[string]bool{}

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		o.setPhase(PhaseEnhancing)
		if err := proc.Batch(ctx, batch); err != nil {
			return fmt.Errorf("orchestrator: enhancement batch failed: %w", err)
		}

		o.setPhase(PhaseUpserting)
		// batchID is a random uuid, not ulid: unlike RunID it only needs to
		// disambiguate one batch from another in a single run's log lines,
		// never to sort across runs, so the cheaper v4 generator is enough.
		batchID := uuid.NewString()
		if err := o.upsertWithRetry(ctx, batchID, batch); err != nil {
			return err
		}
		report.EntriesUpserted += len(batch)

		for _, e := range batch {
			sessionsSeen[e.SessionID] = true
		}
		batch = batch[:0]
		return nil
	}

	onRecord := func(rec transcript.Record) error {
		report.RecordsRead++
		if !filesSeen[rec.FilePath] {
			filesSeen[rec.FilePath] = true
			report.FilesScanned++
		}

		en, nerr := entry.Normalize(rec, seq, home)
		if nerr != nil {
			var skip *entry.SkipError
			if errors.As(nerr, &skip) {
				o.monitor.RecordSkip(skip.Reason)
				report.EntriesSkipped++
				if halted, reason := o.monitor.Check(); halted {
					report.Halted = true
					report.HaltReason = reason
					return fmt.Errorf("%w: %s", ErrSystemicExtractionFailure, reason)
				}
				return nil
			}
			return nerr
		}

		// Incremental sync's content-hash dedup is expected, successful
		// behavior (spec.md §4.8), never a corruption signal: it is NOT
		// recorded against the ProcessingMonitor's duplicate-id rate, which
		// is reserved for the true P1 violation checked below.
		if since != nil {
			dup, err := o.st.ContentHashExists(ctx, en.SessionID, en.ContentHash)
			if err == nil && dup {
				report.EntriesSkippedAlreadyIndexed++
				return nil
			}
		}

		// A duplicate id within this single run is the corruption signal
		// spec.md §5 means by "duplicate-id rate": the normalizer's
		// per-session sequencer should make this unreachable, but the
		// breaker exists precisely to catch an assumption like that turning
		// out false (spec.md §9's historical-warning rationale).
		if seenIDs[en.ID] {
			o.monitor.RecordDuplicate()
			if halted, reason := o.monitor.Check(); halted {
				report.Halted = true
				report.HaltReason = reason
				return fmt.Errorf("%w: %s", ErrSystemicExtractionFailure, reason)
			}
			return nil
		}
		seenIDs[en.ID] = true

		o.monitor.RecordEntry(en)
		if halted, reason := o.monitor.Check(); halted {
			report.Halted = true
			report.HaltReason = reason
			return fmt.Errorf("%w: %s", ErrSystemicExtractionFailure, reason)
		}

		report.EntriesExtracted++
		batch = append(batch, en)
		if len(batch) >= o.cfg.BatchSize {
			return flush()
		}
		return nil
	}

	onFileError := func(fe transcript.FileError) {
		logging.OrchestratorWarn("run %s: file error %s: %v", report.RunID, fe.Path, fe.Err)
	}
	onLineError := func(le transcript.LineError) {
		logging.OrchestratorWarn("run %s: %s:%d: %v", report.RunID, le.Path, le.LineNo, le.Err)
	}

	o.setPhase(PhaseExtracting)
	var walkErr error
	if since != nil {
		walkErr = transcript.ModifiedAfter(root, since, onRecord, onFileError, onLineError)
	} else {
		walkErr = transcript.Walk(root, onRecord, onFileError, onLineError)
	}

	if walkErr != nil {
		o.setPhase(PhaseFailed)
		logging.OrchestratorCritical("run %s: halted: %v", report.RunID, walkErr)
		return report, walkErr
	}

	if err := flush(); err != nil {
		o.setPhase(PhaseFailed)
		return report, err
	}

	if o.backfill != nil {
		o.setPhase(PhaseBackFilling)
		for sessionID := range sessionsSeen {
			if _, err := o.backfill.ProcessSession(ctx, sessionID); err != nil {
				logging.OrchestratorWarn("run %s: backfill session %s failed: %v", report.RunID, sessionID, err)
				continue
			}
			report.SessionsBackfilled++
		}
	}

	o.setPhase(PhaseDone)
	logging.Orchestrator("run %s: done, %d extracted, %d upserted, %d sessions backfilled",
		report.RunID, report.EntriesExtracted, report.EntriesUpserted, report.SessionsBackfilled)
	return report, nil
}

// upsertWithRetry implements spec.md §5's retry policy: at most
// MaxRetries attempts with exponential backoff on transient errors; a
// structural error (duplicate id, schema mismatch) is never retried.
func (o *Orchestrator) upsertWithRetry(ctx context.Context, batchID string, batch []*entry.Entry) error {
	rows := make([]store.UpsertRow, len(batch))
	for i, e := range batch {
		rows[i] = store.UpsertRow{ID: e.ID, Content: e.Content, Metadata: e.ToMetadata()}
	}

	var lastErr error
	delay := 100 * time.Millisecond
	for attempt := 0; attempt < o.cfg.MaxRetries; attempt++ {
		_, err := o.st.UpsertMany(ctx, rows)
		if err == nil {
			return nil
		}
		lastErr = err

		if isStructuralError(err) {
			logging.OrchestratorCritical("batch %s: structural error, not retrying: %v", batchID, err)
			return fmt.Errorf("orchestrator: structural upsert failure: %w", err)
		}

		logging.OrchestratorWarn("batch %s: upsert attempt %d/%d failed: %v", batchID, attempt+1, o.cfg.MaxRetries, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("orchestrator: batch %s: upsert failed after %d attempts: %w", batchID, o.cfg.MaxRetries, lastErr)
}

// isStructuralError reports whether err signals a problem retrying cannot
// fix (spec.md §5). It matches UpsertMany's intra-batch "duplicate id"
// error, SQLite "UNIQUE constraint" errors and any error mentioning a
// "schema mismatch"; anything else is assumed transient.
func isStructuralError(err error) bool {
	msg := err.Error()
	return containsAny(msg, "duplicate id", "UNIQUE constraint", "schema mismatch")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
