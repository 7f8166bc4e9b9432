package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"claudeindex/internal/entry"
	"claudeindex/internal/logging"
)

// QualityThresholds gates the ProcessingMonitor circuit breaker (spec.md
// §5). It mirrors config.QualityThresholds field-for-field; kept as its own
// type so this package carries no hard dependency on internal/config - the
// CLI wiring layer (cmd/claudeindex) is what bridges the two.
type QualityThresholds struct {
	EmptyContentRateMax   float64
	UnknownProjectRateMax float64
	DuplicateIDRateMax    float64
	MinQualityScore       float64
	WindowSize            int
}

// DefaultQualityThresholds mirrors spec.md §5's stated defaults: 30% empty
// content, 50% unknown project, 0% duplicate ids, 0.5 minimum quality, over
// a rolling window of 50 records.
func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{
		EmptyContentRateMax:   0.30,
		UnknownProjectRateMax: 0.50,
		DuplicateIDRateMax:    0.0,
		MinQualityScore:       0.5,
		WindowSize:            50,
	}
}

// minSamples is the warm-up floor: below this many recorded outcomes the
// monitor never halts, since a rate computed over a handful of records is
// noise, not a signal (spec.md §5 "after warm-up").
const minSamples = 10

// outcome is one record's contribution to the rolling window.
type outcome struct {
	emptyContent   bool
	unknownProject bool
	duplicateID    bool
	quality        float64
	hasQuality     bool
}

// Mirror optionally mirrors a count of the monitor's recorded outcomes into
// a shared backend (Redis, in this repo), keyed by run id. Only the count is
// mirrored: each process still evaluates its breaker against its own
// in-process window (SPEC_FULL.md §5's optional extension of spec.md's
// single-process model). Implementations must be safe to call from a
// single goroutine; the monitor itself holds the only lock.
type Mirror interface {
	Incr(ctx context.Context, key string) (int64, error)
}

// ProcessingMonitor is the rolling-window quality guard described in
// spec.md §5: it halts ingestion the moment corruption-shaped input crosses
// a configured rate, rather than letting a bad run silently finish. This is
// the load-bearing safety control the spec calls "non-negotiable" - no
// subroutine anywhere in this codebase is permitted to catch and swallow
// the error Check reports.
type ProcessingMonitor struct {
	mu         sync.Mutex
	thresholds QualityThresholds
	window     []outcome
	next       int
	total      int // monotonic count of outcomes ever recorded, never reset

	mirror   Mirror
	mirrorRunID string
}

// NewProcessingMonitor builds a monitor with the given thresholds and an
// in-process ring buffer sized to thresholds.WindowSize (defaulting to 50
// if unset or non-positive).
func NewProcessingMonitor(thresholds QualityThresholds) *ProcessingMonitor {
	size := thresholds.WindowSize
	if size <= 0 {
		size = 50
	}
	return &ProcessingMonitor{
		thresholds: thresholds,
		window:     make([]outcome, 0, size),
	}
}

// WithMirror attaches an optional cross-process counter mirror, tagged with
// runID for key namespacing. Returns the same monitor for chaining.
func (m *ProcessingMonitor) WithMirror(mirror Mirror, runID string) *ProcessingMonitor {
	m.mirror = mirror
	m.mirrorRunID = runID
	return m
}

func (m *ProcessingMonitor) record(o outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	capacity := cap(m.window)
	if capacity == 0 {
		capacity = 50
	}
	if len(m.window) < capacity {
		m.window = append(m.window, o)
	} else {
		m.window[m.next%capacity] = o
		m.next++
	}
	m.total++

	if m.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		key := fmt.Sprintf("claudeindex:monitor:%s:total", m.mirrorRunID)
		if _, err := m.mirror.Incr(ctx, key); err != nil {
			logging.OrchestratorWarn("processing monitor: redis mirror incr failed: %v", err)
		}
	}
}

// RecordEntry records one successfully normalized entry, tracking its
// unknown-project status and (when it is a scored solution attempt) its
// quality contribution.
func (m *ProcessingMonitor) RecordEntry(e *entry.Entry) {
	o := outcome{unknownProject: e.ProjectName == "unknown" || e.ProjectName == ""}
	if e.IsSolutionAttempt {
		o.quality = e.SolutionQualityScore
		o.hasQuality = true
	}
	m.record(o)
}

// RecordSkip records one rejected record, tagging it as an empty-content
// skip when that was the reason (spec.md §4.4's skip-with-reason rule).
// Other skip reasons (no role, missing session id) count toward total but
// not toward the empty-content rate specifically.
func (m *ProcessingMonitor) RecordSkip(reason string) {
	m.record(outcome{emptyContent: reason == "empty content"})
}

// RecordDuplicate records a true P1 violation: two records in this run
// resolving to the same stored id. This is NOT the same thing as an
// incremental sync finding content already indexed from a prior run - that
// is expected, successful dedup and must never feed the duplicate-id
// breaker (a store that is mostly already-indexed would otherwise halt
// every incremental run on first contact).
func (m *ProcessingMonitor) RecordDuplicate() {
	m.record(outcome{duplicateID: true})
}

// Check evaluates the current rolling window against thresholds. It
// returns (true, reason) the first time any rate is breached; once halted,
// callers are expected to stop calling Check (the orchestrator's sync loop
// returns ErrSystemicExtractionFailure and aborts).
func (m *ProcessingMonitor) Check() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.window)
	if n < minSamples {
		return false, ""
	}

	var emptyContent, unknownProject, duplicate int
	var qualitySum float64
	var qualityCount int
	for _, o := range m.window {
		if o.emptyContent {
			emptyContent++
		}
		if o.unknownProject {
			unknownProject++
		}
		if o.duplicateID {
			duplicate++
		}
		if o.hasQuality {
			qualitySum += o.quality
			qualityCount++
		}
	}

	emptyRate := float64(emptyContent) / float64(n)
	unknownRate := float64(unknownProject) / float64(n)
	duplicateRate := float64(duplicate) / float64(n)

	if emptyRate > m.thresholds.EmptyContentRateMax {
		return true, fmt.Sprintf("empty_content_rate %.3f exceeds max %.3f over last %d records",
			emptyRate, m.thresholds.EmptyContentRateMax, n)
	}
	if unknownRate > m.thresholds.UnknownProjectRateMax {
		return true, fmt.Sprintf("unknown_project_rate %.3f exceeds max %.3f over last %d records",
			unknownRate, m.thresholds.UnknownProjectRateMax, n)
	}
	if duplicateRate > m.thresholds.DuplicateIDRateMax {
		return true, fmt.Sprintf("duplicate_id_rate %.3f exceeds max %.3f over last %d records",
			duplicateRate, m.thresholds.DuplicateIDRateMax, n)
	}

	// Overall quality score (spec.md §5's fourth breaker signal): a
	// composite health score over the same window, not a separate
	// per-entry metric. It folds the three rates above together with the
	// average solution-quality score observed, so a run that is technically
	// under each individual rate threshold but broadly unhealthy still
	// trips. Documented as an implementer decision in DESIGN.md since
	// spec.md leaves the exact formula unspecified.
	avgQuality := 1.0
	if qualityCount > 0 {
		avgQuality = qualitySum / float64(qualityCount)
	}
	overall := (1-emptyRate)*0.25 + (1-unknownRate)*0.2 + (1-duplicateRate)*0.2 + avgQuality*0.35
	if overall < m.thresholds.MinQualityScore {
		return true, fmt.Sprintf("overall quality score %.3f below minimum %.3f over last %d records",
			overall, m.thresholds.MinQualityScore, n)
	}

	return false, ""
}

// Snapshot reports the monitor's current rates, used by the orchestrator's
// per-batch quality-metric reporting (spec.md §4.8).
type Snapshot struct {
	WindowSize        int
	EmptyContentRate  float64
	UnknownProjectRate float64
	DuplicateIDRate   float64
	AverageQuality    float64
	TotalRecorded     int
}

func (m *ProcessingMonitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.window)
	if n == 0 {
		return Snapshot{TotalRecorded: m.total}
	}

	var emptyContent, unknownProject, duplicate int
	var qualitySum float64
	var qualityCount int
	for _, o := range m.window {
		if o.emptyContent {
			emptyContent++
		}
		if o.unknownProject {
			unknownProject++
		}
		if o.duplicateID {
			duplicate++
		}
		if o.hasQuality {
			qualitySum += o.quality
			qualityCount++
		}
	}

	avgQuality := 1.0
	if qualityCount > 0 {
		avgQuality = qualitySum / float64(qualityCount)
	}

	return Snapshot{
		WindowSize:          n,
		EmptyContentRate:    float64(emptyContent) / float64(n),
		UnknownProjectRate:  float64(unknownProject) / float64(n),
		DuplicateIDRate:     float64(duplicate) / float64(n),
		AverageQuality:      avgQuality,
		TotalRecorded:       m.total,
	}
}
