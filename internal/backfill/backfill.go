// Package backfill implements C6: the post-ingestion pass that links solution
// attempts to the feedback that follows them, once a session is judged
// complete. It only ever writes previous_message_id, next_message_id,
// message_sequence_position (when absent or not the entry's index in the
// sorted session), related_solution_id,
// feedback_message_id, relationship_confidence, backfill_timestamp, and
// backfill_processed - content, id, and session_id are immutable (spec.md
// §4.6).
package backfill

import (
	"context"
	"sort"

	"claudeindex/internal/entry"
	"claudeindex/internal/logging"
	"claudeindex/internal/store"
)

// defaultFeedbackWindow is W: how many entries forward of a solution attempt
// are scanned for the first non-neutral feedback that pairs with it (spec.md
// §4.6), used when an Engine is built with a non-positive window.
const defaultFeedbackWindow = 3

// SessionStore is the subset of the store package backfill needs, named as
// an interface so tests can substitute a fake without standing up sqlite.
type SessionStore interface {
	SessionEntries(ctx context.Context, sessionID string) ([]store.QueryResult, error)
	UpdateMetadata(ctx context.Context, id string, partial map[string]interface{}) error
}

// NowFunc returns the current timestamp used for backfill_timestamp. Tests
// inject a fixed function; production wiring (C8) supplies time.Now.
type NowFunc func() string

// Engine runs the back-fill pass over completed sessions.
type Engine struct {
	st     SessionStore
	now    NowFunc
	window int
}

// NewEngine builds a back-fill Engine against st, stamping backfill_timestamp
// via now, using the default lookahead window (spec.md §4.6's W=3).
func NewEngine(st SessionStore, now NowFunc) *Engine {
	return &Engine{st: st, now: now, window: defaultFeedbackWindow}
}

// NewEngineWithWindow is NewEngine with an explicit lookahead window, wired
// from config.BackfillWindowSize so deployments can tune W without a
// rebuild.
func NewEngineWithWindow(st SessionStore, now NowFunc, window int) *Engine {
	if window <= 0 {
		window = defaultFeedbackWindow
	}
	return &Engine{st: st, now: now, window: window}
}

// Result summarizes one session's back-fill pass.
type Result struct {
	SessionID          string
	EntriesConsidered  int
	PairsLinked        int
	AdjacencyLinksOnly int
}

// ProcessSession loads every entry in sessionID, assigns adjacency links and
// solution/feedback pairing, and writes back only the changed fields via
// UpdateMetadata - one entry at a time, so a mid-session failure leaves
// already-written entries correctly linked (spec.md §4.6's idempotency and
// partial-progress requirements).
func (e *Engine) ProcessSession(ctx context.Context, sessionID string) (Result, error) {
	rows, err := e.st.SessionEntries(ctx, sessionID)
	if err != nil {
		return Result{SessionID: sessionID}, err
	}

	entries := make([]*entry.Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, entry.FromMetadata(r.ID, r.Content, r.Metadata))
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].MessageSequencePosition != entries[j].MessageSequencePosition {
			return entries[i].MessageSequencePosition < entries[j].MessageSequencePosition
		}
		return entries[i].TimestampUnix < entries[j].TimestampUnix
	})

	result := Result{SessionID: sessionID, EntriesConsidered: len(entries)}
	stamp := e.now()

	for i, en := range entries {
		changed := map[string]interface{}{}

		var prevID, nextID string
		if i > 0 {
			prevID = entries[i-1].ID
		}
		if i < len(entries)-1 {
			nextID = entries[i+1].ID
		}
		if prevID != en.PreviousMessageID {
			changed["previous_message_id"] = prevID
		}
		if nextID != en.NextMessageID {
			changed["next_message_id"] = nextID
		}
		// An absent position reads as 0, so it is recomputed from the sorted
		// order here and written like any other out-of-place position.
		if en.MessageSequencePosition != i {
			changed["message_sequence_position"] = i
		}

		var linkedFeedback *entry.Entry
		var linkedConfidence float64
		if en.IsSolutionAttempt && en.FeedbackMessageID == "" {
			if fb, confidence, ok := findFeedback(entries, i, e.window); ok {
				changed["feedback_message_id"] = fb.ID
				changed["relationship_confidence"] = confidence
				linkedFeedback, linkedConfidence = fb, confidence
				result.PairsLinked++

				// is_validated_solution / is_refuted_attempt live on the
				// assistant entry (spec.md §3), never the user feedback
				// entry itself; they are mutually exclusive per P7.
				switch fb.UserFeedbackSentiment {
				case "positive":
					changed["is_validated_solution"] = true
					changed["is_refuted_attempt"] = false
				case "negative":
					changed["is_validated_solution"] = false
					changed["is_refuted_attempt"] = true
				default: // "partial" or any other non-neutral sentiment
					changed["is_validated_solution"] = false
					changed["is_refuted_attempt"] = false
				}
			}
		}

		if len(changed) == 0 {
			continue
		}
		changed["backfill_timestamp"] = stamp
		changed["backfill_processed"] = true

		if err := e.st.UpdateMetadata(ctx, en.ID, changed); err != nil {
			logging.BackfillWarn("session %s: update_metadata failed for %s: %v", sessionID, en.ID, err)
			continue
		}
		result.AdjacencyLinksOnly++

		if linkedFeedback != nil && linkedFeedback.RelatedSolutionID == "" {
			back := map[string]interface{}{
				"related_solution_id":    en.ID,
				"relationship_confidence": linkedConfidence,
				"backfill_timestamp":      stamp,
				"backfill_processed":      true,
			}
			if err := e.st.UpdateMetadata(ctx, linkedFeedback.ID, back); err != nil {
				logging.BackfillWarn("session %s: reverse-link update_metadata failed for %s: %v", sessionID, linkedFeedback.ID, err)
			}
			linkedFeedback.RelatedSolutionID = en.ID
		}
	}

	logging.Backfill("session %s: %d entries, %d solution/feedback pairs linked", sessionID, result.EntriesConsidered, result.PairsLinked)
	return result, nil
}

// findFeedback scans forward up to window entries from a solution attempt at
// index i for the first entry carrying non-neutral feedback sentiment, per
// spec.md §4.6's "nearest-first, bounded lookahead" rule.
func findFeedback(entries []*entry.Entry, i, window int) (*entry.Entry, float64, bool) {
	for j := i + 1; j <= i+window && j < len(entries); j++ {
		candidate := entries[j]
		if candidate.Role != entry.RoleUser {
			continue
		}
		if candidate.UserFeedbackSentiment == "" || candidate.UserFeedbackSentiment == "neutral" {
			continue
		}
		confidence := candidate.ValidationStrength
		if confidence == 0 {
			confidence = 0.5
		}
		return candidate, confidence, true
	}
	return nil, 0, false
}
