// Package search implements C7: unified search over indexed entries, with a
// mode-driven filter translation, an over-fetch-then-boost-then-truncate
// ranking pipeline, and optional context-chain expansion (spec.md §4.7).
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"claudeindex/internal/entry"
	"claudeindex/internal/logging"
	"claudeindex/internal/store"
)

// Mode selects the base metadata filter translation (spec.md §4.7).
type Mode string

const (
	ModeSemantic     Mode = "semantic"
	ModeValidated    Mode = "validated_only"
	ModeFailed       Mode = "failed_only"
	ModeRecentOnly   Mode = "recent_only"
	ModeByTopic      Mode = "by_topic"
)

// ValidationPreference narrows results by validation outcome, independent of
// Mode (spec.md §4.7 input list).
type ValidationPreference string

const (
	ValidationNeutral         ValidationPreference = "neutral"
	ValidationOnlyValidated   ValidationPreference = "validated_only"
	ValidationIncludeFailures ValidationPreference = "include_failures"
)

// overFetchFactor and overFetchCeiling bound k' = min(limit*factor, ceiling)
// (spec.md §4.7 step 2).
const (
	overFetchFactor  = 4
	overFetchCeiling = 200

	defaultLimit = 5

	// contextChainDepth is K: how many entries on each side of a hit are
	// pulled in when include_context_chains is set (spec.md §4.7 step 6).
	contextChainDepth = 2

	validationAlpha  = 0.5
	freshnessBeta    = 0.3
	culturalFairnessDisparityMax = 0.2
)

var (
	ErrEmptyQuery           = errors.New("search: query_text must not be empty")
	ErrTopicFocusRequired   = errors.New("search: topic_focus is required when mode is by_topic")
)

// Query is the full set of C7 inputs (spec.md §4.7).
type Query struct {
	QueryText  string
	Mode       Mode
	TopicFocus string

	ProjectContext       string
	IncludeCodeOnly      bool
	ValidationPreference ValidationPreference
	Recency              string // e.g. "today", "this_week"
	DateRangeSince        int64 // unix seconds; 0 means unset
	DateRangeUntil        int64

	UseValidationBoost  bool
	IncludeContextChains bool
	UseAdaptiveLearning  bool
	UserCulturalProfile  map[string]interface{}

	Limit int
}

// ProjectTechStacks maps a project name to its configured technology tokens,
// used by the project-affinity boost (spec.md §4.7 step 4, §6 config).
type ProjectTechStacks map[string][]string

// Hit is one ranked search result (spec.md §4.7 output).
type Hit struct {
	Entry         *entry.Entry
	Similarity    float64
	FinalScore    float64
	AppliedBoosts map[string]float64
	ContextChain  []*entry.Entry
}

// Store is the subset of C2 the search engine calls.
type Store interface {
	Query(ctx context.Context, queryText string, k int, filter store.Filter) ([]store.QueryResult, error)
}

// EntryByID is used for context-chain expansion; an orchestrator-supplied
// lookup backed by C2's id index.
type EntryByID func(ctx context.Context, id string) (*entry.Entry, error)

// Engine runs unified search against a Store.
type Engine struct {
	st         Store
	techStacks ProjectTechStacks
	lookup     EntryByID
	now        func() int64
}

// NewEngine builds a search Engine. lookup may be nil if context-chain
// expansion is never requested. now returns the current unix time, used for
// the freshness boost; the recent_only cutoff reads the wall clock directly.
func NewEngine(st Store, techStacks ProjectTechStacks, lookup EntryByID, now func() int64) *Engine {
	return &Engine{st: st, techStacks: techStacks, lookup: lookup, now: now}
}

// Search runs the full C7 pipeline (spec.md §4.7).
func (e *Engine) Search(ctx context.Context, q Query) ([]Hit, error) {
	if q.QueryText == "" {
		return nil, ErrEmptyQuery
	}
	if q.Mode == ModeByTopic && q.TopicFocus == "" {
		return nil, ErrTopicFocusRequired
	}
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}

	filter := translateMode(q)
	mergeFilters(&filter, q)

	kPrime := q.Limit * overFetchFactor
	if kPrime > overFetchCeiling {
		kPrime = overFetchCeiling
	}

	results, err := e.st.Query(ctx, q.QueryText, kPrime, filter)
	if err != nil {
		logging.SearchWarn("underlying store query failed: %v", err)
		return nil, fmt.Errorf("search: store query failed: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		en := entry.FromMetadata(r.ID, r.Content, r.Metadata)
		similarity := normalizeSimilarity(r.Distance)

		boosts := map[string]float64{}
		score := similarity

		projectBoost := projectAffinityBoost(en, q.ProjectContext, e.techStacks)
		boosts["project"] = projectBoost
		score *= projectBoost

		if q.UseValidationBoost {
			vb := validationBoost(en)
			boosts["validation"] = vb
			score *= vb
		}

		if en.SemanticConfidence != 0 {
			cb := clamp(en.SemanticConfidence, 0.5, 2.5)
			boosts["semantic_confidence"] = cb
			score *= cb
		}

		if q.UseAdaptiveLearning && q.UserCulturalProfile != nil {
			ab := clamp(adaptiveBoost(en, q.UserCulturalProfile), 0.7, 1.5)
			boosts["adaptive_cultural"] = ab
			score *= ab
		}

		if (q.Recency != "" || q.DateRangeSince != 0 || q.DateRangeUntil != 0) && q.Mode != ModeRecentOnly {
			fb := freshnessBoost(en, e.now())
			boosts["freshness"] = fb
			score *= fb
		}

		hits = append(hits, Hit{Entry: en, Similarity: similarity, FinalScore: score, AppliedBoosts: boosts})
	}

	if q.UseAdaptiveLearning && q.UserCulturalProfile != nil {
		enforceFairnessGuard(hits)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].FinalScore != hits[j].FinalScore {
			return hits[i].FinalScore > hits[j].FinalScore
		}
		if hits[i].Entry.TimestampUnix != hits[j].Entry.TimestampUnix {
			return hits[i].Entry.TimestampUnix > hits[j].Entry.TimestampUnix
		}
		return hits[i].Entry.ID < hits[j].Entry.ID
	})

	if len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}

	if q.IncludeContextChains && e.lookup != nil {
		for i := range hits {
			hits[i].ContextChain = e.expandChain(ctx, hits[i].Entry)
		}
	}

	return hits, nil
}

func (e *Engine) expandChain(ctx context.Context, en *entry.Entry) []*entry.Entry {
	var chain []*entry.Entry

	cur := en
	for i := 0; i < contextChainDepth && cur.PreviousMessageID != ""; i++ {
		prev, err := e.lookup(ctx, cur.PreviousMessageID)
		if err != nil || prev == nil {
			break
		}
		chain = append([]*entry.Entry{prev}, chain...)
		cur = prev
	}

	cur = en
	for i := 0; i < contextChainDepth && cur.NextMessageID != ""; i++ {
		next, err := e.lookup(ctx, cur.NextMessageID)
		if err != nil || next == nil {
			break
		}
		chain = append(chain, next)
		cur = next
	}

	return chain
}

func normalizeSimilarity(distance float64) float64 {
	// Cosine distance in [0,2] maps to similarity in [0,1]; a distance
	// already in [0,1] (e.g. a dot-product store) passes through unscaled.
	if distance > 1 {
		return clamp(1-distance/2, 0, 1)
	}
	return clamp(1-distance, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
