// Package entry implements C4: a pure function from a transcript.Record to
// a canonical Entry with stable identity, content, provenance, and a
// content hash (spec.md §4.4). Normalize never defaults silently - every
// skip or substitution is explicit and logged.
package entry

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"claudeindex/internal/logging"
	"claudeindex/internal/transcript"
)

// Role values recognized by the system (spec.md §3).
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// SentinelUnknownID is the forbidden constant-sentinel id a prior regression
// used on extraction failure (spec.md §4.4). Normalize must never emit it.
const SentinelUnknownID = "unknown"

// Errors returned by Normalize. These are skip reasons, not systemic
// failures - the caller counts them toward the ProcessingMonitor rates
// (spec.md §5) and moves on.
var (
	ErrNoRole        = errors.New("entry: no role")
	ErrEmptyContent  = errors.New("entry: empty content")
	ErrNoSessionID   = errors.New("entry: missing session_id")
)

// Entry is the atomic unit described in spec.md §3. Core fields (Identity,
// Provenance, Content, ContentHash, Role) are immutable after creation;
// everything else is written by C5 and C6.
type Entry struct {
	// Identity
	ID          string `json:"id"`
	ContentHash string `json:"content_hash"`

	// Provenance
	SessionID     string `json:"session_id"`
	FileName      string `json:"file_name"`
	ProjectPath   string `json:"project_path"`
	ProjectName   string `json:"project_name"`
	Timestamp     string `json:"timestamp"`
	TimestampUnix int64  `json:"timestamp_unix"`

	// Content
	Content       string   `json:"content"`
	ContentLength int      `json:"content_length"`
	Role          string   `json:"role"`
	HasCode       bool     `json:"has_code"`
	ToolsUsed     []string `json:"tools_used"`

	// Topic (written by C5)
	DetectedTopics  map[string]float64 `json:"detected_topics,omitempty"`
	PrimaryTopic    string             `json:"primary_topic,omitempty"`
	TopicConfidence float64            `json:"topic_confidence,omitempty"`

	// Solution classification (written by C5)
	IsSolutionAttempt    bool    `json:"is_solution_attempt,omitempty"`
	SolutionCategory     string  `json:"solution_category,omitempty"`
	SolutionQualityScore float64 `json:"solution_quality_score,omitempty"`
	HasSuccessMarkers    bool    `json:"has_success_markers,omitempty"`
	HasQualityIndicators bool    `json:"has_quality_indicators,omitempty"`

	// Feedback (written by C5, corrected by C6)
	UserFeedbackSentiment string  `json:"user_feedback_sentiment,omitempty"`
	IsFeedbackToSolution  bool    `json:"is_feedback_to_solution,omitempty"`
	IsValidatedSolution   bool    `json:"is_validated_solution,omitempty"`
	IsRefutedAttempt      bool    `json:"is_refuted_attempt,omitempty"`
	ValidationStrength    float64 `json:"validation_strength,omitempty"`
	OutcomeCertainty      float64 `json:"outcome_certainty,omitempty"`

	// Chain (written by C6)
	PreviousMessageID       string  `json:"previous_message_id,omitempty"`
	NextMessageID           string  `json:"next_message_id,omitempty"`
	MessageSequencePosition int     `json:"message_sequence_position"`
	RelatedSolutionID       string  `json:"related_solution_id,omitempty"`
	FeedbackMessageID       string  `json:"feedback_message_id,omitempty"`
	RelationshipConfidence  float64 `json:"relationship_confidence,omitempty"`

	// Back-fill bookkeeping (written by C6)
	BackfillTimestamp string `json:"backfill_timestamp,omitempty"`
	BackfillProcessed bool   `json:"backfill_processed,omitempty"`

	// Semantic validation (optional block, written by C5's semantic analyzer)
	SemanticSentiment          string  `json:"semantic_sentiment,omitempty"`
	SemanticConfidence         float64 `json:"semantic_confidence,omitempty"`
	SimilarityPositive         float64 `json:"similarity_positive,omitempty"`
	SimilarityNegative         float64 `json:"similarity_negative,omitempty"`
	SimilarityPartial          float64 `json:"similarity_partial,omitempty"`
	TechnicalDomain            string  `json:"technical_domain,omitempty"`
	IsComplexOutcome           bool    `json:"is_complex_outcome,omitempty"`
	PatternSemanticAgreement   float64 `json:"pattern_semantic_agreement,omitempty"`
	PrimaryAnalysisMethod      string  `json:"primary_analysis_method,omitempty"`
	RequiresManualReview       bool    `json:"requires_manual_review,omitempty"`
}

// SkipError reports a per-record extraction failure with a stable reason
// code, matching spec.md §4.4's "every rejection... is logged at WARN with
// the raw record's id and a reason code" requirement.
type SkipError struct {
	RecordUUID string
	Reason     string
	Err        error
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("skip record %s: %s: %v", e.RecordUUID, e.Reason, e.Err)
}

func (e *SkipError) Unwrap() error { return e.Err }

var codeFenceRe = regexp.MustCompile("```")
var codeTokenRe = regexp.MustCompile(`\b(func|def|class|import|package|const|var|=>|->)\b`)

// Sequencer assigns per-session monotonic sequence indices, the basis of
// the deterministic id composition in spec.md §4.4.
type Sequencer struct {
	next map[string]int
}

// NewSequencer returns a fresh per-session sequence counter. One sequencer
// must be shared across every record in a single ingestion run so indices
// stay monotonic and collision-free for a given session.
func NewSequencer() *Sequencer {
	return &Sequencer{next: make(map[string]int)}
}

func (s *Sequencer) nextSeq(sessionID string) int {
	n := s.next[sessionID]
	s.next[sessionID] = n + 1
	return n
}

// Normalize turns one transcript.Record into an Entry, or returns a
// *SkipError describing why the record cannot be normalized. home is the
// user's home directory, used to detect the project_name = "unknown" case
// (spec.md §4.4).
func Normalize(rec transcript.Record, seq *Sequencer, home string) (*Entry, error) {
	role := rec.Message.Role
	if role == "" {
		role = rec.Type
	}
	if role == "" {
		logging.EntryWarn("skip record %s: no role", rec.UUID)
		return nil, &SkipError{RecordUUID: rec.UUID, Reason: "no role", Err: ErrNoRole}
	}

	content, toolsUsed := extractContent(rec.Message.Content)
	content = strings.TrimSpace(content)
	if content == "" {
		logging.EntryWarn("skip record %s: empty content", rec.UUID)
		return nil, &SkipError{RecordUUID: rec.UUID, Reason: "empty content", Err: ErrEmptyContent}
	}

	if rec.SessionID == "" {
		logging.Get(logging.CategoryEntry).Error("fatal record %s: missing session_id", rec.UUID)
		return nil, &SkipError{RecordUUID: rec.UUID, Reason: "missing session_id", Err: ErrNoSessionID}
	}

	projectName := "unknown"
	if rec.CWD != "" && rec.CWD != home {
		projectName = filepath.Base(rec.CWD)
	} else {
		logging.EntryWarn("record %s: cwd missing or equals home, project_name defaulted to %q", rec.UUID, projectName)
	}

	seqIdx := seq.nextSeq(rec.SessionID)
	id := fmt.Sprintf("%s_%d_%s", rec.SessionID, seqIdx, role)
	if id == SentinelUnknownID || rec.SessionID == "" {
		// Unreachable given the checks above, but the forbidden-sentinel
		// rule (spec.md §4.4) is load-bearing enough to assert explicitly.
		return nil, &SkipError{RecordUUID: rec.UUID, Reason: "id resolved to forbidden sentinel", Err: ErrNoSessionID}
	}

	timestampUnix := parseTimestampUnix(rec.Timestamp)

	e := &Entry{
		ID:                      id,
		ContentHash:             hashContent(content),
		SessionID:               rec.SessionID,
		FileName:                filepath.Base(rec.FilePath),
		ProjectPath:             rec.CWD,
		ProjectName:             projectName,
		Timestamp:               rec.Timestamp,
		TimestampUnix:           timestampUnix,
		Content:                 content,
		ContentLength:           len(content),
		Role:                    role,
		HasCode:                 detectHasCode(content),
		ToolsUsed:               toolsUsed,
		MessageSequencePosition: seqIdx,
		RelationshipConfidence:  1.0,
	}
	return e, nil
}

// extractContent implements spec.md §4.4's content extraction rule: a plain
// string is used as-is; a list of typed parts has its text parts
// concatenated, and tool_use parts contribute their tool name to
// tools_used but nothing to content.
func extractContent(raw json.RawMessage) (string, []string) {
	if len(raw) == 0 {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var parts []transcript.ContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", nil
	}

	var sb strings.Builder
	var tools []string
	for _, p := range parts {
		switch p.Type {
		case "text":
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(p.Text)
		case "tool_use", "tool_result":
			if p.Name != "" {
				tools = append(tools, p.Name)
			}
		}
	}
	return sb.String(), tools
}

func detectHasCode(content string) bool {
	return codeFenceRe.MatchString(content) || codeTokenRe.MatchString(content)
}

func hashContent(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

func parseTimestampUnix(ts string) int64 {
	if ts == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return 0
	}
	return t.Unix()
}
