package entry

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"

	"claudeindex/internal/transcript"
)

func rec(sessionID, role, content, cwd string) transcript.Record {
	raw, _ := json.Marshal(content)
	return transcript.Record{
		UUID:      "u-" + content,
		SessionID: sessionID,
		Type:      role,
		Timestamp: "2026-01-01T00:00:00Z",
		CWD:       cwd,
		Message:   transcript.Message{Role: role, Content: raw},
	}
}

func TestNormalize_HappyPath(t *testing.T) {
	seq := NewSequencer()
	e, err := Normalize(rec("s1", RoleUser, "fix this build error", "/home/u/projA"), seq, "/home/u")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if e.ID != "s1_0_user" {
		t.Fatalf("ID=%q, want s1_0_user", e.ID)
	}
	if e.ProjectName != "projA" {
		t.Fatalf("ProjectName=%q, want projA", e.ProjectName)
	}
	if e.Content != "fix this build error" {
		t.Fatalf("Content=%q", e.Content)
	}
	if e.ContentHash == "" {
		t.Fatal("expected non-empty content hash")
	}
}

func TestNormalize_SequentialIDsWithinSession(t *testing.T) {
	seq := NewSequencer()
	e1, _ := Normalize(rec("s1", RoleUser, "one", "/home/u/projA"), seq, "/home/u")
	e2, _ := Normalize(rec("s1", RoleAssistant, "two", "/home/u/projA"), seq, "/home/u")
	if e1.ID == e2.ID {
		t.Fatalf("expected distinct ids, got %q twice", e1.ID)
	}
	if e1.MessageSequencePosition != 0 || e2.MessageSequencePosition != 1 {
		t.Fatalf("unexpected sequence positions: %d, %d", e1.MessageSequencePosition, e2.MessageSequencePosition)
	}
}

func TestNormalize_NoRoleFallsBackToType(t *testing.T) {
	raw, _ := json.Marshal("hello")
	r := transcript.Record{
		UUID:      "u1",
		SessionID: "s1",
		Type:      "user",
		CWD:       "/home/u/projA",
		Message:   transcript.Message{Role: "", Content: raw},
	}
	seq := NewSequencer()
	e, err := Normalize(r, seq, "/home/u")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if e.Role != "user" {
		t.Fatalf("Role=%q, want user (fallback to type)", e.Role)
	}
}

func TestNormalize_NoRoleOrTypeSkips(t *testing.T) {
	raw, _ := json.Marshal("hello")
	r := transcript.Record{UUID: "u1", SessionID: "s1", Message: transcript.Message{Content: raw}}
	seq := NewSequencer()
	_, err := Normalize(r, seq, "/home/u")
	if err == nil {
		t.Fatal("expected skip error for missing role and type")
	}
	var skipErr *SkipError
	if !asSkipError(err, &skipErr) {
		t.Fatalf("expected *SkipError, got %T", err)
	}
	if skipErr.Reason != "no role" {
		t.Fatalf("Reason=%q, want 'no role'", skipErr.Reason)
	}
}

func TestNormalize_EmptyContentSkips(t *testing.T) {
	raw, _ := json.Marshal("   ")
	r := transcript.Record{UUID: "u1", SessionID: "s1", Type: "user", Message: transcript.Message{Role: "user", Content: raw}}
	seq := NewSequencer()
	_, err := Normalize(r, seq, "/home/u")
	if err == nil {
		t.Fatal("expected skip error for empty content")
	}
}

func TestNormalize_MissingSessionIDFatal(t *testing.T) {
	raw, _ := json.Marshal("hello")
	r := transcript.Record{UUID: "u1", Type: "user", Message: transcript.Message{Role: "user", Content: raw}}
	seq := NewSequencer()
	_, err := Normalize(r, seq, "/home/u")
	if err == nil {
		t.Fatal("expected error for missing session_id")
	}
}

func TestNormalize_HomeCWDYieldsUnknownProject(t *testing.T) {
	e, err := Normalize(rec("s1", RoleUser, "hello", "/home/u"), NewSequencer(), "/home/u")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if e.ProjectName != "unknown" {
		t.Fatalf("ProjectName=%q, want unknown", e.ProjectName)
	}
}

func TestNormalize_NeverEmitsSentinelID(t *testing.T) {
	seq := NewSequencer()
	for i := 0; i < 5; i++ {
		e, err := Normalize(rec("s1", RoleUser, "msg", "/home/u/projA"), seq, "/home/u")
		if err != nil {
			t.Fatalf("Normalize: %v", err)
		}
		if e.ID == "" || e.ID == SentinelUnknownID {
			t.Fatalf("forbidden id emitted: %q", e.ID)
		}
	}
}

func TestNormalize_ContentPartsWithToolUse(t *testing.T) {
	parts := []transcript.ContentPart{
		{Type: "text", Text: "here is the fix"},
		{Type: "tool_use", Name: "edit_file"},
	}
	raw, _ := json.Marshal(parts)
	r := transcript.Record{
		UUID: "u1", SessionID: "s1", Type: "assistant", CWD: "/home/u/projA",
		Message: transcript.Message{Role: "assistant", Content: raw},
	}
	e, err := Normalize(r, NewSequencer(), "/home/u")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if e.Content != "here is the fix" {
		t.Fatalf("Content=%q", e.Content)
	}
	if len(e.ToolsUsed) != 1 || e.ToolsUsed[0] != "edit_file" {
		t.Fatalf("ToolsUsed=%v, want [edit_file]", e.ToolsUsed)
	}
}

func TestToMetadataFromMetadata_RoundTrip(t *testing.T) {
	e, err := Normalize(rec("s1", RoleAssistant, "func main() {}", "/home/u/projA"), NewSequencer(), "/home/u")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	e.PrimaryTopic = "debugging"
	e.IsSolutionAttempt = true
	e.ToolsUsed = []string{"edit_file", "bash"}

	meta := e.ToMetadata()
	round := FromMetadata(e.ID, e.Content, meta)

	if round.SessionID != e.SessionID {
		t.Fatalf("SessionID round-trip mismatch: %q != %q", round.SessionID, e.SessionID)
	}
	if round.PrimaryTopic != "debugging" {
		t.Fatalf("PrimaryTopic round-trip mismatch: %q", round.PrimaryTopic)
	}
	if !round.IsSolutionAttempt {
		t.Fatal("IsSolutionAttempt round-trip mismatch")
	}
	if len(round.ToolsUsed) != 2 || round.ToolsUsed[0] != "edit_file" {
		t.Fatalf("ToolsUsed round-trip mismatch: %v", round.ToolsUsed)
	}
}

// TestToMetadataFromMetadata_FullStructuralRoundTrip builds an Entry with
// every field populated (including chain links, solution/feedback fields,
// and semantic-analyzer output) and diffs the full struct after a
// ToMetadata/FromMetadata round trip, catching any field ToMetadata forgets
// to persist or FromMetadata forgets to restore.
func TestToMetadataFromMetadata_FullStructuralRoundTrip(t *testing.T) {
	e := &Entry{
		ID:                       "s1_2_assistant",
		SessionID:                "s1",
		Role:                     RoleAssistant,
		Content:                  "fixed it by adding the missing import",
		ContentHash:              "abc123",
		ContentLength:            38,
		ProjectName:              "projA",
		Timestamp:                "2026-07-31T00:00:00Z",
		TimestampUnix:            1785456000,
		MessageSequencePosition:  2,
		HasCode:                  true,
		HasSuccessMarkers:        true,
		PreviousMessageID:        "s1_1_user",
		NextMessageID:            "s1_3_user",
		PrimaryTopic:             "debugging",
		DetectedTopics:           map[string]float64{"debugging": 0.8, "build": 0.4},
		IsSolutionAttempt:        true,
		SolutionCategory:         "code_fix",
		SolutionQualityScore:     0.75,
		ToolsUsed:                []string{"edit_file", "bash"},
		IsValidatedSolution:      true,
		IsRefutedAttempt:         false,
		FeedbackMessageID:        "s1_3_user",
		RelatedSolutionID:        "",
		RelationshipConfidence:   0.9,
		UserFeedbackSentiment:    "",
		IsFeedbackToSolution:     false,
		ValidationStrength:       0,
		SemanticSentiment:        "positive",
		SemanticConfidence:       0.82,
		SimilarityPositive:       0.9,
		SimilarityNegative:       0.05,
		SimilarityPartial:        0.05,
		PatternSemanticAgreement: 1.0,
		PrimaryAnalysisMethod:    "semantic+pattern",
		OutcomeCertainty:         0.82,
		RequiresManualReview:     false,
		BackfillTimestamp:        "2026-07-31T00:05:00Z",
		BackfillProcessed:        true,
	}

	meta := e.ToMetadata()
	round := FromMetadata(e.ID, e.Content, meta)

	if diff := cmp.Diff(e, round); diff != "" {
		t.Fatalf("ToMetadata/FromMetadata round trip mismatch (-want +got):\n%s", diff)
	}
}

func asSkipError(err error, target **SkipError) bool {
	se, ok := err.(*SkipError)
	if ok {
		*target = se
	}
	return ok
}
