package enhance

import (
	"context"
	"testing"

	"claudeindex/internal/entry"
)

func TestDetectTopics_ScoresAboveThreshold(t *testing.T) {
	topics := DefaultTopics()
	detected, primary, confidence := DetectTopics("there is a bug causing an exception and a crash", topics)
	if primary != "debugging" {
		t.Fatalf("primary=%q, want debugging", primary)
	}
	if confidence <= 0 {
		t.Fatalf("confidence=%v, want > 0", confidence)
	}
	if _, ok := detected["debugging"]; !ok {
		t.Fatalf("detected=%v, want debugging present", detected)
	}
}

func TestDetectTopics_EmptyContentYieldsNothing(t *testing.T) {
	detected, primary, confidence := DetectTopics("", DefaultTopics())
	if detected != nil || primary != "" || confidence != 0 {
		t.Fatalf("expected zero values, got %v %q %v", detected, primary, confidence)
	}
}

func TestDetectSolution_UserEntryNeverAttempt(t *testing.T) {
	e := &entry.Entry{Role: entry.RoleUser, Content: "I fixed the bug"}
	isAttempt, _, _, _ := DetectSolution(e)
	if isAttempt {
		t.Fatal("user-role entry must never be a solution attempt")
	}
}

func TestDetectSolution_BugFixCategoryWins(t *testing.T) {
	e := &entry.Entry{Role: entry.RoleAssistant, Content: "I fixed the null pointer error in the parser"}
	isAttempt, category, _, _ := DetectSolution(e)
	if !isAttempt {
		t.Fatal("expected solution attempt")
	}
	if category != CategoryCodeFix {
		t.Fatalf("category=%q, want %s", category, CategoryCodeFix)
	}
}

func TestDetectSolution_CodeWithoutKeywordsStillClassified(t *testing.T) {
	e := &entry.Entry{Role: entry.RoleAssistant, Content: "```go\nfunc main() {}\n```", HasCode: true}
	isAttempt, category, _, _ := DetectSolution(e)
	if !isAttempt || category != CategoryOther {
		t.Fatalf("got attempt=%v category=%q, want true/%s", isAttempt, category, CategoryOther)
	}
}

func TestScoreQuality_OnlyAppliesToAttempts(t *testing.T) {
	e := &entry.Entry{Role: entry.RoleAssistant, Content: "done, fixed and tested", HasCode: true}
	ApplySolution(e)
	ApplyQuality(e)
	if e.SolutionQualityScore <= 0 {
		t.Fatalf("expected positive quality score, got %v", e.SolutionQualityScore)
	}

	nonAttempt := &entry.Entry{Role: entry.RoleAssistant, Content: "hello there"}
	ApplySolution(nonAttempt)
	ApplyQuality(nonAttempt)
	if nonAttempt.SolutionQualityScore != 0 {
		t.Fatalf("expected zero quality score for non-attempt, got %v", nonAttempt.SolutionQualityScore)
	}
}

func TestScoreQuality_HedgingLowersScore(t *testing.T) {
	confident := &entry.Entry{Role: entry.RoleAssistant, Content: "fixed it, tested and working", HasCode: true, HasSuccessMarkers: true, IsSolutionAttempt: true}
	hedging := &entry.Entry{Role: entry.RoleAssistant, Content: "fixed it, tested and working, i think maybe", HasCode: true, HasSuccessMarkers: true, IsSolutionAttempt: true}
	if ScoreQuality(hedging) >= ScoreQuality(confident) {
		t.Fatalf("hedging=%v should score below confident=%v", ScoreQuality(hedging), ScoreQuality(confident))
	}
}

func TestDetectFeedback_PositivePatternMatch(t *testing.T) {
	e := &entry.Entry{Role: entry.RoleUser, Content: "perfect, that works exactly as expected"}
	DetectFeedback(e, nil)
	if e.UserFeedbackSentiment != SentimentPositive {
		t.Fatalf("sentiment=%q, want positive", e.UserFeedbackSentiment)
	}
	if !e.IsFeedbackToSolution {
		t.Fatal("expected IsFeedbackToSolution true")
	}
	// is_validated_solution belongs to the assistant entry this feedback
	// targets (spec.md §3), which C5 has no handle on; only C6's back-fill
	// pass sets it, on the other entry.
	if e.IsValidatedSolution {
		t.Fatal("C5 must not set IsValidatedSolution on the user entry itself")
	}
}

func TestDetectFeedback_NegativePatternMatch(t *testing.T) {
	e := &entry.Entry{Role: entry.RoleUser, Content: "still broken, error still there"}
	DetectFeedback(e, nil)
	if e.UserFeedbackSentiment != SentimentNegative {
		t.Fatalf("sentiment=%q, want negative", e.UserFeedbackSentiment)
	}
	if e.IsRefutedAttempt {
		t.Fatal("C5 must not set IsRefutedAttempt on the user entry itself")
	}
}

func TestDetectFeedback_AssistantRoleSkipped(t *testing.T) {
	e := &entry.Entry{Role: entry.RoleAssistant, Content: "perfect, that works"}
	DetectFeedback(e, nil)
	if e.UserFeedbackSentiment != "" {
		t.Fatalf("assistant entries must not be classified, got %q", e.UserFeedbackSentiment)
	}
}

type fakeAnalyzer struct {
	verdict *SemanticVerdict
	err     error
}

func (f *fakeAnalyzer) Classify(content string) (*SemanticVerdict, error) {
	return f.verdict, f.err
}

func TestDetectFeedback_SemanticAnalyzerOverridesOnAgreement(t *testing.T) {
	e := &entry.Entry{Role: entry.RoleUser, Content: "perfect, works great"}
	analyzer := &fakeAnalyzer{verdict: &SemanticVerdict{Sentiment: SentimentPositive, Confidence: 0.9, Method: "embedding-cosine"}}
	DetectFeedback(e, analyzer)
	if e.UserFeedbackSentiment != SentimentPositive {
		t.Fatalf("sentiment=%q, want positive", e.UserFeedbackSentiment)
	}
	if e.PatternSemanticAgreement != 1.0 {
		t.Fatalf("agreement=%v, want 1.0", e.PatternSemanticAgreement)
	}
}

func TestDetectFeedback_AnalyzerErrorFallsBackToPattern(t *testing.T) {
	e := &entry.Entry{Role: entry.RoleUser, Content: "perfect, works great"}
	analyzer := &fakeAnalyzer{err: errBoom}
	DetectFeedback(e, analyzer)
	if e.UserFeedbackSentiment != SentimentPositive {
		t.Fatalf("sentiment=%q, want positive (pattern fallback)", e.UserFeedbackSentiment)
	}
	if e.PrimaryAnalysisMethod != "pattern" {
		t.Fatalf("method=%q, want pattern", e.PrimaryAnalysisMethod)
	}
}

func TestProcessor_BatchAppliesAllSubroutines(t *testing.T) {
	p, err := NewProcessor(4, nil)
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	defer p.Release()

	entries := []*entry.Entry{
		{ID: "a", Role: entry.RoleAssistant, Content: "fixed the bug and tested it"},
		{ID: "b", Role: entry.RoleUser, Content: "perfect, that works"},
	}

	if err := p.Batch(context.Background(), entries); err != nil {
		t.Fatalf("Batch: %v", err)
	}

	if !entries[0].IsSolutionAttempt {
		t.Fatal("entry a: expected solution attempt detected")
	}
	if entries[1].UserFeedbackSentiment != SentimentPositive {
		t.Fatalf("entry b: sentiment=%q, want positive", entries[1].UserFeedbackSentiment)
	}
}

func TestProcessor_BatchRespectsCancellation(t *testing.T) {
	p, err := NewProcessor(2, nil)
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	defer p.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	entries := []*entry.Entry{{ID: "a", Role: entry.RoleUser, Content: "hello"}}
	if err := p.Batch(ctx, entries); err == nil {
		t.Fatal("expected context cancellation error")
	}
}

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }
