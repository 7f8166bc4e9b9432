package enhance

import (
	"regexp"

	"claudeindex/internal/entry"
)

// Feedback sentiment values (spec.md §4.5).
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentPartial  = "partial"
	SentimentNeutral  = "neutral"
)

type sentimentPattern struct {
	re     *regexp.Regexp
	weight int
}

// positivePatterns, negativePatterns and partialPatterns score user
// feedback text: strong markers weight 3, moderate markers weight 2, weak
// markers weight 1 (spec.md §4.5's "3/2/1 weighted pattern lexicon").
var positivePatterns = []sentimentPattern{
	{regexp.MustCompile(`(?i)\bperfect\b|\bexactly\b|\bgreat, that works\b`), 3},
	{regexp.MustCompile(`(?i)\bworks\b|\bworking\b|\bfixed\b|\bthanks\b`), 2},
	{regexp.MustCompile(`(?i)\bgood\b|\bnice\b|\bok(ay)?\b`), 1},
}

var negativePatterns = []sentimentPattern{
	{regexp.MustCompile(`(?i)\bstill (broken|failing|not working)\b|\bdoesn'?t work at all\b`), 3},
	{regexp.MustCompile(`(?i)\bfails?\b|\berror\b|\bbroken\b|\bwrong\b`), 2},
	{regexp.MustCompile(`(?i)\bno\b|\bnot quite\b|\bhmm\b`), 1},
}

var partialPatterns = []sentimentPattern{
	{regexp.MustCompile(`(?i)\balmost\b|\bcloser but\b|\bpartially\b`), 3},
	{regexp.MustCompile(`(?i)\bsome progress\b|\bbetter but\b`), 2},
	{regexp.MustCompile(`(?i)\bmaybe\b|\bsort of\b`), 1},
}

func scoreLexicon(content string, patterns []sentimentPattern) int {
	score := 0
	for _, p := range patterns {
		if p.re.MatchString(content) {
			score += p.weight
		}
	}
	return score
}

// SemanticVerdict is the optional semantic-analyzer contract named in
// spec.md §4.5: a cosine-similarity comparison of the feedback text's
// embedding against three labeled centroids (positive, negative, partial).
// A nil *SemanticAnalyzer means pattern matching alone decides sentiment.
type SemanticVerdict struct {
	Sentiment         string
	Confidence        float64
	SimilarityPositive float64
	SimilarityNegative float64
	SimilarityPartial  float64
	Method             string
	BestMatches        []string
}

// SemanticAnalyzer is implemented by an optional embedding-backed
// classifier. Its failure must never block feedback classification -
// callers fall back to the pattern lexicon alone.
type SemanticAnalyzer interface {
	Classify(content string) (*SemanticVerdict, error)
}

// DetectFeedback classifies a user Entry's sentiment toward the solution it
// responds to, per spec.md §4.5. analyzer may be nil.
func DetectFeedback(e *entry.Entry, analyzer SemanticAnalyzer) {
	if e.Role != entry.RoleUser {
		return
	}

	pos := scoreLexicon(e.Content, positivePatterns)
	neg := scoreLexicon(e.Content, negativePatterns)
	par := scoreLexicon(e.Content, partialPatterns)

	patternSentiment, patternStrength := argmaxSentiment(pos, neg, par)

	if analyzer == nil {
		applySentiment(e, patternSentiment, patternStrength, "pattern")
		return
	}

	verdict, err := analyzer.Classify(e.Content)
	if err != nil || verdict == nil {
		applySentiment(e, patternSentiment, patternStrength, "pattern")
		return
	}

	e.SemanticSentiment = verdict.Sentiment
	e.SemanticConfidence = verdict.Confidence
	e.SimilarityPositive = verdict.SimilarityPositive
	e.SimilarityNegative = verdict.SimilarityNegative
	e.SimilarityPartial = verdict.SimilarityPartial
	e.PrimaryAnalysisMethod = verdict.Method

	if patternSentiment == verdict.Sentiment {
		e.PatternSemanticAgreement = 1.0
		applySentiment(e, verdict.Sentiment, verdict.Confidence, "semantic+pattern")
	} else {
		e.PatternSemanticAgreement = 0.0
		e.RequiresManualReview = patternStrength > 0 && verdict.Confidence < 0.6
		// Disagreement: trust the semantic verdict but keep the certainty low.
		applySentiment(e, verdict.Sentiment, verdict.Confidence*0.5, "semantic+pattern")
	}
}

func argmaxSentiment(pos, neg, par int) (string, float64) {
	if pos == 0 && neg == 0 && par == 0 {
		return SentimentNeutral, 0
	}
	best := pos
	sentiment := SentimentPositive
	if neg > best {
		best = neg
		sentiment = SentimentNegative
	}
	if par > best {
		best = par
		sentiment = SentimentPartial
	}
	total := pos + neg + par
	strength := float64(best) / float64(total)
	return sentiment, strength
}

// applySentiment fills in the feedback fields owned by the user entry
// itself. is_validated_solution and is_refuted_attempt are deliberately NOT
// set here: spec.md §3 scopes both to "the assistant entry it validates",
// and C5 runs single-entry and side-effect-free (spec.md §4.5) with no
// handle on that assistant entry. C6's back-fill pass is what actually
// pairs a solution attempt with this sentiment and stamps those two fields
// on the correct (assistant) entry, per spec.md §4.6 step 4.
func applySentiment(e *entry.Entry, sentiment string, strength float64, method string) {
	e.UserFeedbackSentiment = sentiment
	e.IsFeedbackToSolution = sentiment != SentimentNeutral
	e.ValidationStrength = strength
	e.OutcomeCertainty = strength

	if e.PrimaryAnalysisMethod == "" {
		e.PrimaryAnalysisMethod = method
	}
}
