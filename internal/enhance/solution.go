package enhance

import (
	"regexp"
	"strings"

	"claudeindex/internal/entry"
)

// Solution category enum values (spec.md §3's solution_category field):
// code_fix|config_change|approach_suggestion|diagnostic|other|none.
const (
	CategoryCodeFix            = "code_fix"
	CategoryConfigChange       = "config_change"
	CategoryApproachSuggestion = "approach_suggestion"
	CategoryDiagnostic         = "diagnostic"
	CategoryOther              = "other"
	CategoryNone               = "none"
)

// solutionCategories is a deterministic priority list: the first category
// whose patterns match wins (spec.md §4.5, "first-match-wins over an
// ordered list, never a max-score contest"). bug fixes, feature additions,
// and refactors all land on code_fix since all three change code directly;
// spec.md §3 carries no separate enum value for them.
var solutionCategories = []struct {
	name     string
	patterns []*regexp.Regexp
}{
	{CategoryCodeFix, compileAll(`\bfix(ed|es|ing)?\b`, `\bresolv(ed|es|ing)\b`, `\bpatch(ed|es)?\b`,
		`\badd(ed|s|ing)?\b`, `\bimplement(ed|s|ing)?\b`, `\bcreate[ds]?\b`,
		`\brefactor(ed|s|ing)?\b`, `\brestructur`, `\bclean ?up\b`)},
	{CategoryConfigChange, compileAll(`\bconfigur`, `\bset up\b`, `\binstall(ed|s|ing)?\b`)},
	{CategoryDiagnostic, compileAll(`\bdebug(ged|ging|s)?\b`, `\binvestigat`, `\bdiagnos`, `\bcheck(ed|ing)? why\b`, `\broot cause\b`)},
	{CategoryApproachSuggestion, compileAll(`\bexplain(ed|s|ing)?\b`, `\bbecause\b`, `\bthe reason\b`, `\bsuggest(ed|s|ing)?\b`, `\bconsider\b`, `\brecommend(ed|s|ing)?\b`)},
}

func compileAll(exprs ...string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		res[i] = regexp.MustCompile(`(?i)` + e)
	}
	return res
}

var successMarkerRe = regexp.MustCompile(`(?i)\b(done|fixed|working|resolved|completed|passes?|success(ful)?)\b`)
var qualityIndicatorRe = regexp.MustCompile(`(?i)\b(test|tested|verified|because|so that|in order to)\b`)

// DetectSolution classifies an assistant Entry as a solution attempt per
// spec.md §4.5. Only assistant-role entries are ever candidates: a user
// message is never itself a solution attempt.
func DetectSolution(e *entry.Entry) (isAttempt bool, category string, hasSuccess bool, hasQuality bool) {
	if e.Role != entry.RoleAssistant {
		return false, CategoryNone, false, false
	}
	for _, c := range solutionCategories {
		for _, p := range c.patterns {
			if p.MatchString(e.Content) {
				category = c.name
				isAttempt = true
				break
			}
		}
		if isAttempt {
			break
		}
	}

	if !isAttempt && (e.HasCode || len(e.ToolsUsed) > 0) {
		isAttempt = true
		category = CategoryOther
	}
	if !isAttempt {
		category = CategoryNone
	}

	hasSuccess = successMarkerRe.MatchString(e.Content)
	hasQuality = qualityIndicatorRe.MatchString(e.Content) || e.HasCode

	return isAttempt, category, hasSuccess, hasQuality
}

// ApplySolution writes solution-classification results onto e.
func ApplySolution(e *entry.Entry) {
	isAttempt, category, hasSuccess, hasQuality := DetectSolution(e)
	e.IsSolutionAttempt = isAttempt
	e.SolutionCategory = category
	e.HasSuccessMarkers = hasSuccess
	e.HasQualityIndicators = hasQuality
}

// wordCount is shared by quality.go's length scoring.
func wordCount(s string) int {
	return len(strings.Fields(s))
}
