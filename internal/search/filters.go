package search

import (
	"math"
	"time"

	"claudeindex/internal/entry"
	"claudeindex/internal/store"
)

// translateMode implements spec.md §4.7 step 1's mode→filter table.
func translateMode(q Query) store.Filter {
	f := store.Filter{Eq: map[string]interface{}{}, Range: map[string]store.RangeFilter{}}

	switch q.Mode {
	case ModeValidated:
		f.Eq["is_validated_solution"] = true
	case ModeFailed:
		f.Eq["is_refuted_attempt"] = true
	case ModeRecentOnly:
		since := recencyToUnix(q.Recency)
		if since > 0 {
			f.Range["timestamp_unix"] = store.RangeFilter{Gte: float64(since)}
		}
	case ModeByTopic:
		f.Eq["primary_topic"] = q.TopicFocus
	}

	return f
}

// mergeFilters folds the caller-supplied filters into f (spec.md §4.7 step 1
// "merge in caller-supplied filters"). ProjectContext adds no clause: it only
// feeds projectAffinityBoost, so entries from other projects stay eligible.
func mergeFilters(f *store.Filter, q Query) {
	if q.IncludeCodeOnly {
		f.Eq["has_code"] = true
	}

	switch q.ValidationPreference {
	case ValidationOnlyValidated:
		f.Eq["is_validated_solution"] = true
	case ValidationIncludeFailures:
		// No additional filter: both validated and refuted results are
		// eligible. The absence of a clause here is the "include" case.
	}

	if q.Mode != ModeRecentOnly {
		if q.DateRangeSince != 0 || q.DateRangeUntil != 0 {
			r := f.Range["timestamp_unix"]
			if q.DateRangeSince != 0 {
				r.Gte = float64(q.DateRangeSince)
			}
			if q.DateRangeUntil != 0 {
				r.Lte = float64(q.DateRangeUntil)
			}
			f.Range["timestamp_unix"] = r
		}
	}

	if len(f.Eq) == 0 {
		f.Eq = nil
	}
	if len(f.Range) == 0 {
		f.Range = nil
	}
}

// recencyToUnix converts a recency enum token into a unix-seconds cutoff.
func recencyToUnix(recency string) int64 {
	now := time.Now()
	switch recency {
	case "today":
		return now.AddDate(0, 0, -1).Unix()
	case "this_week":
		return now.AddDate(0, 0, -7).Unix()
	case "this_month":
		return now.AddDate(0, -1, 0).Unix()
	default:
		return 0
	}
}

// projectAffinityBoost implements spec.md §4.7 step 4's project boost:
// ×1.5 on an exact project match, ×1.2 when projects share a configured
// technology set, else ×1.0.
func projectAffinityBoost(en *entry.Entry, projectContext string, techStacks ProjectTechStacks) float64 {
	if projectContext == "" || en.ProjectName == projectContext {
		if projectContext != "" {
			return 1.5
		}
		return 1.0
	}

	mine := techStacks[projectContext]
	theirs := techStacks[en.ProjectName]
	if sharesAny(mine, theirs) {
		return 1.2
	}
	return 1.0
}

func sharesAny(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	for _, t := range b {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

// validationBoost implements spec.md §4.7 step 4's validation boost:
// ×(1 + α·validation_strength), further ×1.2 if is_validated_solution.
func validationBoost(en *entry.Entry) float64 {
	boost := 1 + validationAlpha*en.ValidationStrength
	if en.IsValidatedSolution {
		boost *= 1.2
	}
	return boost
}

// adaptiveBoost is the per-candidate adaptive/cultural boost input (spec.md
// §4.7 step 4); profile is an opaque mapping whose only contract here is an
// optional "affinity" scalar in [0,1] per technical_domain.
func adaptiveBoost(en *entry.Entry, profile map[string]interface{}) float64 {
	if en.TechnicalDomain == "" {
		return 1.0
	}
	raw, ok := profile[en.TechnicalDomain]
	if !ok {
		return 1.0
	}
	affinity, ok := raw.(float64)
	if !ok {
		return 1.0
	}
	return 0.7 + affinity*0.8
}

// enforceFairnessGuard implements spec.md §4.7 step 4's aggregate fairness
// guard: disparity across cultural groups (here, technical_domain as the
// group key) in mean adaptive boost must stay ≤ culturalFairnessDisparityMax.
// When violated, every group's adaptive boost is renormalized toward the
// overall mean rather than silently left unfair.
func enforceFairnessGuard(hits []Hit) {
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, h := range hits {
		b, ok := h.AppliedBoosts["adaptive_cultural"]
		if !ok {
			continue
		}
		domain := h.Entry.TechnicalDomain
		sums[domain] += b
		counts[domain]++
	}
	if len(sums) < 2 {
		return
	}

	means := map[string]float64{}
	minMean, maxMean := math.Inf(1), math.Inf(-1)
	for domain, sum := range sums {
		m := sum / float64(counts[domain])
		means[domain] = m
		if m < minMean {
			minMean = m
		}
		if m > maxMean {
			maxMean = m
		}
	}

	if maxMean-minMean <= culturalFairnessDisparityMax {
		return
	}

	overall := 0.0
	total := 0
	for domain, sum := range sums {
		overall += sum
		total += counts[domain]
	}
	overall /= float64(total)

	for i := range hits {
		b, ok := hits[i].AppliedBoosts["adaptive_cultural"]
		if !ok {
			continue
		}
		blended := clamp((b+overall)/2, 0.7, 1.5)
		delta := blended / b
		hits[i].AppliedBoosts["adaptive_cultural"] = blended
		hits[i].FinalScore *= delta
	}
}

// freshnessBoost implements spec.md §4.7 step 4's freshness boost:
// ×(1 + β·decay(age)), decaying toward 0 as age grows.
func freshnessBoost(en *entry.Entry, now int64) float64 {
	if en.TimestampUnix == 0 || now <= en.TimestampUnix {
		return 1 + freshnessBeta
	}
	ageDays := float64(now-en.TimestampUnix) / 86400
	decay := math.Exp(-ageDays / 30)
	return 1 + freshnessBeta*decay
}
