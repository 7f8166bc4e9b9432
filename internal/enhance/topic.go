// Package enhance implements C5: single-entry, side-effect-free
// computation of the derived metadata described in spec.md §3 - topic
// detection, solution classification, quality scoring, and feedback
// sentiment. Each subroutine degrades gracefully on its own failure; a
// failing subroutine never blocks ingestion of the base Entry.
package enhance

import (
	"regexp"
	"strings"

	"claudeindex/internal/entry"
	"claudeindex/internal/logging"
)

// topicThreshold is the minimum normalized pattern-hit score for a topic to
// appear in detected_topics (spec.md §4.5).
const topicThreshold = 0.2

// TopicPattern is one topic's keyword/regex signature.
type TopicPattern struct {
	Topic    string
	Patterns []*regexp.Regexp
}

// DefaultTopics is the built-in topic→pattern configuration. Topics and
// patterns are a closed enumeration in configuration, not an open-ended
// plugin point (spec.md §9).
func DefaultTopics() []TopicPattern {
	compile := func(topic string, exprs ...string) TopicPattern {
		res := make([]*regexp.Regexp, len(exprs))
		for i, e := range exprs {
			res[i] = regexp.MustCompile(`(?i)` + e)
		}
		return TopicPattern{Topic: topic, Patterns: res}
	}

	return []TopicPattern{
		compile("debugging", `\bbug\b`, `\berror\b`, `\bexception\b`, `\bstack ?trace\b`, `\bfails?\b`, `\bcrash`),
		compile("build_config", `\bbuild\b`, `\bcompile`, `\bmakefile\b`, `\bdocker`, `\bci/?cd\b`, `\bconfig`),
		compile("testing", `\btest`, `\bassert`, `\bmock\b`, `\bcoverage\b`),
		compile("refactoring", `\brefactor`, `\bclean ?up\b`, `\brename\b`, `\bextract`),
		compile("api_design", `\bapi\b`, `\bendpoint`, `\bschema\b`, `\binterface\b`),
		compile("performance", `\bslow\b`, `\blatency\b`, `\boptimi[sz]e`, `\bbenchmark`),
		compile("database", `\bsql\b`, `\bquery\b`, `\bmigration\b`, `\bindex(es)?\b`, `\bdatabase\b`),
		compile("documentation", `\bdocs?\b`, `\breadme\b`, `\bcomment`, `\bexplain`),
	}
}

// DetectTopics scores content against the configured topic patterns,
// returning every topic above topicThreshold plus the argmax topic and its
// score (spec.md §4.5).
func DetectTopics(content string, topics []TopicPattern) (detected map[string]float64, primary string, confidence float64) {
	if content == "" || len(topics) == 0 {
		return nil, "", 0
	}

	window := len(strings.Fields(content))
	if window == 0 {
		return nil, "", 0
	}

	detected = make(map[string]float64)
	for _, tp := range topics {
		hits := 0
		for _, p := range tp.Patterns {
			hits += len(p.FindAllStringIndex(content, -1))
		}
		score := float64(hits) / float64(window)
		if score > 1 {
			score = 1
		}
		if score >= topicThreshold {
			detected[tp.Topic] = score
		}
	}

	// Argmax over topics in their configured order, not map iteration
	// order, so a tie always resolves to the earlier-configured topic
	// instead of varying run to run (P5, stable ingestion output).
	for _, tp := range topics {
		score, ok := detected[tp.Topic]
		if ok && score > confidence {
			confidence = score
			primary = tp.Topic
		}
	}

	if len(detected) == 0 {
		logging.EnhanceDebug("no topic crossed threshold %.2f", topicThreshold)
		return nil, "", 0
	}
	return detected, primary, confidence
}

// ApplyTopics writes topic detection results onto e, degrading gracefully:
// an empty detection result just leaves the topic fields at their zero
// values rather than failing the whole entry (spec.md §4.5 failure policy).
func ApplyTopics(e *entry.Entry, topics []TopicPattern) {
	detected, primary, confidence := DetectTopics(e.Content, topics)
	e.DetectedTopics = detected
	e.PrimaryTopic = primary
	e.TopicConfidence = confidence
}
