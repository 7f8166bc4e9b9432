package entry

import "encoding/json"

// ToMetadata flattens an Entry into the scalar-only metadata mapping C2
// persists (spec.md §4.2's storage contract: every field in §3 except the
// raw embedding must be present). Mapping/set fields are JSON-encoded
// strings, never native maps/slices, so every value here round-trips
// through json_extract cleanly.
func (e *Entry) ToMetadata() map[string]interface{} {
	m := map[string]interface{}{
		"session_id":       e.SessionID,
		"file_name":        e.FileName,
		"project_path":     e.ProjectPath,
		"project_name":     e.ProjectName,
		"timestamp":        e.Timestamp,
		"timestamp_unix":   e.TimestampUnix,
		"content_length":   e.ContentLength,
		"role":             e.Role,
		"has_code":         e.HasCode,
		"content_hash":     e.ContentHash,

		"primary_topic":    e.PrimaryTopic,
		"topic_confidence": e.TopicConfidence,

		"is_solution_attempt":    e.IsSolutionAttempt,
		"solution_category":      e.SolutionCategory,
		"solution_quality_score": e.SolutionQualityScore,
		"has_success_markers":    e.HasSuccessMarkers,
		"has_quality_indicators": e.HasQualityIndicators,

		"user_feedback_sentiment": e.UserFeedbackSentiment,
		"is_feedback_to_solution": e.IsFeedbackToSolution,
		"is_validated_solution":   e.IsValidatedSolution,
		"is_refuted_attempt":      e.IsRefutedAttempt,
		"validation_strength":     e.ValidationStrength,
		"outcome_certainty":       e.OutcomeCertainty,

		"previous_message_id":        e.PreviousMessageID,
		"next_message_id":            e.NextMessageID,
		"message_sequence_position":  e.MessageSequencePosition,
		"related_solution_id":        e.RelatedSolutionID,
		"feedback_message_id":        e.FeedbackMessageID,
		"relationship_confidence":    e.RelationshipConfidence,

		"backfill_timestamp": e.BackfillTimestamp,
		"backfill_processed": e.BackfillProcessed,
	}

	if len(e.ToolsUsed) > 0 {
		if b, err := json.Marshal(e.ToolsUsed); err == nil {
			m["tools_used"] = string(b)
		}
	}
	if len(e.DetectedTopics) > 0 {
		if b, err := json.Marshal(e.DetectedTopics); err == nil {
			m["detected_topics"] = string(b)
		}
	}

	if e.SemanticSentiment != "" || e.SemanticConfidence != 0 {
		m["semantic_sentiment"] = e.SemanticSentiment
		m["semantic_confidence"] = e.SemanticConfidence
		m["similarity_positive"] = e.SimilarityPositive
		m["similarity_negative"] = e.SimilarityNegative
		m["similarity_partial"] = e.SimilarityPartial
		m["technical_domain"] = e.TechnicalDomain
		m["is_complex_outcome"] = e.IsComplexOutcome
		m["pattern_semantic_agreement"] = e.PatternSemanticAgreement
		m["primary_analysis_method"] = e.PrimaryAnalysisMethod
		m["requires_manual_review"] = e.RequiresManualReview
	}

	return m
}

// FromMetadata reconstructs an Entry from a stored id, content, and the
// flat metadata mapping ToMetadata produced. Used by C6 and C7 to turn
// store.QueryResult rows back into typed Entry values.
func FromMetadata(id, content string, m map[string]interface{}) *Entry {
	e := &Entry{
		ID:      id,
		Content: content,
	}

	e.SessionID = str(m, "session_id")
	e.FileName = str(m, "file_name")
	e.ProjectPath = str(m, "project_path")
	e.ProjectName = str(m, "project_name")
	e.Timestamp = str(m, "timestamp")
	e.TimestampUnix = int64(num(m, "timestamp_unix"))
	e.ContentLength = int(num(m, "content_length"))
	e.Role = str(m, "role")
	e.HasCode = boolean(m, "has_code")
	e.ContentHash = str(m, "content_hash")

	e.PrimaryTopic = str(m, "primary_topic")
	e.TopicConfidence = num(m, "topic_confidence")

	e.IsSolutionAttempt = boolean(m, "is_solution_attempt")
	e.SolutionCategory = str(m, "solution_category")
	e.SolutionQualityScore = num(m, "solution_quality_score")
	e.HasSuccessMarkers = boolean(m, "has_success_markers")
	e.HasQualityIndicators = boolean(m, "has_quality_indicators")

	e.UserFeedbackSentiment = str(m, "user_feedback_sentiment")
	e.IsFeedbackToSolution = boolean(m, "is_feedback_to_solution")
	e.IsValidatedSolution = boolean(m, "is_validated_solution")
	e.IsRefutedAttempt = boolean(m, "is_refuted_attempt")
	e.ValidationStrength = num(m, "validation_strength")
	e.OutcomeCertainty = num(m, "outcome_certainty")

	e.PreviousMessageID = str(m, "previous_message_id")
	e.NextMessageID = str(m, "next_message_id")
	e.MessageSequencePosition = int(num(m, "message_sequence_position"))
	e.RelatedSolutionID = str(m, "related_solution_id")
	e.FeedbackMessageID = str(m, "feedback_message_id")
	e.RelationshipConfidence = num(m, "relationship_confidence")

	e.BackfillTimestamp = str(m, "backfill_timestamp")
	e.BackfillProcessed = boolean(m, "backfill_processed")

	if ts, ok := m["tools_used"].(string); ok && ts != "" {
		var tools []string
		_ = json.Unmarshal([]byte(ts), &tools)
		e.ToolsUsed = tools
	}
	if dt, ok := m["detected_topics"].(string); ok && dt != "" {
		var topics map[string]float64
		_ = json.Unmarshal([]byte(dt), &topics)
		e.DetectedTopics = topics
	}

	e.SemanticSentiment = str(m, "semantic_sentiment")
	e.SemanticConfidence = num(m, "semantic_confidence")
	e.SimilarityPositive = num(m, "similarity_positive")
	e.SimilarityNegative = num(m, "similarity_negative")
	e.SimilarityPartial = num(m, "similarity_partial")
	e.TechnicalDomain = str(m, "technical_domain")
	e.IsComplexOutcome = boolean(m, "is_complex_outcome")
	e.PatternSemanticAgreement = num(m, "pattern_semantic_agreement")
	e.PrimaryAnalysisMethod = str(m, "primary_analysis_method")
	e.RequiresManualReview = boolean(m, "requires_manual_review")

	return e
}

func str(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func num(m map[string]interface{}, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func boolean(m map[string]interface{}, key string) bool {
	v, _ := m[key].(bool)
	return v
}
