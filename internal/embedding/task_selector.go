package embedding

import (
	"strings"

	"claudeindex/internal/logging"
)

// ContentType is a coarse classification of text being embedded, used to
// pick an appropriate task type on task-aware engines (GenAI).
type ContentType string

const (
	ContentTypeCode         ContentType = "code"
	ContentTypeConversation ContentType = "conversation"
	ContentTypeQuery        ContentType = "query"
)

// SelectTaskType picks a GenAI task type for a content type and whether this
// call is embedding a query (vs. a document to be indexed).
func SelectTaskType(contentType ContentType, isQuery bool) string {
	if isQuery {
		return TaskRetrievalQuery
	}
	switch contentType {
	case ContentTypeCode, ContentTypeConversation:
		return TaskRetrievalDocument
	default:
		return TaskSemanticSimilarity
	}
}

// DetectContentType classifies a transcript entry's text. A true "has_code"
// metadata field (already computed by C4) takes priority over text
// heuristics; no other metadata field, "role" included, is consulted.
func DetectContentType(text string, metadata map[string]interface{}) ContentType {
	if hasCode, ok := metadata["has_code"].(bool); ok && hasCode {
		return ContentTypeCode
	}

	lower := strings.ToLower(text)
	codeIndicators := []string{"func ", "function ", "class ", "def ", "import ", "```", "=>", "->"}
	hits := 0
	for _, ind := range codeIndicators {
		if strings.Contains(lower, ind) {
			hits++
		}
	}
	if hits >= 2 {
		return ContentTypeCode
	}
	return ContentTypeConversation
}

// GetOptimalTaskType combines detection and selection for convenience.
func GetOptimalTaskType(text string, metadata map[string]interface{}, isQuery bool) string {
	contentType := DetectContentType(text, metadata)
	taskType := SelectTaskType(contentType, isQuery)
	logging.EmbeddingDebug("GetOptimalTaskType: content_type=%s -> task_type=%s", contentType, taskType)
	return taskType
}
