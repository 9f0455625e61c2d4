// Package prompt builds the exact LLM prompts sent for each job type. It
// has no side effects and no dependencies beyond formatting, so callers can
// unit test prompt shape without an inference server.
package prompt

import (
	"fmt"
	"strings"

	"github.com/open-meetsum/meetsum/pkg/chunker"
)

// BuildChunkPrompt renders the prompt a CHUNK_SUMMARY job sends for a
// single chunk, asking the model to return the SummaryContent JSON shape.
func BuildChunkPrompt(c chunker.Chunk) string {
	var b strings.Builder
	b.WriteString("System: You are a concise meeting summarizer. Extract structured information from transcripts.\n\n")
	b.WriteString("User: Given the following transcript chunk with speaker names and timestamps, return valid JSON with this exact structure:\n")
	b.WriteString(`{
  "summary": "brief summary of this chunk",
  "agenda": ["topic discussed"],
  "decisions": [
    {"text": "decision made", "confidence": 0.9}
  ],
  "action_items": [
    {"text": "action description", "owner": "person name or null", "due_date_iso": "YYYY-MM-DD or null", "confidence": 0.8}
  ],
  "topics": [
    {"name": "topic name", "confidence": 0.9}
  ]
}
`)
	b.WriteString("\nTranscript chunk:\n")
	b.WriteString(c.Text)
	b.WriteString("\nAssistant: Return only valid JSON, no additional text.\n")
	return b.String()
}

// BuildAnnotationPrompt renders the prompt an ANNOTATE_ACTION_ITEMS job
// sends to fill in a missing owner or due date for one action item.
func BuildAnnotationPrompt(actionText string) string {
	return fmt.Sprintf(`Extract owner and due date from this action item.
Return JSON: {"owner": "name or null", "due_date_iso": "YYYY-MM-DD or null"}

Action: %s`, actionText)
}
