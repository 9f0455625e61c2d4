package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/open-meetsum/meetsum/pkg/chunker"
)

func TestBuildChunkPrompt_ContainsSchemaAndTranscript(t *testing.T) {
	c := chunker.Chunk{Text: "[Alice @ 2025-06-01T09:00:00Z]: let's approve the budget"}

	p := BuildChunkPrompt(c)

	assert.Contains(t, p, `"summary"`)
	assert.Contains(t, p, `"decisions"`)
	assert.Contains(t, p, `"action_items"`)
	assert.Contains(t, p, `"topics"`)
	assert.Contains(t, p, "let's approve the budget")
	assert.Contains(t, p, "Return only valid JSON")
}

func TestBuildChunkPrompt_Deterministic(t *testing.T) {
	c := chunker.Chunk{Text: "same input"}
	assert.Equal(t, BuildChunkPrompt(c), BuildChunkPrompt(c))
}

func TestBuildAnnotationPrompt(t *testing.T) {
	p := BuildAnnotationPrompt("Send the deck to Priya by Friday")

	assert.Contains(t, p, `"owner"`)
	assert.Contains(t, p, `"due_date_iso"`)
	assert.Contains(t, p, "Send the deck to Priya by Friday")
	assert.Equal(t, p, BuildAnnotationPrompt("Send the deck to Priya by Friday"))
}
