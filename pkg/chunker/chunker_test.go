package chunker

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-meetsum/meetsum/pkg/models"
)

func makeSegments(t *testing.T, texts ...string) []models.Segment {
	t.Helper()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	segments := make([]models.Segment, 0, len(texts))
	for i, text := range texts {
		segments = append(segments, models.Segment{
			ID:      fmt.Sprintf("seg-%d", i),
			Speaker: fmt.Sprintf("speaker-%d", i%3),
			Ts:      base.Add(time.Duration(i) * time.Minute),
			Text:    text,
		})
	}
	return segments
}

func TestNew_RejectsOverlapAtOrAboveChunkSize(t *testing.T) {
	_, err := New(100, 1.0, 4)
	require.Error(t, err)

	_, err = New(100, 1.5, 4)
	require.Error(t, err)

	_, err = New(0, 0.15, 4)
	require.Error(t, err)

	c, err := New(100, 0.15, 4)
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestChunk_EmptySegmentsYieldZeroChunks(t *testing.T) {
	c, err := New(100, 0.15, 4)
	require.NoError(t, err)

	assert.Empty(t, c.Chunk(nil))
	assert.Empty(t, c.Chunk([]models.Segment{}))
}

func TestChunk_SingleSmallSegment(t *testing.T) {
	c, err := New(100, 0.15, 4)
	require.NoError(t, err)

	chunks := c.Chunk(makeSegments(t, "we should ship the beta on Friday"))
	require.Len(t, chunks, 1)
	assert.Equal(t, []string{"seg-0"}, chunks[0].SegmentIDs)
	assert.LessOrEqual(t, chunks[0].TokenCount, 100)
	assert.Contains(t, chunks[0].Text, "ship the beta")
	assert.Contains(t, chunks[0].Text, "speaker-0")
}

func TestChunk_CoversEverySegment(t *testing.T) {
	c, err := New(20, 0.15, 4)
	require.NoError(t, err)

	texts := make([]string, 12)
	for i := range texts {
		texts[i] = fmt.Sprintf("point number %d with a few extra words of discussion", i)
	}
	chunks := c.Chunk(makeSegments(t, texts...))
	require.Greater(t, len(chunks), 1)

	covered := map[string]bool{}
	for _, ch := range chunks {
		for _, id := range ch.SegmentIDs {
			covered[id] = true
		}
	}
	for i := range texts {
		assert.True(t, covered[fmt.Sprintf("seg-%d", i)], "segment %d missing from every chunk", i)
	}
}

func TestChunk_ConsecutiveChunksOverlap(t *testing.T) {
	c, err := New(20, 0.25, 4)
	require.NoError(t, err)

	texts := make([]string, 10)
	for i := range texts {
		texts[i] = strings.Repeat("word ", 8)
	}
	chunks := c.Chunk(makeSegments(t, texts...))
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		assert.Less(t, chunks[i].StartIdx, chunks[i-1].EndIdx,
			"chunk %d must start inside chunk %d's window", i, i-1)
		assert.LessOrEqual(t, chunks[i].TokenCount, 20)
	}
	assert.Equal(t, 0, chunks[0].StartIdx)
}

func TestChunk_OversizedSegmentSpansMultipleChunks(t *testing.T) {
	c, err := New(10, 0.2, 4)
	require.NoError(t, err)

	chunks := c.Chunk(makeSegments(t, strings.Repeat("token ", 50)))
	require.Greater(t, len(chunks), 1)
	for i, ch := range chunks {
		assert.Equal(t, []string{"seg-0"}, ch.SegmentIDs, "chunk %d must carry the only segment's id", i)
	}
}

func TestChunk_Deterministic(t *testing.T) {
	c, err := New(15, 0.2, 4)
	require.NoError(t, err)

	segments := makeSegments(t,
		"first we review the roadmap",
		"then the budget numbers from finance",
		"and finally open questions about hiring plans this quarter")

	a := c.Chunk(segments)
	b := c.Chunk(segments)
	assert.Equal(t, a, b)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens("", 4))
	assert.Equal(t, 3, EstimateTokens("hello worlds!", 4))
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("a", 100), 4))

	// Zero or negative chars-per-token falls back to the default of 4.
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("a", 100), 0))
}
