// Package chunker splits a meeting's segments into overlapping,
// token-bounded windows sized to fit a single LLM call.
package chunker

import (
	"fmt"
	"strings"

	"github.com/open-meetsum/meetsum/pkg/models"
)

// Chunk is one token-bounded window over the formatted transcript.
type Chunk struct {
	Text       string
	TokenCount int
	SegmentIDs []string
	StartIdx   int
	EndIdx     int
}

// Chunker renders segments into a single transcript and slides a
// CHUNK_SIZE-token window with OVERLAP_RATIO overlap across it.
type Chunker struct {
	chunkSize     int
	overlapTokens int
	charsPerToken int
}

// New constructs a Chunker. Configurations where the overlap would be
// >= chunkSize are rejected outright.
func New(chunkSize int, overlapRatio float64, charsPerToken int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunker: chunk size must be positive")
	}
	overlapTokens := int(float64(chunkSize) * overlapRatio)
	if overlapTokens >= chunkSize {
		return nil, fmt.Errorf("chunker: overlap (%d) must be strictly less than chunk size (%d)", overlapTokens, chunkSize)
	}
	if charsPerToken <= 0 {
		charsPerToken = 4
	}
	return &Chunker{chunkSize: chunkSize, overlapTokens: overlapTokens, charsPerToken: charsPerToken}, nil
}

// segmentBoundary records a segment's character range within the
// concatenated transcript, for the later segment-overlap test.
type segmentBoundary struct {
	id    string
	start int
	end   int
}

// token is a whitespace-delimited word in the fallback tokenizer. Real
// tokenizer integration (e.g. a trained BPE model) can be swapped in by
// replacing tokenize/decodeRange without touching the sliding-window logic.
type token struct {
	text  string
	start int // char offset in fullText where this token starts
	end   int // char offset where this token ends
}

// Chunk splits segments into overlapping chunks. An empty segment list
// yields zero chunks.
func (c *Chunker) Chunk(segments []models.Segment) []Chunk {
	if len(segments) == 0 {
		return nil
	}

	fullText, boundaries := renderTranscript(segments)
	tokens := tokenize(fullText)
	if len(tokens) == 0 {
		return nil
	}

	var chunks []Chunk
	startIdx := 0
	for startIdx < len(tokens) {
		endIdx := startIdx + c.chunkSize
		if endIdx > len(tokens) {
			endIdx = len(tokens)
		}

		chunkTokens := tokens[startIdx:endIdx]
		text := decodeRange(fullText, chunkTokens)
		segIDs := segmentsInRange(boundaries, chunkTokens[0].start, chunkTokens[len(chunkTokens)-1].end)

		chunks = append(chunks, Chunk{
			Text:       text,
			TokenCount: len(chunkTokens),
			SegmentIDs: segIDs,
			StartIdx:   startIdx,
			EndIdx:     endIdx,
		})

		if endIdx >= len(tokens) {
			break
		}
		startIdx = endIdx - c.overlapTokens
	}

	return chunks
}

// renderTranscript formats each segment as "[speaker @ ts]: text\n" and
// records its character range in the growing concatenation.
func renderTranscript(segments []models.Segment) (string, []segmentBoundary) {
	var rendered []string
	boundaries := make([]segmentBoundary, 0, len(segments))

	for _, seg := range segments {
		line := fmt.Sprintf("[%s @ %s]: %s\n", seg.Speaker, seg.Ts.Format("2006-01-02T15:04:05Z07:00"), seg.Text)
		start := len(strings.Join(rendered, " "))
		rendered = append(rendered, line)
		end := len(strings.Join(rendered, " "))
		boundaries = append(boundaries, segmentBoundary{id: seg.ID, start: start, end: end})
	}

	return strings.Join(rendered, " "), boundaries
}

// tokenize splits text on whitespace; each resulting word is one token.
// This word-based fallback is authoritative when no trained tokenizer is
// configured; counts are stable within a process, which is all the
// sliding window needs.
func tokenize(text string) []token {
	var tokens []token
	inWord := false
	wordStart := 0
	for i, r := range text {
		isSpace := r == ' ' || r == '\n' || r == '\t' || r == '\r'
		if !isSpace && !inWord {
			inWord = true
			wordStart = i
		} else if isSpace && inWord {
			inWord = false
			tokens = append(tokens, token{text: text[wordStart:i], start: wordStart, end: i})
		}
	}
	if inWord {
		tokens = append(tokens, token{text: text[wordStart:], start: wordStart, end: len(text)})
	}
	return tokens
}

// decodeRange reconstructs the chunk's text from its token character
// range. Because tokens carry their own offsets there is no need for the
// chars-per-token interpolation the Python fallback uses — this path is
// always exact, but the estimator (EstimateTokens) below still exists
// for the cheap, tokenizer-free ingest hot path.
func decodeRange(fullText string, tokens []token) string {
	if len(tokens) == 0 {
		return ""
	}
	return fullText[tokens[0].start:tokens[len(tokens)-1].end]
}

// segmentsInRange returns the id of every segment whose character range
// intersects the half-open interval [start, end).
func segmentsInRange(boundaries []segmentBoundary, start, end int) []string {
	var ids []string
	for _, b := range boundaries {
		if b.start < end && b.end > start {
			ids = append(ids, b.id)
		}
	}
	return ids
}

// EstimateTokens is the cheap, conservative token estimator used by the
// ingest hot path: floor(len(text) / CHARS_PER_TOKEN).
// The chunker's own tokenizer above remains authoritative for CHUNK_SIZE
// accounting; this estimator only gates the batch-threshold check.
func EstimateTokens(text string, charsPerToken int) int {
	if charsPerToken <= 0 {
		charsPerToken = 4
	}
	return len(text) / charsPerToken
}
