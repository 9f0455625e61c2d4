// Package merger folds N incremental SummaryContent values produced by
// CHUNK_SUMMARY jobs into the single merged content a COMPOSE_SUMMARY job
// persists as the meeting's final summary, deduplicating near-identical
// decisions/action-items/topics by string similarity.
package merger

import (
	"sort"
	"strings"

	"github.com/agext/levenshtein"

	"github.com/open-meetsum/meetsum/pkg/models"
)

// DefaultSimilarityThreshold is the ratio above which two strings are
// considered the same underlying fact rather than independent mentions.
const DefaultSimilarityThreshold = 0.85

// Merger combines incremental summaries into one final SummaryContent.
type Merger struct {
	similarityThreshold float64
}

// New constructs a Merger using threshold as the dedup cutoff. A zero
// threshold falls back to DefaultSimilarityThreshold.
func New(threshold float64) *Merger {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &Merger{similarityThreshold: threshold}
}

// Merge combines the given incremental contents, in the order supplied,
// into one SummaryContent: summaries are concatenated, and agenda items,
// decisions, action items, and topics are deduplicated and ranked by
// confidence (agenda items have no confidence and are instead deduplicated
// case-insensitively and kept in first-seen order).
func (m *Merger) Merge(contents []models.SummaryContent) models.SummaryContent {
	var summaries []string
	var agenda []string
	var decisions []models.Decision
	var actionItems []models.ActionItem
	var topics []models.Topic

	for _, c := range contents {
		if c.Summary != "" {
			summaries = append(summaries, c.Summary)
		}
		agenda = append(agenda, c.Agenda...)
		decisions = append(decisions, c.Decisions...)
		actionItems = append(actionItems, c.ActionItems...)
		topics = append(topics, c.Topics...)
	}

	return models.SummaryContent{
		Summary:     strings.Join(summaries, " "),
		Agenda:      dedupeStrings(agenda),
		Decisions:   m.dedupeDecisions(decisions),
		ActionItems: m.dedupeActionItems(actionItems),
		Topics:      m.dedupeTopics(topics),
	}
}

func dedupeStrings(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	result := make([]string, 0, len(items))
	for _, item := range items {
		key := strings.ToLower(item)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, item)
	}
	return result
}

func (m *Merger) similar(a, b string) bool {
	return levenshtein.Match(strings.ToLower(a), strings.ToLower(b), nil) > m.similarityThreshold
}

func (m *Merger) dedupeDecisions(decisions []models.Decision) []models.Decision {
	var unique []models.Decision
	var seenTexts []string

	for _, d := range decisions {
		dupIdx := -1
		for i, seen := range seenTexts {
			if m.similar(d.Text, seen) {
				dupIdx = i
				break
			}
		}
		if dupIdx >= 0 {
			if d.Confidence > unique[dupIdx].Confidence {
				unique[dupIdx].Confidence = d.Confidence
			}
			unique[dupIdx].SourceSegmentIDs = mergeIDs(unique[dupIdx].SourceSegmentIDs, d.SourceSegmentIDs)
			continue
		}
		unique = append(unique, d)
		seenTexts = append(seenTexts, d.Text)
	}

	sort.SliceStable(unique, func(i, j int) bool { return unique[i].Confidence > unique[j].Confidence })
	return unique
}

func (m *Merger) dedupeActionItems(items []models.ActionItem) []models.ActionItem {
	var unique []models.ActionItem
	var seenTexts []string

	for _, item := range items {
		dupIdx := -1
		for i, seen := range seenTexts {
			if m.similar(item.Text, seen) {
				dupIdx = i
				break
			}
		}
		if dupIdx >= 0 {
			existing := &unique[dupIdx]
			if existing.Owner == nil && item.Owner != nil {
				existing.Owner = item.Owner
			}
			if existing.DueDateISO == nil && item.DueDateISO != nil {
				existing.DueDateISO = item.DueDateISO
			}
			if item.Confidence > existing.Confidence {
				existing.Confidence = item.Confidence
			}
			existing.SourceSegmentIDs = mergeIDs(existing.SourceSegmentIDs, item.SourceSegmentIDs)
			continue
		}
		unique = append(unique, item)
		seenTexts = append(seenTexts, item.Text)
	}

	sort.SliceStable(unique, func(i, j int) bool { return unique[i].Confidence > unique[j].Confidence })
	return unique
}

func (m *Merger) dedupeTopics(topics []models.Topic) []models.Topic {
	var unique []models.Topic
	var seenNames []string

	for _, t := range topics {
		dupIdx := -1
		for i, seen := range seenNames {
			if m.similar(t.Name, seen) {
				dupIdx = i
				break
			}
		}
		if dupIdx >= 0 {
			if t.Confidence > unique[dupIdx].Confidence {
				unique[dupIdx].Confidence = t.Confidence
			}
			continue
		}
		unique = append(unique, t)
		seenNames = append(seenNames, t.Name)
	}

	sort.SliceStable(unique, func(i, j int) bool { return unique[i].Confidence > unique[j].Confidence })
	return unique
}

func mergeIDs(existing, added []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		seen[id] = struct{}{}
	}
	for _, id := range added {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		existing = append(existing, id)
	}
	return existing
}
