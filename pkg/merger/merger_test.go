package merger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-meetsum/meetsum/pkg/models"
)

func strptr(s string) *string { return &s }

func TestMerge_Empty(t *testing.T) {
	m := New(0)

	merged := m.Merge(nil)
	assert.Empty(t, merged.Summary)
	assert.Empty(t, merged.Decisions)
	assert.Empty(t, merged.ActionItems)
	assert.Empty(t, merged.Topics)
	assert.Empty(t, merged.Agenda)
}

func TestMerge_ConcatenatesSummaries(t *testing.T) {
	m := New(0)

	merged := m.Merge([]models.SummaryContent{
		{Summary: "Discussed the Q4 roadmap."},
		{Summary: ""},
		{Summary: "Agreed on hiring targets."},
	})
	assert.Equal(t, "Discussed the Q4 roadmap. Agreed on hiring targets.", merged.Summary)
}

func TestMerge_AgendaDedupedCaseInsensitive(t *testing.T) {
	m := New(0)

	merged := m.Merge([]models.SummaryContent{
		{Agenda: []string{"Budget", "Roadmap"}},
		{Agenda: []string{"budget", "Hiring"}},
	})
	assert.Equal(t, []string{"Budget", "Roadmap", "Hiring"}, merged.Agenda)
}

func TestMerge_IdenticalDecisionsCollapseToOne(t *testing.T) {
	m := New(0)

	merged := m.Merge([]models.SummaryContent{
		{Decisions: []models.Decision{{Text: "Approve the Q4 budget", Confidence: 0.7, SourceSegmentIDs: []string{"s1"}}}},
		{Decisions: []models.Decision{{Text: "Approve the Q4 budget", Confidence: 0.9, SourceSegmentIDs: []string{"s2"}}}},
	})

	require.Len(t, merged.Decisions, 1)
	assert.Equal(t, 0.9, merged.Decisions[0].Confidence)
	assert.ElementsMatch(t, []string{"s1", "s2"}, merged.Decisions[0].SourceSegmentIDs)
}

func TestMerge_NearDuplicateDecisionsFoldIntoFirstSeen(t *testing.T) {
	m := New(0.85)

	merged := m.Merge([]models.SummaryContent{
		{Decisions: []models.Decision{{Text: "Ship the mobile beta next Friday", Confidence: 0.8}}},
		{Decisions: []models.Decision{{Text: "ship the mobile beta next friday!", Confidence: 0.6}}},
		{Decisions: []models.Decision{{Text: "Cancel the offsite entirely", Confidence: 0.5}}},
	})

	require.Len(t, merged.Decisions, 2)
	assert.Equal(t, "Ship the mobile beta next Friday", merged.Decisions[0].Text)
	assert.Equal(t, "Cancel the offsite entirely", merged.Decisions[1].Text)
}

func TestMerge_ActionItemFoldPrefersRichestFields(t *testing.T) {
	m := New(0)

	merged := m.Merge([]models.SummaryContent{
		{ActionItems: []models.ActionItem{{Text: "Send the revised deck to the board", Confidence: 0.6}}},
		{ActionItems: []models.ActionItem{{
			Text:       "Send the revised deck to the board",
			Owner:      strptr("Priya"),
			DueDateISO: strptr("2025-06-15"),
			Confidence: 0.5,
		}}},
	})

	require.Len(t, merged.ActionItems, 1)
	item := merged.ActionItems[0]
	require.NotNil(t, item.Owner)
	assert.Equal(t, "Priya", *item.Owner)
	require.NotNil(t, item.DueDateISO)
	assert.Equal(t, "2025-06-15", *item.DueDateISO)
	// The higher confidence wins even though it came from the poorer record.
	assert.Equal(t, 0.6, item.Confidence)
}

func TestMerge_IncumbentFieldsAreNotOverwritten(t *testing.T) {
	m := New(0)

	merged := m.Merge([]models.SummaryContent{
		{ActionItems: []models.ActionItem{{Text: "Book the venue", Owner: strptr("Sam"), Confidence: 0.9}}},
		{ActionItems: []models.ActionItem{{Text: "Book the venue", Owner: strptr("Alex"), Confidence: 0.3}}},
	})

	require.Len(t, merged.ActionItems, 1)
	assert.Equal(t, "Sam", *merged.ActionItems[0].Owner)
}

func TestMerge_SortsByConfidenceDescending(t *testing.T) {
	m := New(0)

	merged := m.Merge([]models.SummaryContent{
		{Topics: []models.Topic{
			{Name: "Hiring", Confidence: 0.4},
			{Name: "Budget", Confidence: 0.9},
			{Name: "Offsite", Confidence: 0.7},
		}},
	})

	require.Len(t, merged.Topics, 3)
	assert.Equal(t, "Budget", merged.Topics[0].Name)
	assert.Equal(t, "Offsite", merged.Topics[1].Name)
	assert.Equal(t, "Hiring", merged.Topics[2].Name)
}

func TestMerge_TiesKeepInsertionOrder(t *testing.T) {
	m := New(0)

	merged := m.Merge([]models.SummaryContent{
		{Topics: []models.Topic{{Name: "First", Confidence: 0.5}, {Name: "Second", Confidence: 0.5}}},
	})

	require.Len(t, merged.Topics, 2)
	assert.Equal(t, "First", merged.Topics[0].Name)
	assert.Equal(t, "Second", merged.Topics[1].Name)
}

// Merging is associative up to ordering of confidence ties:
// merge([merge([a,b]), c]) must equal merge([a,b,c]).
func TestMerge_Idempotence(t *testing.T) {
	m := New(0)

	a := models.SummaryContent{
		Summary:   "Part one.",
		Agenda:    []string{"Budget"},
		Decisions: []models.Decision{{Text: "Approve the Q4 budget", Confidence: 0.7}},
		Topics:    []models.Topic{{Name: "Finance", Confidence: 0.8}},
	}
	b := models.SummaryContent{
		Summary:     "Part two.",
		Agenda:      []string{"budget", "Hiring"},
		Decisions:   []models.Decision{{Text: "Approve the Q4 budget", Confidence: 0.9}},
		ActionItems: []models.ActionItem{{Text: "Post the job listing", Confidence: 0.6}},
	}
	c := models.SummaryContent{
		Summary: "Part three.",
		Topics:  []models.Topic{{Name: "finance", Confidence: 0.5}},
	}

	direct := m.Merge([]models.SummaryContent{a, b, c})
	staged := m.Merge([]models.SummaryContent{m.Merge([]models.SummaryContent{a, b}), c})

	assert.Equal(t, direct, staged)
}
