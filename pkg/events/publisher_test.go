package events

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeetingChannel(t *testing.T) {
	assert.Equal(t, "meeting:abc-123", MeetingChannel("abc-123"))
}

func TestTruncateIfNeeded_SmallPayloadUnchanged(t *testing.T) {
	payload, err := json.Marshal(SummaryUpdatePayload{Type: EventTypeSummaryUpdate, MeetingID: "m1"})
	require.NoError(t, err)

	out, err := truncateIfNeeded(payload)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), out)
}

func TestTruncateIfNeeded_OversizedPayloadKeepsRouting(t *testing.T) {
	big := map[string]any{
		"type":       EventTypeSummaryUpdate,
		"meeting_id": "m1",
		"blob":       strings.Repeat("x", 10000),
	}
	payload, err := json.Marshal(big)
	require.NoError(t, err)

	out, err := truncateIfNeeded(payload)
	require.NoError(t, err)
	assert.Less(t, len(out), 7900)

	var routing map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &routing))
	assert.Equal(t, EventTypeSummaryUpdate, routing["type"])
	assert.Equal(t, "m1", routing["meeting_id"])
	assert.Equal(t, true, routing["truncated"])
}
