package events

// SummaryUpdatePayload is broadcast whenever a new incremental or final
// summary is persisted for a meeting. Clients reconcile by
// re-fetching the latest summary via GET /meetings/{id}/summary — the
// payload deliberately carries no summary content of its own.
type SummaryUpdatePayload struct {
	Type      string `json:"type"` // always EventTypeSummaryUpdate
	MeetingID string `json:"meeting_id"`
}

// SegmentAddedPayload is broadcast from the ingest path whenever a segment
// is appended to a meeting.
type SegmentAddedPayload struct {
	Type      string `json:"type"` // always EventTypeSegmentAdded
	SegmentID string `json:"segment_id"`
	Count     int    `json:"count"` // total segment count for the meeting after this append
}
