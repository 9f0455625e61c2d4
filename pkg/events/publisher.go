package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// execer is satisfied by both *sql.DB and *sql.Tx, letting callers fire a
// NOTIFY in the same transaction as the repository write that produced the
// event — pg_notify only takes effect on COMMIT, so notify-on-commit
// comes for free.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Publisher fires PostgreSQL NOTIFY messages for the two event types the
// notification bus defines. It persists nothing itself —
// the meetings/segments/summaries tables are the source of truth, and
// subscribers reconcile by re-fetching them.
type Publisher struct{}

// NewPublisher constructs a Publisher. It is stateless; a package-level
// value would do just as well, but a constructor matches the rest of this
// codebase's conventions.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// NotifySummaryUpdate fires a summary_update event on meetingID's channel.
// db may be a *sql.Tx so the notify commits atomically with the summary
// insert that triggered it.
func (p *Publisher) NotifySummaryUpdate(ctx context.Context, db execer, meetingID string) error {
	payload := SummaryUpdatePayload{Type: EventTypeSummaryUpdate, MeetingID: meetingID}
	return p.notify(ctx, db, MeetingChannel(meetingID), payload)
}

// NotifySegmentAdded fires a segment_added event on meetingID's channel.
func (p *Publisher) NotifySegmentAdded(ctx context.Context, db execer, meetingID, segmentID string, count int) error {
	payload := SegmentAddedPayload{Type: EventTypeSegmentAdded, SegmentID: segmentID, Count: count}
	return p.notify(ctx, db, MeetingChannel(meetingID), payload)
}

func (p *Publisher) notify(ctx context.Context, db execer, channel string, payload any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	notifyPayload, err := truncateIfNeeded(payloadJSON)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload); err != nil {
		return fmt.Errorf("pg_notify on %s: %w", channel, err)
	}
	return nil
}

// truncateIfNeeded returns payloadJSON as a string unchanged if it fits
// within PostgreSQL's 8000-byte NOTIFY payload limit, otherwise falls back
// to a minimal routing-only envelope. Neither event type defined above is
// ever expected to approach the limit, but the guard is cheap and protects
// against a future payload growing unbounded user content into the event.
func truncateIfNeeded(payloadJSON []byte) (string, error) {
	const limit = 7900
	if len(payloadJSON) <= limit {
		return string(payloadJSON), nil
	}

	var routing struct {
		Type      string `json:"type"`
		MeetingID string `json:"meeting_id,omitempty"`
	}
	if err := json.Unmarshal(payloadJSON, &routing); err != nil {
		return "", fmt.Errorf("extract routing fields for truncated NOTIFY payload: %w", err)
	}
	truncated, err := json.Marshal(map[string]any{
		"type":       routing.Type,
		"meeting_id": routing.MeetingID,
		"truncated":  true,
	})
	if err != nil {
		return "", fmt.Errorf("marshal truncated NOTIFY payload: %w", err)
	}
	return string(truncated), nil
}
