// Package models defines the persisted domain types shared across the
// summarization pipeline: meetings, segments, summaries, and jobs.
package models

import "time"

// Meeting is the root aggregate ingest appends segments to and finalize
// seals. Once Finalized is true no further segments may be appended and no
// further CHUNK_SUMMARY job may be created.
type Meeting struct {
	ID           string
	Title        string
	Metadata     map[string]string
	CreatedAt    time.Time
	Finalized    bool
	FinalizedAt  *time.Time
}

// Segment is a single speaker utterance, the atomic ingest unit. Segments
// are never mutated after creation and are ordered within a meeting by Ts,
// not by insertion order.
type Segment struct {
	ID         string
	MeetingID  string
	Speaker    string
	Ts         time.Time
	Text       string
	TokenCount int
	CreatedAt  time.Time
}

// SummaryType distinguishes partial, per-chunk summaries from the merged,
// annotated summary produced at finalize.
type SummaryType string

const (
	SummaryTypeIncremental SummaryType = "incremental"
	SummaryTypeFinal       SummaryType = "final"
)

// Decision is a structured decision extracted from the transcript.
type Decision struct {
	Text             string   `json:"text"`
	Confidence       float64  `json:"confidence"`
	SourceSegmentIDs []string `json:"source_segment_ids"`
}

// ActionItem is a task extracted from the transcript, optionally annotated
// with an owner and due date by the ANNOTATE_ACTION_ITEMS job.
type ActionItem struct {
	Text             string   `json:"text"`
	Owner            *string  `json:"owner,omitempty"`
	DueDateISO       *string  `json:"due_date_iso,omitempty"`
	Confidence       float64  `json:"confidence"`
	SourceSegmentIDs []string `json:"source_segment_ids"`
}

// Topic is a named subject discussed during the meeting.
type Topic struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// SummaryContent is the structured JSON payload persisted per summary row,
// and the value type the merger folds N partials into one of.
type SummaryContent struct {
	Summary     string       `json:"summary"`
	Agenda      []string     `json:"agenda"`
	Decisions   []Decision   `json:"decisions"`
	ActionItems []ActionItem `json:"action_items"`
	Topics      []Topic      `json:"topics"`
}

// Summary is an append-only record of a SummaryContent snapshot for a
// meeting. A meeting may have many incrementals and many finals; the
// latest-by-CreatedAt of a given type wins for reads.
type Summary struct {
	ID        string
	MeetingID string
	Type      SummaryType
	Content   SummaryContent
	CreatedAt time.Time
}

// JobType enumerates the pipeline work items a worker dispatches on.
type JobType string

const (
	JobTypeChunkSummary         JobType = "CHUNK_SUMMARY"
	JobTypeComposeSummary       JobType = "COMPOSE_SUMMARY"
	JobTypeAnnotateActionItems  JobType = "ANNOTATE_ACTION_ITEMS"
	// JobTypeAudioTranscribe feeds the audio-upload ingest path into the
	// same job engine as live transcript meetings.
	JobTypeAudioTranscribe JobType = "AUDIO_TRANSCRIBE"
)

// JobStatus is the job's position in its state machine:
// pending → processing → completed | failed (failures below the retry
// limit loop back to pending).
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job is a durable, retryable unit of pipeline work.
type Job struct {
	ID          string
	MeetingID   string
	Type        JobType
	Payload     map[string]any
	Status      JobStatus
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}
