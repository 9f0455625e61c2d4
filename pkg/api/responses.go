package api

import (
	"time"

	"github.com/open-meetsum/meetsum/pkg/database"
	"github.com/open-meetsum/meetsum/pkg/models"
	"github.com/open-meetsum/meetsum/pkg/queue"
)

// ErrorResponse is the single error envelope every user-visible failure is
// rendered as.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// MeetingResponse is returned by POST /meetings.
type MeetingResponse struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Metadata    map[string]string `json:"metadata"`
	CreatedAt   time.Time         `json:"created_at"`
	Finalized   bool              `json:"finalized"`
	FinalizedAt *time.Time        `json:"finalized_at,omitempty"`
}

func toMeetingResponse(m *models.Meeting) *MeetingResponse {
	return &MeetingResponse{
		ID:          m.ID,
		Title:       m.Title,
		Metadata:    m.Metadata,
		CreatedAt:   m.CreatedAt,
		Finalized:   m.Finalized,
		FinalizedAt: m.FinalizedAt,
	}
}

// AppendSegmentResponse is returned by POST /ingest/segment.
type AppendSegmentResponse struct {
	SegmentID string `json:"segment_id"`
	Status    string `json:"status"`
}

// SummaryResponse is returned by GET /meetings/:id/summary.
type SummaryResponse struct {
	ID        string                `json:"id"`
	MeetingID string                `json:"meeting_id"`
	Type      models.SummaryType    `json:"type"`
	Content   models.SummaryContent `json:"content"`
	CreatedAt time.Time             `json:"created_at"`
}

func toSummaryResponse(s *models.Summary) *SummaryResponse {
	return &SummaryResponse{
		ID:        s.ID,
		MeetingID: s.MeetingID,
		Type:      s.Type,
		Content:   s.Content,
		CreatedAt: s.CreatedAt,
	}
}

// FinalizeResponse is returned by POST /meetings/:id/finalize.
type FinalizeResponse struct {
	Status string `json:"status"`
}

// ProcessAudioResponse is returned by POST /process-audio.
type ProcessAudioResponse struct {
	JobID    string `json:"job_id"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
}

// JobResponse is returned by GET /jobs/:id and embedded in job listings.
type JobResponse struct {
	ID          string           `json:"id"`
	MeetingID   string           `json:"meeting_id"`
	Type        models.JobType   `json:"type"`
	Payload     map[string]any   `json:"payload"`
	Status      models.JobStatus `json:"status"`
	Attempts    int              `json:"attempts"`
	LastError   string           `json:"last_error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

func toJobResponse(j *models.Job) *JobResponse {
	return &JobResponse{
		ID:          j.ID,
		MeetingID:   j.MeetingID,
		Type:        j.Type,
		Payload:     j.Payload,
		Status:      j.Status,
		Attempts:    j.Attempts,
		LastError:   j.LastError,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		CompletedAt: j.CompletedAt,
	}
}

// ListJobsResponse is returned by GET /jobs.
type ListJobsResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Total int           `json:"total"`
}

// StatsResponse is returned by GET /stats.
type StatsResponse struct {
	Total     int            `json:"total"`
	ByStatus  map[string]int `json:"by_status"`
	QueueSize int            `json:"queue_size"`
}

// HealthResponse is returned by GET /healthz. Inference is either
// "healthy" or "unreachable", values that clients of the Python original
// already parse.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Database  *database.HealthStatus `json:"database"`
	Inference string                 `json:"inference"`
	Timestamp time.Time              `json:"timestamp"`
	Workers   *queue.PoolHealth      `json:"workers,omitempty"`
}
