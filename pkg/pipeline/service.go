// Package pipeline implements the business logic behind the HTTP/WS surface
// and the job engine: meeting/segment ingest, finalize, audio upload, and
// dispatch of each job type. Service covers the API-facing operations;
// Dispatcher (dispatcher.go) covers job execution.
// Both share the same repositories so the two stay consistent by
// construction rather than by convention.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/open-meetsum/meetsum/pkg/apperr"
	"github.com/open-meetsum/meetsum/pkg/chunker"
	"github.com/open-meetsum/meetsum/pkg/config"
	"github.com/open-meetsum/meetsum/pkg/events"
	"github.com/open-meetsum/meetsum/pkg/models"
	"github.com/open-meetsum/meetsum/pkg/store"
)

// Service implements the ingest/meeting-lifecycle operations the API layer
// calls into.
type Service struct {
	db        *sql.DB
	meetings  *store.MeetingRepository
	segments  *store.SegmentRepository
	summaries *store.SummaryRepository
	jobs      *store.JobRepository
	publisher *events.Publisher
	pipeline  config.PipelineConfig
	inputDir  string
}

// NewService constructs a Service over the shared pool and repositories.
func NewService(
	db *sql.DB,
	meetings *store.MeetingRepository,
	segments *store.SegmentRepository,
	summaries *store.SummaryRepository,
	jobs *store.JobRepository,
	publisher *events.Publisher,
	pipelineCfg config.PipelineConfig,
	inputDir string,
) *Service {
	return &Service{
		db:        db,
		meetings:  meetings,
		segments:  segments,
		summaries: summaries,
		jobs:      jobs,
		publisher: publisher,
		pipeline:  pipelineCfg,
		inputDir:  inputDir,
	}
}

// CreateMeeting creates a new meeting.
func (s *Service) CreateMeeting(ctx context.Context, title string, metadata map[string]string) (*models.Meeting, error) {
	if title == "" {
		return nil, apperr.NewValidationError("title", "must not be empty")
	}
	return s.meetings.Create(ctx, title, metadata)
}

// AppendSegment validates and persists one segment, recomputes the
// meeting's total token count, and advisorily enqueues a CHUNK_SUMMARY job
// when the batch threshold is crossed. It returns the new segment's id.
func (s *Service) AppendSegment(ctx context.Context, meetingID, speaker, timestampISO, text string) (string, error) {
	meeting, err := s.meetings.GetByID(ctx, meetingID)
	if err != nil {
		return "", err
	}
	if meeting.Finalized {
		return "", apperr.ErrConflict
	}

	ts, err := time.Parse(time.RFC3339, timestampISO)
	if err != nil {
		return "", apperr.NewValidationError("timestamp_iso", "must be RFC3339")
	}
	if s.pipeline.MaxInputLength > 0 && len(text) > s.pipeline.MaxInputLength {
		return "", apperr.NewValidationError("text_segment", fmt.Sprintf("exceeds MAX_INPUT_LENGTH (%d)", s.pipeline.MaxInputLength))
	}
	tokenCount := chunker.EstimateTokens(text, s.pipeline.CharsPerToken)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", apperr.WrapFatal(fmt.Errorf("begin append-segment transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	txSegments := store.NewSegmentRepository(tx)
	seg, err := txSegments.Create(ctx, meetingID, speaker, ts, text, tokenCount)
	if err != nil {
		return "", err
	}

	newTotal, err := txSegments.GetTotalTokens(ctx, meetingID)
	if err != nil {
		return "", err
	}
	beforeTotal := newTotal - tokenCount

	var segmentCount int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM segments WHERE meeting_id = $1`, meetingID).Scan(&segmentCount); err != nil {
		return "", apperr.WrapFatal(fmt.Errorf("count segments for meeting %s: %w", meetingID, err))
	}

	if err := s.publisher.NotifySegmentAdded(ctx, tx, meetingID, seg.ID, segmentCount); err != nil {
		return "", apperr.WrapFatal(err)
	}

	if err := tx.Commit(); err != nil {
		return "", apperr.WrapFatal(fmt.Errorf("commit append-segment for meeting %s: %w", meetingID, err))
	}

	// Advisory: a lost enqueue here never stalls progress, the batch
	// monitor sweeps for exactly this case.
	if beforeTotal < s.pipeline.BatchTokens && newTotal >= s.pipeline.BatchTokens {
		if _, err := s.jobs.Create(ctx, meetingID, models.JobTypeChunkSummary, nil); err != nil {
			slog.Error("advisory CHUNK_SUMMARY enqueue failed", "meeting_id", meetingID, "error", err)
		}
	}

	return seg.ID, nil
}

// GetMeeting loads one meeting by id.
func (s *Service) GetMeeting(ctx context.Context, meetingID string) (*models.Meeting, error) {
	return s.meetings.GetByID(ctx, meetingID)
}

// GetSummary returns the latest summary of summaryType for meetingID, or
// (nil, nil) if the meeting exists but has no summary of that type yet —
// an unknown meeting is the only not-found condition here.
func (s *Service) GetSummary(ctx context.Context, meetingID string, summaryType models.SummaryType) (*models.Summary, error) {
	if _, err := s.meetings.GetByID(ctx, meetingID); err != nil {
		return nil, err
	}
	summary, err := s.summaries.GetLatest(ctx, meetingID, summaryType)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	return summary, err
}

// Finalize flips meetingID's finalized flag and enqueues the finalization
// jobs in one transaction, so no reader ever observes a finalized meeting
// with the jobs absent. It is idempotent: finalizing an already-finalized
// meeting returns "already_finalized" without creating duplicate jobs.
func (s *Service) Finalize(ctx context.Context, meetingID string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", apperr.WrapFatal(fmt.Errorf("begin finalize transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	txMeetings := store.NewMeetingRepository(tx)
	if err := txMeetings.Finalize(ctx, meetingID); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return "already_finalized", nil
		}
		return "", err
	}

	// Any transcript tail that never crossed the batch threshold still
	// gets summarized: finalize is the batch monitor's second trigger.
	// Enqueued inside the finalize transaction, so it does not violate
	// the no-chunk-jobs-after-finalize invariant — it is part of the
	// finalize step itself, and ahead of COMPOSE in oldest-first order.
	txSegments := store.NewSegmentRepository(tx)
	unsummarized, err := txSegments.GetUnsummarizedTokens(ctx, meetingID)
	if err != nil {
		return "", err
	}
	if unsummarized > 0 {
		if _, err := s.jobs.CreateTx(ctx, tx, meetingID, models.JobTypeChunkSummary, nil); err != nil {
			return "", err
		}
	}

	if _, err := s.jobs.CreateTx(ctx, tx, meetingID, models.JobTypeComposeSummary, nil); err != nil {
		return "", err
	}
	if _, err := s.jobs.CreateTx(ctx, tx, meetingID, models.JobTypeAnnotateActionItems, nil); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", apperr.WrapFatal(fmt.Errorf("commit finalize for meeting %s: %w", meetingID, err))
	}
	return "finalized", nil
}

// ProcessAudioUpload validates the upload's extension, persists the bytes
// under the configured input directory, creates a synthetic meeting for the
// eventual transcript, and enqueues an AUDIO_TRANSCRIBE job against it.
func (s *Service) ProcessAudioUpload(ctx context.Context, filename string, data []byte) (*models.Job, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !SupportedAudioExtensions[ext] {
		return nil, apperr.NewValidationError("file", fmt.Sprintf("unsupported audio format %q", ext))
	}

	if err := os.MkdirAll(s.inputDir, 0o755); err != nil {
		return nil, apperr.WrapFatal(fmt.Errorf("create audio input directory: %w", err))
	}
	storedName := uuid.NewString() + ext
	storedPath := filepath.Join(s.inputDir, storedName)
	if err := os.WriteFile(storedPath, data, 0o644); err != nil {
		return nil, apperr.WrapFatal(fmt.Errorf("write uploaded audio file: %w", err))
	}

	meeting, err := s.meetings.Create(ctx, "Audio upload: "+filename, map[string]string{
		"source":            "audio_upload",
		"original_filename": filename,
	})
	if err != nil {
		return nil, err
	}

	job, err := s.jobs.Create(ctx, meeting.ID, models.JobTypeAudioTranscribe, map[string]any{
		"file_path": storedPath,
		"filename":  filename,
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// GetJob returns a job by id.
func (s *Service) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	return s.jobs.GetByID(ctx, jobID)
}

// ListJobs returns up to limit jobs, most recently created first, and the
// total job count.
func (s *Service) ListJobs(ctx context.Context, limit int) ([]models.Job, int, error) {
	return s.jobs.List(ctx, limit)
}

// Stats reports aggregate job counts for GET /stats.
type Stats struct {
	Total     int
	ByStatus  map[string]int
	QueueSize int
}

// Stats computes the current job-count breakdown.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	statuses := []models.JobStatus{
		models.JobStatusPending,
		models.JobStatusProcessing,
		models.JobStatusCompleted,
		models.JobStatusFailed,
	}

	byStatus := make(map[string]int, len(statuses))
	total := 0
	for _, status := range statuses {
		count, err := s.jobs.CountByStatus(ctx, status)
		if err != nil {
			return Stats{}, err
		}
		byStatus[string(status)] = count
		total += count
	}

	return Stats{
		Total:     total,
		ByStatus:  byStatus,
		QueueSize: byStatus[string(models.JobStatusPending)],
	}, nil
}
