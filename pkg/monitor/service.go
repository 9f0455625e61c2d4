// Package monitor runs the batch monitor: a periodic sweep that enqueues a
// CHUNK_SUMMARY job for every active meeting whose unsummarized token count
// has crossed the batch threshold. The ingest path's threshold check is
// advisory and can be lost; this sweep is the safety net that guarantees
// progress anyway.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/open-meetsum/meetsum/pkg/config"
	"github.com/open-meetsum/meetsum/pkg/models"
)

// MeetingLister supplies the candidate meetings for a sweep.
type MeetingLister interface {
	ListActive(ctx context.Context) ([]models.Meeting, error)
}

// TokenCounter reports how many tokens of a meeting's transcript have not
// yet been covered by an incremental summary.
type TokenCounter interface {
	GetUnsummarizedTokens(ctx context.Context, meetingID string) (int, error)
}

// JobEnqueuer creates CHUNK_SUMMARY jobs and answers whether one is
// already in flight.
type JobEnqueuer interface {
	HasActive(ctx context.Context, meetingID string, jobType models.JobType) (bool, error)
	Create(ctx context.Context, meetingID string, jobType models.JobType, payload map[string]any) (*models.Job, error)
}

// Service is the batch monitor. Start/Stop follow the same lifecycle as
// the cleanup service: idempotent start, immediate first sweep, ticker
// afterwards, Stop blocks until the loop exits.
type Service struct {
	config   config.PipelineConfig
	meetings MeetingLister
	segments TokenCounter
	jobs     JobEnqueuer

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a batch monitor sweeping at cfg.BatchTimeout.
func NewService(cfg config.PipelineConfig, meetings MeetingLister, segments TokenCounter, jobs JobEnqueuer) *Service {
	return &Service{config: cfg, meetings: meetings, segments: segments, jobs: jobs}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("batch monitor started",
		"batch_tokens", s.config.BatchTokens,
		"interval", s.config.BatchTimeout)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("batch monitor stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.config.BatchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep enqueues CHUNK_SUMMARY for each active meeting at or over the
// token threshold. Errors on one meeting never block the rest of the sweep.
func (s *Service) sweep(ctx context.Context) {
	meetings, err := s.meetings.ListActive(ctx)
	if err != nil {
		slog.Error("batch monitor: listing active meetings failed", "error", err)
		return
	}

	for _, m := range meetings {
		tokens, err := s.segments.GetUnsummarizedTokens(ctx, m.ID)
		if err != nil {
			slog.Error("batch monitor: token count failed", "meeting_id", m.ID, "error", err)
			continue
		}
		if tokens < s.config.BatchTokens {
			continue
		}

		active, err := s.jobs.HasActive(ctx, m.ID, models.JobTypeChunkSummary)
		if err != nil {
			slog.Error("batch monitor: active-job check failed", "meeting_id", m.ID, "error", err)
			continue
		}
		if active {
			continue
		}

		if _, err := s.jobs.Create(ctx, m.ID, models.JobTypeChunkSummary, nil); err != nil {
			slog.Error("batch monitor: enqueue failed", "meeting_id", m.ID, "error", err)
			continue
		}
		slog.Info("batch monitor: enqueued chunk summary", "meeting_id", m.ID, "unsummarized_tokens", tokens)
	}
}
