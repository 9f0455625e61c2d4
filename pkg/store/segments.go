package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/open-meetsum/meetsum/pkg/apperr"
	"github.com/open-meetsum/meetsum/pkg/models"
)

// SegmentRepository persists Segment rows. Segments are append-only:
// there is no Update method.
type SegmentRepository struct {
	db Querier
}

// NewSegmentRepository constructs a SegmentRepository over db.
func NewSegmentRepository(db Querier) *SegmentRepository {
	return &SegmentRepository{db: db}
}

// Create inserts a new segment under meetingID.
func (r *SegmentRepository) Create(ctx context.Context, meetingID, speaker string, ts time.Time, text string, tokenCount int) (*models.Segment, error) {
	id := uuid.NewString()
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO segments (id, meeting_id, speaker, ts, text, token_count)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, meeting_id, speaker, ts, text, token_count, created_at`,
		id, meetingID, speaker, ts, text, tokenCount,
	)
	return scanSegment(row)
}

// GetByMeeting returns every segment for meetingID ordered by ts:
// segments order by their utterance timestamp, not arrival order.
func (r *SegmentRepository) GetByMeeting(ctx context.Context, meetingID string) ([]models.Segment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, meeting_id, speaker, ts, text, token_count, created_at
		 FROM segments WHERE meeting_id = $1 ORDER BY ts`,
		meetingID,
	)
	if err != nil {
		return nil, apperr.WrapFatal(fmt.Errorf("query segments for meeting %s: %w", meetingID, err))
	}
	defer rows.Close()

	var segments []models.Segment
	for rows.Next() {
		var s models.Segment
		if err := rows.Scan(&s.ID, &s.MeetingID, &s.Speaker, &s.Ts, &s.Text, &s.TokenCount, &s.CreatedAt); err != nil {
			return nil, apperr.WrapFatal(fmt.Errorf("scan segment: %w", err))
		}
		segments = append(segments, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.WrapFatal(fmt.Errorf("iterate segments: %w", err))
	}
	return segments, nil
}

// GetTotalTokens returns the sum of token_count across meetingID's
// segments.
func (r *SegmentRepository) GetTotalTokens(ctx context.Context, meetingID string) (int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(token_count), 0) FROM segments WHERE meeting_id = $1`,
		meetingID,
	).Scan(&total)
	if err != nil {
		return 0, apperr.WrapFatal(fmt.Errorf("sum tokens for meeting %s: %w", meetingID, err))
	}
	return total, nil
}

// GetUnsummarizedTokens returns the token_count sum of segments appended
// after meetingID's most recent incremental summary (or of every segment,
// if no incremental summary exists yet). The batch monitor compares this
// against BATCH_TOKENS on each sweep.
func (r *SegmentRepository) GetUnsummarizedTokens(ctx context.Context, meetingID string) (int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(token_count), 0) FROM segments
		 WHERE meeting_id = $1
		   AND created_at > COALESCE(
		       (SELECT MAX(created_at) FROM summaries WHERE meeting_id = $1 AND type = 'incremental'),
		       'epoch'::timestamptz)`,
		meetingID,
	).Scan(&total)
	if err != nil {
		return 0, apperr.WrapFatal(fmt.Errorf("sum unsummarized tokens for meeting %s: %w", meetingID, err))
	}
	return total, nil
}

func scanSegment(row *sql.Row) (*models.Segment, error) {
	var s models.Segment
	if err := row.Scan(&s.ID, &s.MeetingID, &s.Speaker, &s.Ts, &s.Text, &s.TokenCount, &s.CreatedAt); err != nil {
		return nil, apperr.WrapFatal(fmt.Errorf("scan segment: %w", err))
	}
	return &s, nil
}
