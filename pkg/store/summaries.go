package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/open-meetsum/meetsum/pkg/apperr"
	"github.com/open-meetsum/meetsum/pkg/models"
)

// SummaryRepository persists Summary rows. Summaries are append-only: a
// meeting accumulates many incrementals and many finals, and reads take
// the latest by created_at.
type SummaryRepository struct {
	db Querier
}

// NewSummaryRepository constructs a SummaryRepository over db.
func NewSummaryRepository(db Querier) *SummaryRepository {
	return &SummaryRepository{db: db}
}

// Create inserts a new summary row of the given type.
func (r *SummaryRepository) Create(ctx context.Context, meetingID string, summaryType models.SummaryType, content models.SummaryContent) (*models.Summary, error) {
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("marshal summary content: %w", err)
	}

	id := uuid.NewString()
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO summaries (id, meeting_id, type, content) VALUES ($1, $2, $3, $4)
		 RETURNING id, meeting_id, type, content, created_at`,
		id, meetingID, string(summaryType), contentJSON,
	)
	return scanSummary(row)
}

// GetLatest returns the most recently created summary of summaryType for
// meetingID, or apperr.ErrNotFound if none exists.
func (r *SummaryRepository) GetLatest(ctx context.Context, meetingID string, summaryType models.SummaryType) (*models.Summary, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, meeting_id, type, content, created_at FROM summaries
		 WHERE meeting_id = $1 AND type = $2 ORDER BY created_at DESC LIMIT 1`,
		meetingID, string(summaryType),
	)
	return scanSummary(row)
}

// GetAllIncremental returns every incremental summary for meetingID in
// creation order, the order the merger consumes them in.
func (r *SummaryRepository) GetAllIncremental(ctx context.Context, meetingID string) ([]models.Summary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, meeting_id, type, content, created_at FROM summaries
		 WHERE meeting_id = $1 AND type = $2 ORDER BY created_at`,
		meetingID, string(models.SummaryTypeIncremental),
	)
	if err != nil {
		return nil, apperr.WrapFatal(fmt.Errorf("query incremental summaries for meeting %s: %w", meetingID, err))
	}
	defer rows.Close()

	var summaries []models.Summary
	for rows.Next() {
		s, err := scanSummaryRows(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.WrapFatal(fmt.Errorf("iterate incremental summaries: %w", err))
	}
	return summaries, nil
}

// CountFinal returns the number of final summaries for meetingID, used to
// verify the at-most-one-final-per-compose-run invariant in tests.
func (r *SummaryRepository) CountFinal(ctx context.Context, meetingID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM summaries WHERE meeting_id = $1 AND type = $2`,
		meetingID, string(models.SummaryTypeFinal),
	).Scan(&count)
	if err != nil {
		return 0, apperr.WrapFatal(fmt.Errorf("count final summaries for meeting %s: %w", meetingID, err))
	}
	return count, nil
}

func scanSummary(row *sql.Row) (*models.Summary, error) {
	var s models.Summary
	var contentJSON []byte
	var summaryType string

	if err := row.Scan(&s.ID, &s.MeetingID, &summaryType, &contentJSON, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, apperr.WrapFatal(fmt.Errorf("scan summary: %w", err))
	}
	s.Type = models.SummaryType(summaryType)
	if err := json.Unmarshal(contentJSON, &s.Content); err != nil {
		return nil, apperr.WrapFatal(fmt.Errorf("unmarshal summary content: %w", err))
	}
	return &s, nil
}

func scanSummaryRows(rows *sql.Rows) (*models.Summary, error) {
	var s models.Summary
	var contentJSON []byte
	var summaryType string

	if err := rows.Scan(&s.ID, &s.MeetingID, &summaryType, &contentJSON, &s.CreatedAt); err != nil {
		return nil, apperr.WrapFatal(fmt.Errorf("scan summary: %w", err))
	}
	s.Type = models.SummaryType(summaryType)
	if err := json.Unmarshal(contentJSON, &s.Content); err != nil {
		return nil, apperr.WrapFatal(fmt.Errorf("unmarshal summary content: %w", err))
	}
	return &s, nil
}
