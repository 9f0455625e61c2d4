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

// MeetingRepository persists Meeting rows.
type MeetingRepository struct {
	db Querier
}

// NewMeetingRepository constructs a MeetingRepository over db.
func NewMeetingRepository(db Querier) *MeetingRepository {
	return &MeetingRepository{db: db}
}

// Create inserts a new meeting and returns it.
func (r *MeetingRepository) Create(ctx context.Context, title string, metadata map[string]string) (*models.Meeting, error) {
	if metadata == nil {
		metadata = map[string]string{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal meeting metadata: %w", err)
	}

	id := uuid.NewString()
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO meetings (id, title, metadata) VALUES ($1, $2, $3)
		 RETURNING id, title, metadata, created_at, finalized, finalized_at`,
		id, title, metaJSON,
	)

	return scanMeeting(row)
}

// GetByID loads a meeting by id, returning apperr.ErrNotFound if absent.
func (r *MeetingRepository) GetByID(ctx context.Context, meetingID string) (*models.Meeting, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, title, metadata, created_at, finalized, finalized_at FROM meetings WHERE id = $1`,
		meetingID,
	)
	return scanMeeting(row)
}

// Finalize sets finalized=true and finalized_at=now() exactly once. It
// returns apperr.ErrConflict if the meeting was already finalized, and
// apperr.ErrNotFound if the meeting does not exist, so callers can
// implement the finalize endpoint's idempotent response by checking for
// conflict specifically (not a hard error).
func (r *MeetingRepository) Finalize(ctx context.Context, meetingID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE meetings SET finalized = true, finalized_at = now()
		 WHERE id = $1 AND NOT finalized`,
		meetingID,
	)
	if err != nil {
		return apperr.WrapFatal(fmt.Errorf("finalize meeting %s: %w", meetingID, err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperr.WrapFatal(fmt.Errorf("finalize meeting %s: %w", meetingID, err))
	}
	if affected == 1 {
		return nil
	}

	if _, err := r.GetByID(ctx, meetingID); err != nil {
		return err
	}
	return apperr.ErrConflict
}

// CountActive returns the number of non-finalized meetings.
func (r *MeetingRepository) CountActive(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM meetings WHERE NOT finalized`).Scan(&count); err != nil {
		return 0, apperr.WrapFatal(fmt.Errorf("count active meetings: %w", err))
	}
	return count, nil
}

// ListActive returns every non-finalized meeting, for the batch monitor's
// periodic sweep over candidates that might have crossed the token
// threshold without an ingest-side enqueue.
func (r *MeetingRepository) ListActive(ctx context.Context) ([]models.Meeting, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, metadata, created_at, finalized, finalized_at FROM meetings WHERE NOT finalized`,
	)
	if err != nil {
		return nil, apperr.WrapFatal(fmt.Errorf("list active meetings: %w", err))
	}
	defer rows.Close()

	var meetings []models.Meeting
	for rows.Next() {
		var m models.Meeting
		var metaJSON []byte
		var finalizedAt sql.NullTime
		if err := rows.Scan(&m.ID, &m.Title, &metaJSON, &m.CreatedAt, &m.Finalized, &finalizedAt); err != nil {
			return nil, apperr.WrapFatal(fmt.Errorf("scan active meeting: %w", err))
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &m.Metadata); err != nil {
				return nil, apperr.WrapFatal(fmt.Errorf("unmarshal meeting metadata: %w", err))
			}
		}
		if finalizedAt.Valid {
			t := finalizedAt.Time
			m.FinalizedAt = &t
		}
		meetings = append(meetings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.WrapFatal(fmt.Errorf("iterate active meetings: %w", err))
	}
	return meetings, nil
}

func scanMeeting(row *sql.Row) (*models.Meeting, error) {
	var m models.Meeting
	var metaJSON []byte
	var finalizedAt sql.NullTime

	if err := row.Scan(&m.ID, &m.Title, &metaJSON, &m.CreatedAt, &m.Finalized, &finalizedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, apperr.WrapFatal(fmt.Errorf("scan meeting: %w", err))
	}

	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &m.Metadata); err != nil {
			return nil, apperr.WrapFatal(fmt.Errorf("unmarshal meeting metadata: %w", err))
		}
	}
	if finalizedAt.Valid {
		t := finalizedAt.Time
		m.FinalizedAt = &t
	}
	return &m, nil
}
