package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/open-meetsum/meetsum/pkg/apperr"
	"github.com/open-meetsum/meetsum/pkg/models"
)

// ErrNoJobAvailable indicates ClaimNext found nothing pending — a normal
// condition, not a failure.
var ErrNoJobAvailable = errors.New("no job available")

// JobRepository persists Job rows and implements the exactly-once claim
// used by the job engine's worker loops. ClaimNext needs a *sql.DB (not
// the narrower Querier) because it owns its own transaction.
type JobRepository struct {
	db *sql.DB
}

// NewJobRepository constructs a JobRepository over the shared pool.
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new pending job.
func (r *JobRepository) Create(ctx context.Context, meetingID string, jobType models.JobType, payload map[string]any) (*models.Job, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}

	id := uuid.NewString()
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO jobs (id, meeting_id, type, payload) VALUES ($1, $2, $3, $4)
		 RETURNING id, meeting_id, type, payload, status, attempts, last_error, created_at, updated_at, completed_at`,
		id, meetingID, string(jobType), payloadJSON,
	)
	return scanJob(row)
}

// GetByID loads a job by id.
func (r *JobRepository) GetByID(ctx context.Context, jobID string) (*models.Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, meeting_id, type, payload, status, attempts, last_error, created_at, updated_at, completed_at
		 FROM jobs WHERE id = $1`,
		jobID,
	)
	return scanJob(row)
}

// List returns up to limit jobs, most recently created first.
func (r *JobRepository) List(ctx context.Context, limit int) ([]models.Job, int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, meeting_id, type, payload, status, attempts, last_error, created_at, updated_at, completed_at
		 FROM jobs ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, 0, apperr.WrapFatal(fmt.Errorf("list jobs: %w", err))
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		j, err := scanJobRows(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.WrapFatal(fmt.Errorf("iterate jobs: %w", err))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`).Scan(&total); err != nil {
		return nil, 0, apperr.WrapFatal(fmt.Errorf("count jobs: %w", err))
	}

	return jobs, total, nil
}

// CountByStatus returns the number of jobs currently in status.
func (r *JobRepository) CountByStatus(ctx context.Context, status models.JobStatus) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE status = $1`, string(status)).Scan(&count)
	if err != nil {
		return 0, apperr.WrapFatal(fmt.Errorf("count jobs by status %s: %w", status, err))
	}
	return count, nil
}

// HasActive reports whether meetingID already has a pending or processing
// job of jobType. The batch monitor uses this to avoid stacking redundant
// CHUNK_SUMMARY enqueues sweep after sweep (duplicates would still be
// harmless downstream, the chunker re-runs over all segments and the merger
// dedupes, but there is no reason to burn inference calls on them).
func (r *JobRepository) HasActive(ctx context.Context, meetingID string, jobType models.JobType) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		    SELECT 1 FROM jobs
		    WHERE meeting_id = $1 AND type = $2 AND status IN ($3, $4))`,
		meetingID, string(jobType), string(models.JobStatusPending), string(models.JobStatusProcessing),
	).Scan(&exists)
	if err != nil {
		return false, apperr.WrapFatal(fmt.Errorf("check active %s job for meeting %s: %w", jobType, meetingID, err))
	}
	return exists, nil
}

// ClaimNext atomically claims the oldest pending job via SELECT ... FOR
// UPDATE SKIP LOCKED, so at most one worker ever holds a given job.
// Returns ErrNoJobAvailable if nothing is pending.
func (r *JobRepository) ClaimNext(ctx context.Context) (*models.Job, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.WrapFatal(fmt.Errorf("begin claim transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT id, meeting_id, type, payload, status, attempts, last_error, created_at, updated_at, completed_at
		 FROM jobs WHERE status = $1 ORDER BY created_at LIMIT 1 FOR UPDATE SKIP LOCKED`,
		string(models.JobStatusPending),
	)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, ErrNoJobAvailable
		}
		return nil, err
	}

	// Claiming counts as an attempt: attempts tracks claim cycles, not
	// just failures, so a job that succeeds on its third claim reports
	// attempts = 3.
	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = $1, attempts = attempts + 1, updated_at = now() WHERE id = $2`,
		string(models.JobStatusProcessing), job.ID,
	); err != nil {
		return nil, apperr.WrapFatal(fmt.Errorf("claim job %s: %w", job.ID, err))
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.WrapFatal(fmt.Errorf("commit claim for job %s: %w", job.ID, err))
	}

	job.Status = models.JobStatusProcessing
	job.Attempts++
	return job, nil
}

// CreateTx inserts a new pending job using tx, so the insert commits
// atomically with other writes in the same transaction. The finalize flow
// needs this: flipping Meeting.Finalized and creating the finalization
// jobs must be indivisible, or a reader could observe a finalized meeting
// whose jobs are absent.
func (r *JobRepository) CreateTx(ctx context.Context, tx *sql.Tx, meetingID string, jobType models.JobType, payload map[string]any) (*models.Job, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}

	id := uuid.NewString()
	row := tx.QueryRowContext(ctx,
		`INSERT INTO jobs (id, meeting_id, type, payload) VALUES ($1, $2, $3, $4)
		 RETURNING id, meeting_id, type, payload, status, attempts, last_error, created_at, updated_at, completed_at`,
		id, meetingID, string(jobType), payloadJSON,
	)
	return scanJob(row)
}

// Complete marks jobID completed.
func (r *JobRepository) Complete(ctx context.Context, jobID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = $1, updated_at = now(), completed_at = now() WHERE id = $2`,
		string(models.JobStatusCompleted), jobID,
	)
	if err != nil {
		return apperr.WrapFatal(fmt.Errorf("complete job %s: %w", jobID, err))
	}
	return nil
}

// RequeueWithBackoff settles a failed attempt in one atomic statement:
// the attempt count was already taken at claim time, so this either
// returns the job to pending (caller then sleeps base^attempts before
// its next claim) or, once attempts have reached maxRetries, marks it
// failed. errMsg is recorded as last_error either way.
func (r *JobRepository) RequeueWithBackoff(ctx context.Context, jobID string, errMsg string, maxRetries int) (attempts int, failed bool, err error) {
	var status string
	row := r.db.QueryRowContext(ctx,
		`UPDATE jobs
		 SET last_error = $1,
		     status = CASE WHEN attempts >= $2 THEN $3 ELSE $4 END,
		     updated_at = now(),
		     completed_at = CASE WHEN attempts >= $2 THEN now() ELSE completed_at END
		 WHERE id = $5
		 RETURNING attempts, status`,
		errMsg, maxRetries, string(models.JobStatusFailed), string(models.JobStatusPending), jobID,
	)
	if err := row.Scan(&attempts, &status); err != nil {
		return 0, false, apperr.WrapFatal(fmt.Errorf("requeue job %s: %w", jobID, err))
	}

	return attempts, status == string(models.JobStatusFailed), nil
}

// Fail marks jobID failed immediately, bypassing the attempts/backoff path
// entirely. Used for the Fatal error class: a repository consistency
// violation or unrecoverable I/O error should not consume a retry slot
// pretending the next attempt might succeed.
func (r *JobRepository) Fail(ctx context.Context, jobID string, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = $1, last_error = $2, updated_at = now(), completed_at = now() WHERE id = $3`,
		string(models.JobStatusFailed), reason, jobID,
	)
	if err != nil {
		return apperr.WrapFatal(fmt.Errorf("fail job %s: %w", jobID, err))
	}
	return nil
}

// DeleteTerminalOlderThan removes completed/failed jobs whose completed_at
// predates cutoff, for the retention sweeper. Jobs in pending/processing
// are never touched.
func (r *JobRepository) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status IN ($1, $2) AND completed_at < $3`,
		string(models.JobStatusCompleted), string(models.JobStatusFailed), cutoff,
	)
	if err != nil {
		return 0, apperr.WrapFatal(fmt.Errorf("delete terminal jobs older than %s: %w", cutoff, err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, apperr.WrapFatal(fmt.Errorf("count deleted terminal jobs: %w", err))
	}
	return int(affected), nil
}

// CompleteNonRetryable marks jobID completed with no output produced, for
// the malformed-LLM-output / missing-prerequisite class of failure that
// must not consume retry attempts.
func (r *JobRepository) CompleteNonRetryable(ctx context.Context, jobID string, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = $1, last_error = $2, updated_at = now(), completed_at = now() WHERE id = $3`,
		string(models.JobStatusCompleted), reason, jobID,
	)
	if err != nil {
		return apperr.WrapFatal(fmt.Errorf("complete non-retryable job %s: %w", jobID, err))
	}
	return nil
}

func scanJob(row *sql.Row) (*models.Job, error) {
	var j models.Job
	var jobType, status string
	var payloadJSON []byte
	var completedAt sql.NullTime

	if err := row.Scan(&j.ID, &j.MeetingID, &jobType, &payloadJSON, &status, &j.Attempts, &j.LastError, &j.CreatedAt, &j.UpdatedAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, apperr.WrapFatal(fmt.Errorf("scan job: %w", err))
	}
	return finishJobScan(&j, jobType, status, payloadJSON, completedAt)
}

func scanJobRows(rows *sql.Rows) (*models.Job, error) {
	var j models.Job
	var jobType, status string
	var payloadJSON []byte
	var completedAt sql.NullTime

	if err := rows.Scan(&j.ID, &j.MeetingID, &jobType, &payloadJSON, &status, &j.Attempts, &j.LastError, &j.CreatedAt, &j.UpdatedAt, &completedAt); err != nil {
		return nil, apperr.WrapFatal(fmt.Errorf("scan job: %w", err))
	}
	return finishJobScan(&j, jobType, status, payloadJSON, completedAt)
}

func finishJobScan(j *models.Job, jobType, status string, payloadJSON []byte, completedAt sql.NullTime) (*models.Job, error) {
	j.Type = models.JobType(jobType)
	j.Status = models.JobStatus(status)
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &j.Payload); err != nil {
			return nil, apperr.WrapFatal(fmt.Errorf("unmarshal job payload: %w", err))
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return j, nil
}
