// Package queue runs the job engine's worker pool: N goroutines that poll
// store.JobRepository for pending jobs, dispatch each through a Dispatcher,
// and apply the retry/backoff policy on failure.
package queue

import "time"

// WorkerStatus is a worker's current activity for health reporting.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth snapshots one worker's state.
type WorkerHealth struct {
	ID            string       `json:"id"`
	Status        WorkerStatus `json:"status"`
	CurrentJobID  string       `json:"current_job_id,omitempty"`
	JobsProcessed int          `json:"jobs_processed"`
	LastActivity  time.Time    `json:"last_activity"`
}

// PoolHealth snapshots the whole worker pool, surfaced by GET /healthz.
type PoolHealth struct {
	PodID         string         `json:"pod_id"`
	ActiveWorkers int            `json:"active_workers"`
	TotalWorkers  int            `json:"total_workers"`
	QueueDepth    int            `json:"queue_depth"`
	DBReachable   bool           `json:"db_reachable"`
	DBError       string         `json:"db_error,omitempty"`
	WorkerStats   []WorkerHealth `json:"worker_stats"`
}
