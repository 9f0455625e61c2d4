package queue

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/open-meetsum/meetsum/pkg/apperr"
	"github.com/open-meetsum/meetsum/pkg/config"
	"github.com/open-meetsum/meetsum/pkg/models"
	"github.com/open-meetsum/meetsum/pkg/store"
)

// Worker is a single queue worker that polls for and processes jobs.
type Worker struct {
	id          string
	jobs        *store.JobRepository
	config      config.QueueConfig
	pipelineCfg config.PipelineConfig
	dispatcher  Dispatcher
	stopCh      chan struct{}
	stopOnce    sync.Once

	mu            sync.RWMutex
	status        WorkerStatus
	currentJobID  string
	jobsProcessed int
	lastActivity  time.Time
}

func newWorker(id string, jobs *store.JobRepository, cfg config.QueueConfig, pipelineCfg config.PipelineConfig, dispatcher Dispatcher) *Worker {
	return &Worker{
		id:           id,
		jobs:         jobs,
		config:       cfg,
		pipelineCfg:  pipelineCfg,
		dispatcher:   dispatcher,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// stop signals the worker to stop. Safe to call more than once.
func (w *Worker) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// health returns the current worker health snapshot.
func (w *Worker) health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        w.status,
		CurrentJobID:  w.currentJobID,
		JobsProcessed: w.jobsProcessed,
		LastActivity:  w.lastActivity,
	}
}

// run is the worker's poll loop: claim, dispatch, settle; repeat until
// stopped.
func (w *Worker) run(ctx context.Context) {
	log := slog.With("worker_id", w.id)
	log.Info("worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, store.ErrNoJobAvailable) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("error claiming or settling job", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

// sleep waits for d or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess claims the next pending job, dispatches it with a
// per-job timeout, and settles its terminal state.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	job, err := w.jobs.ClaimNext(ctx)
	if err != nil {
		return err
	}

	log := slog.With("job_id", job.ID, "job_type", job.Type, "worker_id", w.id)
	log.Info("job claimed")

	w.setStatus(WorkerStatusWorking, job.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	dispatchErr := w.dispatcher.Dispatch(jobCtx, job)
	if dispatchErr == nil {
		if err := w.jobs.Complete(ctx, job.ID); err != nil {
			log.Error("failed to mark job completed", "error", err)
			return err
		}
		w.recordProcessed()
		log.Info("job completed")
		return nil
	}

	w.settle(ctx, log, job, dispatchErr)
	w.recordProcessed()
	return nil
}

// settle applies the retry taxonomy to a dispatch failure: Fatal fails
// the job outright, MalformedLLM/missing-prerequisite
// completes it with no output, anything else (including Transient) goes
// through the attempts/backoff cycle up to MAX_RETRIES, sleeping this
// worker for the computed backoff interval before its next claim attempt.
func (w *Worker) settle(ctx context.Context, log *slog.Logger, job *models.Job, dispatchErr error) {
	switch {
	case errors.Is(dispatchErr, apperr.ErrFatal):
		if err := w.jobs.Fail(ctx, job.ID, dispatchErr.Error()); err != nil {
			log.Error("failed to mark job failed", "error", err)
		}
		log.Error("job failed fatally", "error", dispatchErr)

	case errors.Is(dispatchErr, apperr.ErrMalformedLLM):
		if err := w.jobs.CompleteNonRetryable(ctx, job.ID, dispatchErr.Error()); err != nil {
			log.Error("failed to complete non-retryable job", "error", err)
		}
		log.Warn("job completed with no output", "reason", dispatchErr)

	default:
		attempts, failed, err := w.jobs.RequeueWithBackoff(ctx, job.ID, dispatchErr.Error(), w.pipelineCfg.MaxRetries)
		if err != nil {
			log.Error("failed to requeue job", "error", err)
			return
		}
		if failed {
			log.Error("job exhausted retries, marked failed", "attempts", attempts, "error", dispatchErr)
			return
		}
		log.Warn("job failed transiently, requeued with backoff", "attempts", attempts, "error", dispatchErr)
		w.sleep(backoffDelay(w.pipelineCfg.BackoffBase, attempts))
	}
}

// pollInterval returns the base poll interval jittered within
// [base-jitter, base+jitter].
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentJobID = jobID
	w.lastActivity = time.Now()
}

func (w *Worker) recordProcessed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.jobsProcessed++
}

// backoffDelay computes the exponential delay before retrying a job,
// base^attempts seconds (base, base², base³, ... for attempts 1, 2, 3, ...),
// via cenkalti/backoff's ExponentialBackOff.
func backoffDelay(base float64, attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(base * float64(time.Second))
	b.Multiplier = base
	b.RandomizationFactor = 0
	b.MaxInterval = time.Hour
	b.MaxElapsedTime = 0
	// The constructor resets currentInterval to the library default
	// before the overrides above land; Reset again so the first
	// NextBackOff starts from our InitialInterval.
	b.Reset()

	var d time.Duration
	for i := 0; i < attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}
