package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/open-meetsum/meetsum/pkg/config"
	"github.com/open-meetsum/meetsum/pkg/models"
	"github.com/open-meetsum/meetsum/pkg/store"
)

// Dispatcher runs one job's business logic. pipeline.Dispatcher satisfies
// this interface; declaring it here instead of importing pipeline keeps
// this package's dependency footprint to the job repository alone, and
// lets tests substitute a stub dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *models.Job) error
}

// WorkerPool manages a fixed-size pool of queue workers sharing one job
// repository and dispatcher.
type WorkerPool struct {
	podID       string
	jobs        *store.JobRepository
	config      config.QueueConfig
	pipelineCfg config.PipelineConfig
	dispatcher  Dispatcher
	workers     []*Worker
	started     bool
	wg          sync.WaitGroup
}

// NewWorkerPool constructs a WorkerPool. podID distinguishes workers across
// replicas in logs and health output. pipelineCfg supplies the retry policy
// (MaxRetries, BackoffBase) applied to each job's failures.
func NewWorkerPool(podID string, jobs *store.JobRepository, cfg config.QueueConfig, pipelineCfg config.PipelineConfig, dispatcher Dispatcher) *WorkerPool {
	return &WorkerPool{
		podID:       podID,
		jobs:        jobs,
		config:      cfg,
		pipelineCfg: pipelineCfg,
		dispatcher:  dispatcher,
		workers:     make([]*Worker, 0, cfg.WorkerCount),
	}
}

// Start spawns the configured number of worker goroutines. Safe to call
// once; a second call is a no-op.
func (p *WorkerPool) Start(ctx context.Context) {
	if p.started {
		slog.Warn("worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return
	}
	p.started = true

	slog.Info("starting worker pool", "pod_id", p.podID, "worker_count", p.config.WorkerCount)
	for i := 0; i < p.config.WorkerCount; i++ {
		w := newWorker(fmt.Sprintf("%s-worker-%d", p.podID, i), p.jobs, p.config, p.pipelineCfg, p.dispatcher)
		p.workers = append(p.workers, w)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run(ctx)
		}()
	}
}

// Stop signals every worker to stop after finishing its current job (best
// effort) and waits for them to exit.
func (p *WorkerPool) Stop() {
	slog.Info("stopping worker pool", "pod_id", p.podID)
	for _, w := range p.workers {
		w.stop()
	}
	p.wg.Wait()
	slog.Info("worker pool stopped")
}

// Health reports the pool's current state for GET /healthz.
func (p *WorkerPool) Health(ctx context.Context) PoolHealth {
	queueDepth, err := p.jobs.CountByStatus(ctx, models.JobStatusPending)
	dbReachable := err == nil
	var dbError string
	if err != nil {
		dbError = err.Error()
		slog.Error("failed to query queue depth for health check", "pod_id", p.podID, "error", err)
	}

	stats := make([]WorkerHealth, len(p.workers))
	active := 0
	for i, w := range p.workers {
		stats[i] = w.health()
		if stats[i].Status == WorkerStatusWorking {
			active++
		}
	}

	return PoolHealth{
		PodID:         p.podID,
		ActiveWorkers: active,
		TotalWorkers:  len(p.workers),
		QueueDepth:    queueDepth,
		DBReachable:   dbReachable,
		DBError:       dbError,
		WorkerStats:   stats,
	}
}
