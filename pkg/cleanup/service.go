// Package cleanup provides data retention for terminal job rows.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/open-meetsum/meetsum/pkg/config"
	"github.com/open-meetsum/meetsum/pkg/store"
)

// Service periodically deletes completed/failed jobs past their retention
// window. All operations are idempotent and safe to run from multiple pods.
type Service struct {
	config config.RetentionConfig
	jobs   *store.JobRepository

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg config.RetentionConfig, jobs *store.JobRepository) *Service {
	return &Service{config: cfg, jobs: jobs}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("cleanup service started",
		"terminal_job_retention", s.config.TerminalJobRetention,
		"interval", s.config.SweepInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.config.SweepInterval)
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

func (s *Service) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.TerminalJobRetention)
	count, err := s.jobs.DeleteTerminalOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("retention: terminal job cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("retention: deleted terminal jobs", "count", count)
	}
}
