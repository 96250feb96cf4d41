// Package jobs runs the periodic maintenance work of the service.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"requestanalytics/internal/pkg/errreport"
)

// Job is one periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs jobs on tickers. Only one job executes at a time; a tick
// that arrives while another job is running is skipped.
type Scheduler struct {
	logger    *slog.Logger
	jobs      []Job
	ctx       context.Context
	cancel    context.CancelFunc
	isRunning bool
	wg        sync.WaitGroup
	mu        sync.Mutex

	// held while a job executes
	busy sync.Mutex
}

// NewScheduler returns a stopped scheduler for jobs.
func NewScheduler(logger *slog.Logger, jobs ...Job) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger: logger,
		jobs:   jobs,
		ctx:    ctx,
		cancel: cancel,
	}
}

// NewPruneSchedule wraps a PruneJob for the scheduler.
func NewPruneSchedule(job *PruneJob, interval time.Duration) Job {
	return Job{
		Name:     "prune",
		Interval: interval,
		Run: func(ctx context.Context) error {
			_, err := job.Run(ctx)
			return err
		},
	}
}

// runOnce executes job unless another job holds the scheduler. Panics are
// logged and reported instead of killing the process.
func (s *Scheduler) runOnce(job Job) {
	if !s.busy.TryLock() {
		s.logger.Debug("Job skipped, another job is running", slog.String("job", job.Name))
		return
	}
	defer s.busy.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Job panicked", slog.String("job", job.Name), slog.Any("panic", r))
			errreport.Capture(fmt.Errorf("job %s panicked: %v", job.Name, r), "jobs", map[string]string{"job": job.Name})
		}
	}()

	started := time.Now()
	if err := job.Run(s.ctx); err != nil {
		s.logger.Error("Job failed", slog.String("job", job.Name), slog.Any("error", err))
		errreport.Capture(err, "jobs", map[string]string{"job": job.Name})
		return
	}
	s.logger.Debug("Job finished", slog.String("job", job.Name), slog.Duration("took", time.Since(started)))
}

// Start runs every job once and then on its interval.
// Implements cartridge.BackgroundWorker.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}
	if s.ctx.Err() != nil {
		return fmt.Errorf("scheduler was stopped")
	}
	s.isRunning = true

	for _, job := range s.jobs {
		s.startJob(job)
	}

	s.logger.Info("Scheduler started", slog.Int("jobs", len(s.jobs)))
	return nil
}

func (s *Scheduler) startJob(job Job) {
	interval := job.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	s.logger.Info("Scheduling job", slog.String("job", job.Name), slog.Duration("every", interval))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.runOnce(job)
		for {
			select {
			case <-ticker.C:
				s.runOnce(job)
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

// Stop halts all jobs and waits for the running one to return.
// Implements cartridge.BackgroundWorker.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.isRunning = false
	s.mu.Unlock()
	s.logger.Info("Scheduler stopped")
}

// IsRunning reports whether Start has been called without a matching Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}
