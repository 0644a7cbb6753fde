// Package scheduler runs the scrape and enrichment jobs on cron
// schedules, suppressing overlapping firings.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/trailblaze-app/trailblaze-scraper/internal/metrics"
)

// Job is a named unit of scheduled work.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler wraps a cron runner. Each job gets an in-flight guard: a
// firing that lands while the previous one is still running is dropped
// and counted, never queued.
type Scheduler struct {
	cron *cron.Cron
	log  *zap.Logger

	mu   sync.Mutex
	jobs map[string]*jobState
}

type jobState struct {
	job     Job
	running atomic.Bool
}

// New builds a Scheduler.
func New(log *zap.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		jobs: make(map[string]*jobState),
		log:  log,
	}
}

// Add registers a job under its cron spec.
func (s *Scheduler) Add(ctx context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[job.Name]; dup {
		return fmt.Errorf("job %q already registered", job.Name)
	}

	state := &jobState{job: job}
	if _, err := s.cron.AddFunc(job.Spec, func() { s.fire(ctx, state) }); err != nil {
		return fmt.Errorf("schedule %q (%s): %w", job.Name, job.Spec, err)
	}
	s.jobs[job.Name] = state
	s.log.Info("job scheduled", zap.String("job", job.Name), zap.String("spec", job.Spec))
	return nil
}

func (s *Scheduler) fire(ctx context.Context, state *jobState) {
	if !state.running.CompareAndSwap(false, true) {
		metrics.ObserveDroppedFiring(state.job.Name)
		s.log.Warn("previous run still active, dropping firing",
			zap.String("job", state.job.Name))
		return
	}
	defer state.running.Store(false)

	if err := state.job.Run(ctx); err != nil {
		s.log.Error("scheduled run failed",
			zap.String("job", state.job.Name),
			zap.Error(err))
	}
}

// RunNow fires a job immediately, subject to the same overlap guard.
// It reports whether the job actually ran.
func (s *Scheduler) RunNow(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	state, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("unknown job %q", name)
	}
	if !state.running.CompareAndSwap(false, true) {
		metrics.ObserveDroppedFiring(name)
		return false, nil
	}
	defer state.running.Store(false)
	return true, state.job.Run(ctx)
}

// Start begins firing schedules and blocks until the context ends,
// then waits for in-flight runs to return.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	s.log.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.log.Info("scheduler stopped")
}
