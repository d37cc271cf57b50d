// Package scheduler drives the cron-style jobs: settlement cycles, the
// webhook retry pump, and billing renewal. Jobs run on fixed tickers and
// skip a tick if the previous run is still in flight.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error

	mu sync.Mutex
}

type Scheduler struct {
	jobs []*Job
}

func New(jobs ...*Job) *Scheduler {
	return &Scheduler{jobs: jobs}
}

// Start runs every job's ticker until the context is cancelled. Blocks.
func (s *Scheduler) Start(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		wg.Add(1)
		go func(j *Job) {
			defer wg.Done()
			s.runJob(ctx, j)
		}(job)
	}
	wg.Wait()
	return ctx.Err()
}

func (s *Scheduler) runJob(ctx context.Context, job *Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	log.Info().Str("job", job.Name).Dur("interval", job.Interval).Msg("job scheduled")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("job", job.Name).Msg("job stopped")
			return
		case <-ticker.C:
			s.trigger(ctx, job)
		}
	}
}

// trigger runs a job unless the previous invocation is still running, so
// overlapping ticks never execute concurrently.
func (s *Scheduler) trigger(ctx context.Context, job *Job) {
	if !job.mu.TryLock() {
		log.Warn().Str("job", job.Name).Msg("previous run still in progress, skipping tick")
		return
	}
	defer job.mu.Unlock()

	start := time.Now()
	if err := job.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Str("job", job.Name).Msg("job run failed")
		return
	}
	log.Info().Str("job", job.Name).Dur("took", time.Since(start)).Msg("job run finished")
}
