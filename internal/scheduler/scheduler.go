// Package scheduler runs the periodic triggers: the mail poll and the retry
// sweep. Each trigger is non-reentrant; a tick that fires while the previous
// run is still going is skipped.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one periodic unit of work.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler drives the registered jobs on their intervals.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// New creates a new scheduler
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		logger: logger.With("component", "scheduler"),
	}
}

// Add registers a job to run at its interval.
func (s *Scheduler) Add(job Job) {
	s.cron.Schedule(cron.Every(job.Interval), cron.FuncJob(func() {
		start := time.Now()
		if err := job.Run(context.Background()); err != nil {
			s.logger.Error("job failed", "job", job.Name, "error", err)
			return
		}
		s.logger.Debug("job finished", "job", job.Name, "duration", time.Since(start))
	}))
	s.logger.Info("job registered", "job", job.Name, "interval", job.Interval)
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for in-flight jobs to drain.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
