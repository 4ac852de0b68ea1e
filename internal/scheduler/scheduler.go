// Package scheduler wraps cron for the maintenance jobs: WAL checkpoints,
// archive pruning and ledger backups. Reconciliation itself is never
// scheduled here; it runs on demand from the read and order paths.
package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one recurring maintenance task.
type Job interface {
	Run() error
	Name() string
}

// Scheduler manages the maintenance jobs
type Scheduler struct {
	cron *cron.Cron
	jobs []string
	log  zerolog.Logger
}

// New creates a new scheduler
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.jobs)).Msg("Maintenance scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Maintenance scheduler stopped")
}

// Register schedules a job. The schedule uses six-field cron syntax with
// seconds, e.g. "0 0 3 * * *" for 03:00 daily.
func (s *Scheduler) Register(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		start := time.Now()
		if err := job.Run(); err != nil {
			s.log.Error().Err(err).Str("job", job.Name()).Msg("Maintenance job failed")
			return
		}
		s.log.Debug().
			Str("job", job.Name()).
			Dur("duration", time.Since(start)).
			Msg("Maintenance job completed")
	})
	if err != nil {
		return err
	}

	s.jobs = append(s.jobs, job.Name())
	s.log.Info().Str("schedule", schedule).Str("job", job.Name()).Msg("Maintenance job registered")

	return nil
}

// Jobs returns the registered job names, for the system status endpoint.
func (s *Scheduler) Jobs() []string {
	out := make([]string, len(s.jobs))
	copy(out, s.jobs)
	return out
}
