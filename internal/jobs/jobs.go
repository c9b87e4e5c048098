// Package jobs runs the periodic maintenance work: reconciling enforcement
// state and rolling analytics over at local midnight.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/goodtune/focusguard/internal/metrics"
)

// Job names
const (
	JobReconcile = "reconcile"
	JobRollover  = "rollover"
)

// Target is the work the jobs drive.
type Target interface {
	Reconcile(ctx context.Context) error
	RollOver(ctx context.Context) error
}

// Options configures the runner
type Options struct {
	Clock             clockwork.Clock
	Location          *time.Location
	ReconcileInterval time.Duration
	// Timeout bounds each job run.
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Runner schedules maintenance jobs on gocron
type Runner struct {
	scheduler gocron.Scheduler
	target    Target
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewRunner creates the scheduler and registers both jobs.
func NewRunner(target Target, opts Options) (*Runner, error) {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.ReconcileInterval <= 0 {
		return nil, fmt.Errorf("reconcile interval must be positive, got %s", opts.ReconcileInterval)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	s, err := gocron.NewScheduler(
		gocron.WithClock(opts.Clock),
		gocron.WithLocation(opts.Location),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	r := &Runner{
		scheduler: s,
		target:    target,
		timeout:   opts.Timeout,
		logger:    opts.Logger.With().Str("component", "jobs").Logger(),
	}

	if _, err := s.NewJob(
		gocron.DurationJob(opts.ReconcileInterval),
		gocron.NewTask(r.runJob, JobReconcile),
		gocron.WithName(JobReconcile),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("failed to create reconcile job: %w", err)
	}

	if _, err := s.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 0, 0))),
		gocron.NewTask(r.runJob, JobRollover),
		gocron.WithName(JobRollover),
	); err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("failed to create rollover job: %w", err)
	}

	return r, nil
}

// Start begins running jobs
func (r *Runner) Start() {
	r.scheduler.Start()
	r.logger.Info().Int("jobs", len(r.scheduler.Jobs())).Msg("Maintenance jobs started")
}

// Stop waits for running jobs and shuts the scheduler down
func (r *Runner) Stop() error {
	r.logger.Info().Msg("Stopping maintenance jobs")
	return r.scheduler.Shutdown()
}

// NextRun returns when the named job is next due.
func (r *Runner) NextRun(name string) (time.Time, error) {
	for _, j := range r.scheduler.Jobs() {
		if j.Name() == name {
			return j.NextRun()
		}
	}
	return time.Time{}, fmt.Errorf("unknown job %q", name)
}

func (r *Runner) runJob(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	var err error
	switch name {
	case JobReconcile:
		err = r.target.Reconcile(ctx)
	case JobRollover:
		err = r.target.RollOver(ctx)
	default:
		err = fmt.Errorf("unknown job %q", name)
	}

	if err != nil {
		metrics.JobRuns.WithLabelValues(name, "error").Inc()
		r.logger.Error().Err(err).Str("job", name).Msg("Scheduled job failed")
		return
	}

	metrics.JobRuns.WithLabelValues(name, "success").Inc()
	r.logger.Debug().Str("job", name).Msg("Scheduled job complete")
}
