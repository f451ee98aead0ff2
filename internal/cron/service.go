package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/piratar/members-sync/pkg/logger"
	"github.com/piratar/members-sync/pkg/metrics"
)

const defaultInterval = 24 * time.Hour

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
}

// Service is the retention sweeper. Every cycle takes the shared lock, runs
// each job in registration order and keeps going past failures.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
	now      func() time.Time
}

// Result is the outcome of one job in a sweep.
type Result struct {
	Job      string
	Duration time.Duration
	Err      error
}

// Report lists what a sweep ran.
type Report struct {
	Started time.Time
	Results []Result
}

// Err combines every failed job's error, nil when all succeeded.
func (r Report) Err() error {
	var errs error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", res.Job, res.Err))
		}
	}
	return errs
}

func (r Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Lock == nil {
		return nil, errors.New("lock required")
	}
	svc := &Service{
		logg:     params.Logger,
		registry: params.Registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: params.Interval,
		now:      time.Now,
	}
	if svc.registry == nil {
		svc.registry = NewRegistry()
	}
	if svc.interval <= 0 {
		svc.interval = defaultInterval
	}
	return svc, nil
}

// Run sweeps once immediately and then every interval until ctx ends. A
// cycle that finds the lock held elsewhere is skipped.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.scheduled(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) scheduled(ctx context.Context) {
	report, err := s.sweep(ctx, s.registry.Jobs())
	switch {
	case errors.Is(err, ErrLockHeld):
		s.logg.Info(ctx, "sweep skipped, lock held by another instance")
	case err != nil:
		s.logg.Error(ctx, "sweep could not start", err)
	case report.Failed() > 0:
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"jobs":   len(report.Results),
			"failed": report.Failed(),
		}), "sweep finished with failures")
	}
}

// RunNow sweeps the named jobs once, or every job when names is empty. It
// returns ErrLockHeld rather than waiting for another sweeper.
func (s *Service) RunNow(ctx context.Context, names ...string) (Report, error) {
	jobs, err := s.registry.Select(names...)
	if err != nil {
		return Report{}, err
	}
	report, err := s.sweep(ctx, jobs)
	if err != nil {
		return report, err
	}
	return report, report.Err()
}

func (s *Service) sweep(ctx context.Context, jobs []Job) (Report, error) {
	report := Report{Started: s.now()}
	ok, err := s.lock.Acquire(ctx)
	if err != nil {
		return report, fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !ok {
		return report, ErrLockHeld
	}
	defer func() {
		if held, ok := s.lock.(interface{ HeldFor() time.Duration }); ok {
			ctx = s.logg.WithField(ctx, "lock_held_ms", held.HeldFor().Milliseconds())
		}
		if err := s.lock.Release(ctx); err != nil {
			s.logg.Error(ctx, "release sweep lock", err)
			return
		}
		s.logg.Info(ctx, "sweep lock released")
	}()

	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		report.Results = append(report.Results, s.runJob(ctx, job))
	}
	return report, nil
}

func (s *Service) runJob(ctx context.Context, job Job) Result {
	ctx = s.logg.WithFields(ctx, map[string]any{"job": job.Name(), "event": "cron.job"})
	start := s.now()
	err := job.Run(ctx)
	res := Result{Job: job.Name(), Duration: s.now().Sub(start), Err: err}
	s.metrics.ObserveRun(res.Job, res.Duration, err)

	ctx = s.logg.WithField(ctx, "duration_ms", res.Duration.Milliseconds())
	if err != nil {
		s.logg.Error(ctx, "job failed", err)
	} else {
		s.logg.Info(ctx, "job completed")
	}
	return res
}
