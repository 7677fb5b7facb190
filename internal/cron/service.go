package cron

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/keydrop-backend/pkg/logger"
	"github.com/angelmondragon/keydrop-backend/pkg/metrics"
)

const defaultInterval = time.Hour

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	// JobTimeout bounds a single job. Zero means the job shares the cycle context.
	JobTimeout time.Duration
}

// Service executes registered cron jobs on a fixed cadence. Only the replica
// holding the lock runs a cycle; a failing job never stops the others.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	lock       Lock
	metrics    *metrics.CronJobMetrics
	interval   time.Duration
	jobTimeout time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		logg:       params.Logger,
		registry:   registry,
		lock:       params.Lock,
		metrics:    params.Metrics,
		interval:   interval,
		jobTimeout: params.JobTimeout,
	}, nil
}

// Run executes a cycle immediately and then once per interval until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	if _, err := s.runCycle(ctx); err != nil {
		s.logg.Error(ctx, "scheduled run failed", err)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.runCycle(ctx); err != nil {
				s.logg.Error(ctx, "scheduled run failed", err)
			}
		}
	}
}

// RunOnce executes a single cycle and returns the combined job errors. It
// reports false when another replica held the lock.
func (s *Service) RunOnce(ctx context.Context) (bool, error) {
	return s.runCycle(ctx)
}

func (s *Service) runCycle(ctx context.Context) (bool, error) {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Info(ctx, "another cron instance is running; skipping this cycle")
		return false, nil
	}
	defer func() {
		if relErr := s.lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()

	s.logg.Info(ctx, "scheduled run starting")
	var errs error
	for _, job := range s.registry.Jobs() {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		if err := s.runJob(ctx, job); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", job.Name(), err))
		}
	}
	s.logg.Info(s.logg.WithField(ctx, "failed_jobs", len(multierr.Errors(errs))), "scheduled run complete")
	return true, errs
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": job.Name(), "event": "cron.job"})
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(jobCtx, s.jobTimeout)
		defer cancel()
	}
	s.logg.Info(jobCtx, "job start")
	start := time.Now()
	err := safeRun(jobCtx, job)
	duration := time.Since(start)
	s.metrics.ObserveDuration(job.Name(), duration)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		s.metrics.IncFailure(job.Name())
		return err
	}
	s.logg.Info(jobCtx, "job completed")
	s.metrics.IncSuccess(job.Name())
	return nil
}

func safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return job.Run(ctx)
}
