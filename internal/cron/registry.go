package cron

import (
	"context"
	"fmt"
)

// Job represents a scheduled task that runs inside the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry tracks registered cron jobs in registration order.
type Registry struct {
	jobs  []Job
	names map[string]struct{}
}

func NewRegistry(jobs ...Job) *Registry {
	registry := &Registry{names: map[string]struct{}{}}
	for _, job := range jobs {
		_ = registry.Register(job)
	}
	return registry
}

// Register adds a job. Names must be unique since they key metrics and logs.
func (r *Registry) Register(job Job) error {
	if job == nil {
		return nil
	}
	if _, dup := r.names[job.Name()]; dup {
		return fmt.Errorf("cron job %q already registered", job.Name())
	}
	r.names[job.Name()] = struct{}{}
	r.jobs = append(r.jobs, job)
	return nil
}

// Jobs returns the registered jobs in the order they were added.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}
