package cron

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/keydrop-backend/pkg/logger"
	"github.com/angelmondragon/keydrop-backend/pkg/metrics"
)

type fakeLock struct {
	acquired bool
	releases int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.acquired {
		return false, nil
	}
	f.acquired = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.acquired = false
	f.releases++
	return nil
}

type testJob struct {
	name  string
	err   error
	panic bool
	runs  int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	if t.panic {
		panic("job exploded")
	}
	return t.err
}

func newTestService(t *testing.T, lock Lock, jobs ...Job) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: NewRegistry(jobs...),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.NewRegistry()),
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	return service
}

func TestServiceRunCycleRunsAllJobsEvenOnFailure(t *testing.T) {
	success := &testJob{name: "success"}
	failure := &testJob{name: "fail", err: errors.New("boom")}
	crash := &testJob{name: "crash", panic: true}
	after := &testJob{name: "after"}
	lock := &fakeLock{}
	service := newTestService(t, lock, success, failure, crash, after)

	ran, err := service.RunOnce(context.Background())
	if !ran {
		t.Fatal("expected cycle to run")
	}
	if err == nil {
		t.Fatal("expected combined job errors")
	}
	if !strings.Contains(err.Error(), "fail: boom") || !strings.Contains(err.Error(), "crash: panic") {
		t.Fatalf("unexpected error %v", err)
	}
	for _, job := range []*testJob{success, failure, crash, after} {
		if job.runs != 1 {
			t.Fatalf("expected %s to run once, ran %d", job.name, job.runs)
		}
	}
	if lock.releases != 1 {
		t.Fatalf("expected lock released once, got %d", lock.releases)
	}
}

func TestServiceSkipsCycleWhenLockHeld(t *testing.T) {
	job := &testJob{name: "only"}
	service := newTestService(t, &fakeLock{acquired: true}, job)

	ran, err := service.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if ran || job.runs != 0 {
		t.Fatalf("expected cycle to be skipped, ran=%v runs=%d", ran, job.runs)
	}
}

type deadlineJob struct{ sawDeadline bool }

func (d *deadlineJob) Name() string { return "deadline" }

func (d *deadlineJob) Run(ctx context.Context) error {
	_, d.sawDeadline = ctx.Deadline()
	return nil
}

func TestServiceAppliesJobTimeout(t *testing.T) {
	job := &deadlineJob{}
	service, err := NewService(ServiceParams{
		Logger:     logger.Nop(),
		Registry:   NewRegistry(job),
		Lock:       &fakeLock{},
		JobTimeout: time.Minute,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if _, err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !job.sawDeadline {
		t.Fatal("expected job context to carry a deadline")
	}
}
