package fulfillment

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/angelmondragon/keydrop-backend/pkg/logger"
	"github.com/angelmondragon/keydrop-backend/pkg/redis"
)

// WakeChannel is the redis channel fulfillment workers listen on.
const WakeChannel = "fulfillment:wake"

// Trigger asks for a batch to run soon. It never blocks the caller on the batch.
type Trigger interface {
	Trigger(ctx context.Context)
}

// BatchRunner is the part of Service a trigger drives.
type BatchRunner interface {
	ProcessBatch(ctx context.Context) ([]JobResult, error)
}

// NoopTrigger leaves all work to the worker ticker.
type NoopTrigger struct{}

func (NoopTrigger) Trigger(context.Context) {}

// LocalTrigger runs a batch in-process. Concurrent triggers share one run.
type LocalTrigger struct {
	runner  BatchRunner
	logg    *logger.Logger
	timeout time.Duration
	group   singleflight.Group
	wg      sync.WaitGroup
}

func NewLocalTrigger(runner BatchRunner, timeout time.Duration, logg *logger.Logger) *LocalTrigger {
	if logg == nil {
		logg = logger.Nop()
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &LocalTrigger{runner: runner, logg: logg, timeout: timeout}
}

func (t *LocalTrigger) Trigger(ctx context.Context) {
	runCtx := context.WithoutCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		_, err, shared := t.group.Do("batch", func() (any, error) {
			c, cancel := context.WithTimeout(runCtx, t.timeout)
			defer cancel()
			return t.runner.ProcessBatch(c)
		})
		if err != nil && !shared {
			t.logg.Error(runCtx, "triggered fulfillment batch failed", err)
		}
	}()
}

// Wait blocks until every triggered run has returned.
func (t *LocalTrigger) Wait() {
	t.wg.Wait()
}

type publisher interface {
	Publish(ctx context.Context, channel string, message any) error
	ChannelName(name string) string
}

// RedisTrigger wakes the fulfillment workers through redis pub/sub.
type RedisTrigger struct {
	redis publisher
	logg  *logger.Logger
}

func NewRedisTrigger(client *redis.Client, logg *logger.Logger) *RedisTrigger {
	if logg == nil {
		logg = logger.Nop()
	}
	return &RedisTrigger{redis: client, logg: logg}
}

func (t *RedisTrigger) Trigger(ctx context.Context) {
	if err := t.redis.Publish(ctx, t.redis.ChannelName(WakeChannel), "run"); err != nil {
		t.logg.Warn(t.logg.WithField(ctx, "error", err.Error()), "fulfillment wake-up not published")
	}
}
