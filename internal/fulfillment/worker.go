package fulfillment

import (
	"context"
	"time"

	"github.com/angelmondragon/keydrop-backend/pkg/logger"
	"github.com/angelmondragon/keydrop-backend/pkg/redis"
)

// Worker sweeps the queue on a ticker and whenever a wake-up arrives.
type Worker struct {
	runner   BatchRunner
	interval time.Duration
	logg     *logger.Logger
}

func NewWorker(runner BatchRunner, interval time.Duration, logg *logger.Logger) *Worker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Worker{runner: runner, interval: interval, logg: logg}
}

// Run blocks until ctx is done. wake may be nil.
func (w *Worker) Run(ctx context.Context, wake <-chan struct{}) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sweep(ctx, "startup")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.sweep(ctx, "ticker")
		case _, ok := <-wake:
			if !ok {
				wake = nil
				continue
			}
			w.sweep(ctx, "wake")
		}
	}
}

func (w *Worker) sweep(ctx context.Context, source string) {
	results, err := w.runner.ProcessBatch(ctx)
	if err != nil {
		w.logg.Error(w.logg.WithField(ctx, "source", source), "fulfillment sweep failed", err)
		return
	}
	if len(results) == 0 {
		return
	}
	counts := map[string]int{}
	for _, r := range results {
		counts[r.Status]++
	}
	w.logg.Info(w.logg.WithFields(ctx, map[string]any{
		"source":    source,
		"processed": len(results),
		"completed": counts[ResultCompleted],
		"retry":     counts[ResultRetry],
		"failed":    counts[ResultFailed],
	}), "fulfillment sweep finished")
}

// SubscribeWake turns redis wake-up messages into a coalescing channel. The
// channel closes when ctx ends or the subscription breaks.
func SubscribeWake(ctx context.Context, client *redis.Client, logg *logger.Logger) (<-chan struct{}, error) {
	sub, err := client.Subscribe(ctx, client.ChannelName(WakeChannel))
	if err != nil {
		return nil, err
	}
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					logg.Warn(ctx, "fulfillment wake-up subscription closed")
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}
