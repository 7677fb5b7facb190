package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/keydrop-backend/pkg/logger"
)

const (
	defaultPaymentTTL  = 24 * time.Hour
	defaultExpiryBatch = 200
)

type paymentExpirer interface {
	ExpireStale(ctx context.Context, ttl time.Duration, limit int) (int, error)
}

type PaymentExpiryJobParams struct {
	Logger    *logger.Logger
	Expirer   paymentExpirer
	TTL       time.Duration
	BatchSize int
}

// NewPaymentExpiryJob builds the job that cancels gateway orders whose
// payment never settled within the TTL.
func NewPaymentExpiryJob(params PaymentExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Expirer == nil {
		return nil, fmt.Errorf("payment expirer required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultPaymentTTL
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultExpiryBatch
	}
	return &paymentExpiryJob{logg: params.Logger, expirer: params.Expirer, ttl: ttl, batch: batch}, nil
}

type paymentExpiryJob struct {
	logg    *logger.Logger
	expirer paymentExpirer
	ttl     time.Duration
	batch   int
}

func (j *paymentExpiryJob) Name() string { return "payment-expiry" }

// Run drains stale payments batch by batch. A short batch means the backlog
// is empty; a batch with errors stops the loop so failing rows are not
// retried forever within one cycle.
func (j *paymentExpiryJob) Run(ctx context.Context) error {
	total := 0
	for {
		processed, err := j.expirer.ExpireStale(ctx, j.ttl, j.batch)
		total += processed
		if err != nil {
			return fmt.Errorf("payment expiry after %d payments: %w", total, err)
		}
		if processed < j.batch || ctx.Err() != nil {
			break
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"ttl":     j.ttl.String(),
		"expired": total,
	}), "payment expiry complete")
	return ctx.Err()
}
