package gateway

import (
	"context"
	"time"

	"github.com/angelmondragon/keydrop-backend/pkg/logger"
	"github.com/angelmondragon/keydrop-backend/pkg/metrics"
)

const invalidSignatureAlert = "gateway_invalid_signature"

type windowCounter interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	AlertKey(name string, window int64) string
}

// BurstAlerter counts invalid signatures per fixed window and raises one
// error-level alert when a window reaches the threshold.
type BurstAlerter struct {
	counter   windowCounter
	window    time.Duration
	threshold int64
	metrics   *metrics.WebhookMetrics
	logg      *logger.Logger
	now       func() time.Time
}

func NewBurstAlerter(counter windowCounter, window time.Duration, threshold int, m *metrics.WebhookMetrics, logg *logger.Logger) *BurstAlerter {
	if window <= 0 {
		window = 5 * time.Minute
	}
	if threshold < 1 {
		threshold = 1
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &BurstAlerter{
		counter:   counter,
		window:    window,
		threshold: int64(threshold),
		metrics:   m,
		logg:      logg,
		now:       time.Now,
	}
}

// Record counts one invalid signature and reports whether this call crossed the threshold.
func (a *BurstAlerter) Record(ctx context.Context, remoteAddr string) bool {
	if a == nil || a.counter == nil {
		return false
	}
	bucket := a.now().UnixNano() / int64(a.window)
	key := a.counter.AlertKey(invalidSignatureAlert, bucket)
	count, err := a.counter.IncrWithTTL(ctx, key, a.window)
	if err != nil {
		a.logg.Warn(ctx, "invalid signature counter unavailable: "+err.Error())
		return false
	}
	if count != a.threshold {
		return false
	}
	a.metrics.IncAlert()
	alertCtx := a.logg.WithFields(ctx, map[string]any{
		"window":      a.window.String(),
		"threshold":   a.threshold,
		"remote_addr": remoteAddr,
	})
	a.logg.Error(alertCtx, "gateway invalid signature burst", nil)
	return true
}
