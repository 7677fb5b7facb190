package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/keydrop-backend/internal/providers"
	"github.com/angelmondragon/keydrop-backend/pkg/logger"
	"github.com/angelmondragon/keydrop-backend/pkg/metrics"
)

type unavailableReader interface {
	Unavailable(ctx context.Context) ([]providers.UnavailableCount, error)
}

type ProviderAvailabilityJobParams struct {
	Logger   *logger.Logger
	Registry unavailableReader
	Metrics  *metrics.FulfillmentMetrics
}

// NewProviderAvailabilityJob builds the job that publishes how many provider
// accounts are cooling down or at capacity.
func NewProviderAvailabilityJob(params ProviderAvailabilityJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("provider registry required")
	}
	return &providerAvailabilityJob{
		logg:     params.Logger,
		registry: params.Registry,
		metrics:  params.Metrics,
		reported: map[gaugeKey]struct{}{},
	}, nil
}

type gaugeKey struct{ provider, reason string }

type providerAvailabilityJob struct {
	logg     *logger.Logger
	registry unavailableReader
	metrics  *metrics.FulfillmentMetrics
	// reported holds the series set on the previous run so recovered
	// providers drop back to zero.
	reported map[gaugeKey]struct{}
}

func (j *providerAvailabilityJob) Name() string { return "provider-availability" }

func (j *providerAvailabilityJob) Run(ctx context.Context) error {
	counts, err := j.registry.Unavailable(ctx)
	if err != nil {
		return fmt.Errorf("provider availability: %w", err)
	}
	current := make(map[gaugeKey]struct{}, len(counts))
	var blocked int64
	for _, c := range counts {
		key := gaugeKey{provider: c.ProviderSlug, reason: c.Reason}
		current[key] = struct{}{}
		j.metrics.SetUnavailable(c.ProviderSlug, c.Reason, int(c.Count))
		blocked += c.Count
		if c.Count > 0 {
			j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
				"provider": c.ProviderSlug,
				"reason":   c.Reason,
				"accounts": c.Count,
			}), "provider accounts unavailable")
		}
	}
	for key := range j.reported {
		if _, ok := current[key]; !ok {
			j.metrics.SetUnavailable(key.provider, key.reason, 0)
		}
	}
	j.reported = current
	j.logg.Info(j.logg.WithField(ctx, "accounts_unavailable", blocked), "provider availability reported")
	return nil
}
