package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/keydrop-backend/pkg/logger"
)

const defaultOutboxRetention = 30 * 24 * time.Hour

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxRetentionRepo
	Retention  time.Duration
}

type outboxRetentionRepo interface {
	DeleteSettledBefore(tx *gorm.DB, cutoff time.Time) (int64, error)
}

// NewOutboxRetentionJob builds the job that prunes published and terminally
// failed outbox rows older than the retention window.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultOutboxRetention
	}
	return &outboxRetentionJob{
		logg:      params.Logger,
		db:        params.DB,
		repo:      params.Repository,
		retention: retention,
		now:       time.Now,
	}, nil
}

type outboxRetentionJob struct {
	logg      *logger.Logger
	db        txRunner
	repo      outboxRetentionRepo
	retention time.Duration
	now       func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var deleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := j.repo.DeleteSettledBefore(tx, cutoff)
		deleted = rows
		return err
	})
	if err != nil {
		return fmt.Errorf("outbox retention: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"retention":    j.retention.String(),
		"rows_deleted": deleted,
	}), "outbox retention cleanup complete")
	return nil
}
