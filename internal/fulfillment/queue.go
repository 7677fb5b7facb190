package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/keydrop-backend/internal/repo"
	"github.com/angelmondragon/keydrop-backend/pkg/db/models"
	"github.com/angelmondragon/keydrop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/keydrop-backend/pkg/errors"
	"github.com/angelmondragon/keydrop-backend/pkg/pagination"
)

// Queue is the fulfillment_jobs table seen as a work queue. Every claim and
// every status change is one conditional UPDATE; only RowsAffected == 1 wins.
type Queue interface {
	CreateForOrder(ctx context.Context, tx *gorm.DB, order *models.Order, items []models.OrderItem) (int, error)
	ClaimBatch(ctx context.Context, now, staleCutoff time.Time, limit int, owner string) ([]models.FulfillmentJob, error)
	ClaimByID(ctx context.Context, id uuid.UUID, now, staleCutoff time.Time, owner string) (*models.FulfillmentJob, error)
	FailExhaustedStale(ctx context.Context, staleCutoff, now time.Time) ([]models.FulfillmentJob, error)
	Complete(ctx context.Context, tx *gorm.DB, claim Claim, result json.RawMessage, accountID *uuid.UUID, now time.Time) (bool, error)
	Retry(ctx context.Context, claim Claim, nextRetryAt time.Time, lastError string, now time.Time) (bool, error)
	Fail(ctx context.Context, tx *gorm.DB, claim Claim, lastError string, now time.Time) (bool, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.FulfillmentJob, error)
	List(ctx context.Context, status *enums.JobStatus, params pagination.Params) (pagination.Page[models.FulfillmentJob], error)
}

// Claim is one execution of a job. A reclaim bumps attempts and rewrites
// claimed_by, so writes made under an older claim match no row.
type Claim struct {
	JobID    uuid.UUID
	Attempts int
	Owner    string
}

func ClaimOf(job models.FulfillmentJob) Claim {
	claim := Claim{JobID: job.ID, Attempts: job.Attempts}
	if job.ClaimedBy != nil {
		claim.Owner = *job.ClaimedBy
	}
	return claim
}

func (c Claim) held(db *gorm.DB) *gorm.DB {
	return db.Where("id = ? AND status = ? AND attempts = ? AND claimed_by = ?",
		c.JobID, enums.JobStatusProcessing, c.Attempts, c.Owner)
}

type Repository struct {
	repo.Base
	maxAttempts int
}

const defaultMaxAttempts = 3

func NewRepository(db *gorm.DB, maxAttempts int) *Repository {
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}
	return &Repository{Base: repo.NewBase(db), maxAttempts: maxAttempts}
}

func (r *Repository) on(tx *gorm.DB) *Repository {
	return &Repository{Base: r.Bind(tx), maxAttempts: r.maxAttempts}
}

// CreateForOrder inserts one PENDING job per item. Items that already own a
// job are skipped, so calling it twice for an order is harmless.
func (r *Repository) CreateForOrder(ctx context.Context, tx *gorm.DB, order *models.Order, items []models.OrderItem) (int, error) {
	if order == nil || len(items) == 0 {
		return 0, nil
	}
	db := r.on(tx).DB(ctx)

	missing := make([]uuid.UUID, 0)
	for _, item := range items {
		if item.Product == nil && item.ProductID != nil {
			missing = append(missing, *item.ProductID)
		}
	}
	products := map[uuid.UUID]models.Product{}
	if len(missing) > 0 {
		var rows []models.Product
		if err := db.Where("id IN ?", missing).Find(&rows).Error; err != nil {
			return 0, fmt.Errorf("load products: %w", err)
		}
		for _, p := range rows {
			products[p.ID] = p
		}
	}

	jobs := make([]models.FulfillmentJob, 0, len(items))
	for _, item := range items {
		product := item.Product
		if product == nil && item.ProductID != nil {
			if p, ok := products[*item.ProductID]; ok {
				product = &p
			}
		}
		if product == nil {
			return 0, pkgerrors.Newf(pkgerrors.CodeReferential, "order item %s has no product", item.ID)
		}
		itemID := item.ID
		jobs = append(jobs, models.FulfillmentJob{
			OrderID:     order.ID,
			OrderItemID: &itemID,
			JobType:     product.FulfillmentType,
			Status:      enums.JobStatusPending,
			MaxAttempts: r.maxAttempts,
		})
	}

	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_item_id"}},
		DoNothing: true,
	}).Create(&jobs)
	if res.Error != nil {
		return 0, fmt.Errorf("create fulfillment jobs: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// claimable scopes jobs a sweep may take: due PENDING jobs and stale PROCESSING
// jobs, both with attempts left.
func claimable(db *gorm.DB, now, staleCutoff time.Time) *gorm.DB {
	return db.
		Where("attempts < max_attempts").
		Where(
			db.Session(&gorm.Session{NewDB: true}).
				Where("status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)", enums.JobStatusPending, now).
				Or("status = ? AND started_at < ?", enums.JobStatusProcessing, staleCutoff),
		)
}

// explicitlyClaimable ignores next_retry_at: an operator asked for this job.
func explicitlyClaimable(db *gorm.DB, staleCutoff time.Time) *gorm.DB {
	return db.
		Where("attempts < max_attempts").
		Where(
			db.Session(&gorm.Session{NewDB: true}).
				Where("status = ?", enums.JobStatusPending).
				Or("status = ? AND started_at < ?", enums.JobStatusProcessing, staleCutoff),
		)
}

func claimUpdates(now time.Time, owner string) map[string]any {
	return map[string]any{
		"status":     enums.JobStatusProcessing,
		"attempts":   gorm.Expr("attempts + 1"),
		"started_at": now,
		"claimed_by": owner,
		"updated_at": now,
	}
}

func (r *Repository) ClaimBatch(ctx context.Context, now, staleCutoff time.Time, limit int, owner string) ([]models.FulfillmentJob, error) {
	if limit <= 0 {
		return nil, nil
	}
	var candidates []uuid.UUID
	err := claimable(r.DB(ctx).Model(&models.FulfillmentJob{}), now, staleCutoff).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Pluck("id", &candidates).Error
	if err != nil {
		return nil, fmt.Errorf("select claimable jobs: %w", err)
	}

	claimed := make([]models.FulfillmentJob, 0, len(candidates))
	for _, id := range candidates {
		res := claimable(r.DB(ctx).Model(&models.FulfillmentJob{}).Where("id = ?", id), now, staleCutoff).
			Updates(claimUpdates(now, owner))
		if res.Error != nil {
			return claimed, fmt.Errorf("claim job %s: %w", id, res.Error)
		}
		if res.RowsAffected != 1 {
			continue
		}
		job, err := r.FindByID(ctx, id)
		if err != nil {
			return claimed, err
		}
		claimed = append(claimed, *job)
	}
	return claimed, nil
}

// ClaimByID returns nil when the job exists but cannot be claimed right now.
func (r *Repository) ClaimByID(ctx context.Context, id uuid.UUID, now, staleCutoff time.Time, owner string) (*models.FulfillmentJob, error) {
	res := explicitlyClaimable(r.DB(ctx).Model(&models.FulfillmentJob{}).Where("id = ?", id), staleCutoff).
		Updates(claimUpdates(now, owner))
	if res.Error != nil {
		return nil, fmt.Errorf("claim job %s: %w", id, res.Error)
	}
	if res.RowsAffected != 1 {
		return nil, nil
	}
	return r.FindByID(ctx, id)
}

// FailExhaustedStale fails PROCESSING jobs whose worker vanished on the last attempt.
func (r *Repository) FailExhaustedStale(ctx context.Context, staleCutoff, now time.Time) ([]models.FulfillmentJob, error) {
	var stale []models.FulfillmentJob
	err := r.DB(ctx).
		Where("status = ? AND started_at < ? AND attempts >= max_attempts", enums.JobStatusProcessing, staleCutoff).
		Order("created_at ASC").
		Find(&stale).Error
	if err != nil {
		return nil, fmt.Errorf("select exhausted stale jobs: %w", err)
	}
	failed := make([]models.FulfillmentJob, 0, len(stale))
	for _, job := range stale {
		msg := "worker did not finish the final attempt"
		res := r.DB(ctx).Model(&models.FulfillmentJob{}).
			Where("id = ? AND status = ? AND started_at < ?", job.ID, enums.JobStatusProcessing, staleCutoff).
			Updates(map[string]any{
				"status":       enums.JobStatusFailed,
				"last_error":   msg,
				"completed_at": now,
				"updated_at":   now,
			})
		if res.Error != nil {
			return failed, fmt.Errorf("fail stale job %s: %w", job.ID, res.Error)
		}
		if res.RowsAffected == 1 {
			job.Status = enums.JobStatusFailed
			job.LastError = &msg
			failed = append(failed, job)
		}
	}
	return failed, nil
}

func (r *Repository) Complete(ctx context.Context, tx *gorm.DB, claim Claim, result json.RawMessage, accountID *uuid.UUID, now time.Time) (bool, error) {
	if len(result) == 0 {
		result = json.RawMessage(`{}`)
	}
	updates := map[string]any{
		"status":       enums.JobStatusCompleted,
		"result":       string(result),
		"completed_at": now,
		"last_error":   nil,
		"updated_at":   now,
	}
	if accountID != nil {
		updates["provider_account_id"] = *accountID
	}
	res := claim.held(r.on(tx).DB(ctx).Model(&models.FulfillmentJob{})).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

func (r *Repository) Retry(ctx context.Context, claim Claim, nextRetryAt time.Time, lastError string, now time.Time) (bool, error) {
	res := claim.held(r.DB(ctx).Model(&models.FulfillmentJob{})).
		Updates(map[string]any{
			"status":        enums.JobStatusPending,
			"next_retry_at": nextRetryAt,
			"last_error":    lastError,
			"updated_at":    now,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *Repository) Fail(ctx context.Context, tx *gorm.DB, claim Claim, lastError string, now time.Time) (bool, error) {
	res := claim.held(r.on(tx).DB(ctx).Model(&models.FulfillmentJob{})).
		Updates(map[string]any{
			"status":       enums.JobStatusFailed,
			"last_error":   lastError,
			"completed_at": now,
			"updated_at":   now,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.FulfillmentJob, error) {
	var job models.FulfillmentJob
	err := r.DB(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "fulfillment job not found")
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// List pages jobs newest first, optionally filtered by status.
func (r *Repository) List(ctx context.Context, status *enums.JobStatus, params pagination.Params) (pagination.Page[models.FulfillmentJob], error) {
	page := pagination.Page[models.FulfillmentJob]{Items: []models.FulfillmentJob{}}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return page, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)

	query := r.DB(ctx).Model(&models.FulfillmentJob{})
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []models.FulfillmentJob
	if err := query.Order("created_at DESC").Order("id DESC").Limit(limit + 1).Find(&rows).Error; err != nil {
		return page, err
	}
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	page.Items = rows
	return page, nil
}
