package outbox

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/keydrop-backend/pkg/db/models"
	"github.com/angelmondragon/keydrop-backend/pkg/enums"
)

const (
	retryBase = 2 * time.Second
	retryMax  = 5 * time.Minute
)

type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(&event).Error
}

func (r *Repository) ExistsTx(tx *gorm.DB, eventType enums.OutboxEventType, aggregateID uuid.UUID) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	var count int64
	err := tx.Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_id = ?", eventType, aggregateID).
		Count(&count).Error
	return count > 0, err
}

// FetchUnpublishedForPublish locks a batch of due rows; concurrent publishers skip them.
func (r *Repository) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	var rows []models.OutboxEvent
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("published_at IS NULL AND terminal = ?", false).
		Where("attempt_count < ?", maxAttempts).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", r.now()).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"published_at": r.now(),
			"last_error":   nil,
		}).Error
}

// MarkFailedTx records the error and pushes next_attempt_at out exponentially.
func (r *Repository) MarkFailedTx(tx *gorm.DB, id uuid.UUID, attemptCount int, err error) error {
	next := r.now().Add(publishBackoff(attemptCount + 1))
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":      err.Error(),
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"next_attempt_at": next,
		}).Error
}

func (r *Repository) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    err.Error(),
			"attempt_count": terminalAttempts,
			"terminal":      true,
		}).Error
}

// DeleteSettledBefore removes published or terminal rows older than cutoff.
func (r *Repository) DeleteSettledBefore(tx *gorm.DB, cutoff time.Time) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	res := tx.Where("(published_at IS NOT NULL AND published_at < ?) OR (terminal = ? AND created_at < ?)", cutoff, true, cutoff).
		Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}

func publishBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := retryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= retryMax {
			return retryMax
		}
	}
	return d
}
