package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/keydrop-backend/internal/inventory"
	"github.com/angelmondragon/keydrop-backend/internal/providers"
	dbpkg "github.com/angelmondragon/keydrop-backend/pkg/db"
	"github.com/angelmondragon/keydrop-backend/pkg/db/models"
	"github.com/angelmondragon/keydrop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/keydrop-backend/pkg/errors"
	"github.com/angelmondragon/keydrop-backend/pkg/logger"
	"github.com/angelmondragon/keydrop-backend/pkg/metrics"
)

// JobResult outcomes.
const (
	ResultCompleted = "completed"
	ResultRetry     = "retry"
	ResultFailed    = "failed"
	ResultSkipped   = "skipped"
)

// JobResult is reported per processed job to the trigger endpoint and logs.
type JobResult struct {
	JobID   uuid.UUID `json:"job_id"`
	Status  string    `json:"status"`
	Message string    `json:"message,omitempty"`
}

type stockAllocator interface {
	Allocate(ctx context.Context, req inventory.AllocateRequest) ([]inventory.Secret, error)
}

type inviteDispatcher interface {
	Dispatch(ctx context.Context, req providers.DispatchRequest) (providers.Result, error)
}

type itemReader interface {
	FindItem(ctx context.Context, itemID uuid.UUID) (*models.OrderItem, error)
}

type orderWriter interface {
	Transition(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, to enums.OrderStatus, reason string) (bool, error)
	MarkItemDelivered(ctx context.Context, tx *gorm.DB, itemID uuid.UUID, data json.RawMessage) (bool, error)
	EvaluateCompletion(ctx context.Context, orderID uuid.UUID) (enums.OrderStatus, error)
}

type ServiceParams struct {
	DB         dbpkg.TxRunner
	Queue      Queue
	Items      itemReader
	Orders     orderWriter
	Allocator  stockAllocator
	Dispatcher inviteDispatcher
	Backoff    *Backoff
	Metrics    *metrics.FulfillmentMetrics
	Logger     *logger.Logger
	BatchSize  int
	StaleAfter time.Duration
	Owner      string
}

// Service runs fulfillment jobs. Several instances may run at once; the queue
// claims keep them from processing the same attempt twice.
type Service struct {
	db         dbpkg.TxRunner
	queue      Queue
	items      itemReader
	orders     orderWriter
	allocator  stockAllocator
	dispatcher inviteDispatcher
	backoff    *Backoff
	metrics    *metrics.FulfillmentMetrics
	logg       *logger.Logger
	batchSize  int
	staleAfter time.Duration
	owner      string
	now        func() time.Time
}

func NewService(p ServiceParams) (*Service, error) {
	switch {
	case p.DB == nil:
		return nil, errors.New("db required")
	case p.Queue == nil:
		return nil, errors.New("queue required")
	case p.Items == nil:
		return nil, errors.New("order item reader required")
	case p.Orders == nil:
		return nil, errors.New("orders service required")
	case p.Allocator == nil:
		return nil, errors.New("stock allocator required")
	case p.Dispatcher == nil:
		return nil, errors.New("invite dispatcher required")
	}
	if p.Backoff == nil {
		p.Backoff = NewBackoff(time.Minute, 0)
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	if p.BatchSize < 1 {
		p.BatchSize = 10
	}
	if p.StaleAfter <= 0 {
		p.StaleAfter = 10 * time.Minute
	}
	if p.Owner == "" {
		p.Owner = "fulfillment"
	}
	return &Service{
		db:         p.DB,
		queue:      p.Queue,
		items:      p.Items,
		orders:     p.Orders,
		allocator:  p.Allocator,
		dispatcher: p.Dispatcher,
		backoff:    p.Backoff,
		metrics:    p.Metrics,
		logg:       p.Logger,
		batchSize:  p.BatchSize,
		staleAfter: p.StaleAfter,
		owner:      p.Owner,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// ProcessBatch fails exhausted stale jobs, claims up to BatchSize due jobs and
// runs them one by one. A failing job never stops the rest of the batch.
func (s *Service) ProcessBatch(ctx context.Context) ([]JobResult, error) {
	now := s.now()
	staleCutoff := now.Add(-s.staleAfter)
	results := make([]JobResult, 0)

	exhausted, err := s.queue.FailExhaustedStale(ctx, staleCutoff, now)
	if err != nil {
		s.logg.Error(ctx, "failing exhausted stale jobs", err)
	}
	for _, job := range exhausted {
		msg := "worker did not finish the final attempt"
		if job.LastError != nil {
			msg = *job.LastError
		}
		s.failOrder(ctx, nil, job, msg)
		s.metrics.ObserveJob(string(job.JobType), metrics.OutcomeFailed, 0)
		results = append(results, JobResult{JobID: job.ID, Status: ResultFailed, Message: msg})
	}

	jobs, err := s.queue.ClaimBatch(ctx, now, staleCutoff, s.batchSize, s.owner)
	s.metrics.AddClaimed(len(jobs))
	if err != nil {
		// jobs claimed before the error still run; the rest wait for the next sweep
		s.logg.Error(ctx, "claiming fulfillment jobs", err)
		if len(jobs) == 0 {
			return results, err
		}
	}
	for _, job := range jobs {
		results = append(results, s.run(ctx, job))
	}
	return results, nil
}

// ProcessJob claims and runs one job regardless of its retry schedule.
func (s *Service) ProcessJob(ctx context.Context, id uuid.UUID) ([]JobResult, error) {
	now := s.now()
	job, err := s.queue.ClaimByID(ctx, id, now, now.Add(-s.staleAfter), s.owner)
	if err != nil {
		return nil, err
	}
	if job == nil {
		existing, err := s.queue.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return []JobResult{{
			JobID:   id,
			Status:  ResultSkipped,
			Message: fmt.Sprintf("job is %s with %d/%d attempts", existing.Status, existing.Attempts, existing.MaxAttempts),
		}}, nil
	}
	return []JobResult{s.run(ctx, *job)}, nil
}

func (s *Service) run(ctx context.Context, job models.FulfillmentJob) JobResult {
	ctx = s.logg.WithJobID(ctx, job.ID.String())
	ctx = s.logg.WithOrderID(ctx, job.OrderID.String())
	ctx = s.logg.WithField(ctx, "attempt", job.Attempts)
	started := time.Now()

	data, accountID, err := s.deliver(ctx, job)
	if err == nil {
		err = s.complete(ctx, job, data, accountID)
	}
	if err != nil {
		result := s.handleFailure(ctx, job, err)
		outcome := metrics.OutcomeRetry
		if result.Status == ResultFailed {
			outcome = metrics.OutcomeFailed
		}
		s.metrics.ObserveJob(string(job.JobType), outcome, time.Since(started))
		return result
	}

	s.metrics.ObserveJob(string(job.JobType), metrics.OutcomeCompleted, time.Since(started))
	if _, err := s.orders.EvaluateCompletion(ctx, job.OrderID); err != nil {
		// the next delivery or sweep rechecks completion
		s.logg.Error(ctx, "order completion check failed", err)
	}
	s.logg.Info(ctx, "fulfillment job completed")
	return JobResult{JobID: job.ID, Status: ResultCompleted}
}

func (s *Service) deliver(ctx context.Context, job models.FulfillmentJob) (json.RawMessage, *uuid.UUID, error) {
	if job.OrderItemID == nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeReferential, "job has no order item")
	}
	item, err := s.items.FindItem(ctx, *job.OrderItemID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, pkgerrors.New(pkgerrors.CodeReferential, "order item not found")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load order item: %w", err)
	}
	if item.DeliveredAt != nil {
		// delivered by an earlier attempt that died before completing the job
		return item.DeliveryData, job.ProviderAccountID, nil
	}
	if item.ProductID == nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeReferential, "order item has no product")
	}

	switch job.JobType {
	case enums.FulfillmentTypeStock:
		secrets, err := s.allocator.Allocate(ctx, inventory.AllocateRequest{
			ProductID:   *item.ProductID,
			OrderID:     job.OrderID,
			OrderItemID: item.ID,
			Quantity:    item.Quantity,
		})
		if err != nil {
			return nil, nil, err
		}
		return inventory.DeliveryData(secrets), nil, nil
	case enums.FulfillmentTypeInvite:
		result, err := s.dispatcher.Dispatch(ctx, providers.DispatchRequest{
			JobID:       job.ID,
			OrderID:     job.OrderID,
			OrderItemID: item.ID,
			ProductID:   *item.ProductID,
			InputData:   item.InputData,
		})
		if err != nil {
			return nil, nil, err
		}
		return providers.DeliveryData(result), result.AccountID, nil
	default:
		return nil, nil, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown job type %q", job.JobType)
	}
}

func (s *Service) complete(ctx context.Context, job models.FulfillmentJob, data json.RawMessage, accountID *uuid.UUID) error {
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.orders.MarkItemDelivered(ctx, tx, *job.OrderItemID, data); err != nil {
			return fmt.Errorf("record delivery: %w", err)
		}
		ok, err := s.queue.Complete(ctx, tx, ClaimOf(job), data, accountID, s.now())
		if err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		if !ok {
			// the item stays delivered; the current claimer reuses it
			s.logg.Warn(ctx, "job claim superseded before completion")
		}
		return nil
	})
}

func (s *Service) handleFailure(ctx context.Context, job models.FulfillmentJob, cause error) JobResult {
	msg := cause.Error()
	if typed := pkgerrors.As(cause); typed != nil {
		msg = typed.Message()
	}
	now := s.now()

	if !pkgerrors.IsRetryable(cause) || job.Attempts >= job.MaxAttempts {
		var held bool
		err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			held, err = s.queue.Fail(ctx, tx, ClaimOf(job), msg, now)
			if err != nil || !held {
				return err
			}
			return s.failOrderTx(ctx, tx, job, msg)
		})
		if err != nil {
			s.logg.Error(ctx, "recording job failure", err)
		} else if !held {
			s.logg.Warn(ctx, "job claim superseded before failure was recorded")
		}
		s.logg.Error(ctx, "fulfillment job failed", cause)
		return JobResult{JobID: job.ID, Status: ResultFailed, Message: msg}
	}

	next := now.Add(s.backoff.Delay(job.Attempts))
	held, err := s.queue.Retry(ctx, ClaimOf(job), next, msg, now)
	if err != nil {
		s.logg.Error(ctx, "scheduling job retry", err)
	} else if !held {
		s.logg.Warn(ctx, "job claim superseded before retry was scheduled")
	}
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"next_retry_at": next,
		"error":         msg,
	}), "fulfillment job will retry")
	return JobResult{JobID: job.ID, Status: ResultRetry, Message: msg}
}

func (s *Service) failOrder(ctx context.Context, tx *gorm.DB, job models.FulfillmentJob, reason string) {
	if err := s.failOrderTx(ctx, tx, job, reason); err != nil {
		s.logg.Error(ctx, "failing order", err)
	}
}

func (s *Service) failOrderTx(ctx context.Context, tx *gorm.DB, job models.FulfillmentJob, reason string) error {
	_, err := s.orders.Transition(ctx, tx, job.OrderID, enums.OrderStatusFailed, reason)
	return err
}
