package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/keydrop-backend/internal/cashback"
	"github.com/angelmondragon/keydrop-backend/internal/ledger"
	"github.com/angelmondragon/keydrop-backend/internal/settings"
	dbpkg "github.com/angelmondragon/keydrop-backend/pkg/db"
	"github.com/angelmondragon/keydrop-backend/pkg/db/models"
	"github.com/angelmondragon/keydrop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/keydrop-backend/pkg/errors"
	"github.com/angelmondragon/keydrop-backend/pkg/logger"
	"github.com/angelmondragon/keydrop-backend/pkg/outbox"
	"github.com/angelmondragon/keydrop-backend/pkg/outbox/payloads"
)

const eventSource = "keydrop-orders"

type pointsLedger interface {
	ApplyPoints(ctx context.Context, tx *gorm.DB, entry ledger.PointsEntry) (*models.PointsTransaction, error)
}

// Service owns order status transitions and the completion check.
type Service interface {
	// Transition moves the order into to when its current status allows it. It
	// reports whether this call performed the transition.
	Transition(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, to enums.OrderStatus, reason string) (bool, error)
	// TransitionFrom is Transition restricted to the given sources, each of
	// which must be a legal edge into to.
	TransitionFrom(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus, reason string) (bool, error)
	// Create inserts a new AWAITING_PAYMENT or PAID order with its items.
	Create(ctx context.Context, tx *gorm.DB, order *models.Order) error
	MarkItemDelivered(ctx context.Context, tx *gorm.DB, itemID uuid.UUID, data json.RawMessage) (bool, error)
	EvaluateCompletion(ctx context.Context, orderID uuid.UUID) (enums.OrderStatus, error)
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	GetForReseller(ctx context.Context, orderID, resellerID uuid.UUID) (*models.Order, error)
}

type ServiceParams struct {
	DB       dbpkg.TxRunner
	Repo     Repository
	Outbox   outbox.Emitter
	Points   pointsLedger
	Settings settings.Reader
	Logger   *logger.Logger
}

type service struct {
	db       dbpkg.TxRunner
	repo     Repository
	outbox   outbox.Emitter
	points   pointsLedger
	settings settings.Reader
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(p ServiceParams) (Service, error) {
	if p.DB == nil {
		return nil, fmt.Errorf("db required")
	}
	if p.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	return &service{
		db:       p.DB,
		repo:     p.Repo,
		outbox:   p.Outbox,
		points:   p.Points,
		settings: p.Settings,
		logg:     p.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) Transition(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, to enums.OrderStatus, reason string) (bool, error) {
	sources := SourcesFor(to)
	if len(sources) == 0 {
		return false, pkgerrors.Newf(pkgerrors.CodeStateConflict, "no transition leads to %s", to)
	}
	var changed bool
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		var err error
		changed, err = s.transitionTx(ctx, tx, orderID, sources, to, reason)
		return err
	})
	return changed, err
}

func (s *service) TransitionFrom(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus, reason string) (bool, error) {
	if len(from) == 0 {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "at least one source status required")
	}
	for _, source := range from {
		if !CanTransition(source, to) {
			return false, pkgerrors.Newf(pkgerrors.CodeStateConflict, "%s -> %s is not a legal transition", source, to)
		}
	}
	var changed bool
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		var err error
		changed, err = s.transitionTx(ctx, tx, orderID, from, to, reason)
		return err
	})
	return changed, err
}

func (s *service) transitionTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, sources []enums.OrderStatus, to enums.OrderStatus, reason string) (bool, error) {
	repo := s.repo.WithTx(tx)
	now := s.now()
	updates := map[string]any{"updated_at": now}
	if column := timestampColumn(to); column != "" {
		updates[column] = now
	}
	affected, err := repo.UpdateStatus(ctx, orderID, sources, to, updates)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	if affected != 1 {
		return false, nil
	}

	order, err := repo.FindByID(ctx, orderID)
	if err != nil {
		return false, fmt.Errorf("reload order: %w", err)
	}
	if err := s.emit(ctx, tx, order, to, reason, now); err != nil {
		return false, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_id": orderID.String(),
		"status":   to,
		"reason":   reason,
	}), "order status changed")
	return true, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.OrderStatus, reason string, at time.Time) error {
	eventType, ok := eventFor(to)
	if !ok {
		return nil
	}
	event := outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Source:        eventSource,
		OccurredAt:    at,
		Data: payloads.OrderNotification{
			OrderID:    order.ID,
			EventType:  eventType,
			Status:     to,
			ResellerID: order.ResellerID,
			Total:      order.Total,
			IsTopup:    order.IsTopup,
			Reason:     reason,
		},
	}
	if err := s.outbox.EmitIfNotExists(ctx, tx, event); err != nil {
		return fmt.Errorf("emit %s: %w", eventType, err)
	}
	return nil
}

func (s *service) Create(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order is required")
	}
	if order.Status != enums.OrderStatusAwaitingPayment && order.Status != enums.OrderStatusPaid {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "orders cannot be created as %s", order.Status)
	}
	total, err := ComputeTotal(order.Subtotal, order.DiscountAmount, order.PointsDiscount)
	if err != nil {
		return err
	}
	if order.Total != total {
		return pkgerrors.Newf(pkgerrors.CodeIntegrity, "order total %d does not equal %d", order.Total, total)
	}
	now := s.now()
	if order.Status == enums.OrderStatusPaid && order.PaidAt == nil {
		order.PaidAt = &now
	}
	return s.inTx(ctx, tx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		if order.Status == enums.OrderStatusPaid {
			return s.emit(ctx, tx, order, enums.OrderStatusPaid, "paid from wallet", now)
		}
		return nil
	})
}

func (s *service) MarkItemDelivered(ctx context.Context, tx *gorm.DB, itemID uuid.UUID, data json.RawMessage) (bool, error) {
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	var changed bool
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		affected, err := s.repo.WithTx(tx).MarkItemDelivered(ctx, itemID, data, s.now())
		changed = affected == 1
		return err
	})
	return changed, err
}

// EvaluateCompletion rereads every item of the order. All delivered moves the
// order to DELIVERED and earns points; a partial delivery moves PAID to PROCESSING.
func (s *service) EvaluateCompletion(ctx context.Context, orderID uuid.UUID) (enums.OrderStatus, error) {
	var status enums.OrderStatus
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		items, err := repo.ListItems(ctx, orderID)
		if err != nil {
			return err
		}
		status = order.Status

		delivered := 0
		for _, item := range items {
			if item.DeliveredAt != nil {
				delivered++
			}
		}
		switch {
		case len(items) > 0 && delivered == len(items):
			changed, err := s.transitionTx(ctx, tx, orderID, SourcesFor(enums.OrderStatusDelivered), enums.OrderStatusDelivered, "all items delivered")
			if err != nil {
				return err
			}
			if !changed {
				return nil
			}
			status = enums.OrderStatusDelivered
			order.Items = items
			return s.earnPoints(ctx, tx, order)
		case delivered > 0:
			changed, err := s.transitionTx(ctx, tx, orderID, SourcesFor(enums.OrderStatusProcessing), enums.OrderStatusProcessing, "partially delivered")
			if err != nil {
				return err
			}
			if changed {
				status = enums.OrderStatusProcessing
			}
		}
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return status, err
}

func (s *service) earnPoints(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if s.points == nil || s.settings == nil || order.IsTopup || !order.IsResellerAttributed() {
		return nil
	}
	amount := cashback.PointsFor(order.Total, s.settings.PointsEarnPercent(ctx))
	if amount <= 0 {
		return nil
	}
	orderID := order.ID
	_, err := s.points.ApplyPoints(ctx, tx, ledger.PointsEntry{
		OwnerID:     *order.ResellerID,
		Amount:      amount,
		Type:        enums.PointsTxEarn,
		OrderID:     &orderID,
		Description: "points earned on delivery",
	})
	if err != nil {
		return fmt.Errorf("earn points: %w", err)
	}
	return nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindWithItems(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, err
}

func (s *service) GetForReseller(ctx context.Context, orderID, resellerID uuid.UUID) (*models.Order, error) {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.ResellerID == nil || *order.ResellerID != resellerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func (s *service) inTx(ctx context.Context, tx *gorm.DB, fn func(tx *gorm.DB) error) error {
	if tx != nil {
		return fn(tx)
	}
	return s.db.WithTx(ctx, fn)
}
