package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/keydrop-backend/internal/fulfillment"
	"github.com/angelmondragon/keydrop-backend/internal/ledger"
	"github.com/angelmondragon/keydrop-backend/internal/settings"
	dbpkg "github.com/angelmondragon/keydrop-backend/pkg/db"
	"github.com/angelmondragon/keydrop-backend/pkg/db/models"
	"github.com/angelmondragon/keydrop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/keydrop-backend/pkg/errors"
	"github.com/angelmondragon/keydrop-backend/pkg/logger"
	"github.com/angelmondragon/keydrop-backend/pkg/metrics"
)

// Source is stored on every webhook log row written by this package.
const Source = "gateway"

// Result is the body returned to the gateway. The HTTP status is always 200.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Meta carries request details that are not part of the callback itself.
type Meta struct {
	RemoteAddr string
	ParseErr   error
}

type signatureVerifier interface {
	Verify(cb Callback) bool
}

type orderService interface {
	Transition(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, to enums.OrderStatus, reason string) (bool, error)
	TransitionFrom(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus, reason string) (bool, error)
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

type walletLedger interface {
	Credit(ctx context.Context, tx *gorm.DB, entry ledger.Entry) (*models.WalletTransaction, error)
	ApplyPoints(ctx context.Context, tx *gorm.DB, entry ledger.PointsEntry) (*models.PointsTransaction, error)
}

type jobCreator interface {
	CreateForOrder(ctx context.Context, tx *gorm.DB, order *models.Order, items []models.OrderItem) (int, error)
}

type burstRecorder interface {
	Record(ctx context.Context, remoteAddr string) bool
}

type ServiceParams struct {
	DB       dbpkg.TxRunner
	Repo     Repository
	Verifier signatureVerifier
	Orders   orderService
	Ledger   walletLedger
	Jobs     jobCreator
	Settings settings.Reader
	Trigger  fulfillment.Trigger
	Alerter  burstRecorder
	Metrics  *metrics.WebhookMetrics
	Logger   *logger.Logger
}

// Service applies gateway callbacks. Every step is safe to repeat, so the
// gateway may redeliver any callback any number of times.
type Service struct {
	db       dbpkg.TxRunner
	repo     Repository
	verifier signatureVerifier
	orders   orderService
	ledger   walletLedger
	jobs     jobCreator
	settings settings.Reader
	trigger  fulfillment.Trigger
	alerter  burstRecorder
	metrics  *metrics.WebhookMetrics
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(p ServiceParams) (*Service, error) {
	if p.DB == nil {
		return nil, fmt.Errorf("db required")
	}
	if p.Repo == nil {
		return nil, fmt.Errorf("gateway repository required")
	}
	if p.Verifier == nil {
		return nil, fmt.Errorf("signature verifier required")
	}
	if p.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if p.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if p.Jobs == nil {
		return nil, fmt.Errorf("job creator required")
	}
	if p.Settings == nil {
		return nil, fmt.Errorf("settings reader required")
	}
	if p.Trigger == nil {
		p.Trigger = fulfillment.NoopTrigger{}
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	return &Service{
		db:       p.DB,
		repo:     p.Repo,
		verifier: p.Verifier,
		orders:   p.Orders,
		ledger:   p.Ledger,
		jobs:     p.Jobs,
		settings: p.Settings,
		trigger:  p.Trigger,
		alerter:  p.Alerter,
		metrics:  p.Metrics,
		logg:     p.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// HandleCallback logs the callback, verifies it and applies the payment
// transition and its side effects. The returned error is for logging only; the
// Result is what the gateway sees.
func (s *Service) HandleCallback(ctx context.Context, cb Callback, meta Meta) (Result, error) {
	ctx = s.logg.WithFields(ctx, map[string]any{"ref_id": cb.RefID, "gateway_status": cb.Status})

	valid := meta.ParseErr == nil && s.verifier.Verify(cb)
	if err := s.logCallback(ctx, cb, meta, valid); err != nil {
		s.logg.Error(ctx, "failed to write webhook log", err)
		s.metrics.IncCallback(cb.Status, "log_error")
		return Result{Success: false, Error: "internal error"}, err
	}

	if meta.ParseErr != nil {
		s.metrics.IncCallback(cb.Status, "malformed")
		s.logg.Warn(ctx, "malformed gateway callback: "+meta.ParseErr.Error())
		return Result{Success: false, Error: "malformed callback"}, meta.ParseErr
	}
	if !valid {
		s.metrics.IncInvalidSignature()
		s.metrics.IncCallback(cb.Status, "invalid_signature")
		if s.alerter != nil {
			s.alerter.Record(ctx, meta.RemoteAddr)
		}
		s.logg.Warn(ctx, "gateway callback rejected: invalid signature")
		return Result{Success: false, Error: "invalid signature"}, nil
	}

	payment, err := s.repo.FindPaymentByRef(ctx, cb.RefID)
	if err != nil {
		s.logg.Error(ctx, "gateway callback for unknown payment", err)
		s.metrics.IncCallback(cb.Status, "not_found")
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return Result{Success: false, Error: "payment not found"}, err
		}
		return Result{Success: false, Error: "internal error"}, err
	}
	ctx = s.logg.WithOrderID(ctx, payment.OrderID.String())

	status, known := MapStatus(cb.Status)
	if !known {
		s.logg.Warn(ctx, "unrecognized gateway status, ignoring")
	}

	var res Result
	switch status {
	case enums.PaymentStatusPaid:
		res, err = s.handlePaid(ctx, cb, payment)
	case enums.PaymentStatusExpired, enums.PaymentStatusFailed:
		res, err = s.handleClosed(ctx, cb, payment, status)
	default:
		res = Result{Success: true}
	}
	outcome := "ok"
	if !res.Success {
		outcome = "rejected"
	}
	s.metrics.IncCallback(string(status), outcome)
	return res, err
}

func (s *Service) logCallback(ctx context.Context, cb Callback, meta Meta, valid bool) error {
	eventType := cb.Status
	if eventType == "" {
		eventType = "unknown"
	}
	entry := &models.WebhookLog{
		Source:    Source,
		EventType: eventType,
		IsValid:   valid,
		Payload:   cb.Payload(),
	}
	if cb.RefID != "" {
		ref := cb.RefID
		entry.RefID = &ref
	}
	if meta.RemoteAddr != "" {
		addr := meta.RemoteAddr
		entry.RemoteAddr = &addr
	}
	return s.repo.LogCallback(ctx, entry)
}

func (s *Service) handlePaid(ctx context.Context, cb Callback, payment *models.Payment) (Result, error) {
	// A settled payment is immutable; redeliveries only retry the side effects.
	if payment.Status != enums.PaymentStatusPaid {
		if res, err := s.settle(ctx, cb, payment); err != nil {
			return res, err
		}
	}

	// The stored gross is what the wallet sees, whichever delivery settled it.
	payment, err := s.repo.FindPaymentByRef(ctx, cb.RefID)
	if err != nil {
		s.logg.Error(ctx, "failed to reload payment after settlement", err)
		return Result{Success: false, Error: "internal error"}, err
	}
	order, err := s.orders.Get(ctx, payment.OrderID)
	if err != nil {
		s.logg.Error(ctx, "failed to reload order after settlement", err)
		return Result{Success: false, Error: "internal error"}, err
	}
	switch order.Status {
	case enums.OrderStatusPaid, enums.OrderStatusProcessing, enums.OrderStatusDelivered:
	default:
		s.logg.Error(s.logg.WithField(ctx, "order_status", string(order.Status)),
			"payment settled for an order that can no longer be fulfilled", nil)
		return Result{Success: true}, nil
	}

	s.runPaidEffects(ctx, cb.RefID, payment, order)
	return Result{Success: true}, nil
}

// settle marks the payment PAID and the order PAID in one transaction.
func (s *Service) settle(ctx context.Context, cb Callback, payment *models.Payment) (Result, error) {
	settlement, err := s.settlementFor(cb, payment)
	if err != nil {
		s.logg.Error(ctx, "gateway callback failed integrity check", err)
		return Result{Success: false, Error: "amount mismatch"}, err
	}

	var paid, transitioned bool
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		paid, err = s.repo.WithTx(tx).MarkPaid(ctx, payment.ID, settlement)
		if err != nil {
			return err
		}
		transitioned, err = s.orders.Transition(ctx, tx, payment.OrderID, enums.OrderStatusPaid, "payment settled")
		return err
	})
	if err != nil {
		s.logg.Error(ctx, "failed to apply payment settlement", err)
		return Result{Success: false, Error: "internal error"}, err
	}
	if paid || transitioned {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"payment_updated": paid,
			"order_updated":   transitioned,
		}), "payment settled")
	}
	return Result{Success: true}, nil
}

// settlementFor checks the reported amounts against the payment. The gateway
// may add its fee on top of the order total, so gross may exceed the payment
// amount but never fall short of it. fee == gross - net whenever net is known.
func (s *Service) settlementFor(cb Callback, payment *models.Payment) (Settlement, error) {
	gross := payment.Amount
	if cb.Gross != nil {
		if *cb.Gross < payment.Amount {
			return Settlement{}, pkgerrors.Newf(pkgerrors.CodeIntegrity,
				"gross amount %d below payment amount %d", *cb.Gross, payment.Amount)
		}
		gross = *cb.Gross
	}
	settlement := Settlement{Gross: &gross, RawPayload: cb.Payload(), PaidAt: s.now()}
	if cb.ExternalTrxID != "" {
		trx := cb.ExternalTrxID
		settlement.ExternalTrxID = &trx
	}
	if cb.Net != nil {
		if *cb.Net < 0 || *cb.Net > gross {
			return Settlement{}, pkgerrors.Newf(pkgerrors.CodeIntegrity,
				"net amount %d outside [0, %d]", *cb.Net, gross)
		}
		net := *cb.Net
		fee := gross - net
		settlement.NetAmount = &net
		settlement.Fee = &fee
	}
	return settlement, nil
}

// closableFrom is the only order status a closed payment may cancel.
var closableFrom = []enums.OrderStatus{enums.OrderStatusAwaitingPayment}

func (s *Service) handleClosed(ctx context.Context, cb Callback, payment *models.Payment, status enums.PaymentStatus) (Result, error) {
	if payment.Status == enums.PaymentStatusPaid {
		s.logg.Warn(ctx, "close callback for a settled payment, ignoring")
		return Result{Success: true}, nil
	}
	reason := "payment " + strings.ToLower(string(status))
	var closed, cancelled bool
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		closed, err = s.repo.WithTx(tx).MarkClosed(ctx, payment.ID, status, cb.Payload())
		if err != nil {
			return err
		}
		cancelled, err = s.orders.TransitionFrom(ctx, tx, payment.OrderID, closableFrom, enums.OrderStatusCancelled, reason)
		return err
	})
	if err != nil {
		s.logg.Error(ctx, "failed to close payment", err)
		return Result{Success: false, Error: "internal error"}, err
	}
	if closed || cancelled {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"payment_updated": closed,
			"order_updated":   cancelled,
		}), reason)
	}

	order, err := s.orders.Get(ctx, payment.OrderID)
	if err != nil {
		s.logg.Error(ctx, "failed to reload order after close", err)
		return Result{Success: false, Error: "internal error"}, err
	}
	if order.Status == enums.OrderStatusCancelled {
		s.runClosedEffects(ctx, cb.RefID, order)
	}
	return Result{Success: true}, nil
}

// ExpireStale closes PENDING payments older than ttl as if the gateway had
// reported them expired. It returns how many payments were processed.
func (s *Service) ExpireStale(ctx context.Context, ttl time.Duration, limit int) (int, error) {
	if ttl <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "payment ttl must be positive")
	}
	if limit <= 0 {
		limit = 100
	}
	cutoff := s.now().Add(-ttl)
	payments, err := s.repo.ListStalePending(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("list stale payments: %w", err)
	}
	processed := 0
	var errs error
	for i := range payments {
		payment := &payments[i]
		pctx := s.logg.WithFields(ctx, map[string]any{
			"ref_id":   payment.RefID,
			"order_id": payment.OrderID.String(),
		})
		cb := Callback{
			RefID:  payment.RefID,
			Status: "expired",
			Fields: map[string]string{"ref_id": payment.RefID, "status": "expired", "source": "payment-expiry"},
		}
		if _, err := s.handleClosed(pctx, cb, payment, enums.PaymentStatusExpired); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire %s: %w", payment.RefID, err))
			continue
		}
		processed++
	}
	return processed, errs
}

var errTopupWithoutReseller = pkgerrors.New(pkgerrors.CodeIntegrity, "topup order has no reseller")
