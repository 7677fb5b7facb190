package gateway

import (
	"context"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/keydrop-backend/internal/cashback"
	"github.com/angelmondragon/keydrop-backend/internal/ledger"
	"github.com/angelmondragon/keydrop-backend/pkg/db/models"
	"github.com/angelmondragon/keydrop-backend/pkg/enums"
)

// Side effects of a payment transition. Each one is recorded in payment_effects
// under EffectKey, in the same transaction as the effect itself.
const (
	EffectTopupCredit  = "topup_credit"
	EffectCreateJobs   = "create_jobs"
	EffectCashback     = "cashback"
	EffectPointsRefund = "points_refund"
)

// EffectKey is the idempotency key of one side effect.
func EffectKey(refID string, status string, effect string) string {
	return refID + ":" + status + ":" + effect
}

// runEffect claims the effect key and runs fn in one transaction. It reports
// whether fn ran; a key that already exists means an earlier delivery did it.
func (s *Service) runEffect(ctx context.Context, refID, status, effect string, order *models.Order, fn func(tx *gorm.DB) error) (bool, error) {
	var ran bool
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		claimed, err := s.repo.WithTx(tx).ClaimEffect(ctx, &models.PaymentEffect{
			IdempotencyKey: EffectKey(refID, status, effect),
			RefID:          refID,
			ExternalStatus: status,
			Effect:         effect,
			OrderID:        order.ID,
		})
		if err != nil || !claimed {
			return err
		}
		if err := fn(tx); err != nil {
			return err
		}
		ran = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return ran, nil
}

func (s *Service) runPaidEffects(ctx context.Context, refID string, payment *models.Payment, order *models.Order) {
	status := string(enums.PaymentStatusPaid)
	var failures error

	record := func(effect string, ran bool, err error) {
		effectCtx := s.logg.WithField(ctx, "effect", effect)
		if err != nil {
			s.metrics.IncEffectFailure(effect)
			s.logg.Error(effectCtx, "payment side effect failed", err)
			failures = multierr.Append(failures, err)
			return
		}
		if ran {
			s.logg.Info(effectCtx, "payment side effect applied")
		}
	}

	if order.IsTopup {
		ran, err := s.runEffect(ctx, refID, status, EffectTopupCredit, order, func(tx *gorm.DB) error {
			if !order.IsResellerAttributed() {
				return errTopupWithoutReseller
			}
			if _, err := s.ledger.Credit(ctx, tx, ledger.Entry{
				OwnerID:     *order.ResellerID,
				Amount:      payment.Amount,
				Type:        enums.WalletTxTopup,
				OrderID:     &order.ID,
				Description: "wallet topup " + refID,
			}); err != nil {
				return err
			}
			_, err := s.orders.Transition(ctx, tx, order.ID, enums.OrderStatusDelivered, "topup credited")
			return err
		})
		record(EffectTopupCredit, ran, err)
		s.logSummary(ctx, failures)
		return
	}

	ran, err := s.runEffect(ctx, refID, status, EffectCreateJobs, order, func(tx *gorm.DB) error {
		_, err := s.jobs.CreateForOrder(ctx, tx, order, order.Items)
		return err
	})
	record(EffectCreateJobs, ran, err)
	jobsCreated := ran

	if amount := s.cashbackFor(ctx, order); amount > 0 {
		ran, err := s.runEffect(ctx, refID, status, EffectCashback, order, func(tx *gorm.DB) error {
			_, err := s.ledger.Credit(ctx, tx, ledger.Entry{
				OwnerID:     *order.ResellerID,
				Amount:      amount,
				Type:        enums.WalletTxCashback,
				OrderID:     &order.ID,
				Description: "cashback " + refID,
			})
			return err
		})
		record(EffectCashback, ran, err)
	}

	// Redeliveries leave waking the workers to their ticker.
	if jobsCreated {
		s.trigger.Trigger(ctx)
	}
	s.logSummary(ctx, failures)
}

// cashbackFor is non-zero only for reseller-attributed, gateway-funded purchases.
func (s *Service) cashbackFor(ctx context.Context, order *models.Order) int64 {
	if order.IsTopup || !order.IsResellerAttributed() || order.Funding != enums.OrderFundingGateway {
		return 0
	}
	return cashback.Calculate(cashback.LinesFromItems(order.Items), s.settings.CashbackRatePercent(ctx))
}

// runClosedEffects returns redeemed points. The key uses the order status so
// an EXPIRED callback followed by a FAILED one refunds once.
func (s *Service) runClosedEffects(ctx context.Context, refID string, order *models.Order) {
	if order.PointsUsed <= 0 || !order.IsResellerAttributed() {
		return
	}
	ran, err := s.runEffect(ctx, refID, string(enums.OrderStatusCancelled), EffectPointsRefund, order, func(tx *gorm.DB) error {
		_, err := s.ledger.ApplyPoints(ctx, tx, ledger.PointsEntry{
			OwnerID:     *order.ResellerID,
			Amount:      order.PointsUsed,
			Type:        enums.PointsTxRefund,
			OrderID:     &order.ID,
			Description: "points returned for cancelled order",
		})
		return err
	})
	effectCtx := s.logg.WithField(ctx, "effect", EffectPointsRefund)
	if err != nil {
		s.metrics.IncEffectFailure(EffectPointsRefund)
		s.logg.Error(effectCtx, "payment side effect failed", err)
		return
	}
	if ran {
		s.logg.Info(effectCtx, "payment side effect applied")
	}
}

func (s *Service) logSummary(ctx context.Context, failures error) {
	if failures == nil {
		return
	}
	errs := multierr.Errors(failures)
	s.logg.Warn(s.logg.WithField(ctx, "failed_effects", len(errs)),
		"payment side effects incomplete; a redelivery will retry them")
}
