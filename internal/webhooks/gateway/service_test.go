package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/keydrop-backend/internal/fulfillment"
	"github.com/angelmondragon/keydrop-backend/internal/ledger"
	"github.com/angelmondragon/keydrop-backend/internal/orders"
	"github.com/angelmondragon/keydrop-backend/pkg/db"
	"github.com/angelmondragon/keydrop-backend/pkg/db/dbtest"
	"github.com/angelmondragon/keydrop-backend/pkg/db/models"
	"github.com/angelmondragon/keydrop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/keydrop-backend/pkg/errors"
	"github.com/angelmondragon/keydrop-backend/pkg/outbox"
)

type fixedSettings struct{ cashback int }

func (f fixedSettings) CashbackRatePercent(context.Context) int { return f.cashback }
func (f fixedSettings) PointsEarnPercent(context.Context) int   { return 0 }

type countingTrigger struct{ calls int }

func (c *countingTrigger) Trigger(context.Context) { c.calls++ }

type countingAlerter struct{ calls int }

func (c *countingAlerter) Record(context.Context, string) bool {
	c.calls++
	return false
}

// flakyJobs fails the first failures calls, then delegates.
type flakyJobs struct {
	next     jobCreator
	failures int
}

func (f *flakyJobs) CreateForOrder(ctx context.Context, tx *gorm.DB, order *models.Order, items []models.OrderItem) (int, error) {
	if f.failures > 0 {
		f.failures--
		return 0, errors.New("queue unavailable")
	}
	return f.next.CreateForOrder(ctx, tx, order, items)
}

type testEnv struct {
	client   *db.Client
	svc      *Service
	verifier *Verifier
	ledger   ledger.Service
	jobs     *flakyJobs
	trigger  *countingTrigger
	alerter  *countingAlerter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	client := dbtest.Client(t)
	ledgerSvc, err := ledger.NewService(client, ledger.NewRepository(client.DB()), nil)
	require.NoError(t, err)
	orderSvc, err := orders.NewService(orders.ServiceParams{
		DB:       client,
		Repo:     orders.NewRepository(client.DB()),
		Outbox:   outbox.NewService(outbox.NewRepository(client.DB()), nil),
		Points:   ledgerSvc,
		Settings: fixedSettings{cashback: 100},
	})
	require.NoError(t, err)
	verifier, err := NewVerifier("M123", "gateway-secret")
	require.NoError(t, err)

	env := &testEnv{
		client:   client,
		verifier: verifier,
		ledger:   ledgerSvc,
		jobs:     &flakyJobs{next: fulfillment.NewRepository(client.DB(), 3)},
		trigger:  &countingTrigger{},
		alerter:  &countingAlerter{},
	}
	env.svc, err = NewService(ServiceParams{
		DB:       client,
		Repo:     NewRepository(client.DB()),
		Verifier: verifier,
		Orders:   orderSvc,
		Ledger:   ledgerSvc,
		Jobs:     env.jobs,
		Settings: fixedSettings{cashback: 100},
		Trigger:  env.trigger,
		Alerter:  env.alerter,
	})
	require.NoError(t, err)
	return env
}

// resellerOrder is a gateway order with two lines and a margin of 2*5000.
func (e *testEnv) resellerOrder(t *testing.T, reseller uuid.UUID) (models.Order, models.Payment) {
	t.Helper()
	product := dbtest.CreateProduct(t, e.client.DB(), models.Product{})
	resellerPrice := int64(20000)
	item := models.OrderItem{ProductID: &product.ID, Quantity: 1, UnitPrice: 25000, ResellerPrice: &resellerPrice}
	order := dbtest.CreateOrder(t, e.client.DB(), models.Order{ResellerID: &reseller}, item, item)
	return order, dbtest.CreatePayment(t, e.client.DB(), order, "")
}

func (e *testEnv) callback(payment models.Payment, status string) Callback {
	gross := payment.Amount
	return Callback{
		RefID:         payment.RefID,
		ExternalTrxID: "TRX-" + payment.RefID,
		Status:        status,
		Gross:         &gross,
		Signature:     e.verifier.Sign(payment.RefID),
		Fields:        map[string]string{"ref_id": payment.RefID, "status": status},
	}
}

func (e *testEnv) count(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.client.DB().Model(model).Where(query, args...).Count(&n).Error)
	return n
}

func (e *testEnv) reload(t *testing.T, order models.Order, payment models.Payment) (models.Order, models.Payment) {
	t.Helper()
	require.NoError(t, e.client.DB().First(&order, "id = ?", order.ID).Error)
	require.NoError(t, e.client.DB().First(&payment, "id = ?", payment.ID).Error)
	return order, payment
}

func TestInvalidSignatureIsLoggedAndIgnored(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order, payment := env.resellerOrder(t, uuid.New())

	cb := env.callback(payment, "success")
	cb.Signature = "0000"
	res, err := env.svc.HandleCallback(ctx, cb, Meta{RemoteAddr: "10.0.0.1"})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, "invalid signature", res.Error)
	require.Equal(t, 1, env.alerter.calls)

	order, payment = env.reload(t, order, payment)
	require.Equal(t, enums.OrderStatusAwaitingPayment, order.Status)
	require.Equal(t, enums.PaymentStatusPending, payment.Status)
	require.EqualValues(t, 1, env.count(t, &models.WebhookLog{}, "ref_id = ? AND is_valid = ?", payment.RefID, false))
	require.Zero(t, env.count(t, &models.FulfillmentJob{}, "order_id = ?", order.ID))
}

func TestPaidCallbackAppliesEffectsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reseller := uuid.New()
	order, payment := env.resellerOrder(t, reseller)

	cb := env.callback(payment, "success")
	net := payment.Amount - 3000
	cb.Net = &net

	for i := 0; i < 3; i++ {
		res, err := env.svc.HandleCallback(ctx, cb, Meta{})
		require.NoError(t, err)
		require.True(t, res.Success)
	}

	order, payment = env.reload(t, order, payment)
	require.Equal(t, enums.OrderStatusPaid, order.Status)
	require.Equal(t, enums.PaymentStatusPaid, payment.Status)
	require.NotNil(t, payment.PaidAt)
	require.EqualValues(t, 3000, *payment.Fee)
	require.EqualValues(t, net, *payment.NetAmount)
	require.Equal(t, "TRX-"+payment.RefID, *payment.ExternalTrxID)

	require.EqualValues(t, 2, env.count(t, &models.FulfillmentJob{}, "order_id = ?", order.ID))
	require.EqualValues(t, 1, env.count(t, &models.OutboxEvent{}, "aggregate_id = ? AND event_type = ?", order.ID, enums.EventOrderPaid))
	require.EqualValues(t, 2, env.count(t, &models.PaymentEffect{}, "ref_id = ?", payment.RefID))
	require.EqualValues(t, 3, env.count(t, &models.WebhookLog{}, "ref_id = ?", payment.RefID))
	require.Equal(t, 1, env.trigger.calls)

	wallet, err := env.ledger.Wallet(ctx, reseller)
	require.NoError(t, err)
	require.EqualValues(t, 10000, wallet.Balance)
	require.EqualValues(t, 10000, wallet.LifetimeCashback)
	require.EqualValues(t, 1, env.count(t, &models.WalletTransaction{}, "owner_id = ? AND type = ?", reseller, enums.WalletTxCashback))
}

func TestPaidCallbackRetriesFailedEffectOnRedelivery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reseller := uuid.New()
	order, payment := env.resellerOrder(t, reseller)
	env.jobs.failures = 1

	res, err := env.svc.HandleCallback(ctx, env.callback(payment, "paid"), Meta{})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Zero(t, env.count(t, &models.FulfillmentJob{}, "order_id = ?", order.ID))
	require.False(t, env.hasEffect(t, payment.RefID, EffectCreateJobs))
	require.True(t, env.hasEffect(t, payment.RefID, EffectCashback))

	res, err = env.svc.HandleCallback(ctx, env.callback(payment, "paid"), Meta{})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.EqualValues(t, 2, env.count(t, &models.FulfillmentJob{}, "order_id = ?", order.ID))
	require.True(t, env.hasEffect(t, payment.RefID, EffectCreateJobs))
	require.Equal(t, 1, env.trigger.calls)

	wallet, err := env.ledger.Wallet(ctx, reseller)
	require.NoError(t, err)
	require.EqualValues(t, 10000, wallet.Balance)
}

func (e *testEnv) hasEffect(t *testing.T, refID, effect string) bool {
	t.Helper()
	ok, err := NewRepository(e.client.DB()).HasEffect(context.Background(), EffectKey(refID, string(enums.PaymentStatusPaid), effect))
	require.NoError(t, err)
	return ok
}

func TestTopupCallbackCreditsWallet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reseller := uuid.New()
	order := dbtest.CreateOrder(t, env.client.DB(), models.Order{
		ResellerID: &reseller,
		IsTopup:    true,
		Subtotal:   200000,
	})
	payment := dbtest.CreatePayment(t, env.client.DB(), order, "")

	for i := 0; i < 2; i++ {
		res, err := env.svc.HandleCallback(ctx, env.callback(payment, "settled"), Meta{})
		require.NoError(t, err)
		require.True(t, res.Success)
	}

	order, _ = env.reload(t, order, payment)
	require.Equal(t, enums.OrderStatusDelivered, order.Status)
	wallet, err := env.ledger.Wallet(ctx, reseller)
	require.NoError(t, err)
	require.EqualValues(t, 200000, wallet.Balance)
	require.Zero(t, wallet.LifetimeCashback)
	require.Zero(t, env.count(t, &models.FulfillmentJob{}, "order_id = ?", order.ID))
	require.Zero(t, env.trigger.calls)
}

func TestTopupCreditsGrossIncludingGatewayFee(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reseller := uuid.New()
	order := dbtest.CreateOrder(t, env.client.DB(), models.Order{
		ResellerID: &reseller,
		IsTopup:    true,
		Subtotal:   200000,
	})
	payment := dbtest.CreatePayment(t, env.client.DB(), order, "")

	cb := env.callback(payment, "success")
	gross, net := int64(201500), int64(200000)
	cb.Gross, cb.Net = &gross, &net
	res, err := env.svc.HandleCallback(ctx, cb, Meta{})
	require.NoError(t, err)
	require.True(t, res.Success)

	// A redelivery reporting the bare subtotal changes nothing.
	res, err = env.svc.HandleCallback(ctx, env.callback(payment, "success"), Meta{})
	require.NoError(t, err)
	require.True(t, res.Success)

	order, payment = env.reload(t, order, payment)
	require.Equal(t, enums.OrderStatusDelivered, order.Status)
	require.EqualValues(t, 201500, payment.Amount)
	require.EqualValues(t, 1500, *payment.Fee)
	require.EqualValues(t, 200000, *payment.NetAmount)
	wallet, err := env.ledger.Wallet(ctx, reseller)
	require.NoError(t, err)
	require.EqualValues(t, 201500, wallet.Balance)
}

func TestUnknownPaymentIsRejected(t *testing.T) {
	env := newTestEnv(t)
	cb := Callback{RefID: "KD-missing", Status: "success", Signature: env.verifier.Sign("KD-missing")}

	res, err := env.svc.HandleCallback(context.Background(), cb, Meta{})
	require.Error(t, err)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	require.False(t, res.Success)
	require.Equal(t, "payment not found", res.Error)
	require.EqualValues(t, 1, env.count(t, &models.WebhookLog{}, "ref_id = ? AND is_valid = ?", "KD-missing", true))
}

func TestAmountMismatchIsRejected(t *testing.T) {
	env := newTestEnv(t)
	order, payment := env.resellerOrder(t, uuid.New())
	cb := env.callback(payment, "success")
	wrong := payment.Amount - 1
	cb.Gross = &wrong

	res, err := env.svc.HandleCallback(context.Background(), cb, Meta{})
	require.Error(t, err)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeIntegrity))
	require.False(t, res.Success)

	order, payment = env.reload(t, order, payment)
	require.Equal(t, enums.OrderStatusAwaitingPayment, order.Status)
	require.Equal(t, enums.PaymentStatusPending, payment.Status)
}

func TestMalformedCallbackIsLogged(t *testing.T) {
	env := newTestEnv(t)
	cb := Callback{Fields: map[string]string{}, RawBody: []byte("{oops")}

	res, err := env.svc.HandleCallback(context.Background(), cb, Meta{ParseErr: pkgerrors.New(pkgerrors.CodeValidation, "malformed json body")})
	require.Error(t, err)
	require.False(t, res.Success)
	require.EqualValues(t, 1, env.count(t, &models.WebhookLog{}, "event_type = ? AND is_valid = ?", "unknown", false))
}

func TestPendingStatusIsNoop(t *testing.T) {
	env := newTestEnv(t)
	order, payment := env.resellerOrder(t, uuid.New())

	res, err := env.svc.HandleCallback(context.Background(), env.callback(payment, "pending"), Meta{})
	require.NoError(t, err)
	require.True(t, res.Success)

	order, payment = env.reload(t, order, payment)
	require.Equal(t, enums.OrderStatusAwaitingPayment, order.Status)
	require.Equal(t, enums.PaymentStatusPending, payment.Status)
}

func TestExpiredCallbackCancelsAndRefundsPointsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reseller := uuid.New()
	product := dbtest.CreateProduct(t, env.client.DB(), models.Product{})
	order := dbtest.CreateOrder(t, env.client.DB(), models.Order{
		ResellerID:     &reseller,
		PointsUsed:     300,
		PointsDiscount: 300,
	}, models.OrderItem{ProductID: &product.ID, Quantity: 1, UnitPrice: 10000})
	payment := dbtest.CreatePayment(t, env.client.DB(), order, "")

	res, err := env.svc.HandleCallback(ctx, env.callback(payment, "expired"), Meta{})
	require.NoError(t, err)
	require.True(t, res.Success)
	res, err = env.svc.HandleCallback(ctx, env.callback(payment, "failed"), Meta{})
	require.NoError(t, err)
	require.True(t, res.Success)

	order, payment = env.reload(t, order, payment)
	require.Equal(t, enums.OrderStatusCancelled, order.Status)
	require.Equal(t, enums.PaymentStatusExpired, payment.Status)
	require.EqualValues(t, 1, env.count(t, &models.OutboxEvent{}, "aggregate_id = ? AND event_type = ?", order.ID, enums.EventOrderCancelled))

	points, err := env.ledger.Points(ctx, reseller)
	require.NoError(t, err)
	require.EqualValues(t, 300, points.Balance)
}

func TestPaidAfterCancelSkipsFulfillment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order, payment := env.resellerOrder(t, uuid.New())

	_, err := env.svc.HandleCallback(ctx, env.callback(payment, "expired"), Meta{})
	require.NoError(t, err)
	res, err := env.svc.HandleCallback(ctx, env.callback(payment, "success"), Meta{})
	require.NoError(t, err)
	require.True(t, res.Success)

	order, _ = env.reload(t, order, payment)
	require.Equal(t, enums.OrderStatusCancelled, order.Status)
	require.Zero(t, env.count(t, &models.FulfillmentJob{}, "order_id = ?", order.ID))
}

func TestLateCloseCallbackKeepsPaidOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reseller := uuid.New()
	product := dbtest.CreateProduct(t, env.client.DB(), models.Product{})
	order := dbtest.CreateOrder(t, env.client.DB(), models.Order{
		ResellerID:     &reseller,
		PointsUsed:     300,
		PointsDiscount: 300,
	}, models.OrderItem{ProductID: &product.ID, Quantity: 1, UnitPrice: 10000})
	payment := dbtest.CreatePayment(t, env.client.DB(), order, "")

	res, err := env.svc.HandleCallback(ctx, env.callback(payment, "success"), Meta{})
	require.NoError(t, err)
	require.True(t, res.Success)
	for _, status := range []string{"expired", "failed"} {
		res, err = env.svc.HandleCallback(ctx, env.callback(payment, status), Meta{})
		require.NoError(t, err)
		require.True(t, res.Success)
	}

	order, payment = env.reload(t, order, payment)
	require.Equal(t, enums.OrderStatusPaid, order.Status)
	require.Equal(t, enums.PaymentStatusPaid, payment.Status)
	require.EqualValues(t, 1, env.count(t, &models.FulfillmentJob{}, "order_id = ? AND status = ?", order.ID, enums.JobStatusPending))
	require.Zero(t, env.count(t, &models.OutboxEvent{}, "aggregate_id = ? AND event_type = ?", order.ID, enums.EventOrderCancelled))

	points, err := env.ledger.Points(ctx, reseller)
	require.NoError(t, err)
	require.Zero(t, points.Balance)
}

func TestExpireStaleClosesOldPendingPayments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	oldOrder, oldPayment := env.resellerOrder(t, uuid.New())
	freshOrder, freshPayment := env.resellerOrder(t, uuid.New())
	past := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, env.client.DB().Model(&models.Payment{}).Where("id = ?", oldPayment.ID).Update("created_at", past).Error)

	processed, err := env.svc.ExpireStale(ctx, 24*time.Hour, 10)
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	oldOrder, oldPayment = env.reload(t, oldOrder, oldPayment)
	require.Equal(t, enums.PaymentStatusExpired, oldPayment.Status)
	require.Equal(t, enums.OrderStatusCancelled, oldOrder.Status)
	freshOrder, freshPayment = env.reload(t, freshOrder, freshPayment)
	require.Equal(t, enums.PaymentStatusPending, freshPayment.Status)
	require.Equal(t, enums.OrderStatusAwaitingPayment, freshOrder.Status)

	processed, err = env.svc.ExpireStale(ctx, 24*time.Hour, 10)
	require.NoError(t, err)
	require.Zero(t, processed)

	_, err = env.svc.ExpireStale(ctx, 0, 10)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
