package orders

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/keydrop-backend/internal/ledger"
	"github.com/angelmondragon/keydrop-backend/pkg/db"
	"github.com/angelmondragon/keydrop-backend/pkg/db/dbtest"
	"github.com/angelmondragon/keydrop-backend/pkg/db/models"
	"github.com/angelmondragon/keydrop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/keydrop-backend/pkg/errors"
	"github.com/angelmondragon/keydrop-backend/pkg/outbox"
)

type fixedSettings struct {
	cashback, points int
}

func (f fixedSettings) CashbackRatePercent(context.Context) int { return f.cashback }
func (f fixedSettings) PointsEarnPercent(context.Context) int   { return f.points }

type testEnv struct {
	client *db.Client
	svc    Service
	ledger ledger.Service
}

func newTestEnv(t *testing.T, pointsPercent int) *testEnv {
	t.Helper()
	client := dbtest.Client(t)
	ledgerSvc, err := ledger.NewService(client, ledger.NewRepository(client.DB()), nil)
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		DB:       client,
		Repo:     NewRepository(client.DB()),
		Outbox:   outbox.NewService(outbox.NewRepository(client.DB()), nil),
		Points:   ledgerSvc,
		Settings: fixedSettings{cashback: 100, points: pointsPercent},
	})
	require.NoError(t, err)
	return &testEnv{client: client, svc: svc, ledger: ledgerSvc}
}

func (e *testEnv) order(t *testing.T, status enums.OrderStatus, reseller *uuid.UUID, items int) models.Order {
	t.Helper()
	product := dbtest.CreateProduct(t, e.client.DB(), models.Product{})
	lines := make([]models.OrderItem, 0, items)
	for i := 0; i < items; i++ {
		lines = append(lines, models.OrderItem{ProductID: &product.ID, Quantity: 1, UnitPrice: 25000})
	}
	return dbtest.CreateOrder(t, e.client.DB(), models.Order{Status: status, ResellerID: reseller}, lines...)
}

func (e *testEnv) events(t *testing.T, orderID uuid.UUID, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, e.client.DB().Model(&models.OutboxEvent{}).
		Where("aggregate_id = ? AND event_type = ?", orderID, eventType).Count(&count).Error)
	return count
}

func TestTransitionIsConditionalAndEmitsOnce(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	order := env.order(t, enums.OrderStatusAwaitingPayment, nil, 1)

	changed, err := env.svc.Transition(ctx, nil, order.ID, enums.OrderStatusPaid, "payment settled")
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = env.svc.Transition(ctx, nil, order.ID, enums.OrderStatusPaid, "payment settled")
	require.NoError(t, err)
	require.False(t, changed)
	require.EqualValues(t, 1, env.events(t, order.ID, enums.EventOrderPaid))

	stored, err := env.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusPaid, stored.Status)
	require.NotNil(t, stored.PaidAt)
}

func TestTransitionRejectsLeavingTerminal(t *testing.T) {
	env := newTestEnv(t, 0)
	order := env.order(t, enums.OrderStatusDelivered, nil, 1)

	changed, err := env.svc.Transition(context.Background(), nil, order.ID, enums.OrderStatusFailed, "late failure")
	require.NoError(t, err)
	require.False(t, changed)
	require.Zero(t, env.events(t, order.ID, enums.EventOrderFailed))
}

func TestTransitionToAwaitingPaymentIsStateConflict(t *testing.T) {
	env := newTestEnv(t, 0)
	_, err := env.svc.Transition(context.Background(), nil, uuid.New(), enums.OrderStatusAwaitingPayment, "")
	require.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
}

func TestTransitionFromHonorsNarrowedSources(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	paid := env.order(t, enums.OrderStatusPaid, nil, 1)
	awaiting := env.order(t, enums.OrderStatusAwaitingPayment, nil, 1)
	from := []enums.OrderStatus{enums.OrderStatusAwaitingPayment}

	changed, err := env.svc.TransitionFrom(ctx, nil, paid.ID, from, enums.OrderStatusCancelled, "payment expired")
	require.NoError(t, err)
	require.False(t, changed)
	stored, err := env.svc.Get(ctx, paid.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusPaid, stored.Status)

	changed, err = env.svc.TransitionFrom(ctx, nil, awaiting.ID, from, enums.OrderStatusCancelled, "payment expired")
	require.NoError(t, err)
	require.True(t, changed)
	require.EqualValues(t, 1, env.events(t, awaiting.ID, enums.EventOrderCancelled))

	_, err = env.svc.TransitionFrom(ctx, nil, paid.ID, []enums.OrderStatus{enums.OrderStatusDelivered}, enums.OrderStatusCancelled, "")
	require.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
}

func TestEvaluateCompletionPartialThenFull(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	order := env.order(t, enums.OrderStatusPaid, nil, 2)

	delivered, err := env.svc.MarkItemDelivered(ctx, nil, order.Items[0].ID, json.RawMessage(`{"type":"stock"}`))
	require.NoError(t, err)
	require.True(t, delivered)

	status, err := env.svc.EvaluateCompletion(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusProcessing, status)

	delivered, err = env.svc.MarkItemDelivered(ctx, nil, order.Items[1].ID, nil)
	require.NoError(t, err)
	require.True(t, delivered)

	status, err = env.svc.EvaluateCompletion(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusDelivered, status)
	require.EqualValues(t, 1, env.events(t, order.ID, enums.EventOrderDelivered))

	// rerunning the check is harmless
	status, err = env.svc.EvaluateCompletion(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusDelivered, status)
	require.EqualValues(t, 1, env.events(t, order.ID, enums.EventOrderDelivered))
}

func TestMarkItemDeliveredOnce(t *testing.T) {
	env := newTestEnv(t, 0)
	order := env.order(t, enums.OrderStatusPaid, nil, 1)

	first, err := env.svc.MarkItemDelivered(context.Background(), nil, order.Items[0].ID, json.RawMessage(`{"n":1}`))
	require.NoError(t, err)
	require.True(t, first)
	second, err := env.svc.MarkItemDelivered(context.Background(), nil, order.Items[0].ID, json.RawMessage(`{"n":2}`))
	require.NoError(t, err)
	require.False(t, second)

	stored, err := env.svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.JSONEq(t, `{"n":1}`, string(stored.Items[0].DeliveryData))
}

func TestDeliveryEarnsPointsForResellerOrders(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()
	reseller := uuid.New()
	order := env.order(t, enums.OrderStatusPaid, &reseller, 1)

	_, err := env.svc.MarkItemDelivered(ctx, nil, order.Items[0].ID, nil)
	require.NoError(t, err)
	_, err = env.svc.EvaluateCompletion(ctx, order.ID)
	require.NoError(t, err)
	_, err = env.svc.EvaluateCompletion(ctx, order.ID)
	require.NoError(t, err)

	balance, err := env.ledger.Points(ctx, reseller)
	require.NoError(t, err)
	require.EqualValues(t, 2500, balance.Balance)
}

func TestGetForResellerHidesOtherOrders(t *testing.T) {
	env := newTestEnv(t, 0)
	owner := uuid.New()
	order := env.order(t, enums.OrderStatusPaid, &owner, 1)

	_, err := env.svc.GetForReseller(context.Background(), order.ID, uuid.New())
	require.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))

	got, err := env.svc.GetForReseller(context.Background(), order.ID, owner)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
}

func TestCreatePaidOrderEmitsPaidEvent(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	product := dbtest.CreateProduct(t, env.client.DB(), models.Product{})

	order := &models.Order{
		CustomerName:  "Buyer",
		CustomerEmail: "buyer@example.com",
		Funding:       enums.OrderFundingWallet,
		Status:        enums.OrderStatusPaid,
		Subtotal:      20000,
		Total:         20000,
		Items:         []models.OrderItem{{ProductID: &product.ID, Quantity: 2, UnitPrice: 10000, RetailPrice: 10000}},
	}
	require.NoError(t, env.svc.Create(ctx, nil, order))
	require.NotNil(t, order.PaidAt)
	require.EqualValues(t, 1, env.events(t, order.ID, enums.EventOrderPaid))

	pending := &models.Order{
		CustomerName:  "Buyer",
		CustomerEmail: "buyer@example.com",
		Funding:       enums.OrderFundingGateway,
		Status:        enums.OrderStatusAwaitingPayment,
		Subtotal:      10000,
		Total:         10000,
	}
	require.NoError(t, env.svc.Create(ctx, nil, pending))
	require.Zero(t, env.events(t, pending.ID, enums.EventOrderPaid))
}

func TestCreateRejectsInconsistentTotals(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	err := env.svc.Create(ctx, nil, &models.Order{
		Funding:  enums.OrderFundingGateway,
		Status:   enums.OrderStatusAwaitingPayment,
		Subtotal: 10000,
		Total:    9000,
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeIntegrity))

	err = env.svc.Create(ctx, nil, &models.Order{
		Funding:  enums.OrderFundingGateway,
		Status:   enums.OrderStatusDelivered,
		Subtotal: 10000,
		Total:    10000,
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
