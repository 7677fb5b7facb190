package checkout

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

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

type countingTrigger struct{ calls int }

func (c *countingTrigger) Trigger(context.Context) { c.calls++ }

type testEnv struct {
	client   *db.Client
	svc      Service
	ledger   ledger.Service
	trigger  *countingTrigger
	reseller models.Reseller
	product  models.Product
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	client := dbtest.Client(t)
	ledgerSvc, err := ledger.NewService(client, ledger.NewRepository(client.DB()), nil)
	require.NoError(t, err)
	orderSvc, err := orders.NewService(orders.ServiceParams{
		DB:     client,
		Repo:   orders.NewRepository(client.DB()),
		Outbox: outbox.NewService(outbox.NewRepository(client.DB()), nil),
		Points: ledgerSvc,
	})
	require.NoError(t, err)

	trigger := &countingTrigger{}
	svc, err := NewService(ServiceParams{
		DB:        client,
		Repo:      NewRepository(client.DB()),
		Orders:    orderSvc,
		Ledger:    ledgerSvc,
		Jobs:      fulfillment.NewRepository(client.DB(), 3),
		Trigger:   trigger,
		RefPrefix: "KD",
	})
	require.NoError(t, err)

	resellerPrice := int64(20000)
	product := dbtest.CreateProduct(t, client.DB(), models.Product{RetailPrice: 25000, ResellerPrice: &resellerPrice})
	reseller := models.Reseller{ID: uuid.New(), Name: "Acme Reseller", Email: "ops@acme.test"}
	return &testEnv{client: client, svc: svc, ledger: ledgerSvc, trigger: trigger, reseller: reseller, product: product}
}

func (e *testEnv) fund(t *testing.T, amount int64) {
	t.Helper()
	_, err := e.ledger.Credit(context.Background(), nil, ledger.Entry{
		OwnerID: e.reseller.ID,
		Amount:  amount,
		Type:    enums.WalletTxTopup,
	})
	require.NoError(t, err)
}

func (e *testEnv) count(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.client.DB().Model(model).Where(query, args...).Count(&n).Error)
	return n
}

func TestWalletOrderIsPaidAndQueued(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, 100000)

	placement, err := env.svc.PlaceOrder(ctx, env.reseller, OrderInput{
		Funding: enums.OrderFundingWallet,
		Items:   []ItemInput{{ProductID: env.product.ID, Quantity: 2}},
	})
	require.NoError(t, err)
	require.Nil(t, placement.Payment)

	order := placement.Order
	require.Equal(t, enums.OrderStatusPaid, order.Status)
	require.EqualValues(t, 40000, order.Total)
	require.Equal(t, "Acme Reseller", order.CustomerName)
	require.NotNil(t, order.PaidAt)

	wallet, err := env.ledger.Wallet(ctx, env.reseller.ID)
	require.NoError(t, err)
	require.EqualValues(t, 60000, wallet.Balance)
	require.EqualValues(t, 1, env.count(t, &models.FulfillmentJob{}, "order_id = ?", order.ID))
	require.EqualValues(t, 1, env.count(t, &models.OutboxEvent{}, "aggregate_id = ? AND event_type = ?", order.ID, enums.EventOrderPaid))
	require.Equal(t, 1, env.trigger.calls)
}

func TestWalletOrderRejectsInsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, 1000)

	_, err := env.svc.PlaceOrder(context.Background(), env.reseller, OrderInput{
		Funding: enums.OrderFundingWallet,
		Items:   []ItemInput{{ProductID: env.product.ID, Quantity: 1}},
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientFunds))
	require.Zero(t, env.count(t, &models.Order{}, "reseller_id = ?", env.reseller.ID))
	require.Zero(t, env.count(t, &models.FulfillmentJob{}, "1 = 1"))
	require.Zero(t, env.trigger.calls)
}

func TestGatewayOrderAwaitsPayment(t *testing.T) {
	env := newTestEnv(t)

	placement, err := env.svc.PlaceOrder(context.Background(), env.reseller, OrderInput{
		Funding:  enums.OrderFundingGateway,
		Items:    []ItemInput{{ProductID: env.product.ID, Quantity: 1}},
		Customer: Customer{Name: "End Buyer", Email: "Buyer@Example.com"},
	})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusAwaitingPayment, placement.Order.Status)
	require.EqualValues(t, 25000, placement.Order.Total)
	require.Equal(t, "buyer@example.com", placement.Order.CustomerEmail)

	require.NotNil(t, placement.Payment)
	require.True(t, strings.HasPrefix(placement.Payment.RefID, "KD-"))
	require.Equal(t, enums.PaymentStatusPending, placement.Payment.Status)
	require.EqualValues(t, 25000, placement.Payment.Amount)
	require.Zero(t, env.count(t, &models.FulfillmentJob{}, "order_id = ?", placement.Order.ID))
	require.Zero(t, env.trigger.calls)
}

func TestPointsRedemption(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.ledger.ApplyPoints(ctx, nil, ledger.PointsEntry{OwnerID: env.reseller.ID, Amount: 500, Type: enums.PointsTxEarn})
	require.NoError(t, err)

	placement, err := env.svc.PlaceOrder(ctx, env.reseller, OrderInput{
		Funding:        enums.OrderFundingGateway,
		Items:          []ItemInput{{ProductID: env.product.ID, Quantity: 1}},
		PointsToRedeem: 300,
	})
	require.NoError(t, err)
	require.EqualValues(t, 24700, placement.Order.Total)
	require.EqualValues(t, 300, placement.Order.PointsUsed)
	require.EqualValues(t, 24700, placement.Payment.Amount)

	points, err := env.ledger.Points(ctx, env.reseller.ID)
	require.NoError(t, err)
	require.EqualValues(t, 200, points.Balance)

	_, err = env.svc.PlaceOrder(ctx, env.reseller, OrderInput{
		Funding:        enums.OrderFundingGateway,
		Items:          []ItemInput{{ProductID: env.product.ID, Quantity: 1}},
		PointsToRedeem: 1000,
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientFunds))
	require.EqualValues(t, 1, env.count(t, &models.Order{}, "reseller_id = ?", env.reseller.ID))
}

func TestPlaceOrderValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	invite := dbtest.CreateProduct(t, env.client.DB(), models.Product{FulfillmentType: enums.FulfillmentTypeInvite})
	inactive := dbtest.CreateProduct(t, env.client.DB(), models.Product{})
	require.NoError(t, env.client.DB().Model(&models.Product{}).Where("id = ?", inactive.ID).Update("is_active", false).Error)

	cases := map[string]struct {
		input OrderInput
		code  pkgerrors.Code
	}{
		"no items": {
			input: OrderInput{Funding: enums.OrderFundingGateway},
			code:  pkgerrors.CodeValidation,
		},
		"bad funding": {
			input: OrderInput{Funding: "CASH", Items: []ItemInput{{ProductID: env.product.ID, Quantity: 1}}},
			code:  pkgerrors.CodeValidation,
		},
		"zero quantity": {
			input: OrderInput{Funding: enums.OrderFundingGateway, Items: []ItemInput{{ProductID: env.product.ID}}},
			code:  pkgerrors.CodeValidation,
		},
		"invite without email": {
			input: OrderInput{Funding: enums.OrderFundingGateway, Items: []ItemInput{{ProductID: invite.ID, Quantity: 1}}},
			code:  pkgerrors.CodeValidation,
		},
		"invite with bad email": {
			input: OrderInput{Funding: enums.OrderFundingGateway, Items: []ItemInput{{ProductID: invite.ID, Quantity: 1, Input: map[string]string{"email": "nope"}}}},
			code:  pkgerrors.CodeValidation,
		},
		"unknown product": {
			input: OrderInput{Funding: enums.OrderFundingGateway, Items: []ItemInput{{ProductID: uuid.New(), Quantity: 1}}},
			code:  pkgerrors.CodeReferential,
		},
		"inactive product": {
			input: OrderInput{Funding: enums.OrderFundingGateway, Items: []ItemInput{{ProductID: inactive.ID, Quantity: 1}}},
			code:  pkgerrors.CodeReferential,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.svc.PlaceOrder(ctx, env.reseller, tc.input)
			require.Error(t, err)
			require.Equal(t, tc.code, pkgerrors.CodeOf(err))
		})
	}
}

func TestInviteEmailIsNormalized(t *testing.T) {
	env := newTestEnv(t)
	invite := dbtest.CreateProduct(t, env.client.DB(), models.Product{FulfillmentType: enums.FulfillmentTypeInvite})

	placement, err := env.svc.PlaceOrder(context.Background(), env.reseller, OrderInput{
		Funding: enums.OrderFundingGateway,
		Items:   []ItemInput{{ProductID: invite.ID, Quantity: 1, Input: map[string]string{"Email": " Dev@Example.COM "}}},
	})
	require.NoError(t, err)

	var item models.OrderItem
	require.NoError(t, env.client.DB().Where("order_id = ?", placement.Order.ID).First(&item).Error)
	require.Equal(t, "dev@example.com", item.InputData["email"])
}

func TestCreateTopup(t *testing.T) {
	env := newTestEnv(t)

	placement, err := env.svc.CreateTopup(context.Background(), env.reseller, 150000)
	require.NoError(t, err)
	require.True(t, placement.Order.IsTopup)
	require.Equal(t, enums.OrderFundingGateway, placement.Order.Funding)
	require.Equal(t, enums.OrderStatusAwaitingPayment, placement.Order.Status)
	require.EqualValues(t, 150000, placement.Payment.Amount)
	require.Equal(t, env.reseller.ID, *placement.Order.ResellerID)

	_, err = env.svc.CreateTopup(context.Background(), env.reseller, 0)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
