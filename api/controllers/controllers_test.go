package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/keydrop-backend/api/middleware"
	"github.com/angelmondragon/keydrop-backend/internal/auth"
	"github.com/angelmondragon/keydrop-backend/internal/checkout"
	"github.com/angelmondragon/keydrop-backend/internal/fulfillment"
	"github.com/angelmondragon/keydrop-backend/internal/ledger"
	"github.com/angelmondragon/keydrop-backend/internal/providers"
	"github.com/angelmondragon/keydrop-backend/pkg/config"
	"github.com/angelmondragon/keydrop-backend/pkg/db/models"
	"github.com/angelmondragon/keydrop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/keydrop-backend/pkg/errors"
	"github.com/angelmondragon/keydrop-backend/pkg/logger"
	"github.com/angelmondragon/keydrop-backend/pkg/pagination"
)

type stubCheckout struct {
	gotInput checkout.OrderInput
	gotTopup int64
	err      error
}

func (s *stubCheckout) PlaceOrder(_ context.Context, reseller models.Reseller, input checkout.OrderInput) (*checkout.Placement, error) {
	s.gotInput = input
	if s.err != nil {
		return nil, s.err
	}
	order := &models.Order{
		ID:         uuid.New(),
		ResellerID: &reseller.ID,
		Funding:    input.Funding,
		Status:     enums.OrderStatusAwaitingPayment,
		Total:      5000,
	}
	return &checkout.Placement{
		Order:   order,
		Payment: &models.Payment{OrderID: order.ID, RefID: "KD-ref", Status: enums.PaymentStatusPending, Amount: 5000},
	}, nil
}

func (s *stubCheckout) CreateTopup(_ context.Context, _ models.Reseller, amount int64) (*checkout.Placement, error) {
	s.gotTopup = amount
	order := &models.Order{ID: uuid.New(), IsTopup: true, Total: amount, Status: enums.OrderStatusAwaitingPayment}
	return &checkout.Placement{Order: order, Payment: &models.Payment{RefID: "KD-top", Amount: amount}}, nil
}

type stubWallet struct {
	gotParams pagination.Params
}

func (s *stubWallet) Wallet(_ context.Context, ownerID uuid.UUID) (*models.Wallet, error) {
	return &models.Wallet{OwnerID: ownerID, Balance: 1200, LifetimeCashback: 300}, nil
}

func (s *stubWallet) Points(_ context.Context, ownerID uuid.UUID) (*models.PointsBalance, error) {
	return &models.PointsBalance{OwnerID: ownerID, Balance: 40}, nil
}

func (s *stubWallet) ListTransactions(_ context.Context, ownerID uuid.UUID, params pagination.Params) (pagination.Page[models.WalletTransaction], error) {
	s.gotParams = params
	return pagination.Page[models.WalletTransaction]{
		Items:      []models.WalletTransaction{{OwnerID: ownerID, Seq: 2, Amount: 500, BalanceAfter: 1200, Type: enums.WalletTxTopup}},
		NextCursor: pagination.EncodeSeqCursor(2),
	}, nil
}

type stubOrders struct {
	order *models.Order
}

func (s *stubOrders) GetForReseller(_ context.Context, orderID, resellerID uuid.UUID) (*models.Order, error) {
	if s.order == nil || s.order.ID != orderID || s.order.ResellerID == nil || *s.order.ResellerID != resellerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return s.order, nil
}

func withReseller(req *http.Request, reseller *models.Reseller) *http.Request {
	return req.WithContext(middleware.WithReseller(req.Context(), reseller))
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, dest any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, dest))
}

func TestResellerPlaceOrder(t *testing.T) {
	svc := &stubCheckout{}
	reseller := &models.Reseller{ID: uuid.New()}
	productID := uuid.New()
	body := `{"funding":"GATEWAY","items":[{"product_id":"` + productID.String() + `","quantity":2,"input":{"email":"a@b.co"}}],"customer":{"name":"Ann","email":"ann@example.com"},"points_to_redeem":10}`

	req := withReseller(httptest.NewRequest(http.MethodPost, "/api/v1/reseller/orders", strings.NewReader(body)), reseller)
	w := httptest.NewRecorder()
	ResellerPlaceOrder(svc, logger.Nop()).ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, enums.OrderFundingGateway, svc.gotInput.Funding)
	require.Len(t, svc.gotInput.Items, 1)
	require.Equal(t, productID, svc.gotInput.Items[0].ProductID)
	require.Equal(t, "a@b.co", svc.gotInput.Items[0].Input["email"])
	require.Equal(t, int64(10), svc.gotInput.PointsToRedeem)

	var resp placementResponse
	decodeData(t, w, &resp)
	require.NotNil(t, resp.Payment)
	require.Equal(t, "KD-ref", resp.Payment.RefID)
	require.Equal(t, enums.OrderStatusAwaitingPayment, resp.Order.Status)
}

func TestResellerPlaceOrderValidation(t *testing.T) {
	reseller := &models.Reseller{ID: uuid.New()}
	cases := map[string]string{
		"bad funding":   `{"funding":"CASH","items":[{"product_id":"` + uuid.NewString() + `","quantity":1}],"customer":{"name":"a","email":"a@b.co"}}`,
		"no items":      `{"funding":"WALLET","items":[],"customer":{"name":"a","email":"a@b.co"}}`,
		"bad email":     `{"funding":"WALLET","items":[{"product_id":"` + uuid.NewString() + `","quantity":1}],"customer":{"name":"a","email":"nope"}}`,
		"unknown field": `{"funding":"WALLET","bogus":1}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			req := withReseller(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), reseller)
			w := httptest.NewRecorder()
			ResellerPlaceOrder(&stubCheckout{}, logger.Nop()).ServeHTTP(w, req)
			require.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestResellerPlaceOrderRequiresReseller(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	ResellerPlaceOrder(&stubCheckout{}, logger.Nop()).ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestResellerPlaceOrderInsufficientFunds(t *testing.T) {
	svc := &stubCheckout{err: pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient wallet balance")}
	body := `{"funding":"WALLET","items":[{"product_id":"` + uuid.NewString() + `","quantity":1}],"customer":{"name":"a","email":"a@b.co"}}`
	req := withReseller(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), &models.Reseller{ID: uuid.New()})
	w := httptest.NewRecorder()
	ResellerPlaceOrder(svc, logger.Nop()).ServeHTTP(w, req)
	require.Equal(t, http.StatusPaymentRequired, w.Code)
}

func TestResellerCreateTopup(t *testing.T) {
	svc := &stubCheckout{}
	req := withReseller(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":25000}`)), &models.Reseller{ID: uuid.New()})
	w := httptest.NewRecorder()
	ResellerCreateTopup(svc, logger.Nop()).ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, int64(25000), svc.gotTopup)

	req = withReseller(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":0}`)), &models.Reseller{ID: uuid.New()})
	w = httptest.NewRecorder()
	ResellerCreateTopup(svc, logger.Nop()).ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResellerWallet(t *testing.T) {
	reseller := &models.Reseller{ID: uuid.New()}
	req := withReseller(httptest.NewRequest(http.MethodGet, "/", nil), reseller)
	w := httptest.NewRecorder()
	ResellerWallet(&stubWallet{}, logger.Nop()).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp walletResponse
	decodeData(t, w, &resp)
	require.Equal(t, reseller.ID, resp.OwnerID)
	require.Equal(t, int64(1200), resp.Balance)
	require.Equal(t, int64(40), resp.Points)
}

func TestResellerWalletTransactionsPassesCursor(t *testing.T) {
	svc := &stubWallet{}
	req := withReseller(httptest.NewRequest(http.MethodGet, "/?limit=5&cursor=abc", nil), &models.Reseller{ID: uuid.New()})
	w := httptest.NewRecorder()
	ResellerWalletTransactions(svc, logger.Nop()).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, pagination.Params{Limit: 5, Cursor: "abc"}, svc.gotParams)
	var resp pagination.Page[walletTransactionResponse]
	decodeData(t, w, &resp)
	require.Len(t, resp.Items, 1)
	require.Equal(t, int64(1200), resp.Items[0].BalanceAfter)
	require.NotEmpty(t, resp.NextCursor)

	req = withReseller(httptest.NewRequest(http.MethodGet, "/?limit=1000", nil), &models.Reseller{ID: uuid.New()})
	w = httptest.NewRecorder()
	ResellerWalletTransactions(svc, logger.Nop()).ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResellerGetOrderScopesToOwner(t *testing.T) {
	owner := &models.Reseller{ID: uuid.New()}
	order := &models.Order{ID: uuid.New(), ResellerID: &owner.ID, Status: enums.OrderStatusDelivered,
		Items: []models.OrderItem{{ID: uuid.New(), Quantity: 1, UnitPrice: 900, DeliveryData: json.RawMessage(`{"code":"XYZ"}`)}}}
	svc := &stubOrders{order: order}

	req := withURLParam(withReseller(httptest.NewRequest(http.MethodGet, "/", nil), owner), "orderId", order.ID.String())
	w := httptest.NewRecorder()
	ResellerGetOrder(svc, logger.Nop()).ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var resp orderResponse
	decodeData(t, w, &resp)
	require.Len(t, resp.Items, 1)
	require.JSONEq(t, `{"code":"XYZ"}`, string(resp.Items[0].DeliveryData))

	other := &models.Reseller{ID: uuid.New()}
	req = withURLParam(withReseller(httptest.NewRequest(http.MethodGet, "/", nil), other), "orderId", order.ID.String())
	w = httptest.NewRecorder()
	ResellerGetOrder(svc, logger.Nop()).ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)

	req = withURLParam(withReseller(httptest.NewRequest(http.MethodGet, "/", nil), owner), "orderId", "not-a-uuid")
	w = httptest.NewRecorder()
	ResellerGetOrder(svc, logger.Nop()).ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

type stubJobs struct {
	gotStatus *enums.JobStatus
}

func (s *stubJobs) List(_ context.Context, status *enums.JobStatus, _ pagination.Params) (pagination.Page[models.FulfillmentJob], error) {
	s.gotStatus = status
	return pagination.Page[models.FulfillmentJob]{Items: []models.FulfillmentJob{{ID: uuid.New(), Status: enums.JobStatusFailed}}}, nil
}

func TestAdminListJobsFiltersStatus(t *testing.T) {
	svc := &stubJobs{}
	w := httptest.NewRecorder()
	AdminListJobs(svc, logger.Nop()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/?status=failed", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.gotStatus)
	require.Equal(t, enums.JobStatusFailed, *svc.gotStatus)

	w = httptest.NewRecorder()
	AdminListJobs(svc, logger.Nop()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/?status=bogus", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

type stubAccounts struct {
	gotInput providers.CreateAccountInput
}

func (s *stubAccounts) CreateAccount(_ context.Context, input providers.CreateAccountInput) (*models.ProviderAccount, error) {
	s.gotInput = input
	return &models.ProviderAccount{ID: uuid.New(), Label: input.Label, Credentials: []byte("sealed"), IsActive: true}, nil
}

func (s *stubAccounts) Reset(_ context.Context, id uuid.UUID) (*models.ProviderAccount, error) {
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "provider account not found")
}

func TestAdminCreateProviderAccountHidesCredentials(t *testing.T) {
	svc := &stubAccounts{}
	body := `{"provider_slug":"github","label":"org-bot","credentials":{"token":"ghp_secret","org":"acme"}}`
	w := httptest.NewRecorder()
	AdminCreateProviderAccount(svc, logger.Nop()).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "ghp_secret", svc.gotInput.Credentials["token"])
	require.NotContains(t, w.Body.String(), "ghp_secret")
	require.NotContains(t, w.Body.String(), "credentials")

	w = httptest.NewRecorder()
	AdminCreateProviderAccount(svc, logger.Nop()).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"provider_slug":"github","label":"x","credentials":{}}`)))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminResetProviderAccountNotFound(t *testing.T) {
	req := withURLParam(httptest.NewRequest(http.MethodPost, "/", nil), "accountId", uuid.NewString())
	w := httptest.NewRecorder()
	AdminResetProviderAccount(&stubAccounts{}, logger.Nop()).ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

type stubAuditor struct{}

func (stubAuditor) AuditWallet(_ context.Context, ownerID uuid.UUID) (*ledger.AuditReport, error) {
	return &ledger.AuditReport{OwnerID: ownerID, Ledger: ledger.LedgerWallet, Balance: 10, ComputedBalance: 12,
		Issues: []ledger.AuditIssue{{Seq: 3, Reason: "balance_after mismatch", Expected: 12, Actual: 10}}}, nil
}

func (stubAuditor) AuditPoints(_ context.Context, ownerID uuid.UUID) (*ledger.AuditReport, error) {
	return &ledger.AuditReport{OwnerID: ownerID, Ledger: ledger.LedgerPoints, Consistent: true}, nil
}

func TestAdminAuditWalletReportsDrift(t *testing.T) {
	owner := uuid.New()
	req := withURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "ownerId", owner.String())
	w := httptest.NewRecorder()
	AdminAuditWallet(stubAuditor{}, logger.Nop()).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp auditResponse
	decodeData(t, w, &resp)
	require.False(t, resp.Wallet.Consistent)
	require.Len(t, resp.Wallet.Issues, 1)
	require.True(t, resp.Points.Consistent)
}

type stubRegistrar struct{}

func (stubRegistrar) RegisterReseller(_ context.Context, req auth.RegisterResellerRequest) (*auth.RegisterResellerResponse, error) {
	return &auth.RegisterResellerResponse{ID: uuid.New(), Name: req.Name, Email: req.Email, APIKey: "kd_live_abc"}, nil
}

func TestAdminRegisterReseller(t *testing.T) {
	w := httptest.NewRecorder()
	body := `{"name":"Shop","email":"shop@example.com"}`
	AdminRegisterReseller(stubRegistrar{}, logger.Nop()).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, w.Code)
	var resp auth.RegisterResellerResponse
	decodeData(t, w, &resp)
	require.Equal(t, "kd_live_abc", resp.APIKey)
}

type stubProcessor struct {
	batchCalls int
	gotJob     uuid.UUID
}

func (s *stubProcessor) ProcessBatch(context.Context) ([]fulfillment.JobResult, error) {
	s.batchCalls++
	return nil, nil
}

func (s *stubProcessor) ProcessJob(_ context.Context, id uuid.UUID) ([]fulfillment.JobResult, error) {
	s.gotJob = id
	return []fulfillment.JobResult{{JobID: id, Status: fulfillment.ResultCompleted}}, nil
}

func TestRunFulfillment(t *testing.T) {
	svc := &stubProcessor{}
	w := httptest.NewRecorder()
	RunFulfillment(svc, logger.Nop()).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, svc.batchCalls)
	require.JSONEq(t, `{"success":true,"processed":0,"results":[]}`, w.Body.String())

	jobID := uuid.New()
	w = httptest.NewRecorder()
	RunFulfillment(svc, logger.Nop()).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"job_id":"`+jobID.String()+`"}`)))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, jobID, svc.gotJob)
	var resp runResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Equal(t, 1, resp.Processed)
	require.Equal(t, fulfillment.ResultCompleted, resp.Results[0].Status)

	w = httptest.NewRecorder()
	RunFulfillment(svc, logger.Nop()).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"job_id":"nope"}`)))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}
	ok := pingerFunc(func(context.Context) error { return nil })
	down := pingerFunc(func(context.Context) error { return errors.New("dial tcp: refused") })

	w := httptest.NewRecorder()
	HealthReady(cfg, map[string]Pinger{"db": ok, "redis": ok}, logger.Nop()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "test", w.Header().Get("X-Keydrop-Env"))

	w = httptest.NewRecorder()
	HealthReady(cfg, map[string]Pinger{"db": ok, "redis": down}, logger.Nop()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
