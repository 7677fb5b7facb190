package checkout

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/keydrop-backend/internal/fulfillment"
	"github.com/angelmondragon/keydrop-backend/internal/ledger"
	dbpkg "github.com/angelmondragon/keydrop-backend/pkg/db"
	"github.com/angelmondragon/keydrop-backend/pkg/db/models"
	"github.com/angelmondragon/keydrop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/keydrop-backend/pkg/errors"
	"github.com/angelmondragon/keydrop-backend/pkg/logger"
)

const (
	maxItems       = 50
	maxQuantity    = 100
	defaultRefPref = "KD"
)

type orderCreator interface {
	Create(ctx context.Context, tx *gorm.DB, order *models.Order) error
}

type walletLedger interface {
	Debit(ctx context.Context, tx *gorm.DB, entry ledger.Entry) (*models.WalletTransaction, error)
	ApplyPoints(ctx context.Context, tx *gorm.DB, entry ledger.PointsEntry) (*models.PointsTransaction, error)
}

type jobCreator interface {
	CreateForOrder(ctx context.Context, tx *gorm.DB, order *models.Order, items []models.OrderItem) (int, error)
}

// ItemInput is one requested line.
type ItemInput struct {
	ProductID uuid.UUID
	Quantity  int
	Input     map[string]string
}

// Customer identifies the end buyer. Empty fields fall back to the reseller.
type Customer struct {
	Name  string
	Email string
	Phone string
}

// OrderInput is a reseller order request.
type OrderInput struct {
	Funding        enums.OrderFunding
	Items          []ItemInput
	Customer       Customer
	PointsToRedeem int64
}

// Placement is the created order and, for gateway funding, its pending payment.
type Placement struct {
	Order   *models.Order
	Payment *models.Payment
}

// Service places reseller orders and wallet topups.
type Service interface {
	PlaceOrder(ctx context.Context, reseller models.Reseller, input OrderInput) (*Placement, error)
	CreateTopup(ctx context.Context, reseller models.Reseller, amount int64) (*Placement, error)
}

type ServiceParams struct {
	DB        dbpkg.TxRunner
	Repo      Repository
	Orders    orderCreator
	Ledger    walletLedger
	Jobs      jobCreator
	Trigger   fulfillment.Trigger
	RefPrefix string
	Logger    *logger.Logger
}

type service struct {
	db        dbpkg.TxRunner
	repo      Repository
	orders    orderCreator
	ledger    walletLedger
	jobs      jobCreator
	trigger   fulfillment.Trigger
	refPrefix string
	logg      *logger.Logger
}

// NewService builds the checkout service.
func NewService(p ServiceParams) (Service, error) {
	if p.DB == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if p.Repo == nil {
		return nil, fmt.Errorf("checkout repository required")
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
	if p.Trigger == nil {
		p.Trigger = fulfillment.NoopTrigger{}
	}
	if p.RefPrefix == "" {
		p.RefPrefix = defaultRefPref
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	return &service{
		db:        p.DB,
		repo:      p.Repo,
		orders:    p.Orders,
		ledger:    p.Ledger,
		jobs:      p.Jobs,
		trigger:   p.Trigger,
		refPrefix: p.RefPrefix,
		logg:      p.Logger,
	}, nil
}

func (s *service) PlaceOrder(ctx context.Context, reseller models.Reseller, input OrderInput) (*Placement, error) {
	if reseller.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "reseller required")
	}
	if err := validateOrderInput(input); err != nil {
		return nil, err
	}
	wallet := input.Funding == enums.OrderFundingWallet

	var placement *Placement
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		products, err := repo.FindProducts(ctx, productIDs(input.Items))
		if err != nil {
			return err
		}
		items, subtotal, err := buildItems(input.Items, products, wallet)
		if err != nil {
			return err
		}

		order := newOrder(reseller, input.Customer)
		order.Funding = input.Funding
		order.Items = items
		order.Subtotal = subtotal
		order.PointsUsed = input.PointsToRedeem
		order.PointsDiscount = input.PointsToRedeem
		order.Total = subtotal - input.PointsToRedeem
		order.Status = enums.OrderStatusAwaitingPayment
		if wallet {
			order.Status = enums.OrderStatusPaid
		} else if order.Total <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "gateway orders need a positive total; use wallet funding")
		}

		if err := s.orders.Create(ctx, tx, order); err != nil {
			return err
		}
		if input.PointsToRedeem > 0 {
			if _, err := s.ledger.ApplyPoints(ctx, tx, ledger.PointsEntry{
				OwnerID:     reseller.ID,
				Amount:      input.PointsToRedeem,
				Type:        enums.PointsTxRedeem,
				OrderID:     &order.ID,
				Description: "redeemed on order",
			}); err != nil {
				return err
			}
		}

		placement = &Placement{Order: order}
		if wallet {
			if order.Total > 0 {
				if _, err := s.ledger.Debit(ctx, tx, ledger.Entry{
					OwnerID:     reseller.ID,
					Amount:      order.Total,
					Type:        enums.WalletTxPurchase,
					OrderID:     &order.ID,
					Description: "wallet purchase",
				}); err != nil {
					return err
				}
			}
			_, err := s.jobs.CreateForOrder(ctx, tx, order, order.Items)
			return err
		}

		payment, err := s.createPayment(ctx, repo, order)
		if err != nil {
			return err
		}
		placement.Payment = payment
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(s.logg.WithOrderID(ctx, placement.Order.ID.String()), map[string]any{
		"reseller_id": reseller.ID.String(),
		"funding":     input.Funding,
		"total":       placement.Order.Total,
	})
	s.logg.Info(logCtx, "reseller order placed")
	if wallet {
		s.trigger.Trigger(ctx)
	}
	return placement, nil
}

func (s *service) CreateTopup(ctx context.Context, reseller models.Reseller, amount int64) (*Placement, error) {
	if reseller.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "reseller required")
	}
	if amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "topup amount must be positive")
	}

	var placement *Placement
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		order := newOrder(reseller, Customer{})
		order.IsTopup = true
		order.Funding = enums.OrderFundingGateway
		order.Subtotal = amount
		order.Total = amount
		order.Status = enums.OrderStatusAwaitingPayment
		if err := s.orders.Create(ctx, tx, order); err != nil {
			return err
		}
		payment, err := s.createPayment(ctx, s.repo.WithTx(tx), order)
		if err != nil {
			return err
		}
		placement = &Placement{Order: order, Payment: payment}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithFields(s.logg.WithOrderID(ctx, placement.Order.ID.String()), map[string]any{
		"reseller_id": reseller.ID.String(),
		"amount":      amount,
		"ref_id":      placement.Payment.RefID,
	}), "wallet topup created")
	return placement, nil
}

func (s *service) createPayment(ctx context.Context, repo Repository, order *models.Order) (*models.Payment, error) {
	payment := &models.Payment{
		OrderID: order.ID,
		RefID:   NewRefID(s.refPrefix),
		Status:  enums.PaymentStatusPending,
		Amount:  order.Total,
	}
	if err := repo.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	return payment, nil
}

// NewRefID returns a gateway reference such as "KD-3F2A9C0D11E84B7A".
func NewRefID(prefix string) string {
	compact := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return prefix + "-" + compact[:16]
}

func newOrder(reseller models.Reseller, customer Customer) *models.Order {
	resellerID := reseller.ID
	order := &models.Order{
		ID:            uuid.New(),
		CustomerName:  strings.TrimSpace(customer.Name),
		CustomerEmail: strings.ToLower(strings.TrimSpace(customer.Email)),
		ResellerID:    &resellerID,
	}
	if order.CustomerName == "" {
		order.CustomerName = reseller.Name
	}
	if order.CustomerEmail == "" {
		order.CustomerEmail = reseller.Email
	}
	if phone := strings.TrimSpace(customer.Phone); phone != "" {
		order.CustomerPhone = &phone
	}
	return order
}

func validateOrderInput(input OrderInput) error {
	if !input.Funding.IsValid() {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "invalid funding %q", input.Funding)
	}
	if len(input.Items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "order contains no items")
	}
	if len(input.Items) > maxItems {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "order may contain at most %d items", maxItems)
	}
	if input.PointsToRedeem < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "points to redeem must not be negative")
	}
	for i, item := range input.Items {
		if item.ProductID == uuid.Nil {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "items[%d]: product id required", i)
		}
		if item.Quantity < 1 || item.Quantity > maxQuantity {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "items[%d]: quantity must be between 1 and %d", i, maxQuantity)
		}
	}
	return nil
}

func productIDs(items []ItemInput) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(items))
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if !seen[item.ProductID] {
			seen[item.ProductID] = true
			ids = append(ids, item.ProductID)
		}
	}
	return ids
}

// buildItems prices each line. Wallet orders are paid by the reseller at the
// reseller price; gateway orders are paid by the end buyer at retail.
func buildItems(inputs []ItemInput, products map[uuid.UUID]models.Product, wallet bool) ([]models.OrderItem, int64, error) {
	items := make([]models.OrderItem, 0, len(inputs))
	var subtotal int64
	for i, in := range inputs {
		product, ok := products[in.ProductID]
		if !ok || !product.IsActive {
			return nil, 0, pkgerrors.Newf(pkgerrors.CodeReferential, "items[%d]: product %s is not available", i, in.ProductID)
		}
		data, err := normalizeInput(product, in, i)
		if err != nil {
			return nil, 0, err
		}
		productID := product.ID
		item := models.OrderItem{
			ProductID:     &productID,
			Quantity:      in.Quantity,
			UnitPrice:     product.PriceFor(wallet),
			RetailPrice:   product.RetailPrice,
			ResellerPrice: product.ResellerPrice,
			InputData:     data,
		}
		subtotal += item.LineTotal()
		items = append(items, item)
	}
	return items, subtotal, nil
}

// normalizeInput lower-cases the target email and requires it for invite products,
// which deliver exactly one seat per line.
func normalizeInput(product models.Product, in ItemInput, idx int) (map[string]string, error) {
	data := make(map[string]string, len(in.Input))
	for k, v := range in.Input {
		data[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	if email, ok := data["email"]; ok && email != "" {
		addr, err := mail.ParseAddress(email)
		if err != nil {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "items[%d]: invalid email", idx)
		}
		data["email"] = strings.ToLower(addr.Address)
	}
	if product.FulfillmentType == enums.FulfillmentTypeInvite {
		if data["email"] == "" {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "items[%d]: email is required for %s", idx, product.Name)
		}
		if in.Quantity != 1 {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "items[%d]: invite products are sold one per line", idx)
		}
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}
