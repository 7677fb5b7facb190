package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/keydrop-backend/pkg/db/models"
	"github.com/angelmondragon/keydrop-backend/pkg/enums"
)

// CreateProduct inserts p, filling name, slug and prices when empty.
func CreateProduct(t testing.TB, db *gorm.DB, p models.Product) models.Product {
	t.Helper()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Name == "" {
		p.Name = "Product " + p.ID.String()[:8]
	}
	if p.Slug == "" {
		p.Slug = "product-" + p.ID.String()
	}
	if p.FulfillmentType == "" {
		p.FulfillmentType = enums.FulfillmentTypeStock
	}
	if p.RetailPrice == 0 {
		p.RetailPrice = 10000
	}
	p.IsActive = true
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	return p
}

// CreateOrder inserts order with items. Missing customer fields, funding and
// status default to a gateway order awaiting payment; totals are derived from
// the items when zero.
func CreateOrder(t testing.TB, db *gorm.DB, order models.Order, items ...models.OrderItem) models.Order {
	t.Helper()
	if order.CustomerName == "" {
		order.CustomerName = "Buyer"
	}
	if order.CustomerEmail == "" {
		order.CustomerEmail = "buyer@example.com"
	}
	if order.Funding == "" {
		order.Funding = enums.OrderFundingGateway
	}
	if order.Status == "" {
		order.Status = enums.OrderStatusAwaitingPayment
	}
	var subtotal int64
	for i := range items {
		if items[i].RetailPrice == 0 {
			items[i].RetailPrice = items[i].UnitPrice
		}
		subtotal += items[i].LineTotal()
	}
	if order.Subtotal == 0 {
		order.Subtotal = subtotal
	}
	if order.Total == 0 {
		order.Total = order.Subtotal - order.DiscountAmount - order.PointsDiscount
	}
	order.Items = items
	if err := db.Create(&order).Error; err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

// CreatePayment inserts a PENDING payment for order. Amount defaults to the
// order total and the ref id to a random one.
func CreatePayment(t testing.TB, db *gorm.DB, order models.Order, refID string) models.Payment {
	t.Helper()
	if refID == "" {
		refID = "KD-" + uuid.NewString()[:12]
	}
	payment := models.Payment{
		OrderID: order.ID,
		RefID:   refID,
		Status:  enums.PaymentStatusPending,
		Amount:  order.Total,
	}
	if err := db.Create(&payment).Error; err != nil {
		t.Fatalf("create payment: %v", err)
	}
	return payment
}
