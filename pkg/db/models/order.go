package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/keydrop-backend/pkg/enums"
)

// Order is one purchase, gateway- or wallet-funded.
type Order struct {
	ID             uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	CustomerName   string             `gorm:"column:customer_name;not null"`
	CustomerEmail  string             `gorm:"column:customer_email;not null"`
	CustomerPhone  *string            `gorm:"column:customer_phone"`
	ResellerID     *uuid.UUID         `gorm:"column:reseller_id;type:uuid"`
	IsTopup        bool               `gorm:"column:is_topup;not null;default:false"`
	Funding        enums.OrderFunding `gorm:"column:funding;type:text;not null"`
	Subtotal       int64              `gorm:"column:subtotal;not null"`
	DiscountAmount int64              `gorm:"column:discount_amount;not null;default:0"`
	PointsDiscount int64              `gorm:"column:points_discount;not null;default:0"`
	PointsUsed     int64              `gorm:"column:points_used;not null;default:0"`
	Total          int64              `gorm:"column:total;not null"`
	Status         enums.OrderStatus  `gorm:"column:status;type:text;not null"`
	PaidAt         *time.Time         `gorm:"column:paid_at"`
	DeliveredAt    *time.Time         `gorm:"column:delivered_at"`
	FailedAt       *time.Time         `gorm:"column:failed_at"`
	CancelledAt    *time.Time         `gorm:"column:cancelled_at"`
	CreatedAt      time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time          `gorm:"column:updated_at;autoUpdateTime"`

	Items []OrderItem `gorm:"foreignKey:OrderID;references:ID"`
}

func (Order) TableName() string { return "orders" }

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// IsResellerAttributed reports whether a reseller earns cashback on this order.
func (o *Order) IsResellerAttributed() bool {
	return o.ResellerID != nil && *o.ResellerID != uuid.Nil
}

// OrderItem is one purchased line and the unit of fulfillment.
type OrderItem struct {
	ID            uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderID       uuid.UUID         `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID     *uuid.UUID        `gorm:"column:product_id;type:uuid"`
	Quantity      int               `gorm:"column:quantity;not null"`
	UnitPrice     int64             `gorm:"column:unit_price;not null"`
	RetailPrice   int64             `gorm:"column:retail_price;not null"`
	ResellerPrice *int64            `gorm:"column:reseller_price"`
	InputData     map[string]string `gorm:"column:input_data;type:jsonb;serializer:json"`
	DeliveryData  json.RawMessage   `gorm:"column:delivery_data;type:jsonb"`
	DeliveredAt   *time.Time        `gorm:"column:delivered_at"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time         `gorm:"column:updated_at;autoUpdateTime"`

	Product *Product `gorm:"foreignKey:ProductID;references:ID"`
}

func (OrderItem) TableName() string { return "order_items" }

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}

// LineTotal is the amount charged for the line.
func (i OrderItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}
