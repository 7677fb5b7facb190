package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/keydrop-backend/pkg/enums"
)

// StockItem is one pre-provisioned secret code.
type StockItem struct {
	ID          uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	ProductID   uuid.UUID         `gorm:"column:product_id;type:uuid;not null;index:ix_stock_items_product_status,priority:1"`
	Secret      string            `gorm:"column:secret;not null"`
	Status      enums.StockStatus `gorm:"column:status;type:text;not null;index:ix_stock_items_product_status,priority:2"`
	OrderID     *uuid.UUID        `gorm:"column:order_id;type:uuid"`
	OrderItemID *uuid.UUID        `gorm:"column:order_item_id;type:uuid;index"`
	SoldAt      *time.Time        `gorm:"column:sold_at"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (StockItem) TableName() string { return "stock_items" }

func (s *StockItem) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}
