package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/keydrop-backend/pkg/enums"
)

// Product is read-only to the fulfillment engine; the catalog owns it.
type Product struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	Name            string                `gorm:"column:name;not null"`
	Slug            string                `gorm:"column:slug;not null;uniqueIndex"`
	FulfillmentType enums.FulfillmentType `gorm:"column:fulfillment_type;type:text;not null"`
	ProviderID      *uuid.UUID            `gorm:"column:provider_id;type:uuid"`
	RetailPrice     int64                 `gorm:"column:retail_price;not null"`
	ResellerPrice   *int64                `gorm:"column:reseller_price"`
	IsActive        bool                  `gorm:"column:is_active;not null;default:true"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (Product) TableName() string { return "products" }

func (p *Product) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// PriceFor returns what the buyer pays: reseller price for resellers when set.
func (p Product) PriceFor(reseller bool) int64 {
	if reseller && p.ResellerPrice != nil {
		return *p.ResellerPrice
	}
	return p.RetailPrice
}
