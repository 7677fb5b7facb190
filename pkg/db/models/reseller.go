package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Reseller authenticates with an API key; only the argon2id hash is stored.
type Reseller struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name         string    `gorm:"column:name;not null"`
	Email        string    `gorm:"column:email;not null"`
	APIKeyPrefix string    `gorm:"column:api_key_prefix;not null;uniqueIndex"`
	APIKeyHash   string    `gorm:"column:api_key_hash;not null"`
	IsActive     bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Reseller) TableName() string { return "resellers" }

func (r *Reseller) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}

// AppSetting is a tenant-level key/value setting.
type AppSetting struct {
	Key       string    `gorm:"column:key;primaryKey"`
	Value     string    `gorm:"column:value;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (AppSetting) TableName() string { return "app_settings" }
