package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Provider is an external platform INVITE products are fulfilled on.
type Provider struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Slug      string    `gorm:"column:slug;not null;uniqueIndex"`
	Name      string    `gorm:"column:name;not null"`
	IsActive  bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Provider) TableName() string { return "providers" }

func (p *Provider) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// ProviderAccount is a credentialed identity used for invites on one provider.
// Credentials are stored sealed; see pkg/secrets.
type ProviderAccount struct {
	ID            uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	ProviderID    uuid.UUID  `gorm:"column:provider_id;type:uuid;not null;index"`
	Label         string     `gorm:"column:label;not null"`
	Credentials   []byte     `gorm:"column:credentials;type:bytea;not null"`
	CurrentUsage  int        `gorm:"column:current_usage;not null;default:0"`
	Capacity      *int       `gorm:"column:capacity"`
	CooldownUntil *time.Time `gorm:"column:cooldown_until"`
	LastUsedAt    *time.Time `gorm:"column:last_used_at"`
	LastError     *string    `gorm:"column:last_error"`
	IsActive      bool       `gorm:"column:is_active;not null;default:true"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (ProviderAccount) TableName() string { return "provider_accounts" }

func (a *ProviderAccount) BeforeCreate(*gorm.DB) error {
	ensureID(&a.ID)
	return nil
}

// InCooldown reports whether the account must be skipped at now.
func (a ProviderAccount) InCooldown(now time.Time) bool {
	return a.CooldownUntil != nil && a.CooldownUntil.After(now)
}

// AtCapacity reports whether the account reached its ceiling.
func (a ProviderAccount) AtCapacity() bool {
	return a.Capacity != nil && a.CurrentUsage >= *a.Capacity
}
