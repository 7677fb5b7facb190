package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/keydrop-backend/pkg/enums"
)

// Wallet holds a reseller's spendable balance.
type Wallet struct {
	ID               uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OwnerID          uuid.UUID `gorm:"column:owner_id;type:uuid;not null;uniqueIndex"`
	Balance          int64     `gorm:"column:balance;not null;default:0"`
	LifetimeCashback int64     `gorm:"column:lifetime_cashback;not null;default:0"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Wallet) TableName() string { return "wallets" }

func (w *Wallet) BeforeCreate(*gorm.DB) error {
	ensureID(&w.ID)
	return nil
}

// WalletTransaction is an append-only wallet ledger row.
type WalletTransaction struct {
	ID           uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	WalletID     uuid.UUID                   `gorm:"column:wallet_id;type:uuid;not null;uniqueIndex:ux_wallet_transactions_seq,priority:1"`
	OwnerID      uuid.UUID                   `gorm:"column:owner_id;type:uuid;not null;index"`
	Seq          int64                       `gorm:"column:seq;not null;uniqueIndex:ux_wallet_transactions_seq,priority:2"`
	Amount       int64                       `gorm:"column:amount;not null"`
	BalanceAfter int64                       `gorm:"column:balance_after;not null"`
	Type         enums.WalletTransactionType `gorm:"column:type;type:text;not null"`
	OrderID      *uuid.UUID                  `gorm:"column:order_id;type:uuid"`
	Description  string                      `gorm:"column:description;not null;default:''"`
	CreatedAt    time.Time                   `gorm:"column:created_at;autoCreateTime"`
}

func (WalletTransaction) TableName() string { return "wallet_transactions" }

func (t *WalletTransaction) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	return nil
}

// PointsBalance holds a customer's loyalty points.
type PointsBalance struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OwnerID   uuid.UUID `gorm:"column:owner_id;type:uuid;not null;uniqueIndex"`
	Balance   int64     `gorm:"column:balance;not null;default:0"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (PointsBalance) TableName() string { return "points_balances" }

func (b *PointsBalance) BeforeCreate(*gorm.DB) error {
	ensureID(&b.ID)
	return nil
}

// PointsTransaction is an append-only points ledger row.
type PointsTransaction struct {
	ID           uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	BalanceID    uuid.UUID                   `gorm:"column:balance_id;type:uuid;not null;uniqueIndex:ux_points_transactions_seq,priority:1"`
	OwnerID      uuid.UUID                   `gorm:"column:owner_id;type:uuid;not null;index"`
	Seq          int64                       `gorm:"column:seq;not null;uniqueIndex:ux_points_transactions_seq,priority:2"`
	Amount       int64                       `gorm:"column:amount;not null"`
	BalanceAfter int64                       `gorm:"column:balance_after;not null"`
	Type         enums.PointsTransactionType `gorm:"column:type;type:text;not null"`
	OrderID      *uuid.UUID                  `gorm:"column:order_id;type:uuid"`
	Description  string                      `gorm:"column:description;not null;default:''"`
	CreatedAt    time.Time                   `gorm:"column:created_at;autoCreateTime"`
}

func (PointsTransaction) TableName() string { return "points_transactions" }

func (t *PointsTransaction) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	return nil
}
