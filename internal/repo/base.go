package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Base is embedded by the domain repositories.
type Base struct {
	db *gorm.DB
}

// NewBase constructs a Base repository backed by the provided GORM connection.
func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// Bind returns a copy that runs on tx, or the receiver when tx is nil.
func (b Base) Bind(tx *gorm.DB) Base {
	if tx == nil {
		return b
	}
	return Base{db: tx}
}

// DB returns the GORM connection bound to the supplied context (if any).
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// ForUpdate adds SELECT ... FOR UPDATE. Only meaningful inside a transaction.
func (b Base) ForUpdate(ctx context.Context) *gorm.DB {
	return b.DB(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
}

// SkipLocked adds FOR UPDATE SKIP LOCKED so concurrent claimers take disjoint rows.
func (b Base) SkipLocked(ctx context.Context) *gorm.DB {
	return b.DB(ctx).Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
}
