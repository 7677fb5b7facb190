package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/keydrop-backend/pkg/db"
	pkgerrors "github.com/angelmondragon/keydrop-backend/pkg/errors"
	"github.com/angelmondragon/keydrop-backend/pkg/logger"
)

// AllocateRequest asks for Quantity secrets of one product for one order item.
type AllocateRequest struct {
	ProductID   uuid.UUID
	OrderID     uuid.UUID
	OrderItemID uuid.UUID
	Quantity    int
}

// Secret is one delivered code.
type Secret struct {
	ID     uuid.UUID `json:"id"`
	Secret string    `json:"secret"`
}

// DeliveryData is what lands in order_items.delivery_data for STOCK items.
func DeliveryData(secrets []Secret) json.RawMessage {
	codes := make([]string, 0, len(secrets))
	for _, s := range secrets {
		codes = append(codes, s.Secret)
	}
	payload, _ := json.Marshal(map[string]any{"type": "stock", "secrets": codes})
	return payload
}

type Allocator struct {
	db   dbpkg.TxRunner
	repo Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewAllocator(db dbpkg.TxRunner, repo Repository, logg *logger.Logger) *Allocator {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Allocator{db: db, repo: repo, logg: logg, now: func() time.Time { return time.Now().UTC() }}
}

// Allocate claims Quantity AVAILABLE secrets atomically or none at all. When the
// item already owns SOLD secrets (a previous attempt committed and then crashed)
// those are returned and only the remainder is claimed.
func (a *Allocator) Allocate(ctx context.Context, req AllocateRequest) ([]Secret, error) {
	if req.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if req.ProductID == uuid.Nil || req.OrderID == uuid.Nil || req.OrderItemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product, order and order item are required")
	}

	var out []Secret
	err := a.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := a.repo.WithTx(tx)

		existing, err := repo.SoldForItem(ctx, req.OrderItemID)
		if err != nil {
			return fmt.Errorf("load sold secrets: %w", err)
		}
		out = make([]Secret, 0, req.Quantity)
		for _, row := range existing {
			if len(out) == req.Quantity {
				break
			}
			out = append(out, Secret{ID: row.ID, Secret: row.Secret})
		}
		need := req.Quantity - len(out)
		if need == 0 {
			return nil
		}

		candidates, err := repo.LockAvailable(ctx, req.ProductID, need)
		if err != nil {
			return fmt.Errorf("lock stock: %w", err)
		}
		if len(candidates) < need {
			return pkgerrors.New(pkgerrors.CodeContention, "insufficient stock").
				WithDetails(map[string]any{"product_id": req.ProductID, "requested": need, "available": len(candidates)})
		}
		ids := make([]uuid.UUID, 0, need)
		for _, row := range candidates {
			ids = append(ids, row.ID)
		}
		affected, err := repo.MarkSold(ctx, ids, req.OrderID, req.OrderItemID, a.now())
		if err != nil {
			return fmt.Errorf("mark stock sold: %w", err)
		}
		if affected != int64(need) {
			return pkgerrors.New(pkgerrors.CodeContention, "insufficient stock").
				WithDetails(map[string]any{"product_id": req.ProductID, "requested": need, "claimed": affected})
		}
		for _, row := range candidates {
			out = append(out, Secret{ID: row.ID, Secret: row.Secret})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.logg.Info(a.logg.WithFields(ctx, map[string]any{
		"product_id":    req.ProductID.String(),
		"order_item_id": req.OrderItemID.String(),
		"quantity":      req.Quantity,
	}), "stock allocated")
	return out, nil
}
