package controllers

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/keydrop-backend/pkg/db/models"
	"github.com/angelmondragon/keydrop-backend/pkg/enums"
	"github.com/angelmondragon/keydrop-backend/pkg/pagination"
)

type orderItemResponse struct {
	ID           uuid.UUID         `json:"id"`
	ProductID    *uuid.UUID        `json:"product_id,omitempty"`
	Quantity     int               `json:"quantity"`
	UnitPrice    int64             `json:"unit_price"`
	LineTotal    int64             `json:"line_total"`
	Input        map[string]string `json:"input,omitempty"`
	DeliveryData json.RawMessage   `json:"delivery_data,omitempty"`
	DeliveredAt  *time.Time        `json:"delivered_at,omitempty"`
}

type orderResponse struct {
	ID             uuid.UUID           `json:"id"`
	Status         enums.OrderStatus   `json:"status"`
	Funding        enums.OrderFunding  `json:"funding"`
	IsTopup        bool                `json:"is_topup"`
	CustomerName   string              `json:"customer_name"`
	CustomerEmail  string              `json:"customer_email"`
	Subtotal       int64               `json:"subtotal"`
	PointsUsed     int64               `json:"points_used"`
	PointsDiscount int64               `json:"points_discount"`
	Total          int64               `json:"total"`
	PaidAt         *time.Time          `json:"paid_at,omitempty"`
	DeliveredAt    *time.Time          `json:"delivered_at,omitempty"`
	FailedAt       *time.Time          `json:"failed_at,omitempty"`
	CancelledAt    *time.Time          `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	Items          []orderItemResponse `json:"items"`
}

func newOrderResponse(o *models.Order) orderResponse {
	resp := orderResponse{
		ID:             o.ID,
		Status:         o.Status,
		Funding:        o.Funding,
		IsTopup:        o.IsTopup,
		CustomerName:   o.CustomerName,
		CustomerEmail:  o.CustomerEmail,
		Subtotal:       o.Subtotal,
		PointsUsed:     o.PointsUsed,
		PointsDiscount: o.PointsDiscount,
		Total:          o.Total,
		PaidAt:         o.PaidAt,
		DeliveredAt:    o.DeliveredAt,
		FailedAt:       o.FailedAt,
		CancelledAt:    o.CancelledAt,
		CreatedAt:      o.CreatedAt,
		Items:          make([]orderItemResponse, 0, len(o.Items)),
	}
	for _, item := range o.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ID:           item.ID,
			ProductID:    item.ProductID,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			LineTotal:    item.LineTotal(),
			Input:        item.InputData,
			DeliveryData: item.DeliveryData,
			DeliveredAt:  item.DeliveredAt,
		})
	}
	return resp
}

type paymentResponse struct {
	RefID  string              `json:"ref_id"`
	Status enums.PaymentStatus `json:"status"`
	Amount int64               `json:"amount"`
}

type placementResponse struct {
	Order   orderResponse    `json:"order"`
	Payment *paymentResponse `json:"payment,omitempty"`
}

func newPlacementResponse(order *models.Order, payment *models.Payment) placementResponse {
	resp := placementResponse{Order: newOrderResponse(order)}
	if payment != nil {
		resp.Payment = &paymentResponse{
			RefID:  payment.RefID,
			Status: payment.Status,
			Amount: payment.Amount,
		}
	}
	return resp
}

type walletResponse struct {
	OwnerID          uuid.UUID `json:"owner_id"`
	Balance          int64     `json:"balance"`
	LifetimeCashback int64     `json:"lifetime_cashback"`
	Points           int64     `json:"points"`
}

type walletTransactionResponse struct {
	ID           uuid.UUID                   `json:"id"`
	Seq          int64                       `json:"seq"`
	Type         enums.WalletTransactionType `json:"type"`
	Amount       int64                       `json:"amount"`
	BalanceAfter int64                       `json:"balance_after"`
	OrderID      *uuid.UUID                  `json:"order_id,omitempty"`
	Description  string                      `json:"description,omitempty"`
	CreatedAt    time.Time                   `json:"created_at"`
}

func newTransactionPage(page pagination.Page[models.WalletTransaction]) pagination.Page[walletTransactionResponse] {
	out := pagination.Page[walletTransactionResponse]{
		Items:      make([]walletTransactionResponse, 0, len(page.Items)),
		NextCursor: page.NextCursor,
	}
	for _, tx := range page.Items {
		out.Items = append(out.Items, walletTransactionResponse{
			ID:           tx.ID,
			Seq:          tx.Seq,
			Type:         tx.Type,
			Amount:       tx.Amount,
			BalanceAfter: tx.BalanceAfter,
			OrderID:      tx.OrderID,
			Description:  tx.Description,
			CreatedAt:    tx.CreatedAt,
		})
	}
	return out
}

type fulfillmentJobResponse struct {
	ID                uuid.UUID             `json:"id"`
	OrderID           uuid.UUID             `json:"order_id"`
	OrderItemID       *uuid.UUID            `json:"order_item_id,omitempty"`
	JobType           enums.FulfillmentType `json:"job_type"`
	Status            enums.JobStatus       `json:"status"`
	Attempts          int                   `json:"attempts"`
	MaxAttempts       int                   `json:"max_attempts"`
	NextRetryAt       *time.Time            `json:"next_retry_at,omitempty"`
	StartedAt         *time.Time            `json:"started_at,omitempty"`
	CompletedAt       *time.Time            `json:"completed_at,omitempty"`
	LastError         *string               `json:"last_error,omitempty"`
	ProviderAccountID *uuid.UUID            `json:"provider_account_id,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
}

func newJobPage(page pagination.Page[models.FulfillmentJob]) pagination.Page[fulfillmentJobResponse] {
	out := pagination.Page[fulfillmentJobResponse]{
		Items:      make([]fulfillmentJobResponse, 0, len(page.Items)),
		NextCursor: page.NextCursor,
	}
	for _, job := range page.Items {
		out.Items = append(out.Items, fulfillmentJobResponse{
			ID:                job.ID,
			OrderID:           job.OrderID,
			OrderItemID:       job.OrderItemID,
			JobType:           job.JobType,
			Status:            job.Status,
			Attempts:          job.Attempts,
			MaxAttempts:       job.MaxAttempts,
			NextRetryAt:       job.NextRetryAt,
			StartedAt:         job.StartedAt,
			CompletedAt:       job.CompletedAt,
			LastError:         job.LastError,
			ProviderAccountID: job.ProviderAccountID,
			CreatedAt:         job.CreatedAt,
		})
	}
	return out
}

// providerAccountResponse never carries credentials.
type providerAccountResponse struct {
	ID            uuid.UUID  `json:"id"`
	ProviderID    uuid.UUID  `json:"provider_id"`
	Label         string     `json:"label"`
	CurrentUsage  int        `json:"current_usage"`
	Capacity      *int       `json:"capacity,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	LastError     *string    `json:"last_error,omitempty"`
	IsActive      bool       `json:"is_active"`
	CreatedAt     time.Time  `json:"created_at"`
}

func newProviderAccountResponse(a *models.ProviderAccount) providerAccountResponse {
	return providerAccountResponse{
		ID:            a.ID,
		ProviderID:    a.ProviderID,
		Label:         a.Label,
		CurrentUsage:  a.CurrentUsage,
		Capacity:      a.Capacity,
		CooldownUntil: a.CooldownUntil,
		LastUsedAt:    a.LastUsedAt,
		LastError:     a.LastError,
		IsActive:      a.IsActive,
		CreatedAt:     a.CreatedAt,
	}
}
