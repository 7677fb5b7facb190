// Package payloads holds the data carried in notification events.
package payloads

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/keydrop-backend/pkg/enums"
)

// OrderNotification is published for order.paid, order.delivered, order.failed and order.cancelled.
type OrderNotification struct {
	OrderID    uuid.UUID             `json:"order_id"`
	EventType  enums.OutboxEventType `json:"event_type"`
	Status     enums.OrderStatus     `json:"status"`
	ResellerID *uuid.UUID            `json:"reseller_id,omitempty"`
	Total      int64                 `json:"total"`
	IsTopup    bool                  `json:"is_topup,omitempty"`
	Reason     string                `json:"reason,omitempty"`
}
