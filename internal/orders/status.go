package orders

import (
	pkgerrors "github.com/angelmondragon/keydrop-backend/pkg/errors"
	"github.com/angelmondragon/keydrop-backend/pkg/enums"
)

// allowedSources lists, per target status, the statuses an order may leave to reach it.
var allowedSources = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPaid:       {enums.OrderStatusAwaitingPayment},
	enums.OrderStatusProcessing: {enums.OrderStatusPaid},
	enums.OrderStatusDelivered:  {enums.OrderStatusPaid, enums.OrderStatusProcessing},
	enums.OrderStatusFailed:     {enums.OrderStatusAwaitingPayment, enums.OrderStatusPaid, enums.OrderStatusProcessing},
	enums.OrderStatusCancelled:  {enums.OrderStatusAwaitingPayment, enums.OrderStatusPaid, enums.OrderStatusProcessing},
}

// CanTransition reports whether from -> to is an edge of the order state machine.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, source := range allowedSources[to] {
		if source == from {
			return true
		}
	}
	return false
}

// SourcesFor returns the statuses a conditional update into to may match.
func SourcesFor(to enums.OrderStatus) []enums.OrderStatus {
	return append([]enums.OrderStatus(nil), allowedSources[to]...)
}

// ComputeTotal returns subtotal - discount - pointsDiscount, rejecting negative parts and totals.
func ComputeTotal(subtotal, discount, pointsDiscount int64) (int64, error) {
	if subtotal < 0 || discount < 0 || pointsDiscount < 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "order amounts must not be negative")
	}
	total := subtotal - discount - pointsDiscount
	if total < 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "discounts exceed subtotal").
			WithDetails(map[string]any{"subtotal": subtotal, "discount": discount, "points_discount": pointsDiscount})
	}
	return total, nil
}

func eventFor(status enums.OrderStatus) (enums.OutboxEventType, bool) {
	switch status {
	case enums.OrderStatusPaid:
		return enums.EventOrderPaid, true
	case enums.OrderStatusDelivered:
		return enums.EventOrderDelivered, true
	case enums.OrderStatusFailed:
		return enums.EventOrderFailed, true
	case enums.OrderStatusCancelled:
		return enums.EventOrderCancelled, true
	}
	return "", false
}

func timestampColumn(status enums.OrderStatus) string {
	switch status {
	case enums.OrderStatusPaid:
		return "paid_at"
	case enums.OrderStatusDelivered:
		return "delivered_at"
	case enums.OrderStatusFailed:
		return "failed_at"
	case enums.OrderStatusCancelled:
		return "cancelled_at"
	}
	return ""
}
