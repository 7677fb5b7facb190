package enums

import "fmt"

// OrderStatus tracks an order from payment to delivery.
type OrderStatus string

const (
	OrderStatusAwaitingPayment OrderStatus = "AWAITING_PAYMENT"
	OrderStatusPaid            OrderStatus = "PAID"
	OrderStatusProcessing      OrderStatus = "PROCESSING"
	OrderStatusDelivered       OrderStatus = "DELIVERED"
	OrderStatusFailed          OrderStatus = "FAILED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusAwaitingPayment,
	OrderStatusPaid,
	OrderStatusProcessing,
	OrderStatusDelivered,
	OrderStatusFailed,
	OrderStatusCancelled,
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition can leave this status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusFailed || s == OrderStatusCancelled
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}

// OrderFunding says who pays for an order.
type OrderFunding string

const (
	OrderFundingGateway OrderFunding = "GATEWAY"
	OrderFundingWallet  OrderFunding = "WALLET"
)

func (f OrderFunding) IsValid() bool {
	return f == OrderFundingGateway || f == OrderFundingWallet
}

// ParseOrderFunding converts raw input into an OrderFunding.
func ParseOrderFunding(value string) (OrderFunding, error) {
	f := OrderFunding(value)
	if !f.IsValid() {
		return "", fmt.Errorf("invalid order funding %q", value)
	}
	return f, nil
}
