package enums

import "fmt"

// OutboxAggregateType names the entity an outbox event is about.
type OutboxAggregateType string

const (
	AggregateOrder   OutboxAggregateType = "order"
	AggregatePayment OutboxAggregateType = "payment"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregatePayment,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType is the notification event name.
type OutboxEventType string

const (
	EventOrderPaid      OutboxEventType = "order.paid"
	EventOrderDelivered OutboxEventType = "order.delivered"
	EventOrderFailed    OutboxEventType = "order.failed"
	EventOrderCancelled OutboxEventType = "order.cancelled"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderPaid,
	EventOrderDelivered,
	EventOrderFailed,
	EventOrderCancelled,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
