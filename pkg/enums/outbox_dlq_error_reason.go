package enums

import "fmt"

// OutboxDLQErrorReason records why an outbox row was dead-lettered.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	OutboxDLQReasonUnknownEvent OutboxDLQErrorReason = "unknown_event"
)

var validOutboxDLQErrorReasons = []OutboxDLQErrorReason{
	OutboxDLQReasonMaxAttempts,
	OutboxDLQReasonNonRetryable,
	OutboxDLQReasonUnknownEvent,
}

func (r OutboxDLQErrorReason) IsValid() bool {
	for _, candidate := range validOutboxDLQErrorReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseOutboxDLQErrorReason converts raw input into OutboxDLQErrorReason.
func ParseOutboxDLQErrorReason(value string) (OutboxDLQErrorReason, error) {
	for _, candidate := range validOutboxDLQErrorReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox dlq error reason %q", value)
}
