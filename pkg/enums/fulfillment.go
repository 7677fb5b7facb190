package enums

import "fmt"

// FulfillmentType selects how a product is delivered. Jobs inherit it as their job_type.
type FulfillmentType string

const (
	FulfillmentTypeStock  FulfillmentType = "STOCK"
	FulfillmentTypeInvite FulfillmentType = "INVITE"
)

func (t FulfillmentType) IsValid() bool {
	return t == FulfillmentTypeStock || t == FulfillmentTypeInvite
}

// ParseFulfillmentType converts raw input into a FulfillmentType.
func ParseFulfillmentType(value string) (FulfillmentType, error) {
	t := FulfillmentType(value)
	if !t.IsValid() {
		return "", fmt.Errorf("invalid fulfillment type %q", value)
	}
	return t, nil
}

// JobStatus is the lifecycle of one fulfillment job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

var validJobStatuses = []JobStatus{
	JobStatusPending,
	JobStatusProcessing,
	JobStatusCompleted,
	JobStatusFailed,
}

func (s JobStatus) String() string {
	return string(s)
}

func (s JobStatus) IsValid() bool {
	for _, candidate := range validJobStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the worker loop must never claim the job again.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ParseJobStatus converts raw input into a JobStatus.
func ParseJobStatus(value string) (JobStatus, error) {
	for _, candidate := range validJobStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid job status %q", value)
}
