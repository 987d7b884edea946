package enums

import "fmt"

// JobState describes the delivery lifecycle of a queued job.
type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

var validJobStates = []JobState{
	JobStatePending,
	JobStateActive,
	JobStateCompleted,
	JobStateFailed,
}

// IsValid reports whether the value matches the canonical job state enum.
func (j JobState) IsValid() bool {
	for _, candidate := range validJobStates {
		if candidate == j {
			return true
		}
	}
	return false
}

// ParseJobState converts the raw string to JobState.
func ParseJobState(value string) (JobState, error) {
	for _, candidate := range validJobStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid job state %q", value)
}

// JobName identifies the unit of work a queued job carries. The set is
// closed on the consumer side; producers may introduce new names, which
// consumers acknowledge without processing.
type JobName string

const (
	JobNameProductUpdate JobName = "product-update"
	JobNameStockUpdate   JobName = "stock-update"
	JobNamePriceUpdate   JobName = "price-update"
	JobNameExportInvoice JobName = "export-invoice"
)
