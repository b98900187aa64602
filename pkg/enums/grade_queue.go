package enums

import "fmt"

// GradeQueueStatus is the terminal marker recorded for one reconciliation
// outcome. Absence of a row means the key has not been processed yet.
type GradeQueueStatus string

const (
	GradeQueueFCreated  GradeQueueStatus = "F_CREATED"
	GradeQueueRRCreated GradeQueueStatus = "RR_CREATED"
)

var validGradeQueueStatuses = []GradeQueueStatus{
	GradeQueueFCreated,
	GradeQueueRRCreated,
}

// IsValid reports whether the value matches a known grade queue status.
func (s GradeQueueStatus) IsValid() bool {
	for _, candidate := range validGradeQueueStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseGradeQueueStatus converts raw input into GradeQueueStatus.
func ParseGradeQueueStatus(value string) (GradeQueueStatus, error) {
	for _, candidate := range validGradeQueueStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid grade queue status %q", value)
}
