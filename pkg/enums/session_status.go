package enums

import "fmt"

// SessionStatus describes the allowed values for the `status` column in sessions.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "ACTIVE"
	SessionStatusClosed    SessionStatus = "CLOSED"
	SessionStatusAbandoned SessionStatus = "ABANDONED"
	SessionStatusCompleted SessionStatus = "COMPLETED"
)

var validSessionStatuses = []SessionStatus{
	SessionStatusActive,
	SessionStatusClosed,
	SessionStatusAbandoned,
	SessionStatusCompleted,
}

// IsValid reports whether the value matches the canonical session status enum.
func (s SessionStatus) IsValid() bool {
	for _, candidate := range validSessionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSessionStatus converts the raw string to SessionStatus.
func ParseSessionStatus(value string) (SessionStatus, error) {
	for _, candidate := range validSessionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid session status %q", value)
}
