package enums

import "fmt"

// EventType tags the LMS domain occurrence an outbound event describes.
type EventType string

const (
	EventUserCreated       EventType = "user_created"
	EventUserUpdated       EventType = "user_updated"
	EventEnrollmentCreated EventType = "enrollment_created"
	EventEnrollmentUpdated EventType = "enrollment_updated"
	EventGradeUpdated      EventType = "grade_updated"
)

var validEventTypes = []EventType{
	EventUserCreated,
	EventUserUpdated,
	EventEnrollmentCreated,
	EventEnrollmentUpdated,
	EventGradeUpdated,
}

// IsValid reports whether the value matches a known event type.
func (e EventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEventType converts raw input into EventType.
func ParseEventType(value string) (EventType, error) {
	for _, candidate := range validEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// EventStatus tracks an event through the delivery state machine.
// pending -> sent | failed; failed -> sent | retrying -> failed.
type EventStatus string

const (
	EventStatusPending  EventStatus = "pending"
	EventStatusSent     EventStatus = "sent"
	EventStatusFailed   EventStatus = "failed"
	EventStatusRetrying EventStatus = "retrying"
)

var validEventStatuses = []EventStatus{
	EventStatusPending,
	EventStatusSent,
	EventStatusFailed,
	EventStatusRetrying,
}

// IsValid reports whether the value matches a known event status.
func (s EventStatus) IsValid() bool {
	for _, candidate := range validEventStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// Retryable reports whether events in this status may re-enter the retry cycle.
func (s EventStatus) Retryable() bool {
	return s == EventStatusFailed || s == EventStatusRetrying
}

// ParseEventStatus converts raw input into EventStatus.
func ParseEventStatus(value string) (EventStatus, error) {
	for _, candidate := range validEventStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event status %q", value)
}

// EventAction is the outcome the remote side reports after accepting an event.
type EventAction string

const (
	ActionCreated EventAction = "created"
	ActionUpdated EventAction = "updated"
	ActionDeleted EventAction = "deleted"
)

var validEventActions = []EventAction{
	ActionCreated,
	ActionUpdated,
	ActionDeleted,
}

// IsValid reports whether the value matches a known remote action.
func (a EventAction) IsValid() bool {
	for _, candidate := range validEventActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseEventAction converts raw input into EventAction.
func ParseEventAction(value string) (EventAction, error) {
	for _, candidate := range validEventActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event action %q", value)
}
