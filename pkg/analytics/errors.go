package analytics

import "errors"

var (
	// ErrNoCredentials is returned when the requesting user owns no API keys
	ErrNoCredentials = errors.New("No API keys found for this user")
	// ErrAppNotOwned is returned when an app scope is missing or belongs to someone else
	ErrAppNotOwned = errors.New("App not found or does not belong to user")
	// ErrInvalidAppScope is returned when app_id is not a UUID
	ErrInvalidAppScope = errors.New("Invalid app ID format")
	// ErrEventRequired is returned when a summary query names no event type
	ErrEventRequired = errors.New("Event type is required")
	// ErrInvalidStartDate and ErrInvalidEndDate reject unparseable range bounds
	ErrInvalidStartDate = errors.New("Invalid start date format")
	ErrInvalidEndDate   = errors.New("Invalid end date format")
	// ErrInvalidDateRange is returned when the range ends before it starts
	ErrInvalidDateRange = errors.New("Start date must be before end date")
	// ErrTrackingUserRequired is returned when user stats are requested without a tracking id
	ErrTrackingUserRequired = errors.New("User ID is required")
	// ErrTrackingUserNotFound is returned when no events exist for a tracking id
	ErrTrackingUserNotFound = errors.New("No events found for this user")
	// ErrPersistEvent is returned when the event row could not be written
	ErrPersistEvent = errors.New("Failed to record event")
)
