package utils

import "errors"

// Common application errors used across services.
var (
	ErrMissingCallback         = errors.New("MISSING_CALLBACK")
	ErrMissingEventType        = errors.New("MISSING_EVENT_TYPE")
	ErrInvalidEventType        = errors.New("INVALID_EVENT_TYPE")
	ErrInvalidOuterEventID     = errors.New("INVALID_OUTER_EVENT_ID")
	ErrEventNotFound           = errors.New("EVENT_NOT_FOUND")
	ErrDuplicateOuterEventID   = errors.New("DUPLICATE_OUTER_EVENT_ID")
	ErrInvalidStatusTransition = errors.New("INVALID_STATUS_TRANSITION")
	ErrEventNotReplayable      = errors.New("EVENT_NOT_REPLAYABLE")
	ErrNoActiveToken           = errors.New("NO_ACTIVE_TOKEN")
	ErrRefreshInProgress       = errors.New("REFRESH_IN_PROGRESS")
	ErrInvalidTokenPair        = errors.New("INVALID_TOKEN_PAIR")
)

// IsValidationError reports whether err is a request validation failure.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrMissingCallback) ||
		errors.Is(err, ErrMissingEventType) ||
		errors.Is(err, ErrInvalidEventType) ||
		errors.Is(err, ErrInvalidOuterEventID)
}
