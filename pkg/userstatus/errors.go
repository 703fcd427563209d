package userstatus

import "errors"

// Validation failures raised by the mutating operations. Callers match them with errors.Is.
var (
	ErrInvalidStatusType    = errors.New("invalid status type")
	ErrInvalidMessageID     = errors.New("invalid message id")
	ErrInvalidClearAt       = errors.New("invalid clear-at")
	ErrInvalidStatusIcon    = errors.New("invalid status icon")
	ErrStatusMessageTooLong = errors.New("status message too long")
	ErrInvalidUserID        = errors.New("invalid user id")
)

// ErrStatusNotFound is returned by FindByUserID when the user has no live record.
var ErrStatusNotFound = errors.New("user status not found")

// IsValidationError reports whether err is caused by caller input rather than storage.
func IsValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidStatusType),
		errors.Is(err, ErrInvalidMessageID),
		errors.Is(err, ErrInvalidClearAt),
		errors.Is(err, ErrInvalidStatusIcon),
		errors.Is(err, ErrStatusMessageTooLong),
		errors.Is(err, ErrInvalidUserID):
		return true
	}
	return false
}
