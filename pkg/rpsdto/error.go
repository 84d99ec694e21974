package rpsdto

import "errors"

// Error codes exposed to callers. The HTTP layer maps these onto status
// codes; everything below storage_unavailable is the caller's fault.
const (
	CodeInvalidInput       = "invalid_input"
	CodeNotFound           = "not_found"
	CodeMatchCompleted     = "match_completed"
	CodeMatchAbandoned     = "match_abandoned"
	CodeInvalidMatchState  = "invalid_match_state"
	CodeAlreadyActive      = "already_active"
	CodeThrottled          = "throttled"
	CodeConflict           = "conflict"
	CodeStorageUnavailable = "storage_unavailable"
)

type DomainError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "match service error"
}

func NewDomainError(code, message string) DomainError {
	return DomainError{Code: code, Message: message}
}

// IsCode reports whether err carries the given domain error code anywhere
// in its chain.
func IsCode(err error, code string) bool {
	var de DomainError
	return errors.As(err, &de) && de.Code == code
}

// CodeOf extracts the domain error code from err, or "" when err is not a
// DomainError.
func CodeOf(err error) string {
	var de DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
