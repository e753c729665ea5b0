package apperrors

import (
	"errors"
	"fmt"
)

// RetryableError indicates an error that might be resolved by retrying.
type RetryableError struct {
	Err error
}

// Error implements the error interface.
func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Err)
}

// Unwrap returns the wrapped error.
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryable wraps err as a RetryableError, prefixing it with the formatted message.
func NewRetryable(err error, message string, args ...interface{}) error {
	format := message + ": %w"
	allArgs := append(args, err)
	return &RetryableError{Err: fmt.Errorf(format, allArgs...)}
}

// FatalError indicates an error that is unlikely to be resolved by retrying.
type FatalError struct {
	Err error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

// Unwrap returns the wrapped error.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatal wraps err as a FatalError, prefixing it with the formatted message.
func NewFatal(err error, message string, args ...interface{}) error {
	format := message + ": %w"
	allArgs := append(args, err)
	return &FatalError{Err: fmt.Errorf(format, allArgs...)}
}

// --- Standard Error Definitions ---

var (
	// ErrNotFound indicates a requested resource was not found.
	ErrNotFound = errors.New("resource not found")
	// ErrValidation indicates failure during data validation.
	ErrValidation = errors.New("validation failed")
	// ErrDatabase indicates a general database interaction error.
	ErrDatabase = errors.New("database error")
	// ErrNATS indicates a general NATS communication error.
	ErrNATS = errors.New("nats communication error")
	// ErrUnauthorized indicates an authorization failure.
	ErrUnauthorized = errors.New("unauthorized access")
	// ErrDuplicate indicates a conflict due to duplicate data (e.g., unique constraint).
	ErrDuplicate = errors.New("duplicate resource")
	// ErrConflict indicates a general conflict state.
	ErrConflict = errors.New("resource conflict")
	// ErrBadRequest indicates a malformed or invalid request from the caller.
	ErrBadRequest = errors.New("bad request")
	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timeout")
	// ErrRateLimited indicates an operation was rate limited.
	ErrRateLimited = errors.New("rate limited")
)

// --- Pipeline Error Definitions ---

var (
	// ErrMalformedPayload means no recognizable webhook envelope could be found.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrUnsupportedMessageType means the event or message kind is not handled.
	ErrUnsupportedMessageType = errors.New("unsupported message type")
	// ErrFiltered marks expected traffic that is dropped on purpose (group chats, self-sent loops).
	ErrFiltered = errors.New("message filtered")
	// ErrInvalidPhoneNumber means fewer than 10 digits remained after normalization.
	ErrInvalidPhoneNumber = errors.New("invalid phone number")
	// ErrInsufficientLeadData means a form carried neither a name nor an email.
	ErrInsufficientLeadData = errors.New("insufficient lead data")
	// ErrMediaUnavailable means provider media could not be downloaded.
	ErrMediaUnavailable = errors.New("media unavailable")
	// ErrStorage indicates an object storage failure.
	ErrStorage = errors.New("object storage error")
)

// --- Helper functions for checking ---

// IsRetryable checks if the error is a RetryableError or wraps one.
func IsRetryable(err error) bool {
	var target *RetryableError
	return errors.As(err, &target)
}

// IsFatal checks if the error is a FatalError or wraps one.
func IsFatal(err error) bool {
	var target *FatalError
	return errors.As(err, &target)
}

// IsNotFoundError checks if the error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidationError checks if the error is or wraps ErrValidation.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsDatabaseError checks if the error is or wraps ErrDatabase.
func IsDatabaseError(err error) bool {
	return errors.Is(err, ErrDatabase)
}

// IsDuplicateError checks if the error is or wraps ErrDuplicate.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// IsUnauthorizedError checks if the error is or wraps ErrUnauthorized.
func IsUnauthorizedError(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsFilteredError checks if the error is or wraps ErrFiltered.
func IsFilteredError(err error) bool {
	return errors.Is(err, ErrFiltered)
}

// IsClientError reports whether err was caused by the caller's input rather than by
// this service or its collaborators.
func IsClientError(err error) bool {
	switch {
	case errors.Is(err, ErrMalformedPayload),
		errors.Is(err, ErrUnsupportedMessageType),
		errors.Is(err, ErrInvalidPhoneNumber),
		errors.Is(err, ErrInsufficientLeadData),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrBadRequest):
		return true
	}
	return false
}

// Category returns a low-cardinality label for err, used for metrics and response notes.
func Category(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrFiltered):
		return "filtered"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, ErrUnsupportedMessageType):
		return "unsupported_message_type"
	case errors.Is(err, ErrInvalidPhoneNumber):
		return "invalid_phone_number"
	case errors.Is(err, ErrInsufficientLeadData):
		return "insufficient_lead_data"
	case errors.Is(err, ErrValidation), errors.Is(err, ErrBadRequest):
		return "validation"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrMediaUnavailable):
		return "media_unavailable"
	case errors.Is(err, ErrStorage):
		return "storage"
	case errors.Is(err, ErrNATS):
		return "nats"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrDatabase):
		return "database"
	default:
		return "unknown"
	}
}
