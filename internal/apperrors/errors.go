package apperrors

import (
	"errors"
	"fmt"
)

// RetryableError marks a failure worth redelivering: the event is nacked and
// JetStream tries again until MaxDeliver.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return "retryable: " + e.Err.Error() }

func (e *RetryableError) Unwrap() error { return e.Err }

// NewRetryable wraps err as retryable with a formatted message prefix.
func NewRetryable(err error, message string, args ...interface{}) error {
	return &RetryableError{Err: wrapf(err, message, args...)}
}

// FatalError marks a failure no redelivery can fix; the event goes straight
// to the dead-letter stream.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

// NewFatal wraps err as fatal with a formatted message prefix.
func NewFatal(err error, message string, args ...interface{}) error {
	return &FatalError{Err: wrapf(err, message, args...)}
}

func wrapf(err error, message string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(message, args...), err)
}

// Sentinel errors, checked with errors.Is and wrapped by RetryableError or
// FatalError at the boundary where the event is acknowledged.
var (
	// ErrNotFound indicates a requested resource was not found.
	ErrNotFound = errors.New("resource not found")
	// ErrValidation indicates failure during data validation.
	ErrValidation = errors.New("validation failed")
	// ErrDatabase indicates a general database interaction error.
	ErrDatabase = errors.New("database error")
	// ErrNATS indicates a general NATS communication error.
	ErrNATS = errors.New("nats communication error")
	// ErrUnauthorized indicates a missing or mismatched tenant.
	ErrUnauthorized = errors.New("unauthorized access")
	// ErrDuplicate indicates a unique constraint violation.
	ErrDuplicate = errors.New("duplicate resource")
	// ErrConflict indicates a general conflict state.
	ErrConflict = errors.New("resource conflict")
	// ErrBadRequest indicates a malformed or invalid request from the caller.
	ErrBadRequest = errors.New("bad request")
	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timeout")

	// ErrUnresolvableIdentity is returned when an inbound identity lacks the
	// key material needed to build a dedup key.
	ErrUnresolvableIdentity = errors.New("cannot resolve identity")
	// ErrSendFailed indicates the provider rejected or never acknowledged an outbound message.
	ErrSendFailed = errors.New("provider send failed")
	// ErrLockUnavailable indicates the advisory lock could not be taken.
	ErrLockUnavailable = errors.New("advisory lock unavailable")
)

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

// Classify wraps err as retryable when it stems from a transient dependency
// failure and as fatal otherwise. Already classified errors pass through.
func Classify(err error, message string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if IsRetryable(err) || IsFatal(err) {
		return err
	}
	if errors.Is(err, ErrDatabase) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrConflict) || errors.Is(err, ErrNATS) {
		return NewRetryable(err, message, args...)
	}
	return NewFatal(err, message, args...)
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

// IsNATSError checks if the error is or wraps ErrNATS.
func IsNATSError(err error) bool {
	return errors.Is(err, ErrNATS)
}

// IsUnauthorizedError checks if the error is or wraps ErrUnauthorized.
func IsUnauthorizedError(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsDuplicateError checks if the error is or wraps ErrDuplicate.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// IsConflictError checks if the error is or wraps ErrConflict.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsBadRequestError checks if the error is or wraps ErrBadRequest.
func IsBadRequestError(err error) bool {
	return errors.Is(err, ErrBadRequest)
}

// IsTimeoutError checks if the error is or wraps ErrTimeout.
func IsTimeoutError(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsUnresolvableIdentityError checks if the error is or wraps ErrUnresolvableIdentity.
func IsUnresolvableIdentityError(err error) bool {
	return errors.Is(err, ErrUnresolvableIdentity)
}

// IsSendFailedError checks if the error is or wraps ErrSendFailed.
func IsSendFailedError(err error) bool {
	return errors.Is(err, ErrSendFailed)
}
