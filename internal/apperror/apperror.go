package apperror

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation error")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrPartialFailure     = errors.New("partial failure")
	ErrUpstream           = errors.New("upstream failure")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrUnauthenticated    = errors.New("unauthenticated")
)

type AppError struct {
	Err     error    // kind sentinel, one of the Err* values above
	Message string   // Human-readable error message
	Field   string   // Optional: field causing the error
	Steps   []string // Completed steps, set on partial failures
	Cause   error    // Optional: underlying error from a store or upstream service
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes both the kind and the cause, so errors.Is matches
// apperror.ErrUpstream as well as e.g. context.DeadlineExceeded.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// AlreadyExists reports a uniqueness clash, e.g. a taken user name.
func AlreadyExists(resource, field, value string) *AppError {
	return &AppError{
		Err:     ErrAlreadyExists,
		Message: fmt.Sprintf("%s with %s %q already exists", resource, field, value),
		Field:   field,
	}
}

// AlreadyMember is returned when a post is added to a list it is already in.
func AlreadyMember(list, postID string) *AppError {
	return &AppError{
		Err:     ErrAlreadyExists,
		Message: fmt.Sprintf("video %s is already in %s", postID, list),
	}
}

// NotMember is returned when a post is removed from a list it is not in.
func NotMember(list, postID string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("video %s is not in %s", postID, list),
	}
}

func InvariantViolation(message string) *AppError {
	return &AppError{
		Err:     ErrInvariantViolation,
		Message: message,
	}
}

// PartialFailure reports a multi-step operation that stopped after some of
// its steps were applied. steps lists the completed ones in order.
func PartialFailure(operation string, steps []string, cause error) *AppError {
	msg := fmt.Sprintf("%s partially applied", operation)
	if len(steps) > 0 {
		msg += " (completed: " + strings.Join(steps, ", ") + ")"
	}
	if cause != nil {
		msg += ": " + causeMessage(cause)
	}
	return &AppError{
		Err:     ErrPartialFailure,
		Message: msg,
		Steps:   append([]string(nil), steps...),
		Cause:   cause,
	}
}

// Upstream wraps a failed call to a store or to the identity directory.
func Upstream(service, operation string, cause error) *AppError {
	return &AppError{
		Err:     ErrUpstream,
		Message: fmt.Sprintf("%s: %s failed", service, operation),
		Cause:   cause,
	}
}

// Unauthorized returns an AppError indicating the caller does not own the
// resource it is trying to mutate. HTTP handlers map this to 403.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// Unauthenticated means no valid identity was presented (HTTP 401).
func Unauthenticated(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: message,
	}
}

// Steps returns the completed steps carried by a partial failure, if any.
func Steps(err error) []string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Steps
	}
	return nil
}

func causeMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
