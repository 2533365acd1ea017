package errors

import (
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ValidationError  ErrorType = "VALIDATION_ERROR"
	NotFoundError    ErrorType = "NOT_FOUND"
	ServerError      ErrorType = "SERVER_ERROR"
	RateLimitError   ErrorType = "RATE_LIMIT_EXCEEDED"
	UnavailableError ErrorType = "SERVICE_UNAVAILABLE"
	BroadcastError   ErrorType = "BROADCAST_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType `json:"type"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	HTTPStatus int       `json:"-"`
	RetryAfter int       `json:"retry_after,omitempty"`
	Raw        error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the underlying error to errors.Is / errors.As.
func (e *AppError) Unwrap() error {
	return e.Raw
}

// GetHTTPStatus returns the response code for this error, defaulting to 500.
func (e *AppError) GetHTTPStatus() int {
	if e.HTTPStatus == 0 {
		return http.StatusInternalServerError
	}
	return e.HTTPStatus
}

// New creates a new AppError
func New(errType ErrorType, message string, detail string) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		Detail:     detail,
		HTTPStatus: getHTTPStatus(errType),
	}
}

// Wrap wraps a raw error with AppError context
func Wrap(err error, errType ErrorType, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Type:       errType,
		Message:    message,
		Detail:     err.Error(),
		HTTPStatus: getHTTPStatus(errType),
		Raw:        err,
	}
}

func ValidationFailed(message string, details string) *AppError {
	return &AppError{
		Type:       ValidationError,
		Message:    message,
		Detail:     details,
		HTTPStatus: http.StatusBadRequest,
	}
}

// RateLimitExceeded reports a throttled request; retryAfter is in seconds.
func RateLimitExceeded(message string, retryAfter int) *AppError {
	return &AppError{
		Type:       RateLimitError,
		Message:    message,
		Detail:     fmt.Sprintf("retry after %d seconds", retryAfter),
		HTTPStatus: http.StatusTooManyRequests,
		RetryAfter: retryAfter,
	}
}

func ServiceUnavailable(message string, err error) *AppError {
	appErr := &AppError{
		Type:       UnavailableError,
		Message:    message,
		HTTPStatus: http.StatusServiceUnavailable,
		Raw:        err,
	}
	if err != nil {
		appErr.Detail = err.Error()
	}
	return appErr
}

func getHTTPStatus(errType ErrorType) int {
	switch errType {
	case ValidationError:
		return http.StatusBadRequest
	case NotFoundError:
		return http.StatusNotFound
	case RateLimitError:
		return http.StatusTooManyRequests
	case UnavailableError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
