package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// APIError is the error body returned by the HTTP surface
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface
func (e APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// MarshalJSON implements json.Marshaler
func (e APIError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details string `json:"details,omitempty"`
	}{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}

// Common API errors
var (
	ErrInvalidRequest = APIError{
		Status:  http.StatusBadRequest,
		Code:    "invalid_request",
		Message: "The request is invalid",
	}

	ErrUnauthorized = APIError{
		Status:  http.StatusUnauthorized,
		Code:    "unauthorized",
		Message: "Authentication is required",
	}

	// ErrForbidden is returned when the caller's role may not perform the action
	ErrForbidden = APIError{
		Status:  http.StatusForbidden,
		Code:    "forbidden",
		Message: "Your role does not permit this action",
	}

	ErrNotFound = APIError{
		Status:  http.StatusNotFound,
		Code:    "not_found",
		Message: "The requested resource was not found",
	}

	// ErrConflict is returned when a status transition loses a race or is not allowed
	ErrConflict = APIError{
		Status:  http.StatusConflict,
		Code:    "conflict",
		Message: "The resource changed or the transition is not allowed",
	}

	ErrTooManyRequests = APIError{
		Status:  http.StatusTooManyRequests,
		Code:    "too_many_requests",
		Message: "Rate limit exceeded",
	}

	ErrInternalServer = APIError{
		Status:  http.StatusInternalServerError,
		Code:    "internal_server_error",
		Message: "An internal server error occurred",
	}

	// ErrServiceUnavailable is returned when the feedback store cannot be reached
	ErrServiceUnavailable = APIError{
		Status:  http.StatusServiceUnavailable,
		Code:    "service_unavailable",
		Message: "The feedback store is currently unavailable",
	}
)

// WithDetails adds details to an API error
func (e APIError) WithDetails(details string) APIError {
	e.Details = details
	return e
}

// AsAPIError extracts an APIError from err, if any
func AsAPIError(err error) (APIError, bool) {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return APIError{}, false
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Status == http.StatusNotFound
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Status == http.StatusConflict
}
