package serviceerr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation failed")
	ErrAuthRejected       = errors.New("authentication rejected")
	ErrSessionInvalidated = errors.New("session invalidated")
	ErrTransport          = errors.New("transport failure")
	ErrBusy               = errors.New("another session operation is in progress")
	ErrSuperseded         = errors.New("session operation superseded by sign out")
	ErrInconsistentRecord = errors.New("inconsistent session record")
)

// ValidationError is a local, pre-network failure of a form field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// APIError is a non-2xx answer of the backend with a displayable message.
type APIError struct {
	StatusCode int
	Message    string
	kind       error
}

func NewAPIError(statusCode int, message string, kind error) *APIError {
	if message == "" {
		message = http.StatusText(statusCode)
	}
	return &APIError{StatusCode: statusCode, Message: message, kind: kind}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Unwrap exposes the taxonomy sentinel, if any, for errors.Is.
func (e *APIError) Unwrap() error {
	return e.kind
}

// DisplayMessage returns the text a form should show for err.
func DisplayMessage(err error) string {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Message
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}

	switch {
	case errors.Is(err, ErrTransport):
		return "The server could not be reached"
	case errors.Is(err, ErrBusy):
		return "Please wait for the current request to finish"
	case err != nil:
		return "An unexpected error occurred"
	}

	return ""
}
