// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrNoConnector    = errors.New("venue connector not configured")
	ErrNoStore        = errors.New("store not configured")
	ErrNoRiskManager  = errors.New("risk manager not configured")
	ErrNoAnalyzer     = errors.New("analyzer not configured")
	ErrTimeout        = errors.New("timed out waiting for venue response")
	ErrIdeaNotFound   = errors.New("trade idea not found")
	ErrInvalidStatus  = errors.New("trade idea is not pending")
	ErrNoData         = errors.New("no market data available")
	ErrAlreadyRunning = errors.New("monitoring already running")
	ErrNotRunning     = errors.New("monitoring not running")
	ErrStopTimeout    = errors.New("monitoring loop did not stop in time")
)

// Is wraps errors.Is so callers don't need two imports.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// VenueError represents a non-success response from the trading venue.
type VenueError struct {
	Action  string
	Status  string
	Message string
}

func (e *VenueError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("venue error [%s] %s: %s", e.Action, e.Status, e.Message)
	}
	return fmt.Sprintf("venue error [%s] %s", e.Action, e.Status)
}

// NewVenueError creates a new VenueError.
func NewVenueError(action, status, message string) *VenueError {
	return &VenueError{Action: action, Status: status, Message: message}
}

// ValidationError represents a risk or field validation failure.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// MissingFieldError reports a required trade-idea field that was absent.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", e.Field)
}

// NewMissingFieldError creates a new MissingFieldError.
func NewMissingFieldError(field string) *MissingFieldError {
	return &MissingFieldError{Field: field}
}
