// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrDivisionInvalid      = errors.New("division invalid: zero or invalid denominator")
	ErrDataUnavailable      = errors.New("data unavailable")
	ErrInvalidFilterConfig  = errors.New("invalid filter configuration")
	ErrEmptyScope           = errors.New("scope list is empty")
	ErrScopeViolation       = errors.New("symbol outside scope")
	ErrInvalidSignal        = errors.New("invalid sentiment signal")
	ErrInvalidQuote         = errors.New("invalid option quote")
	ErrReviewTimeout        = errors.New("review timed out")
	ErrReviewNonConvergence = errors.New("review confidence decreased")
	ErrReviewRejected       = errors.New("review rejected candidate")
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrConfigInvalid        = errors.New("invalid configuration")
	ErrSnapshotNotFound     = errors.New("snapshot not found")
	ErrCircuitOpen          = errors.New("circuit breaker is open")
)

// MetricError represents a failed metric computation.
type MetricError struct {
	Metric string
	Input  string
	Err    error
}

func (e *MetricError) Error() string {
	return fmt.Sprintf("metric error [%s] %s: %v", e.Metric, e.Input, e.Err)
}

func (e *MetricError) Unwrap() error {
	return e.Err
}

// NewMetricError creates a new MetricError.
func NewMetricError(metric, input string, err error) *MetricError {
	return &MetricError{
		Metric: metric,
		Input:  input,
		Err:    err,
	}
}

// ValidationError represents a validation error. It matches
// ErrInvalidFilterConfig through Is.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidFilterConfig
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// ProviderError represents a failure in an external collaborator.
type ProviderError struct {
	Provider  string
	Operation string
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error [%s] %s: %v", e.Provider, e.Operation, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new ProviderError.
func NewProviderError(provider, operation string, err error) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Operation: operation,
		Err:       err,
	}
}

// DataError represents a data-related error. A DataError always matches
// ErrDataUnavailable through Is.
type DataError struct {
	DataType string
	Symbol   string
	Message  string
	Err      error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %s: %v", e.DataType, e.Symbol, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s: %s", e.DataType, e.Symbol, e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// Is reports ErrDataUnavailable as a match.
func (e *DataError) Is(target error) bool {
	return target == ErrDataUnavailable
}

// NewDataError creates a new DataError.
func NewDataError(dataType, symbol, message string, err error) *DataError {
	return &DataError{
		DataType: dataType,
		Symbol:   symbol,
		Message:  message,
		Err:      err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
