// Package errors provides structured service errors for the luckycoin
// services. Domain rejections from the reward program are plain comparable
// values; this package wraps the I/O and execution failures around them with
// a category, the failing operation and a retry hint.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeNetwork represents network-related errors
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeValidation represents rejected input
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeDatabase represents database-related errors
	ErrorTypeDatabase ErrorType = "database"
	// ErrorTypeLedger represents transaction execution failures
	ErrorTypeLedger ErrorType = "ledger"
	// ErrorTypeRPC represents gateway protocol errors
	ErrorTypeRPC ErrorType = "rpc"
	// ErrorTypeKafka represents Kafka messaging errors
	ErrorTypeKafka ErrorType = "kafka"
	// ErrorTypeBeacon represents slot beacon errors
	ErrorTypeBeacon ErrorType = "beacon"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInternal represents internal/unknown errors
	ErrorTypeInternal ErrorType = "internal"
)

// ServiceError represents a structured error with context
type ServiceError struct {
	Type      ErrorType
	Operation string
	Message   string
	Cause     error
	Context   map[string]any
	Timestamp time.Time
	Retryable bool
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s operation '%s' failed: %s (caused by: %v)", e.Type, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s operation '%s' failed: %s", e.Type, e.Operation, e.Message)
}

// Unwrap returns the underlying cause for error unwrapping
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns whether this error should be retried
func (e *ServiceError) IsRetryable() bool {
	return e.Retryable
}

// WithContext adds a context entry to the error and returns it
func (e *ServiceError) WithContext(key string, value any) *ServiceError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// New creates a new ServiceError
func New(errorType ErrorType, operation, message string) *ServiceError {
	return &ServiceError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: isRetryableByType(errorType),
	}
}

// Newf creates a new ServiceError with a formatted message
func Newf(errorType ErrorType, operation, format string, args ...any) *ServiceError {
	return New(errorType, operation, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with context. Wrapping a ServiceError keeps
// its retry hint.
func Wrap(err error, errorType ErrorType, operation, message string) *ServiceError {
	if err == nil {
		return nil
	}

	retryable := isRetryableByDefault(err)
	var se *ServiceError
	if errors.As(err, &se) {
		retryable = se.Retryable
	}
	if errorType == ErrorTypeLedger || errorType == ErrorTypeValidation {
		retryable = false
	}

	return &ServiceError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Cause:     err,
		Timestamp: time.Now(),
		Retryable: retryable,
	}
}

// Ledger wraps a failed transaction. Execution failures are deterministic,
// so they are never retryable.
func Ledger(err error, txID string, instruction int) *ServiceError {
	if err == nil {
		return nil
	}
	se := Wrap(err, ErrorTypeLedger, "execute_transaction", "transaction rejected")
	se.WithContext("tx_id", txID)
	if instruction >= 0 {
		se.WithContext("instruction", instruction)
	}
	return se
}

// isRetryableByType determines if an error type is generally retryable
func isRetryableByType(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeKafka, ErrorTypeBeacon:
		return true
	default:
		return false
	}
}

var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"network unreachable",
	"i/o timeout",
	"timeout",
	"temporary failure",
	"too many connections",
	"leader not available",
}

// isRetryableByDefault checks if an error is retryable based on common patterns
func isRetryableByDefault(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// IsType checks if any error in the chain is of a specific type
func IsType(err error, errorType ErrorType) bool {
	for err != nil {
		var se *ServiceError
		if !errors.As(err, &se) {
			return false
		}
		if se.Type == errorType {
			return true
		}
		err = se.Cause
	}
	return false
}

// IsRetryable checks if an error should be retried
func IsRetryable(err error) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.IsRetryable()
	}
	return isRetryableByDefault(err)
}

// GetContext retrieves context from the outermost ServiceError
func GetContext(err error) map[string]any {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Context
	}
	return nil
}
