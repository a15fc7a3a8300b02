// Package errors defines domain-specific error types.
// Using typed errors (instead of strings) allows clients to handle specific cases.
//
// SOLID Principles:
// - ISP: Clients can check for specific errors they care about
// - DIP: Error types are abstractions that don't depend on infrastructure
//
// Pattern: Sentinel Errors + Custom Error Types
package errors

import (
	"errors"
	"fmt"
)

// Common sentinel errors for the transactional engine
var (
	// Lookup errors
	ErrEntityNotFound      = errors.New("entity not found")
	ErrEntityAlreadyExists = errors.New("entity already exists")

	// Wallet / ledger errors
	ErrWalletNotFound         = errors.New("wallet not found")
	ErrSenderWalletNotFound   = errors.New("sender wallet not found")
	ErrReceiverWalletNotFound = errors.New("receiver wallet not found")
	ErrInsufficientBalance    = errors.New("insufficient balance")

	// State machine errors
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrPreconditionFailed     = errors.New("precondition failed")

	// Transfer validation errors
	ErrSelfTransfer  = errors.New("sender and receiver must differ")
	ErrInvalidAmount = errors.New("amount must be positive")

	// Simulation / chaos testing
	ErrSimulatedFailure = errors.New("simulated failure")

	// Messaging errors
	ErrNotConnected = errors.New("event bus is not connected")

	// Webhook errors
	ErrDuplicateSubscription = errors.New("subscription for this URL already exists")
	ErrInsecureWebhookURL    = errors.New("webhook URL must use https")
	ErrWeakWebhookSecret     = errors.New("webhook secret must be at least 32 bytes")
)

// DomainError is a custom error type that wraps errors with additional context.
// This allows us to add domain-specific information while maintaining the error chain.
//
// Pattern: Error Wrapping with Context
type DomainError struct {
	Code    string // Machine-readable error code (e.g., "INSUFFICIENT_BALANCE")
	Message string // Human-readable message
	Err     error  // Underlying error (for error chains)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error.
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents validation failures with field-level details.
//
// Pattern: Composite Error for Multiple Validations
type ValidationError struct {
	Field   string // Field name that failed validation
	Message string // What went wrong
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %d error(s)", len(e))
}

// Add appends a validation error.
func (e *ValidationErrors) Add(field, message string) {
	*e = append(*e, ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// TransientError marks a failure as retriable (network/store timeouts).
// The job queue retries these; request paths surface them to the caller.
type TransientError struct {
	Op  string // Operation that failed (e.g., "webhook.deliver")
	Err error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

// Unwrap implements error unwrapping.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as retriable.
func NewTransientError(op string, err error) *TransientError {
	return &TransientError{Op: op, Err: err}
}

// Is and As re-export the standard helpers so callers importing this
// package as "errors" keep the familiar call sites.

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Helper functions for common error checking

// IsNotFound checks if an error is an "entity not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntityNotFound) ||
		errors.Is(err, ErrWalletNotFound) ||
		errors.Is(err, ErrSenderWalletNotFound) ||
		errors.Is(err, ErrReceiverWalletNotFound)
}

// IsConflict checks for uniqueness conflicts (duplicate email, duplicate subscription URL).
func IsConflict(err error) bool {
	return errors.Is(err, ErrEntityAlreadyExists) || errors.Is(err, ErrDuplicateSubscription)
}

// IsPreconditionFailed checks for optimistic-update races.
// The saga treats these as benign no-ops.
func IsPreconditionFailed(err error) bool {
	return errors.Is(err, ErrPreconditionFailed)
}

// IsInvalidStateTransition checks for state machine guard violations (non-retriable).
func IsInvalidStateTransition(err error) bool {
	return errors.Is(err, ErrInvalidStateTransition)
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var valErr ValidationError
	var valErrs ValidationErrors
	return errors.As(err, &valErr) || errors.As(err, &valErrs)
}

// IsValidation is an alias for IsValidationError (для совместимости).
func IsValidation(err error) bool {
	return IsValidationError(err)
}

// IsTransient checks if an error is retriable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
