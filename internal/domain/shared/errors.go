// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// Configuration errors are fatal and surface at startup, never per request.
	ErrConfiguration = errors.New("configuration error")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrStateTransition  = errors.New("invalid state transition")
	ErrAlreadyProcessed = errors.New("already processed")
	ErrExpired          = errors.New("expired")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// Economic errors
	ErrInsufficientBalance = errors.New("insufficient token balance")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
	ErrRejected           = errors.New("rejected by external service")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "card", "ledger", "scoring"
	Op      string // Operation that failed, e.g., "Reserve", "Submit"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Student domain errors
var (
	ErrStudentNotFound      = NewDomainError("student", "Find", ErrNotFound, "student not found")
	ErrStudentAlreadyExists = NewDomainError("student", "Create", ErrAlreadyExists, "student already exists")
	ErrInvalidStudentID     = NewDomainError("student", "Validate", ErrInvalidID, "invalid student ID")
)

// Learning record errors
var (
	ErrRecordNotFound = NewDomainError("learning", "Find", ErrNotFound, "learning record not found")
	ErrUnknownUnit    = NewDomainError("learning", "Validate", ErrInvalidInput, "unknown unit code")
	ErrInvalidScore   = NewDomainError("learning", "Validate", ErrValueOutOfRange, "score must be between 0 and 100")
)

// Score table errors
var (
	ErrTableNotFound  = NewDomainError("scoretable", "Find", ErrNotFound, "score table version not found")
	ErrNoActiveTable  = NewDomainError("scoretable", "GetActive", ErrNotFound, "no active score table")
	ErrMalformedTable = NewDomainError("scoretable", "Validate", ErrConfiguration, "score table tiers are malformed")
)

// Ledger errors
var (
	ErrNoTokens               = NewDomainError("ledger", "Reserve", ErrInsufficientBalance, "not enough tokens for a generation attempt")
	ErrReservationNotFound    = NewDomainError("ledger", "FindReservation", ErrNotFound, "reservation not found")
	ErrReservationTerminal    = NewDomainError("ledger", "Settle", ErrAlreadyProcessed, "reservation already committed or released")
	ErrInvalidGrant           = NewDomainError("ledger", "Grant", ErrNegativeValue, "grant amount must be positive")
	ErrInvalidReservationCost = NewDomainError("ledger", "Reserve", ErrNegativeValue, "reservation cost must be positive")
)

// Card errors
var (
	ErrCardNotFound        = NewDomainError("card", "Find", ErrNotFound, "card not found")
	ErrCardNotOwned        = NewDomainError("card", "Authorize", ErrInvalidInput, "card belongs to another student")
	ErrCardTerminal        = NewDomainError("card", "Transition", ErrStateTransition, "card is already in a terminal state")
	ErrCardInFlight        = NewDomainError("card", "Create", ErrAlreadyExists, "student already has a generation in flight")
	ErrInvalidCardState    = NewDomainError("card", "Transition", ErrStateTransition, "illegal card state transition")
	ErrCardStateConflict   = NewDomainError("card", "Transition", ErrConcurrentModification, "card state changed concurrently")
	ErrSelectionIncomplete = NewDomainError("card", "Validate", ErrInvalidEntity, "attribute selection is missing slots")
)

// External generation studio errors
var (
	ErrStudioUnreachable     = NewDomainError("studio", "Submit", ErrServiceUnavailable, "generation studio is unreachable")
	ErrStudioRejected        = NewDomainError("studio", "Submit", ErrRejected, "generation studio rejected the job")
	ErrStudioTimeout         = NewDomainError("studio", "Poll", ErrTimeout, "generation studio request timeout")
	ErrStudioInvalidResponse = NewDomainError("studio", "Parse", ErrInvalidFormat, "invalid response from generation studio")
	ErrJobNotFound           = NewDomainError("studio", "Poll", ErrNotFound, "generation job not found")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsConfiguration checks if the error is a fatal configuration error.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsInsufficientBalance checks if the error is a token balance rejection.
func IsInsufficientBalance(err error) bool {
	return errors.Is(err, ErrInsufficientBalance)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrRejected)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}
