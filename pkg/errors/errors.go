// Package errors defines the typed error taxonomy used across the
// reconciliation and accounts-payable engine.
//
// Every error surfaced by the engine is an *EngineError carrying a
// stable category and code, an optional suggestion for the operator,
// and structured context. Callers branch on categories and codes, not
// on message strings.
package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryValidation ErrorCategory = "validation"
	CategoryTransition ErrorCategory = "transition"
	CategoryNotFound   ErrorCategory = "not_found"
	CategoryConflict   ErrorCategory = "conflict"
	CategoryCapacity   ErrorCategory = "capacity"
	CategoryExternal   ErrorCategory = "external"
	CategoryInvariant  ErrorCategory = "invariant"
	CategoryStorage    ErrorCategory = "storage"
	CategoryInternal   ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// Validation errors
	CodeValidationError ErrorCode = "validation_error"
	CodeInvalidAmount   ErrorCode = "invalid_amount"
	CodeInvalidCurrency ErrorCode = "invalid_currency"
	CodeInvalidDate     ErrorCode = "invalid_date"
	CodeMissingField    ErrorCode = "missing_field"
	CodeUnknownSource   ErrorCode = "unknown_source"

	// State machine errors
	CodeInvalidTransition ErrorCode = "invalid_transition"
	CodeItemImmutable     ErrorCode = "item_immutable"

	// Lookup errors
	CodeNotFound ErrorCode = "not_found"

	// Concurrency errors
	CodeConflict           ErrorCode = "conflict"
	CodeIdempotencyReplay  ErrorCode = "idempotency_replay"
	CodeConcurrentMutation ErrorCode = "concurrent_mutation"

	// Capacity errors
	CodeOverCapacity ErrorCode = "over_capacity"

	// External collaborator errors
	CodeExternalTimeout ErrorCode = "external_timeout"
	CodeExternalFailure ErrorCode = "external_failure"

	// Invariant violations
	CodeUnbalancedDraft      ErrorCode = "unbalanced_draft"
	CodeCardinalityViolation ErrorCode = "cardinality_violation"
	CodeMonotonicityBroken   ErrorCode = "monotonicity_broken"

	// Storage errors
	CodeStorageError ErrorCode = "storage_error"
	CodeStoreTimeout ErrorCode = "store_timeout"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// EngineError is the base error type for all engine errors
type EngineError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *EngineError) WithSuggestion(suggestion string) *EngineError {
	e.Suggestion = suggestion
	return e
}

// New creates a new EngineError
func New(category ErrorCategory, code ErrorCode, message string) *EngineError {
	return &EngineError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with EngineError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *EngineError {
	if err == nil {
		return nil
	}

	return &EngineError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// stackTracer interface for extracting stack traces
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Specific error constructors

// ValidationError creates a field-level validation error. The field and
// offending value are carried as context so callers can surface
// field-level detail.
func ValidationError(code ErrorCode, field string, value interface{}, message string) *EngineError {
	if message == "" {
		message = fmt.Sprintf("invalid value for field '%s': %v", field, value)
	}

	return New(CategoryValidation, code, message).
		WithSuggestion("check the field value and format").
		WithContext("field", field).
		WithContext("value", value)
}

// TransitionError creates an invalid_transition error carrying the
// rejected from/to state pair.
func TransitionError(fromState, toState string) *EngineError {
	return New(
		CategoryTransition,
		CodeInvalidTransition,
		fmt.Sprintf("transition from '%s' to '%s' is not allowed", fromState, toState),
	).
		WithSuggestion("consult the AP lifecycle transition table for allowed moves").
		WithContext("from_state", fromState).
		WithContext("to_state", toState)
}

// NotFoundError creates a not_found error for an absent entity
func NotFoundError(entity, id string) *EngineError {
	return New(
		CategoryNotFound,
		CodeNotFound,
		fmt.Sprintf("%s not found: %s", entity, id),
	).
		WithContext("entity", entity).
		WithContext("id", id)
}

// ConflictError creates a conflict error for idempotency violations or
// concurrent mutations
func ConflictError(code ErrorCode, message string) *EngineError {
	return New(CategoryConflict, code, message).
		WithSuggestion("retry the operation with a fresh read of the entity")
}

// OverCapacityError creates an over_capacity error when a batch exceeds
// the configured scoring-matrix cap
func OverCapacityError(pairs, cap int) *EngineError {
	return New(
		CategoryCapacity,
		CodeOverCapacity,
		fmt.Sprintf("scoring matrix of %d pairs exceeds configured cap of %d", pairs, cap),
	).
		WithSuggestion("split the batch into smaller chunks and reconcile them separately").
		WithContext("pairs", pairs).
		WithContext("cap", cap)
}

// ExternalError creates an error for a failed external collaborator
// call (LLM, ERP, notification sink)
func ExternalError(code ErrorCode, collaborator string, err error) *EngineError {
	var message string
	var suggestion string

	switch code {
	case CodeExternalTimeout:
		message = fmt.Sprintf("call to %s timed out", collaborator)
		suggestion = "increase the timeout setting or check collaborator availability"
	default:
		message = fmt.Sprintf("call to %s failed", collaborator)
		suggestion = "check collaborator availability and credentials"
	}

	var result *EngineError
	if err != nil {
		result = Wrap(err, CategoryExternal, code, message)
	} else {
		result = New(CategoryExternal, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("collaborator", collaborator)
}

// InvariantViolation creates an internal_invariant error. These are
// fatal for the batch that raised them and must be logged as alerts.
func InvariantViolation(code ErrorCode, message string) *EngineError {
	return New(CategoryInvariant, code, message).
		WithSuggestion("this indicates a bug - report it with the error details")
}

// StorageError creates a storage-related error
func StorageError(code ErrorCode, operation string, err error) *EngineError {
	message := fmt.Sprintf("storage operation failed: %s", operation)
	if code == CodeStoreTimeout {
		message = fmt.Sprintf("storage operation timed out: %s", operation)
	}

	var result *EngineError
	if err != nil {
		result = Wrap(err, CategoryStorage, code, message)
	} else {
		result = New(CategoryStorage, code, message)
	}

	return result.WithContext("operation", operation)
}

// InternalError creates an internal error
func InternalError(operation string, err error) *EngineError {
	message := fmt.Sprintf("unexpected error during %s", operation)

	var result *EngineError
	if err != nil {
		result = Wrap(err, CategoryInternal, CodeUnexpectedError, message)
	} else {
		result = New(CategoryInternal, CodeUnexpectedError, message)
	}

	return result.
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

// GetExitCode returns an appropriate process exit code for the error
func (e *EngineError) GetExitCode() int {
	switch e.Category {
	case CategoryValidation, CategoryTransition:
		return 3
	case CategoryNotFound:
		return 4
	case CategoryConflict, CategoryCapacity:
		return 5
	case CategoryExternal, CategoryStorage:
		return 6
	case CategoryInvariant, CategoryInternal:
		return 7
	default:
		return 1
	}
}

// ErrorSummary provides a summary of multiple errors from one batch
type ErrorSummary struct {
	Total      int                   `json:"total"`
	ByCategory map[ErrorCategory]int `json:"by_category"`
	ByCode     map[ErrorCode]int     `json:"by_code"`
	Errors     []*EngineError        `json:"errors"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*EngineError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}

	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var categories []string
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// Utility functions

// IsEngineError checks if an error is an EngineError
func IsEngineError(err error) bool {
	_, ok := err.(*EngineError)
	return ok
}

// AsEngineError extracts an EngineError from an error chain
func AsEngineError(err error) (*EngineError, bool) {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr, true
	}
	return nil, false
}

// HasCode reports whether err is an EngineError with the given code
func HasCode(err error, code ErrorCode) bool {
	if engineErr, ok := AsEngineError(err); ok {
		return engineErr.Code == code
	}
	return false
}

// HasCategory reports whether err is an EngineError in the given category
func HasCategory(err error, category ErrorCategory) bool {
	if engineErr, ok := AsEngineError(err); ok {
		return engineErr.Category == category
	}
	return false
}

// WrapIfNeeded wraps an error if it's not already an EngineError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *EngineError {
	if err == nil {
		return nil
	}

	if engineErr, ok := AsEngineError(err); ok {
		return engineErr
	}

	return Wrap(err, category, code, message)
}
