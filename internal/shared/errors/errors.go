package errors

import (
	"fmt"
	"math"
	"runtime"
	"strings"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeCredentialsMissing  ErrorType = "credentials_missing"  // Provider section present but unusable
	ErrorTypeExternalCall        ErrorType = "external_call"        // HTTP, SDK or CLI failure
	ErrorTypeTimeout             ErrorType = "timeout"              // External call exceeded its budget
	ErrorTypeParse               ErrorType = "parse"                // Malformed payload
	ErrorTypeUnmappedType        ErrorType = "unmapped_type"        // Dropped silently
	ErrorTypeUnresolvedReference ErrorType = "unresolved_reference" // Dropped silently
	ErrorTypeWrite               ErrorType = "write"                // Graph writer failure
	ErrorTypeInternal            ErrorType = "internal"             // Recovered panic
)

// Reportable reports whether errors of this type belong in a run summary
func (t ErrorType) Reportable() bool {
	return t != ErrorTypeUnmappedType && t != ErrorTypeUnresolvedReference
}

// DepError is the error type carried through the discovery pipeline
type DepError struct {
	Type      ErrorType `json:"type"`
	Provider  string    `json:"provider,omitempty"`
	Operation string    `json:"operation,omitempty"`
	Resource  string    `json:"resource,omitempty"`
	Message   string    `json:"message"`
	Location  string    `json:"location,omitempty"`
	Wrapped   error     `json:"-"`
}

// Error renders the human-readable form used in summaries
func (e *DepError) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Resource != "" {
		fmt.Fprintf(&b, " (resource: %s)", e.Resource)
	}
	if e.Wrapped != nil {
		fmt.Fprintf(&b, ": %v", e.Wrapped)
	}
	return b.String()
}

// Unwrap returns the wrapped error
func (e *DepError) Unwrap() error {
	return e.Wrapped
}

// Is matches another DepError of the same type
func (e *DepError) Is(target error) bool {
	t, ok := target.(*DepError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// ErrorBuilder provides fluent API for building errors
type ErrorBuilder struct {
	err *DepError
}

// NewError creates a new error builder
func NewError(errType ErrorType, message string) *ErrorBuilder {
	_, file, line, _ := runtime.Caller(1)
	return &ErrorBuilder{
		err: &DepError{
			Type:     errType,
			Message:  message,
			Location: fmt.Sprintf("%s:%d", file, line),
		},
	}
}

// WithProvider sets the provider
func (b *ErrorBuilder) WithProvider(provider string) *ErrorBuilder {
	b.err.Provider = provider
	return b
}

// WithOperation sets the operation that failed
func (b *ErrorBuilder) WithOperation(operation string) *ErrorBuilder {
	b.err.Operation = operation
	return b
}

// WithResource sets the affected resource
func (b *ErrorBuilder) WithResource(resource string) *ErrorBuilder {
	b.err.Resource = resource
	return b
}

// WithWrapped wraps another error
func (b *ErrorBuilder) WithWrapped(err error) *ErrorBuilder {
	b.err.Wrapped = err
	return b
}

// Build returns the built error
func (b *ErrorBuilder) Build() *DepError {
	return b.err
}

// Sentinels for errors.Is checks
var (
	ErrCredentialsMissing = &DepError{Type: ErrorTypeCredentialsMissing}
	ErrExternalCall       = &DepError{Type: ErrorTypeExternalCall}
	ErrTimeout            = &DepError{Type: ErrorTypeTimeout}
	ErrParse              = &DepError{Type: ErrorTypeParse}
	ErrWrite              = &DepError{Type: ErrorTypeWrite}
	ErrInternal           = &DepError{Type: ErrorTypeInternal}
)

// NewCredentialsMissing reports an incomplete provider configuration
func NewCredentialsMissing(provider string, missing ...string) *DepError {
	msg := "credentials missing"
	if len(missing) > 0 {
		msg = fmt.Sprintf("credentials missing: %s", strings.Join(missing, ", "))
	}
	return NewError(ErrorTypeCredentialsMissing, msg).WithProvider(provider).Build()
}

// NewExternalCallFailure reports a failed SDK, HTTP or CLI call
func NewExternalCallFailure(provider, operation string, err error) *DepError {
	return NewError(ErrorTypeExternalCall, operation+" failed").
		WithProvider(provider).
		WithOperation(operation).
		WithWrapped(err).
		Build()
}

// NewTimeout reports an operation that exceeded d
func NewTimeout(provider, operation string, d time.Duration) *DepError {
	return NewError(ErrorTypeTimeout, fmt.Sprintf("%s timed out after %d seconds", operation, Seconds(d))).
		WithProvider(provider).
		WithOperation(operation).
		Build()
}

// NewParseFailure reports a malformed payload
func NewParseFailure(provider, operation string, err error) *DepError {
	return NewError(ErrorTypeParse, "could not parse "+operation+" output").
		WithProvider(provider).
		WithOperation(operation).
		WithWrapped(err).
		Build()
}

// NewWriteFailure reports a graph writer failure
func NewWriteFailure(operation string, err error) *DepError {
	return NewError(ErrorTypeWrite, operation+" failed").
		WithOperation(operation).
		WithWrapped(err).
		Build()
}

// NewPanic converts a recovered panic value
func NewPanic(unit string, recovered interface{}) *DepError {
	return NewError(ErrorTypeInternal, fmt.Sprintf("%s panicked: %v", unit, recovered)).
		WithOperation(unit).
		Build()
}

// Seconds rounds d to whole seconds, never below one
func Seconds(d time.Duration) int {
	s := int(math.Round(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// TypeOf returns the ErrorType of err, or ErrorTypeExternalCall for foreign errors
func TypeOf(err error) ErrorType {
	var de *DepError
	if As(err, &de) {
		return de.Type
	}
	return ErrorTypeExternalCall
}
