package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeTransientNetwork  = "TRANSIENT_NETWORK"
	ErrCodeQuotaExceeded     = "QUOTA_EXCEEDED"
	ErrCodeStaleResponse     = "STALE_RESPONSE"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeExpression        = "EXPRESSION_ERROR"
	ErrCodeCache             = "CACHE_ERROR"
	ErrCodeCancelled         = "CANCELLED"
)

// FlowdeckError is the structured error type for all engine operations.
type FlowdeckError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FlowdeckError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FlowdeckError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the error is safe to retry with backoff.
// Only transient network failures qualify; everything else needs user action.
func (e *FlowdeckError) IsRetryable() bool {
	return e.Code == ErrCodeTransientNetwork
}

// NewError creates a new FlowdeckError.
func NewError(code, message string) *FlowdeckError {
	return &FlowdeckError{Code: code, Message: message}
}

// NewErrorf creates a new FlowdeckError with a formatted message.
func NewErrorf(code, format string, args ...any) *FlowdeckError {
	return &FlowdeckError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node ID to the error.
func (e *FlowdeckError) WithNode(nodeID string) *FlowdeckError {
	e.NodeID = nodeID
	return e
}

// WithCause attaches an underlying cause.
func (e *FlowdeckError) WithCause(err error) *FlowdeckError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowdeckError) WithDetails(details map[string]any) *FlowdeckError {
	e.Details = details
	return e
}
