package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResult_EmptyIsValid(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())
}

func TestValidationResult_AddError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("nodes[0].data.url", ErrCodeValidation, "url is required")

	assert.False(t, r.Valid())
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "nodes[0].data.url", r.Errors[0].Path)
	assert.Equal(t, ErrCodeValidation, r.Errors[0].Code)
	assert.Equal(t, "url is required", r.Errors[0].Message)
	assert.Equal(t, SeverityError, r.Errors[0].Severity)
}

func TestValidationResult_AddWarning(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("nodes[1]", ErrCodeValidation, "node is unreachable")

	assert.True(t, r.Valid(), "warnings alone should not make result invalid")
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, SeverityWarning, r.Warnings[0].Severity)
}

func TestValidationResult_Merge(t *testing.T) {
	r1 := &ValidationResult{}
	r1.AddError("/", ErrCodeValidation, "err1")
	r1.AddWarning("/", ErrCodeValidation, "warn1")

	r2 := &ValidationResult{}
	r2.AddError("edges[0]", ErrCodeValidation, "err2")
	r2.AddWarning("nodes[1]", ErrCodeValidation, "warn2")

	r1.Merge(r2)

	assert.Len(t, r1.Errors, 2)
	assert.Len(t, r1.Warnings, 2)
}

func TestValidationResult_MergeNil(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("/", ErrCodeValidation, "err")
	r.Merge(nil)
	assert.Len(t, r.Errors, 1)
}

func TestValidationResult_ToError_Valid(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("/", ErrCodeValidation, "just a warning")
	assert.Nil(t, r.ToError())
}

func TestValidationResult_ToError_SingleError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("nodes[0].data.url", ErrCodeValidation, "url is required")

	err := r.ToError()
	require.NotNil(t, err)

	fdErr, ok := err.(*FlowdeckError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeValidation, fdErr.Code)
	assert.Equal(t, "url is required", fdErr.Message)
	assert.Equal(t, 1, fdErr.Details["error_count"])
}

func TestValidationResult_ToError_MultipleErrors(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("/", ErrCodeValidation, "err1")
	r.AddError("nodes[3]", ErrCodeValidation, "err2")

	err := r.ToError()
	require.NotNil(t, err)

	fdErr, ok := err.(*FlowdeckError)
	require.True(t, ok)
	assert.Contains(t, fdErr.Message, "2 errors")
	assert.Equal(t, 2, fdErr.Details["error_count"])
}

func TestRunStatus_Terminal(t *testing.T) {
	for _, s := range []RunStatus{RunStatusSucceeded, RunStatusFailed, RunStatusCanceled} {
		assert.True(t, s.Terminal(), "status %s", s)
	}
	for _, s := range []RunStatus{RunStatusQueued, RunStatusRunning} {
		assert.False(t, s.Terminal(), "status %s", s)
	}
}

func TestFlowdeckError_Format(t *testing.T) {
	err := NewError(ErrCodeValidation, "label has spaces").WithNode("n1")
	assert.Equal(t, "[VALIDATION_ERROR] node n1: label has spaces", err.Error())

	bare := NewErrorf(ErrCodeConflict, "workflow changed at %s", "2026-01-01")
	assert.Equal(t, "[CONFLICT] workflow changed at 2026-01-01", bare.Error())
}

func TestFlowdeckError_Retryable(t *testing.T) {
	assert.True(t, NewError(ErrCodeTransientNetwork, "timeout").IsRetryable())
	assert.False(t, NewError(ErrCodeConflict, "stale save").IsRetryable())
	assert.False(t, NewError(ErrCodeQuotaExceeded, "run limit").IsRetryable())
}
