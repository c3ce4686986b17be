// Package errors defines the orchestrator's error taxonomy and its mapping onto job failures.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// ErrCodeServiceUnavailable: a retrieval, web or LLM endpoint is unreachable or timed out.
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	// ErrCodeStructuralValidationFailed: a retrieval payload was empty, invalid or mismatched.
	ErrCodeStructuralValidationFailed ErrorCode = "STRUCTURAL_VALIDATION_FAILED"
	// ErrCodeSemanticValidationFailed: an error-severity check or the ensemble threshold failed.
	ErrCodeSemanticValidationFailed ErrorCode = "SEMANTIC_VALIDATION_FAILED"
	// ErrCodeConfigUnavailable: the configuration service could not serve a key.
	ErrCodeConfigUnavailable ErrorCode = "CONFIG_UNAVAILABLE"
	// ErrCodeChainStepFailed: one step of a chain rule failed.
	ErrCodeChainStepFailed ErrorCode = "CHAIN_STEP_FAILED"
	// ErrCodeBackendFailure: an explicitly selected LLM backend failed.
	ErrCodeBackendFailure ErrorCode = "BACKEND_FAILURE"

	ErrCodeInvalidQuery   ErrorCode = "INVALID_QUERY"
	ErrCodeUnableToAnswer ErrorCode = "UNABLE_TO_ANSWER"
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Cause     error                  `json:"-"`
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error { return e.Cause }

// WithMetadata attaches a key/value and returns e.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

func newError(code ErrorCode, message string, cause error, retryable bool) *StandardError {
	details := ""
	if cause != nil {
		details = cause.Error()
	}
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		Cause:     cause,
	}
}

// NewServiceUnavailableError wraps a failed call to an external endpoint.
func NewServiceUnavailableError(service string, err error) *StandardError {
	return newError(ErrCodeServiceUnavailable,
		fmt.Sprintf("service '%s' unavailable", service), err, true).
		WithMetadata("service", service)
}

// NewStructuralValidationError records why a payload was rejected.
func NewStructuralValidationError(kind, status, reason string) *StandardError {
	e := newError(ErrCodeStructuralValidationFailed, "retrieval payload rejected", nil, true)
	e.Details = fmt.Sprintf("kind: %s, status: %s, reason: %s", kind, status, reason)
	return e.WithMetadata("status", status)
}

// NewSemanticValidationError records a failed hallucination check.
func NewSemanticValidationError(rule, reason string) *StandardError {
	e := newError(ErrCodeSemanticValidationFailed, "response failed semantic validation", nil, false)
	e.Details = fmt.Sprintf("rule: %s, reason: %s", rule, reason)
	return e.WithMetadata("rule", rule)
}

// NewConfigUnavailableError wraps a configuration lookup that fell back to defaults.
func NewConfigUnavailableError(key string, err error) *StandardError {
	return newError(ErrCodeConfigUnavailable,
		fmt.Sprintf("configuration '%s' unavailable", key), err, false).
		WithMetadata("key", key)
}

// NewChainStepError wraps the failure of one chain step.
func NewChainStepError(chain string, step int, err error) *StandardError {
	return newError(ErrCodeChainStepFailed,
		fmt.Sprintf("chain '%s' step %d failed", chain, step), err, false).
		WithMetadata("chain", chain).
		WithMetadata("step", step)
}

// NewBackendFailureError wraps a failure of an explicitly selected backend.
func NewBackendFailureError(backend, model string, err error) *StandardError {
	return newError(ErrCodeBackendFailure,
		fmt.Sprintf("backend '%s' failed for model '%s'", backend, model), err, true).
		WithMetadata("backend", backend).
		WithMetadata("model", model)
}

// NewInvalidQueryError rejects malformed input.
func NewInvalidQueryError(details string) *StandardError {
	e := newError(ErrCodeInvalidQuery, "invalid query", nil, false)
	e.Details = details
	return e
}

// NewUnableToAnswerError marks a query for which every data path and backend failed.
func NewUnableToAnswerError(details string) *StandardError {
	e := newError(ErrCodeUnableToAnswer, "unable to answer", nil, false)
	e.Details = details
	return e
}

func NewInternalError(message string, err error) *StandardError {
	return newError(ErrCodeInternal, message, err, false)
}

// HasCode reports whether any StandardError in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var std *StandardError
		if !stderrors.As(err, &std) {
			return false
		}
		if std.Code == code {
			return true
		}
		err = std.Cause
	}
	return false
}

// AsStandard normalizes any error into a StandardError.
func AsStandard(err error) *StandardError {
	var std *StandardError
	if stderrors.As(err, &std) {
		return std
	}
	return newError(ErrCodeInternal, "unexpected error", err, false)
}

// BPMNError represents an error that can be thrown to the workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for job failure variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// GetRetryCount returns how many job retries a code deserves.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeServiceUnavailable, ErrCodeBackendFailure:
		return 2
	case ErrCodeStructuralValidationFailed:
		return 1
	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError for the workflow engine.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}
	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"errorCategory":     GetErrorCategory(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}
	return &BPMNError{
		Code:           string(stdErr.Code),
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory groups codes for dashboards.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "VALIDATION"):
		return "VALIDATION"
	case code == ErrCodeServiceUnavailable || code == ErrCodeBackendFailure:
		return "DEPENDENCY"
	case code == ErrCodeConfigUnavailable:
		return "CONFIG"
	case code == ErrCodeChainStepFailed:
		return "MULTI_INTENT"
	case code == ErrCodeInvalidQuery || code == ErrCodeUnableToAnswer:
		return "QUERY"
	default:
		return "OTHER"
	}
}
