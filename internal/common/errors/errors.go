// Package errors provides the error taxonomy shared by the research pipeline
// and its workflow integration.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeNetwork                ErrorCode = "NETWORK_ERROR"
	ErrCodeUpstream               ErrorCode = "UPSTREAM_ERROR"
	ErrCodeUpstreamInvalidPayload ErrorCode = "UPSTREAM_INVALID_PAYLOAD"
	ErrCodeTimeout                ErrorCode = "TIMEOUT"

	ErrCodeJobFailed ErrorCode = "JOB_FAILED"

	ErrCodeEmptySelection ErrorCode = "EMPTY_SELECTION"
	ErrCodeCapability     ErrorCode = "CAPABILITY_ERROR"

	ErrCodeResearchFailed ErrorCode = "RESEARCH_FAILED"
	ErrCodeInvalidQuery   ErrorCode = "INVALID_QUERY"
	ErrCodeInvalidGraph   ErrorCode = "INVALID_GRAPH"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Sentinels for errors.Is. A *StandardError matches a sentinel with the same code.
var (
	ErrNetwork        = &StandardError{Code: ErrCodeNetwork}
	ErrUpstream       = &StandardError{Code: ErrCodeUpstream}
	ErrTimeout        = &StandardError{Code: ErrCodeTimeout}
	ErrJobFailed      = &StandardError{Code: ErrCodeJobFailed}
	ErrEmptySelection = &StandardError{Code: ErrCodeEmptySelection}
	ErrCapability     = &StandardError{Code: ErrCodeCapability}
	ErrResearchFailed = &StandardError{Code: ErrCodeResearchFailed}
	ErrInvalidQuery   = &StandardError{Code: ErrCodeInvalidQuery}
	ErrInvalidGraph   = &StandardError{Code: ErrCodeInvalidGraph}
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Status    int                    `json:"status,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Cause     error                  `json:"-"`
}

func (e *StandardError) Error() string {
	msg := fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return msg
}

func (e *StandardError) Unwrap() error {
	return e.Cause
}

// Is matches on error code so sentinels work through wrapping.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
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

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
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

// ==========================
// 3. Error Constructors
// ==========================

// NewNetworkError wraps a transport failure.
func NewNetworkError(endpoint string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNetwork,
		Message:   "Network error calling provider",
		Details:   fmt.Sprintf("endpoint: %s, error: %v", endpoint, err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewUpstreamError records a non-2xx provider response. body is truncated by the caller.
func NewUpstreamError(endpoint string, status int, body string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUpstream,
		Message:   "Provider returned an error status",
		Details:   fmt.Sprintf("endpoint: %s, body: %s", endpoint, body),
		Retryable: status >= 500 || status == 429,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
}

func NewInvalidPayloadError(endpoint string, status int, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeUpstreamInvalidPayload,
		Message:   "Provider returned a malformed payload",
		Details:   fmt.Sprintf("endpoint: %s, error: %v", endpoint, err),
		Retryable: false,
		Status:    status,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewTimeoutError reports that an operation's budget expired.
func NewTimeoutError(operation string, budget time.Duration, cause error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTimeout,
		Message:   "Operation timed out",
		Details:   fmt.Sprintf("operation: %s, budget: %s", operation, budget),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		Cause:     cause,
	}
}

func NewJobFailedError(jobID, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeJobFailed,
		Message:   "Extraction job failed",
		Details:   fmt.Sprintf("jobId: %s, %s", jobID, details),
		Retryable: false,
		Metadata:  map[string]interface{}{"jobId": jobID},
		Timestamp: time.Now().UTC(),
	}
}

// NewEmptySelectionError marks a valid "nothing selected" outcome. It is never fatal.
func NewEmptySelectionError(reason string) *StandardError {
	return &StandardError{
		Code:      ErrCodeEmptySelection,
		Message:   "No discussion threads selected",
		Details:   reason,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewCapabilityError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCapability,
		Message:   "Language model call failed",
		Details:   fmt.Sprintf("operation: %s, error: %v", operation, err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewResearchFailedError is the single terminal error surfaced to callers.
func NewResearchFailedError(stage string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeResearchFailed,
		Message:   "Research failed",
		Details:   fmt.Sprintf("stage: %s, error: %v", stage, err),
		Retryable: IsRetryable(err),
		Metadata:  map[string]interface{}{"stage": stage},
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

func NewInvalidQueryError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidQuery,
		Message:   "Invalid research question",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewInvalidGraphError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidGraph,
		Message:   "Invalid stage graph",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 4. Classification Helpers
// ==========================

// CodeOf returns the code of the first StandardError in err's chain.
func CodeOf(err error) ErrorCode {
	var se *StandardError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// IsTimeout reports whether err is, or wraps, a timeout of any kind.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrTimeout) || stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return stderrors.As(err, &ne) && ne.Timeout()
}

// IsRetryable reports whether err carries a retryable StandardError.
func IsRetryable(err error) bool {
	var se *StandardError
	if stderrors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// BPMNErrorMapping maps internal error codes to BPMN error codes.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeResearchFailed: "RESEARCH_FAILED",
	ErrCodeInvalidQuery:   "INVALID_QUESTION",
	ErrCodeTimeout:        "RESEARCH_TIMEOUT",
	ErrCodeCapability:     "LLM_UNAVAILABLE",
}

// GetRetryCount returns how many times the workflow engine should retry a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeNetwork, ErrCodeUpstream, ErrCodeCapability:
		return 3
	case ErrCodeTimeout, ErrCodeResearchFailed:
		return 1
	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError into a BPMNError.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      bpmnCode,
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// GetErrorCategory groups codes for dashboards and logs.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "NETWORK") || strings.Contains(codeStr, "UPSTREAM"):
		return "PROVIDER"
	case strings.Contains(codeStr, "TIMEOUT"):
		return "TIMEOUT"
	case strings.Contains(codeStr, "JOB"):
		return "EXTRACTION"
	case strings.Contains(codeStr, "SELECTION") || strings.Contains(codeStr, "CAPABILITY"):
		return "AI"
	case strings.Contains(codeStr, "INVALID"):
		return "VALIDATION"
	case strings.Contains(codeStr, "RESEARCH"):
		return "PIPELINE"
	default:
		return "OTHER"
	}
}
