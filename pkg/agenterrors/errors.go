// Package agenterrors provides a structured error type shared by every
// agent component: a stable code, a category that governs retry/queueing
// behavior, and optional context for diagnostics.
package agenterrors

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Code identifies a specific failure condition across the agent.
type Code string

const (
	// Configuration (1000s)
	CodeInvalidConfig  Code = "INVALID_CONFIG"
	CodeMissingConfig  Code = "MISSING_CONFIG"
	CodeConfigValidate Code = "CONFIG_VALIDATION"

	// Connectivity (2000s)
	CodeConnectionFailed  Code = "CONNECTION_FAILED"
	CodeConnectionTimeout Code = "CONNECTION_TIMEOUT"
	CodeNetworkError      Code = "NETWORK_ERROR"
	CodeServerRejected    Code = "SERVER_REJECTED"
	CodeAuthFailed        Code = "AUTH_FAILED"

	// Artifact staging / disk budget (3000s)
	CodeDiskBudgetExceeded  Code = "DISK_BUDGET_EXCEEDED"
	CodeEntryNotFound       Code = "ENTRY_NOT_FOUND"
	CodeManifestCorrupt     Code = "MANIFEST_CORRUPT"
	CodeStagingAreaCorrupt  Code = "STAGING_AREA_CORRUPT"
	CodeAttachmentMissing   Code = "ATTACHMENT_MISSING"
	CodeCoredumpTooLarge    Code = "COREDUMP_TOO_LARGE"
	CodeCoredumpUnreadable  Code = "COREDUMP_UNREADABLE"

	// Metrics / logs (4000s)
	CodeInvalidMetricValue Code = "INVALID_METRIC_VALUE"
	CodeLogRotationFailed  Code = "LOG_ROTATION_FAILED"
	CodeHeadroomExceeded   Code = "HEADROOM_EXCEEDED"
	CodeRecoveryCorrupt    Code = "RECOVERY_STATE_CORRUPT"

	// State (5000s)
	CodeAlreadyStarted   Code = "ALREADY_STARTED"
	CodeNotInitialized   Code = "NOT_INITIALIZED"
	CodeShuttingDown     Code = "SHUTTING_DOWN"
	CodeInvalidState     Code = "INVALID_STATE"

	// Internal (9000s)
	CodeInternal        Code = "INTERNAL_ERROR"
	CodePanicRecovered  Code = "PANIC_RECOVERED"
)

// Category groups error codes by how the caller should react.
type Category string

const (
	// CategoryRetriable means the operation can be retried later without
	// operator intervention (network blips, timeouts, transient 5xx).
	CategoryRetriable Category = "retriable"
	// CategoryDataIntegrity means the on-disk or wire data itself is
	// unusable (truncated manifest, corrupt ELF, bad CBOR) and the
	// affected artifact should be dropped rather than retried forever.
	CategoryDataIntegrity Category = "data_integrity"
	// CategoryBudget means a size, count, or rate budget was hit; the
	// caller should shed load (evict, truncate, skip) rather than retry.
	CategoryBudget Category = "budget"
	// CategoryFatal means the process cannot continue in its current
	// state (bad config, failed initialization).
	CategoryFatal Category = "fatal"
)

// AgentError is the structured error type returned by agent components.
type AgentError struct {
	Code     Code                   `json:"code"`
	Category Category               `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`

	Retryable bool   `json:"retryable"`
	Stack     string `json:"stack,omitempty"`
}

func (e *AgentError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *AgentError) Unwrap() error {
	return e.Cause
}

// Is compares by code, so errors.Is(err, agenterrors.New(CodeX, "")) works
// for sentinel-style checks without caring about message or context.
func (e *AgentError) Is(target error) bool {
	if other, ok := target.(*AgentError); ok {
		return e.Code == other.Code
	}
	return false
}

// JSON renders the error for structured log fields.
func (e *AgentError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// New creates an AgentError, filling in the category and default
// retryability for the given code.
func New(code Code, message string) *AgentError {
	return &AgentError{
		Code:      code,
		Category:  CategoryOf(code),
		Message:   message,
		Details:   make(map[string]interface{}),
		Context:   make(map[string]string),
		Timestamp: time.Now(),
		Retryable: IsRetryableByDefault(code),
	}
}

// CategoryOf maps a code to its category.
func CategoryOf(code Code) Category {
	switch code {
	case CodeConnectionFailed, CodeConnectionTimeout, CodeNetworkError, CodeServerRejected:
		return CategoryRetriable
	case CodeManifestCorrupt, CodeStagingAreaCorrupt, CodeAttachmentMissing,
		CodeCoredumpUnreadable, CodeRecoveryCorrupt, CodeInvalidMetricValue:
		return CategoryDataIntegrity
	case CodeDiskBudgetExceeded, CodeCoredumpTooLarge, CodeHeadroomExceeded:
		return CategoryBudget
	case CodeInvalidConfig, CodeMissingConfig, CodeConfigValidate, CodeAuthFailed,
		CodeAlreadyStarted, CodeNotInitialized, CodeShuttingDown, CodeInvalidState:
		return CategoryFatal
	default:
		return CategoryFatal
	}
}

// IsRetryableByDefault reports whether errors of this code are generally
// safe to retry without operator action.
func IsRetryableByDefault(code Code) bool {
	switch code {
	case CodeConnectionFailed, CodeConnectionTimeout, CodeNetworkError, CodeServerRejected,
		CodeLogRotationFailed, CodeInternal:
		return true
	default:
		return false
	}
}

// CaptureStack captures the caller's stack, skipping frames in this file.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "agenterrors") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

func (e *AgentError) WithContext(key, value string) *AgentError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

func (e *AgentError) WithDetail(key string, value interface{}) *AgentError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func (e *AgentError) WithComponent(component string) *AgentError {
	e.Component = component
	return e
}

func (e *AgentError) WithOperation(operation string) *AgentError {
	e.Operation = operation
	return e
}

func (e *AgentError) WithCause(cause error) *AgentError {
	e.Cause = cause
	return e
}

func (e *AgentError) WithRetryable(retryable bool) *AgentError {
	e.Retryable = retryable
	return e
}

func (e *AgentError) WithStack() *AgentError {
	e.Stack = CaptureStack(2)
	return e
}
