package executor

import "fmt"

// ErrorCode represents the type of executor error.
type ErrorCode string

const (
	// ErrCodeConfig indicates a check or request definition that cannot be compiled.
	ErrCodeConfig ErrorCode = "CONFIG_ERROR"
	// ErrCodeExecution indicates a failure while running a request.
	ErrCodeExecution ErrorCode = "EXECUTION_ERROR"
)

// ExecutorError represents an error during executor operations.
type ExecutorError struct {
	Code    ErrorCode
	Message string
	// Subject 是出错的请求或检查名称
	Subject string
	Cause   error
}

// Error implements the error interface.
func (e *ExecutorError) Error() string {
	prefix := fmt.Sprintf("[%s]", e.Code)
	if e.Subject != "" {
		prefix += " " + e.Subject + ":"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s %s", prefix, e.Message)
}

// Unwrap returns the underlying error.
func (e *ExecutorError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates an error for an invalid definition.
func NewConfigError(subject, message string, cause error) *ExecutorError {
	return &ExecutorError{
		Code:    ErrCodeConfig,
		Message: message,
		Subject: subject,
		Cause:   cause,
	}
}
