package parser

import (
	"fmt"
	"strings"
)

// ParseError represents a parsing error with location information.
type ParseError struct {
	Line    int    // 出错行号，从 1 开始
	Column  int    // 出错列号，从 1 开始
	Message string // 错误信息
	Cause   error  // 底层错误
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Line > 0 && e.Column > 0 {
		return fmt.Sprintf("parse error at line %d, column %d: %s", e.Line, e.Column, e.Message)
	}
	if e.Line > 0 {
		return fmt.Sprintf("parse error at line %d: %s", e.Line, e.Message)
	}
	return fmt.Sprintf("parse error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// NewParseError creates a new ParseError.
func NewParseError(line, column int, message string, cause error) *ParseError {
	return &ParseError{
		Line:    line,
		Column:  column,
		Message: message,
		Cause:   cause,
	}
}

// ValidationError represents one invalid field of a test script.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// ValidationErrors collects every problem found in a script so they can be
// reported together.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("test script validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Fields returns the invalid field paths in report order.
func (e ValidationErrors) Fields() []string {
	fields := make([]string, 0, len(e))
	for _, err := range e {
		fields = append(fields, err.Field)
	}
	return fields
}
