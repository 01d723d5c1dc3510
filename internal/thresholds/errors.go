package thresholds

import "fmt"

// ExpressionError is returned for a malformed threshold expression.
type ExpressionError struct {
	Source  string
	Message string
}

func (e *ExpressionError) Error() string {
	return fmt.Sprintf("invalid threshold %q: %s", e.Source, e.Message)
}

// DefinitionError ties an error to the threshold definition it came from.
type DefinitionError struct {
	Metric string
	Cause  error
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("threshold on %s: %v", e.Metric, e.Cause)
}

func (e *DefinitionError) Unwrap() error {
	return e.Cause
}
