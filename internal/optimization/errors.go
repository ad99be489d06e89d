package optimization

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfiguration is reported when a hyperparameter violates its
	// documented constraint. It is raised at construction, before any
	// iteration runs.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrEvaluation is reported when the caller's objective fails. The
	// caller's error stays reachable through errors.Is and errors.As.
	ErrEvaluation = errors.New("objective evaluation failed")

	// ErrDimensionMismatch is reported when vectors of different lengths meet.
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

// Error represents an optimization error with context
// that can be wrapped with additional information.
type Error struct {
	// Message describes the error that occurred.
	Message string
	// Op is the operation that caused the error.
	Op string
	// Component is the component where the error occurred.
	Component string
	// Kind is the sentinel class of the error, matched by errors.Is.
	Kind error
	// Err is the underlying error that triggered this one, if any.
	Err error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var prefix string
	if e.Component != "" && e.Op != "" {
		prefix = fmt.Sprintf("%s: %s", e.Component, e.Op)
	} else if e.Component != "" {
		prefix = e.Component
	} else if e.Op != "" {
		prefix = e.Op
	}

	msg := e.Message
	if e.Kind != nil {
		if msg == "" {
			msg = e.Kind.Error()
		} else {
			msg = fmt.Sprintf("%v: %s", e.Kind, msg)
		}
	}

	if e.Err != nil {
		if prefix != "" {
			return fmt.Sprintf("%s: %s: %v", prefix, msg, e.Err)
		}
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}

	if prefix != "" {
		return fmt.Sprintf("%s: %s", prefix, msg)
	}
	return msg
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is the sentinel kind of e.
func (e *Error) Is(target error) bool {
	return e != nil && e.Kind != nil && e.Kind == target
}

// WithOperation adds operation context to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// WithComponent adds component context to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithKind classifies the error under a sentinel.
func (e *Error) WithKind(kind error) *Error {
	e.Kind = kind
	return e
}

// NewError creates a new optimization error with the given message.
func NewError(message string) *Error {
	return &Error{
		Message: message,
	}
}

// NewErrorf creates a new optimization error with formatted message.
func NewErrorf(format string, args ...interface{}) *Error {
	return &Error{
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError wraps an existing error with additional context.
// If err is nil, WrapError returns nil.
func WrapError(err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Message: message,
		Err:     err,
	}
}

// WrapErrorf wraps an existing error with additional formatted context.
// If err is nil, WrapErrorf returns nil.
func WrapErrorf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// InvalidConfig returns an ErrInvalidConfiguration error naming the offending
// field and its value.
func InvalidConfig(component, field string, value interface{}, constraint string) *Error {
	return NewErrorf("%s = %v, %s", field, value, constraint).
		WithKind(ErrInvalidConfiguration).
		WithComponent(component)
}

// EvaluationFailed wraps a failure of the caller's objective.
func EvaluationFailed(component string, err error) *Error {
	return WrapError(err, "").
		WithKind(ErrEvaluation).
		WithComponent(component)
}

// IsOptimizationError checks if an error is of type Error.
// If the error is an optimization error, it returns the error and true.
// Otherwise, it returns nil and false.
func IsOptimizationError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
