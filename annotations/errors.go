package annotations

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes annotation parse failures.
type ErrorKind string

const (
	// KindMissingField indicates a required field is absent.
	KindMissingField ErrorKind = "MISSING_FIELD"

	// KindInvalidFieldType indicates a field is present but has the wrong JSON type.
	KindInvalidFieldType ErrorKind = "INVALID_FIELD_TYPE"

	// KindUnknownAnnotationType indicates the "type" field names no known annotation.
	KindUnknownAnnotationType ErrorKind = "UNKNOWN_ANNOTATION_TYPE"

	// KindUnknownFunction indicates a condition calls a function missing from the registry.
	KindUnknownFunction ErrorKind = "UNKNOWN_FUNCTION"

	// KindWrongArity indicates a call has a different number of arguments than registered.
	KindWrongArity ErrorKind = "WRONG_ARITY"

	// KindInvalidExpression indicates a condition node is neither a literal nor a call.
	KindInvalidExpression ErrorKind = "INVALID_EXPRESSION"
)

// AnnotationError is returned by the parser for every rejected definition.
type AnnotationError struct {
	// Kind identifies which constraint was violated.
	Kind ErrorKind

	// Message is a human-readable description.
	Message string

	// Field names the offending annotation field, if any.
	Field string

	// Function names the offending function, if any.
	Function string
}

// Error implements the error interface.
func (e *AnnotationError) Error() string {
	switch {
	case e.Function != "":
		return fmt.Sprintf("%s: %s (function=%s)", e.Kind, e.Message, e.Function)
	case e.Field != "":
		return fmt.Sprintf("%s: %s (field=%s)", e.Kind, e.Message, e.Field)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

// IsKind reports whether err is an AnnotationError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ae *AnnotationError
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// KindOf returns the kind of an AnnotationError, or "" for other errors.
func KindOf(err error) ErrorKind {
	var ae *AnnotationError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

func missingField(field string) *AnnotationError {
	return &AnnotationError{
		Kind:    KindMissingField,
		Message: fmt.Sprintf("annotation requires field %q", field),
		Field:   field,
	}
}

func invalidFieldType(field, want string, got any) *AnnotationError {
	return &AnnotationError{
		Kind:    KindInvalidFieldType,
		Message: fmt.Sprintf("field %q must be a %s, got %s", field, want, describe(got)),
		Field:   field,
	}
}

func invalidExpression(format string, args ...any) *AnnotationError {
	return &AnnotationError{
		Kind:    KindInvalidExpression,
		Message: fmt.Sprintf(format, args...),
	}
}

// ErrNonBooleanCondition is wrapped by EvaluationError when an inhibition
// condition produces something other than a boolean.
var ErrNonBooleanCondition = errors.New("condition did not evaluate to a boolean")

// EvaluationError reports a failure while evaluating a validated expression.
// It indicates a broken function or condition, never bad event data.
type EvaluationError struct {
	Function string
	Err      error
}

// Error implements the error interface.
func (e *EvaluationError) Error() string {
	if e.Function != "" {
		return fmt.Sprintf("evaluating %s: %v", e.Function, e.Err)
	}
	return fmt.Sprintf("evaluating condition: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *EvaluationError) Unwrap() error {
	return e.Err
}
