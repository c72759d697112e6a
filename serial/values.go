package serial

import (
	"fmt"
	"time"
)

// ErrorValue is the reconstructed form of a serialized error.
type ErrorValue struct {
	Name    string
	Message string
	Stack   string
	Cause   error
}

// Error implements error.
func (e *ErrorValue) Error() string {
	return e.Message
}

// Unwrap returns the reconstructed cause, if any.
func (e *ErrorValue) Unwrap() error {
	return e.Cause
}

// FunctionValue is a descriptive placeholder for a serialized function.
type FunctionValue struct {
	Name      string
	Arity     int
	Signature string
}

// String implements fmt.Stringer.
func (f *FunctionValue) String() string {
	return fmt.Sprintf("[function %s/%d]", f.Name, f.Arity)
}

// UnknownValue stands in for a value that had no faithful encoding.
type UnknownValue struct {
	Type string
	Repr string
}

// String implements fmt.Stringer.
func (u *UnknownValue) String() string {
	return fmt.Sprintf("[%s %s]", u.Type, u.Repr)
}

// FieldErrorValue replaces a field that could not be read during encoding.
type FieldErrorValue struct {
	FieldName string
	Message   string
}

// Error implements error.
func (f *FieldErrorValue) Error() string {
	return fmt.Sprintf("field %q: %s", f.FieldName, f.Message)
}

// Failure is the decoded form of the fallback text produced when encoding failed.
type Failure struct {
	Message   string
	Timestamp time.Time
}

// Error implements error.
func (f *Failure) Error() string {
	return "serialization failed: " + f.Message
}
