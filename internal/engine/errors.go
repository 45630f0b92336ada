package engine

import (
	"errors"
	"fmt"
)

// RuntimeError is an error the scheduler detects in the shape of the graph
// rather than in a cell body. It is raised only at the Variables actually
// responsible; their consumers are rejected with the same error value.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Name is the variable name the error is about.
	Name string

	// Message is a human-readable description.
	Message string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeNotDefined indicates a dependency name resolves to nothing.
	ErrCodeNotDefined RuntimeErrorCode = "NOT_DEFINED"

	// ErrCodeDuplicateDefinition indicates a name is bound more than once
	// in a module.
	ErrCodeDuplicateDefinition RuntimeErrorCode = "DUPLICATE_DEFINITION"

	// ErrCodeCircularDependency indicates the variable is on a cycle.
	ErrCodeCircularDependency RuntimeErrorCode = "CIRCULAR_DEPENDENCY"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NotDefined creates a RuntimeError for an unresolvable name.
func NotDefined(name string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeNotDefined,
		Name:    name,
		Message: fmt.Sprintf("%s is not defined", name),
	}
}

// DuplicateDefinition creates a RuntimeError for a name bound more than
// once.
func DuplicateDefinition(name string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeDuplicateDefinition,
		Name:    name,
		Message: fmt.Sprintf("%s is defined more than once", name),
	}
}

// CircularDependency creates a RuntimeError for a cycle member.
func CircularDependency(name string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeCircularDependency,
		Name:    name,
		Message: fmt.Sprintf("circular definition of %s", name),
	}
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsNotDefined returns true if err is a NOT_DEFINED runtime error.
// Uses errors.As to handle wrapped errors.
func IsNotDefined(err error) bool {
	return hasCode(err, ErrCodeNotDefined)
}

// IsDuplicateDefinition returns true if err is a DUPLICATE_DEFINITION
// runtime error.
func IsDuplicateDefinition(err error) bool {
	return hasCode(err, ErrCodeDuplicateDefinition)
}

// IsCircularDependency returns true if err is a CIRCULAR_DEPENDENCY runtime
// error.
func IsCircularDependency(err error) bool {
	return hasCode(err, ErrCodeCircularDependency)
}

// CodeOf returns the runtime error code of err, or "" when err is not a
// RuntimeError.
func CodeOf(err error) RuntimeErrorCode {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// Operation errors returned by Runtime and Module methods, usually wrapped
// with the offending id.
var (
	// ErrBuiltinImmutable is returned when redefining or deleting a builtin.
	ErrBuiltinImmutable = errors.New("builtin variables are immutable")

	// ErrUnknownVariable is returned for a cell id or name not in the module.
	ErrUnknownVariable = errors.New("unknown variable")

	// ErrUnknownModule is returned for a nil or foreign module.
	ErrUnknownModule = errors.New("unknown module")

	// ErrModuleExists is returned when a module id is already defined.
	ErrModuleExists = errors.New("module already defined")

	// ErrDisposed is returned by every mutator after Dispose.
	ErrDisposed = errors.New("runtime disposed")
)

// bodyPanic wraps a value recovered from a panicking cell body.
type bodyPanic struct {
	value any
}

func (p *bodyPanic) Error() string {
	return fmt.Sprintf("cell panicked: %v", p.value)
}
