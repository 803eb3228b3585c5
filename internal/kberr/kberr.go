// Package kberr defines the error kinds shared by every kickbox component.
package kberr

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrNetwork              = errors.New("network error")
	ErrBackend              = errors.New("backend error")
	ErrNotFound             = errors.New("not found")
)

// Error carries the kind, the failing operation and an optional cause.
type Error struct {
	Kind    error
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Is reports whether target is the kind of e.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// InvalidConfiguration returns an ErrInvalidConfiguration error.
func InvalidConfiguration(op, format string, args ...any) error {
	return &Error{Kind: ErrInvalidConfiguration, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Network wraps a transport failure.
func Network(op string, cause error) error {
	return &Error{Kind: ErrNetwork, Op: op, Cause: cause}
}

// Backend reports a failure returned by the analytics backend.
func Backend(op, format string, args ...any) error {
	return &Error{Kind: ErrBackend, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing map layer, source or mode.
func NotFound(op, format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Validation collects configuration problems without failing fast.
type Validation struct {
	IsValid bool     `json:"isValid" doc:"Whether the parameters passed validation"`
	Errs    []string `json:"errs" doc:"Validation messages"`
}

// Add records a problem and marks the validation as failed.
func (v *Validation) Add(format string, args ...any) {
	v.IsValid = false
	v.Errs = append(v.Errs, fmt.Sprintf(format, args...))
}

// Err returns an ErrInvalidConfiguration error joining all messages, or nil.
func (v Validation) Err(op string) error {
	if v.IsValid {
		return nil
	}
	return &Error{Kind: ErrInvalidConfiguration, Op: op, Message: fmt.Sprint(v.Errs)}
}

// NewValidation returns a passing validation.
func NewValidation() Validation {
	return Validation{IsValid: true, Errs: []string{}}
}
