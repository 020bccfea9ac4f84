package domain

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindUnexpected ErrorKind = iota
	KindAuth
	KindForbidden
	KindValidation
	KindNotFound
	KindConflict
	KindProvider
)

// Error is a classified failure. The HTTP layer maps Kind to a status code
// and only ever exposes Code and Message.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func Auth(code, msg string) *Error       { return &Error{Kind: KindAuth, Code: code, Message: msg} }
func Forbidden(code, msg string) *Error  { return &Error{Kind: KindForbidden, Code: code, Message: msg} }
func Validation(code, msg string) *Error { return &Error{Kind: KindValidation, Code: code, Message: msg} }
func NotFound(code, msg string) *Error   { return &Error{Kind: KindNotFound, Code: code, Message: msg} }
func Conflict(code, msg string) *Error   { return &Error{Kind: KindConflict, Code: code, Message: msg} }

func Provider(code, msg string, err error) *Error {
	return &Error{Kind: KindProvider, Code: code, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindUnexpected.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnexpected
}
