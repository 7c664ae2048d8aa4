// Package zerrors defines the closed error-code taxonomy shared by every
// ZTL layer, so internal packages can return structured errors without
// importing the root façade package.
package zerrors

import (
	"errors"
	"fmt"
)

// Code is a closed string-enum error category, mirrored 1:1 against the
// kinds in spec.md §7.
type Code string

const (
	NoMedia       Code = "NOMEDIA"
	NoInit        Code = "NOINIT"
	MediaError    Code = "MEDIA_ERROR"
	ProvErr       Code = "PROV_ERR"
	MPOutOfBounds Code = "MP_OUTBOUNDS"
	MPInvalid     Code = "MP_INVALID"
	MPActive      Code = "MP_ACTIVE"
	MPMemError    Code = "MP_MEMERROR"
	MPAsynchErr   Code = "MP_ASYNCH_ERR"
	ZMDRep        Code = "ZMD_REP"
	AppendErr     Code = "APPEND_ERR"
)

// Error is a structured error carrying the operation that failed, its
// category, and an optional wrapped cause.
type Error struct {
	Op    string
	Code  Code
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op != "" {
		return fmt.Sprintf("ztl: %s: %s (%s)", e.Op, msg, e.Code)
	}
	return fmt.Sprintf("ztl: %s (%s)", msg, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

// Is supports errors.Is comparisons against a bare Code sentinel wrapped
// in an *Error, matching on category rather than identity.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// New creates a structured error with no wrapped cause.
func New(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// Wrap attaches op/code context to an existing error.
func Wrap(op string, code Code, inner error) *Error {
	if inner == nil {
		return nil
	}
	return &Error{Op: op, Code: code, Msg: inner.Error(), Inner: inner}
}

// Sentinel returns an *Error usable as an errors.Is() target for a code,
// independent of operation or message.
func Sentinel(code Code) *Error {
	return &Error{Code: code}
}

// IsCode reports whether err is (or wraps) a structured *Error with the
// given code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
