package ztl

import (
	"github.com/ipicoli/ztl-go/internal/zerrors"
)

// Error is the façade's structured error type: every public operation
// that fails returns one of these, wrapping the internal/zerrors.Error
// that actually carries the op/code/message.
type Error = zerrors.Error

// ErrorCode is the closed taxonomy from spec.md §7.
type ErrorCode = zerrors.Code

const (
	ErrCodeNoMedia       = zerrors.NoMedia
	ErrCodeNoInit        = zerrors.NoInit
	ErrCodeMediaError    = zerrors.MediaError
	ErrCodeProvErr       = zerrors.ProvErr
	ErrCodeMPOutOfBounds = zerrors.MPOutOfBounds
	ErrCodeMPInvalid     = zerrors.MPInvalid
	ErrCodeMPActive      = zerrors.MPActive
	ErrCodeMPMemError    = zerrors.MPMemError
	ErrCodeMPAsynchErr   = zerrors.MPAsynchErr
	ErrCodeZMDRep        = zerrors.ZMDRep
	ErrCodeAppendErr     = zerrors.AppendErr
)

// NewError creates a structured error with no wrapped cause.
func NewError(op string, code ErrorCode, msg string) *Error {
	return zerrors.New(op, code, msg)
}

// WrapError wraps an existing error with ZTL op/code context. If inner is
// already a structured *Error, its code is preserved and only Op changes.
func WrapError(op string, code ErrorCode, inner error) *Error {
	if ue, ok := inner.(*Error); ok {
		return &Error{Op: op, Code: ue.Code, Msg: ue.Msg, Inner: ue.Inner}
	}
	return zerrors.Wrap(op, code, inner)
}

// IsCode reports whether err is, or wraps, a structured *Error with code.
func IsCode(err error, code ErrorCode) bool {
	return zerrors.IsCode(err, code)
}
