package transport

import (
	"errors"
	"fmt"

	"streamsync/internal/codec"
)

// Code classifies a remote replica error.
type Code int

// Error codes.
const (
	CodeUnknown Code = iota
	CodeNotFound
	CodeAlreadyExists
	CodeStaleTip
	CodeInvalidArgument
	CodePermissionDenied
	CodeUnavailable
)

// String returns the string representation of the code.
func (c Code) String() string {
	switch c {
	case CodeNotFound:
		return "not_found"
	case CodeAlreadyExists:
		return "already_exists"
	case CodeStaleTip:
		return "stale_tip"
	case CodeInvalidArgument:
		return "invalid_argument"
	case CodePermissionDenied:
		return "permission_denied"
	case CodeUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Error is a structured remote replica error. A stale-tip rejection
// carries the tip hash the replica expected so the caller can re-sign
// and resubmit without an extra round trip.
type Error struct {
	Code        Code
	Msg         string
	ExpectedTip *codec.Hash
}

// Error implements error.
func (e *Error) Error() string {
	if e.ExpectedTip != nil {
		return fmt.Sprintf("transport: %s: %s (expected tip %s)", e.Code, e.Msg, e.ExpectedTip.Hex())
	}
	return fmt.Sprintf("transport: %s: %s", e.Code, e.Msg)
}

// NewError creates an Error with the given code.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// NewStaleTipError creates a stale-tip rejection carrying the expected
// tip hash.
func NewStaleTipError(expected codec.Hash) *Error {
	return &Error{
		Code:        CodeStaleTip,
		Msg:         "event references a superseded miniblock tip",
		ExpectedTip: &expected,
	}
}

// CodeOf extracts the error code, or CodeUnknown for non-transport
// errors.
func CodeOf(err error) Code {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return CodeUnknown
}

// IsStaleTip reports whether err is a stale-tip rejection and returns
// the expected tip when the replica supplied one.
func IsStaleTip(err error) (codec.Hash, bool) {
	var te *Error
	if !errors.As(err, &te) || te.Code != CodeStaleTip {
		return codec.Hash{}, false
	}
	if te.ExpectedTip == nil {
		return codec.Hash{}, true
	}
	return *te.ExpectedTip, true
}
