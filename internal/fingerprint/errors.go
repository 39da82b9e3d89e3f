package fingerprint

import (
	"errors"
	"fmt"
)

// Code is the machine-readable identifier of a domain error. It is stable
// across releases and is what HTTP clients switch on.
type Code string

const (
	CodeReaderNotConnected Code = "READER_NOT_CONNECTED"
	CodeSdkInitFailed      Code = "SDK_INIT_FAILED"
	CodeCaptureFailed      Code = "CAPTURE_FAILED"
	CodeMatchFailed        Code = "MATCH_FAILED"
	CodeUnsupportedDevice  Code = "UNSUPPORTED_DEVICE"
	CodeDeviceInUse        Code = "DEVICE_IN_USE"
)

// Error is a controlled fingerprint error, safe to expose through the API.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match when target is an *Error with the same code, so the
// sentinels below work with errors.Is regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrReaderNotConnected = &Error{Code: CodeReaderNotConnected, Message: "Unable to connect to reader"}
	ErrSdkInitFailed      = &Error{Code: CodeSdkInitFailed, Message: "Unable to initialize fingerprint reader"}
	ErrCaptureFailed      = &Error{Code: CodeCaptureFailed, Message: "Capture failed"}
	ErrMatchFailed        = &Error{Code: CodeMatchFailed, Message: "Fingerprint match failed"}
	ErrUnsupportedDevice  = &Error{Code: CodeUnsupportedDevice, Message: "Fingerprint device not supported"}
	ErrDeviceInUse        = &Error{Code: CodeDeviceInUse, Message: "Another fingerprint device is open"}
)

// NewError builds a domain error wrapping cause, which may be nil.
func NewError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

// CodeOf extracts the domain code from err, or "" when err is not a domain
// error.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}
