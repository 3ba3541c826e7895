// File: internal/rdmaerr/rdmaerr.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package rdmaerr defines the tagged error kinds shared across the
// streaming engine. Every error carries a kind, an optional OS subcode,
// and the source location where it was raised; errors are never
// coalesced or rewritten as they propagate up through the stack.
package rdmaerr

import (
	"fmt"
	"runtime"
)

// Kind is a closed set of error categories. The iota ordering mirrors
// the contiguous numeric codes of the original C ABI (-734001..-734028)
// so a caller that cares about stable numeric codes still gets them via
// Code(), even though the C ABI itself is out of scope for this module.
type Kind int

const (
	Timeout Kind = iota + 1
	InvalidSession
	InvalidArgument
	InvalidOperation
	NoBuffersQueued
	OperatingSystemError
	InvalidSize
	OutOfMemory
	InternalError
	InvalidAddress
	OperationCancelled
	InvalidProperty
	SessionNotConfigured
	NotConnected
	UnableToConnect
	AlreadyConfigured
	Disconnected
	BufferWaitInProgress
	AlreadyConnected
	InvalidDirection
	IncompatibleProtocol
	IncompatibleVersion
	ConnectionRefused
	ReadOnlyProperty
	WriteOnlyProperty
	OperationNotSupported
	AddressInUse
	SendTooLargeForRecvBuffer
)

var descriptions = map[Kind]string{
	Timeout:                   "Operation timed out.",
	InvalidSession:            "The specified session could not be found.",
	InvalidArgument:           "Invalid argument.",
	InvalidOperation:          "Invalid operation.",
	NoBuffersQueued:           "No buffers queued.",
	OperatingSystemError:      "Operating system error.",
	InvalidSize:               "The provided size was invalid.",
	OutOfMemory:               "Out of memory.",
	InternalError:             "An internal error occurred.",
	InvalidAddress:            "Invalid address.",
	OperationCancelled:        "Operation cancelled.",
	InvalidProperty:           "Invalid property.",
	SessionNotConfigured:      "Session not configured.",
	NotConnected:              "Not connected.",
	UnableToConnect:           "Unable to connect.",
	AlreadyConfigured:         "Already configured.",
	Disconnected:              "Disconnected.",
	BufferWaitInProgress:      "Blocking buffer operation already in progress.",
	AlreadyConnected:          "Current session is already connected.",
	InvalidDirection:          "Specified direction is invalid.",
	IncompatibleProtocol:      "Incompatible protocol.",
	IncompatibleVersion:       "Incompatible version.",
	ConnectionRefused:         "Connection refused.",
	ReadOnlyProperty:          "Writing a read-only property is not permitted.",
	WriteOnlyProperty:         "Reading a write-only property is not permitted.",
	OperationNotSupported:     "The current operation is not supported.",
	AddressInUse:              "The requested address is already in use.",
	SendTooLargeForRecvBuffer: "The send buffer is too large for the receiver's posted buffer.",
}

// Code returns the stable negative numeric code the original C ABI
// assigned to this kind, preserved here for callers that want it even
// though the C ABI wrapper itself is out of scope.
func (k Kind) Code() int32 {
	return -734000 - int32(k)
}

func (k Kind) String() string {
	if d, ok := descriptions[k]; ok {
		return d
	}
	return "Unknown error."
}

// Error is the concrete error type returned from every API call in this
// module. It carries a kind, an optional OS subcode, and the source
// location where it was first raised.
type Error struct {
	Kind      Kind
	OSSubCode int32
	HasSub    bool
	File      string
	Line      int
}

func (e *Error) Error() string {
	if e.HasSub {
		return fmt.Sprintf("%s (subcode=%d) at %s:%d", e.Kind.String(), e.OSSubCode, e.File, e.Line)
	}
	return fmt.Sprintf("%s at %s:%d", e.Kind.String(), e.File, e.Line)
}

// Is lets errors.Is match on Kind alone, ignoring location/subcode.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New constructs an Error for kind, capturing the caller's source
// location. skip is the number of additional stack frames to skip
// beyond this function itself (0 for direct callers).
func New(kind Kind, skip int) *Error {
	file, line := caller(skip)
	return &Error{Kind: kind, File: file, Line: line}
}

// NewWithSubCode is New but also records an OS-level subcode.
func NewWithSubCode(kind Kind, subcode int32, skip int) *Error {
	file, line := caller(skip)
	return &Error{Kind: kind, OSSubCode: subcode, HasSub: true, File: file, Line: line}
}

func caller(skip int) (string, int) {
	_, file, line, ok := runtime.Caller(2 + skip)
	if !ok {
		return "unknown", 0
	}
	return file, line
}

// FormatInto renders the GetLastErrorString contract into buf:
// "<description>\n[Subcode: <n>\n]Location: <file>:<line>\n".
// Unlike the original's unsafe narrow-buffer path (which returns
// success even on truncation), this returns InvalidSize if buf cannot
// hold the full formatted string plus a terminating NUL.
func (e *Error) FormatInto(buf []byte) (int, error) {
	var s string
	if e.HasSub {
		s = fmt.Sprintf("%s\nSubcode: %d\nLocation: %s:%d\n", e.Kind.String(), e.OSSubCode, e.File, e.Line)
	} else {
		s = fmt.Sprintf("%s\nLocation: %s:%d\n", e.Kind.String(), e.File, e.Line)
	}
	need := len(s) + 1 // terminating NUL
	if len(buf) < need {
		return 0, New(InvalidSize, 1)
	}
	n := copy(buf, s)
	buf[n] = 0
	return n + 1, nil
}

// Wrap converts an arbitrary error into *Error: any error that is not
// already an *Error becomes InternalError (allocation failures are not
// told apart and do not become OutOfMemory). *Error values pass through
// unchanged (errors are never coalesced or
// rewritten as they propagate).
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return New(InternalError, 1)
}
