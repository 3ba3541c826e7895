// File: rdma/rdma.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package rdma is the public entry point of this module: a Go-idiomatic
// mirror of the RDMA streaming engine's session/handle/region surface
// (spec §6), returning (T, error) from every call in place of the
// original C ABI's thread-local last-error and out-parameter style.
//
// Grounded on original_source/core/api/easyrdma.h (the operation
// catalogue and property table) and rdma_api_c.cpp (call sequencing),
// wired on top of the already Go-native internal/session and
// internal/registry packages.
package rdma

import (
	"unsafe"

	"github.com/momentics/easyrdma-go/internal/bufferqueue"
	"github.com/momentics/easyrdma-go/internal/provider"
	"github.com/momentics/easyrdma-go/internal/rdmaerr"
	"github.com/momentics/easyrdma-go/internal/registry"
	"github.com/momentics/easyrdma-go/internal/session"
)

// Handle identifies a session across every Engine call (spec §3
// "Handle"). InvalidHandle never names a real session.
type Handle = registry.Handle

// InvalidHandle is the reserved sentinel returned on failure and
// accepted by CloseSession as a silent no-op.
const InvalidHandle = registry.InvalidHandle

// CloseFlags controls CloseSession's teardown behavior.
type CloseFlags = registry.CloseFlags

// DeferWhileUserBuffersOutstanding postpones a session's actual
// teardown until the caller has released every buffer it currently
// holds (spec §4.8).
const DeferWhileUserBuffersOutstanding = registry.DeferWhileUserBuffersOutstanding

// Direction selects which way data flows over a session (spec §3).
type Direction = session.Direction

const (
	Send    = session.Send
	Receive = session.Receive
)

// Address is a resolved local or remote endpoint (spec Glossary).
type Address = provider.Address

// Error is returned from every call in this package; use errors.As to
// recover the Kind for programmatic handling.
type Error = rdmaerr.Error

// Kind re-exports the closed set of error categories a caller may
// switch on (spec §9).
type Kind = rdmaerr.Kind

// A representative subset of Kind values callers commonly branch on;
// the full set lives in internal/rdmaerr and is reachable through any
// returned *Error's Kind field.
const (
	KindTimeout                   = rdmaerr.Timeout
	KindDisconnected              = rdmaerr.Disconnected
	KindOperationCancelled        = rdmaerr.OperationCancelled
	KindSendTooLargeForRecvBuffer = rdmaerr.SendTooLargeForRecvBuffer
	KindInvalidSession            = rdmaerr.InvalidSession
)

// FormatError renders err the way GetLastErrorString once did: a
// human-readable description, optional OS subcode, and source
// location. Non-*Error values format as a generic internal error.
func FormatError(err error) string {
	if err == nil {
		return ""
	}
	e := rdmaerr.Wrap(err)
	buf := make([]byte, 256)
	for {
		n, ferr := e.FormatInto(buf)
		if ferr == nil {
			return string(buf[:n-1])
		}
		buf = make([]byte, len(buf)*2)
	}
}

// BufferHandle identifies a buffer slot within a session's transfer
// queue, embedded in Region so callers never construct one directly.
type BufferHandle = bufferqueue.BufferHandle

// Region is the caller-facing view of an acquired buffer (spec §4.5):
// Base is the addressable memory, Capacity its fixed size, and Used
// the byte count to send (set by the caller before QueueBufferRegion)
// or the byte count a completed receive delivered.
type Region struct {
	handle   BufferHandle
	Base     []byte
	Capacity int
	Used     int
}

// Callback receives a queued region's completion (spec §4.5): status
// nil on success, the number of bytes actually transferred, and the
// two opaque context values the caller supplied at queue time.
type Callback func(status error, bytesTransferred int, ctx1, ctx2 any)

// boxAny/unboxAny let the any-typed public Callback ride through the
// engine's unsafe.Pointer-based context words without this package
// reaching for unsafe itself anywhere but here: the boxed interface
// value is kept alive by the bufferqueue slot holding the
// unsafe.Pointer, exactly like any other GC-tracked pointer.
func boxAny(v any) unsafe.Pointer {
	if v == nil {
		return nil
	}
	b := v
	return unsafe.Pointer(&b)
}

func unboxAny(p unsafe.Pointer) any {
	if p == nil {
		return nil
	}
	return *(*any)(p)
}

func wrapCallback(cb Callback) session.Callback {
	if cb == nil {
		return nil
	}
	return func(status error, n int, p1, p2 unsafe.Pointer) {
		cb(status, n, unboxAny(p1), unboxAny(p2))
	}
}
