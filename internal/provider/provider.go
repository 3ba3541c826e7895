// File: internal/provider/provider.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package provider defines the boundary this module treats as an
// external collaborator (spec §1): the RDMA verbs/CM provider itself
// (post_send, post_recv, poll_cq, a completion channel fd/event,
// memory registration, queue-pair creation, connection negotiation
// with a private-data blob) and the concrete OS connect/accept
// handshake. Nothing in this package talks to real hardware; it only
// declares the Go interface a concrete provider (or the loopback test
// double in the loopback subpackage) must satisfy.
package provider

import (
	"context"
	"time"
)

// WorkRequestKind distinguishes a send-queue post from a receive-queue
// post (spec §1: post_send / post_recv).
type WorkRequestKind int

const (
	PostSend WorkRequestKind = iota
	PostRecv
)

// Completion is one work completion the provider delivers back to the
// session's completion dispatcher, identified by the opaque WRID the
// caller supplied at post time (this module uses the buffer index).
type Completion struct {
	WRID      uint64
	Status    error // nil on success
	NumBytes  int
}

// QueuePair is the provider-level send/receive queue pair of one
// reliable connection (spec Glossary: "Queue pair").
type QueuePair interface {
	// PostSend/PostRecv submit buf (already registered via Register)
	// for a work request identified by wrid. used is the byte count
	// to send; ignored for PostRecv, which always posts the buffer's
	// full registered length.
	PostSend(wrid uint64, buf []byte, tok RegistrationToken, used int) error
	PostRecv(wrid uint64, buf []byte, tok RegistrationToken) error

	// Close tears down the queue pair. Idempotent.
	Close() error
}

// CompletionChannel delivers work completions for one queue pair,
// either via blocking Poll (spec: "poll_cq") or by exposing a
// readiness descriptor for the session's poller (spec: "completion
// queue/channel... a file descriptor delivers readiness; on another
// an event delivers readiness").
type CompletionChannel interface {
	// Poll blocks up to timeout for at least one completion, appending
	// ready completions to out and returning the number appended.
	// timeout<0 waits forever; timeout==0 polls without blocking.
	Poll(ctx context.Context, timeout time.Duration, out []Completion) (int, error)

	Close() error
}

// RegistrationToken identifies a provider-level memory registration,
// matching internal/membuf.RegistrationToken's shape without importing
// that package (the provider boundary must not depend on the engine).
type RegistrationToken any

// MemoryRegistrar registers/deregisters memory for work requests
// (spec §4.3).
type MemoryRegistrar interface {
	Register(buf []byte) (RegistrationToken, error)
	Deregister(tok RegistrationToken) error
}

// Address is a resolved provider-level endpoint address (spec: "parses
// textual host:port into a wire address").
type Address struct {
	Host string
	Port uint16
}

// ConnectResult is what a successful connect/accept handshake yields
// (spec §1: "an established connection delivering the peer's
// private-data blob").
type ConnectResult struct {
	QP           QueuePair
	Completions  CompletionChannel
	Local, Remote Address
	PeerPrivateData []byte

	// Disconnect fires exactly once when the provider observes the
	// peer tear down the connection (spec §4.7 step 6).
	Disconnect <-chan struct{}
}

// Connector is the out-of-scope "concrete OS connect/accept handshake"
// collaborator's active side.
type Connector interface {
	Connect(ctx context.Context, remote Address, privateData []byte, timeout time.Duration) (ConnectResult, error)
}

// Listener is the passive side: Accept blocks for one inbound
// connection attempt and returns its negotiated result.
type Listener interface {
	Accept(ctx context.Context, privateData []byte, timeout time.Duration) (ConnectResult, error)
	Addr() Address
	Close() error
}

// Enumerator lists local addresses filtered by family (spec §6
// enumerate).
type Enumerator interface {
	Enumerate(familyFilter int) ([]string, error)
}

// FDSource is optionally implemented by a CompletionChannel whose
// readiness can be multiplexed through a pollable file descriptor
// (spec: "on one platform a file descriptor delivers readiness"). A
// session configured with use_polling drives internal/poller against
// this descriptor instead of blocking inside Poll, so the calling
// goroutine itself pumps completions rather than parking a dedicated
// dispatcher. The loopback provider does not implement this; it has no
// underlying descriptor, so use_polling sessions over it fall back to
// the ordinary blocking-Poll dispatcher.
type FDSource interface {
	FD() int
}
