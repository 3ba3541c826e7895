// File: internal/poller/poller.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package poller provides a cancellable, cross-platform blocking wait
// over a provider-level file descriptor. Its one user is the
// use_polling receive path (internal/session's buildPollHook, run from
// acquire_completed) when the completion channel exposes a descriptor;
// the other suspension points do not use it. A second fd (self-pipe on Linux, a cancel event on
// other platforms) lets cancel() unblock a wait deterministically
// instead of relying on any OS-level thread signal.
//
// Grounded on reactor/reactor_linux.go's epoll registration/wait/close
// shape and original_source/core/linux/FdPoller.h's self-pipe Cancel().
package poller

import "time"

// Poller multiplexes one provider fd with a cancellation source.
type Poller interface {
	// Wait blocks until the provider fd is ready, the deadline is hit,
	// or Cancel is called. A negative timeout waits forever.
	Wait(timeout time.Duration) (ready bool, cancelled bool, err error)

	// Cancel unblocks any in-progress or future Wait call until the
	// next successful Wait clears the cancellation.
	Cancel()

	// Close releases the poller's resources.
	Close() error
}
