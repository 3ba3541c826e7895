// File: rdma/region.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package rdma

import (
	"github.com/momentics/easyrdma-go/internal/accessmgr"
	"github.com/momentics/easyrdma-go/internal/session"
)

// ConfigureBuffers allocates h's engine-owned buffer pool (spec §6
// configure_buffers). On a Receive-direction session every buffer is
// immediately posted as a receive; AcquireSendRegion is then invalid
// on that session, matching BufferOwnership::Internal's auto-queueing
// behavior.
func (e *Engine) ConfigureBuffers(h Handle, maxTransactionSize, maxConcurrentTransactions int) error {
	return e.withSession(h, true, false, func(sess *session.Session, _ accessmgr.Token) error {
		return sess.ConfigureBuffers(maxTransactionSize, maxConcurrentTransactions)
	})
}

// ConfigureExternalBuffer leases maxConcurrentTransactions overlapping
// windows of bufferSize bytes out of external (spec §6
// configure_external_buffer), letting the caller supply and address
// its own memory rather than the engine allocating a pool.
func (e *Engine) ConfigureExternalBuffer(h Handle, external []byte, bufferSize, maxConcurrentTransactions int) error {
	return e.withSession(h, true, false, func(sess *session.Session, _ accessmgr.Token) error {
		return sess.ConfigureExternalBuffer(external, bufferSize, maxConcurrentTransactions)
	})
}

func newRegion(sess *session.Session, bh BufferHandle) (*Region, error) {
	base, capacity, used, err := sess.RegionInfo(bh)
	if err != nil {
		return nil, err
	}
	return &Region{handle: bh, Base: base, Capacity: capacity, Used: used}, nil
}

// AcquireSendRegion hands back an Idle buffer to fill and queue (spec
// §6 acquire_send_region), blocking up to timeoutMs (negative waits
// forever, zero polls).
func (e *Engine) AcquireSendRegion(h Handle, timeoutMs int) (*Region, error) {
	var region *Region
	err := e.withSession(h, true, false, func(sess *session.Session, tok accessmgr.Token) error {
		bh, aerr := sess.AcquireSendRegion(tok, timeoutMs)
		if aerr != nil {
			return aerr
		}
		region, aerr = newRegion(sess, bh)
		return aerr
	})
	return region, err
}

// AcquireReceivedRegion hands back a Completed buffer holding arrived
// data (spec §6 acquire_received_region).
func (e *Engine) AcquireReceivedRegion(h Handle, timeoutMs int) (*Region, error) {
	var region *Region
	err := e.withSession(h, true, false, func(sess *session.Session, tok accessmgr.Token) error {
		bh, aerr := sess.AcquireReceivedRegion(tok, timeoutMs)
		if aerr != nil {
			return aerr
		}
		region, aerr = newRegion(sess, bh)
		return aerr
	})
	return region, err
}

// QueueBufferRegion submits region back to the provider: usedSize
// bytes of a Send region are transmitted; a Receive region is
// re-posted as a fresh receive slot (spec §6 queue_buffer_region). cb,
// ctx1, and ctx2 arrive on Callback once the provider reports the
// completion.
func (e *Engine) QueueBufferRegion(h Handle, region *Region, usedSize int, cb Callback, ctx1, ctx2 any) error {
	return e.withSession(h, true, false, func(sess *session.Session, _ accessmgr.Token) error {
		return sess.QueueBufferRegion(region.handle, usedSize, wrapCallback(cb), boxAny(ctx1), boxAny(ctx2))
	})
}

// QueueExternalBufferRegion combines acquire-and-queue for an
// externally-owned session: offset/size address an arbitrary byte
// range of the buffer given to ConfigureExternalBuffer directly,
// rather than filling a Region an Acquire call handed out (spec §6
// queue_external_buffer_region).
func (e *Engine) QueueExternalBufferRegion(h Handle, offset, size int, cb Callback, ctx1, ctx2 any, timeoutMs int) error {
	return e.withSession(h, true, false, func(sess *session.Session, tok accessmgr.Token) error {
		return sess.QueueExternalBufferRegion(tok, offset, size, wrapCallback(cb), boxAny(ctx1), boxAny(ctx2), timeoutMs)
	})
}

// ReleaseReceivedBufferRegion re-queues a received region as a fresh
// receive slot, the common wait/process/release loop on a Receive
// session (spec §6 release_received_buffer_region).
func (e *Engine) ReleaseReceivedBufferRegion(h Handle, region *Region) error {
	return e.withSession(h, true, false, func(sess *session.Session, _ accessmgr.Token) error {
		return sess.ReleaseReceivedBufferRegion(region.handle)
	})
}

// ReleaseUserBufferRegionToIdle returns a caller-held region straight
// to Idle without submitting it to the provider (spec §6
// release_user_buffer_region_to_idle), then re-checks whether h's
// destruction, if deferred by CloseSession, is now ready to complete.
// This is the one call that must still resolve h once CloseSession has
// already moved it to the deferred table, since releasing the very
// buffer the deferred condition is waiting on is the only way that
// condition can ever become true.
func (e *Engine) ReleaseUserBufferRegionToIdle(h Handle, region *Region) error {
	if err := e.withSession(h, true, true, func(sess *session.Session, _ accessmgr.Token) error {
		return sess.ReleaseUserBufferRegionToIdle(region.handle)
	}); err != nil {
		return err
	}
	return e.reg.CheckDeferredReady(h)
}
