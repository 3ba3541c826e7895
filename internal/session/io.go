// File: internal/session/io.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package session

import (
	"unsafe"

	"github.com/momentics/easyrdma-go/internal/accessmgr"
	"github.com/momentics/easyrdma-go/internal/bufferqueue"
	"github.com/momentics/easyrdma-go/internal/rdmaerr"
)

// RegionInfo reads back a handle's current base slice, capacity, and
// used-byte count, used by the public API to build the caller-facing
// Region view after acquiring or before queueing a buffer.
func (s *Session) RegionInfo(h bufferqueue.BufferHandle) (base []byte, capacity, used int, err error) {
	x, err := s.xferQueue()
	if err != nil {
		return nil, 0, 0, err
	}
	return x.Base(h), x.Capacity(h), x.Used(h), nil
}

func (s *Session) xferQueue() (*bufferqueue.Queue, error) {
	x := s.xferPtr.Load()
	if x == nil {
		return nil, rdmaerr.New(rdmaerr.SessionNotConfigured, 0)
	}
	return x, nil
}

// AcquireSendRegion hands the caller an Idle buffer to fill and queue
// (spec §6 acquire_send_region). Not applicable on an auto-queueing
// Receive session (every buffer there is already destined to be a
// receive) or on an externally-owned pool, where the caller addresses
// its own memory via QueueExternalBufferRegion instead.
//
// Grounded on RdmaConnectedSessionBase::AcquireSendRegion.
func (s *Session) AcquireSendRegion(tok accessmgr.Token, timeoutMs int) (bufferqueue.BufferHandle, error) {
	x, err := s.xferQueue()
	if err != nil {
		return 0, err
	}
	if s.direction == bufferqueue.Receive && s.autoQueueRx {
		return 0, rdmaerr.New(rdmaerr.InvalidOperation, 0)
	}
	if s.ownership == ownershipExternal {
		return 0, rdmaerr.New(rdmaerr.InvalidOperation, 0)
	}
	var h bufferqueue.BufferHandle
	err = s.withBlockingWait(tok, func() error {
		var aerr error
		h, aerr = x.AcquireIdle(timeoutMs)
		return aerr
	})
	return h, err
}

// AcquireReceivedRegion hands the caller a Completed buffer holding
// arrived data (spec §6 acquire_received_region).
//
// Grounded on RdmaConnectedSessionBase::AcquireReceivedRegion.
func (s *Session) AcquireReceivedRegion(tok accessmgr.Token, timeoutMs int) (bufferqueue.BufferHandle, error) {
	x, err := s.xferQueue()
	if err != nil {
		return 0, err
	}
	var h bufferqueue.BufferHandle
	err = s.withBlockingWait(tok, func() error {
		var aerr error
		h, aerr = x.AcquireCompleted(timeoutMs)
		return aerr
	})
	return h, err
}

// QueueBufferRegion submits a previously acquired region back to the
// provider: a Send buffer carries usedSize bytes to transmit, a
// Receive buffer (one returned by AcquireReceivedRegion) is re-posted
// as a fresh receive slot with one credit update covering its full
// capacity (spec §6 queue_buffer_region).
//
// Grounded on RdmaConnectedSessionBase::QueueBuffer/QueueRecvBuffer/
// QueueSendBuffer.
func (s *Session) QueueBufferRegion(h bufferqueue.BufferHandle, usedSize int, cb Callback, ctx1, ctx2 unsafe.Pointer) error {
	x, err := s.xferQueue()
	if err != nil {
		return err
	}
	if s.ownership == ownershipExternal {
		return rdmaerr.New(rdmaerr.InvalidOperation, 0)
	}
	if !s.connected.Load() {
		return rdmaerr.New(rdmaerr.Disconnected, 0)
	}
	if err := x.SetUsed(h, usedSize); err != nil {
		return err
	}
	x.SetCallback(h, cb, ctx1, ctx2)
	if err := x.Queue(h, false); err != nil {
		return err
	}
	if s.direction == bufferqueue.Receive {
		return s.creditProto.SendCreditUpdate([]int{x.Capacity(h)})
	}
	return nil
}

// ReleaseReceivedBufferRegion re-queues a received buffer as a fresh
// receive slot (the common wait/process/release loop on a Receive
// session), falling back to a plain release-to-idle if the session
// has since disconnected so a caller's wait/process/release loop
// still terminates cleanly on its next acquire call instead of
// failing here.
//
// Grounded on easyrdma_ReleaseReceivedBufferRegion's Requeue/catch-
// Disconnected-then-Release fallback.
func (s *Session) ReleaseReceivedBufferRegion(h bufferqueue.BufferHandle) error {
	x, err := s.xferQueue()
	if err != nil {
		return err
	}
	if s.direction == bufferqueue.Send {
		return rdmaerr.New(rdmaerr.InvalidOperation, 0)
	}
	if err := x.Queue(h, false); err != nil {
		if rdmaerr.Wrap(err).Kind == rdmaerr.Disconnected {
			return x.Release(h)
		}
		return err
	}
	return s.creditProto.SendCreditUpdate([]int{x.Capacity(h)})
}

// ReleaseUserBufferRegionToIdle returns a User-held buffer straight to
// Idle without submitting it to the provider (spec §6
// release_user_buffer_region_to_idle), the registry's deferred-close
// signal: the registry re-checks CheckDeferredDestructionConditionsMet
// after this call returns.
func (s *Session) ReleaseUserBufferRegionToIdle(h bufferqueue.BufferHandle) error {
	x, err := s.xferQueue()
	if err != nil {
		return err
	}
	return x.Release(h)
}

// QueueExternalBufferRegion combines acquire-and-queue for an
// externally-owned Single pool: the caller addresses an arbitrary
// byte range [offset, offset+size) of its own buffer directly rather
// than filling a region AcquireSendRegion handed out (spec §6
// queue_external_buffer_region).
//
// Grounded on RdmaConnectedSessionBase::QueueExternalBufferRegion and
// RdmaBufferExternal::SetBufferRegion.
func (s *Session) QueueExternalBufferRegion(tok accessmgr.Token, offset, size int, cb Callback, ctx1, ctx2 unsafe.Pointer, timeoutMs int) error {
	x, err := s.xferQueue()
	if err != nil {
		return err
	}
	if s.ownership != ownershipExternal || x.BufferType() != bufferqueue.Single {
		return rdmaerr.New(rdmaerr.InvalidOperation, 0)
	}
	var h bufferqueue.BufferHandle
	err = s.withBlockingWait(tok, func() error {
		var aerr error
		h, aerr = x.AcquireIdle(timeoutMs)
		return aerr
	})
	if err != nil {
		return err
	}
	if err := x.SetRegion(h, offset, size); err != nil {
		x.Release(h)
		return err
	}
	if err := x.SetUsed(h, size); err != nil {
		x.Release(h)
		return err
	}
	x.SetCallback(h, cb, ctx1, ctx2)
	if err := x.Queue(h, false); err != nil {
		return err
	}
	if s.direction == bufferqueue.Receive {
		return s.creditProto.SendCreditUpdate([]int{size})
	}
	return nil
}
