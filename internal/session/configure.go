// File: internal/session/configure.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package session

import (
	"github.com/momentics/easyrdma-go/internal/bufferqueue"
	"github.com/momentics/easyrdma-go/internal/poller"
	"github.com/momentics/easyrdma-go/internal/provider"
	"github.com/momentics/easyrdma-go/internal/rdmaerr"
)

// ConfigureBuffers allocates the engine-owned buffer pool (spec §6
// configure_buffers) and, for a Receive-direction session, auto-posts
// every buffer as a receive and emits the resulting credit updates.
//
// Grounded on RdmaConnectedSessionBase::ConfigureBuffers/PostConfigure.
func (s *Session) ConfigureBuffers(maxTransactionSize, maxConcurrentTransactions int) error {
	s.configureMu.Lock()
	if s.xferPtr.Load() != nil {
		s.configureMu.Unlock()
		return rdmaerr.New(rdmaerr.AlreadyConfigured, 0)
	}
	if !s.connected.Load() {
		s.configureMu.Unlock()
		return rdmaerr.New(rdmaerr.NotConnected, 0)
	}
	s.ownership = ownershipInternal
	s.autoQueueRx = true

	xfer, err := bufferqueue.New(bufferqueue.Config{
		Direction:  s.direction,
		BufferType: bufferqueue.Multiple,
		NumBuffers: maxConcurrentTransactions,
		BufferSize: maxTransactionSize,
		UsePolling: s.usePolling,
		Registrar:  s.registrar,
		Submitter:  s.xferSub,
		PollHook:   s.buildPollHook(),
	})
	if err != nil {
		s.configureMu.Unlock()
		return rdmaerr.Wrap(err)
	}
	s.xferSub.queue = xfer
	s.xferPtr.Store(xfer)
	if err := s.creditProto.BindTransferQueue(xfer); err != nil {
		s.configureMu.Unlock()
		return rdmaerr.Wrap(err)
	}
	s.configureMu.Unlock()

	return s.postConfigure(xfer)
}

// ConfigureExternalBuffer leases maxConcurrentTransactions overlapping
// windows of size bufferSize out of the caller's own buffer (spec §6
// configure_external_buffer), disallowed together with use_polling
// (spec §4.5/§4.9: polling only applies to the engine-owned pool).
//
// Grounded on RdmaConnectedSessionBase::ConfigureExternalBuffer.
func (s *Session) ConfigureExternalBuffer(external []byte, bufferSize, maxConcurrentTransactions int) error {
	s.configureMu.Lock()
	if s.xferPtr.Load() != nil {
		s.configureMu.Unlock()
		return rdmaerr.New(rdmaerr.AlreadyConfigured, 0)
	}
	if s.usePolling {
		s.configureMu.Unlock()
		return rdmaerr.New(rdmaerr.OperationNotSupported, 0)
	}
	s.ownership = ownershipExternal

	xfer, err := bufferqueue.New(bufferqueue.Config{
		Direction:    s.direction,
		BufferType:   bufferqueue.Single,
		NumBuffers:   maxConcurrentTransactions,
		Registrar:    s.registrar,
		Submitter:    s.xferSub,
		External:     external,
		ExternalSize: bufferSize,
	})
	if err != nil {
		s.configureMu.Unlock()
		return rdmaerr.Wrap(err)
	}
	s.xferSub.queue = xfer
	s.xferPtr.Store(xfer)
	if err := s.creditProto.BindTransferQueue(xfer); err != nil {
		s.configureMu.Unlock()
		return rdmaerr.Wrap(err)
	}
	s.configureMu.Unlock()

	return s.postConfigure(xfer)
}

// postConfigure auto-posts every buffer on a Receive/autoQueueRx
// session as a receive and passes the resulting lengths to a single
// SendCreditUpdate call, which chunks them at
// credit.MaxCreditsPerMessage per message (spec §4.6 ¶4). Single/External sessions never auto-post: the
// caller owns when and where a buffer becomes a receive via
// QueueExternalBufferRegion.
func (s *Session) postConfigure(xfer *bufferqueue.Queue) error {
	if s.direction != bufferqueue.Receive || !s.autoQueueRx {
		return nil
	}
	n := xfer.NumBuffers()
	lengths := make([]int, n)
	for i := 0; i < n; i++ {
		h, err := xfer.AcquireIdle(0)
		if err != nil {
			return rdmaerr.Wrap(err)
		}
		lengths[i] = xfer.Capacity(h)
		if err := xfer.Queue(h, false); err != nil {
			return err
		}
	}
	return s.creditProto.SendCreditUpdate(lengths)
}

// buildPollHook wires use_polling to the provider's completion
// channel when it exposes a pollable descriptor (provider.FDSource):
// the hook drives internal/poller against that descriptor and, on
// readiness, drains and routes whatever completions the channel has
// buffered on the calling goroutine itself rather than waiting on the
// background dispatcher. When the channel has no descriptor (as with
// the in-process loopback provider), buildPollHook returns nil and
// AcquireCompleted falls through to the ordinary dispatcher-fed wait —
// use_polling then only changes the UseRxPolling property's reported
// value, not the delivery path.
func (s *Session) buildPollHook() func(timeoutMs int) error {
	if !s.usePolling {
		return nil
	}
	src, ok := s.completions.(provider.FDSource)
	if !ok {
		return nil
	}
	plr, err := poller.New(src.FD())
	if err != nil {
		return nil
	}
	s.plr = plr
	return func(timeoutMs int) error {
		_, cancelled, err := plr.Wait(durationFromMs(timeoutMs))
		if err != nil {
			return err
		}
		if cancelled {
			return rdmaerr.New(rdmaerr.OperationCancelled, 0)
		}
		batch := make([]provider.Completion, 64)
		for {
			n, perr := s.completions.Poll(s.ctx, 0, batch)
			for i := 0; i < n; i++ {
				s.routeCompletion(batch[i])
			}
			if perr != nil {
				return perr
			}
			if n < len(batch) {
				return nil
			}
		}
	}
}
