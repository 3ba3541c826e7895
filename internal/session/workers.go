// File: internal/session/workers.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package session

import (
	"context"

	"github.com/momentics/easyrdma-go/internal/provider"
	"github.com/momentics/easyrdma-go/internal/rdmaerr"
)

// runDisconnectWatcher fires HandleDisconnect on remote disconnect
// (spec §4.7 step 3/6), grounded on the provider boundary's
// ConnectResult.Disconnect channel.
func (s *Session) runDisconnectWatcher(ctx context.Context, disconnect <-chan struct{}) {
	select {
	case <-disconnect:
		s.handleDisconnect()
	case <-ctx.Done():
	}
}

// handleDisconnect sets connected=false and aborts both queues with
// Disconnected (spec §4.7 step 6). Idempotent with the local Cancel
// path: whichever of the two runs first wins, the other's Abort call
// is a no-op (internal/bufferqueue.Abort is itself idempotent).
//
// Grounded on RdmaConnectedSessionBase::HandleDisconnect.
func (s *Session) handleDisconnect() {
	if !s.connected.CompareAndSwap(true, false) {
		return
	}
	err := rdmaerr.New(rdmaerr.Disconnected, 0)
	if x := s.xferPtr.Load(); x != nil {
		x.Abort(err)
	}
	if s.creditProto != nil {
		s.creditProto.AuxQueue().Abort(err)
	}
}

// runCompletionDispatcher drains the provider's completion channel
// and routes each completion to the transfer queue or the auxiliary
// credit queue by WRID (spec §4.7's "completion dispatcher", the
// coupling named in spec §1's control-flow summary). Runs until ctx
// is cancelled or the provider channel errors.
func (s *Session) runCompletionDispatcher(ctx context.Context) {
	batch := make([]provider.Completion, 64)
	for {
		n, err := s.completions.Poll(ctx, -1, batch)
		for i := 0; i < n; i++ {
			s.routeCompletion(batch[i])
		}
		if err != nil {
			return
		}
		if n == 0 {
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	}
}

func (s *Session) routeCompletion(c provider.Completion) {
	if c.WRID >= auxWRIDBase {
		idx := int(c.WRID - auxWRIDBase)
		s.creditProto.AuxQueue().HandleCompletion(idx, c.Status, c.NumBytes)
		return
	}
	idx := int(c.WRID - xferWRIDBase)
	if x := s.xferPtr.Load(); x != nil {
		x.HandleCompletion(idx, c.Status, c.NumBytes)
	}
}
