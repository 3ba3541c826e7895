// File: internal/session/teardown.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package session

import "github.com/momentics/easyrdma-go/internal/rdmaerr"

// Cancel idempotently tears the session down (spec §6 close/abort):
// cancels the session's context (unblocking a pending Connect/Accept
// or completion-dispatcher wait), aborts both buffer queues with
// OperationCancelled so every outstanding queued/waiting-credit buffer
// wakes with that status, closes the provider queue pair, completion
// channel, and any use_polling descriptor, then joins the worker set.
//
// Grounded on RdmaConnectedSessionBase::Cancel/~RdmaConnectedSessionBase.
func (s *Session) Cancel() error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()

	err := rdmaerr.New(rdmaerr.OperationCancelled, 0)
	if x := s.xferPtr.Load(); x != nil {
		x.Abort(err)
	}
	if s.creditProto != nil {
		s.creditProto.AuxQueue().Abort(err)
	}
	if s.qp != nil {
		s.qp.Close()
	}
	if s.completions != nil {
		s.completions.Close()
	}
	if s.plr != nil {
		s.plr.Cancel()
		s.plr.Close()
	}
	if s.listener != nil {
		s.listener.Close()
	}
	if s.workers != nil {
		s.workers.Wait()
	}
	return nil
}

// Closed reports whether Cancel has already run.
func (s *Session) Closed() bool { return s.closing.Load() }
