// File: internal/session/props.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package session

import (
	"github.com/momentics/easyrdma-go/internal/bufferqueue"
	"github.com/momentics/easyrdma-go/internal/props"
	"github.com/momentics/easyrdma-go/internal/rdmaerr"
)

// GetProperty implements the session-scoped half of spec §4.9's
// property surface (the global NumOpenedSessions/
// NumPendingDestructionSessions counters live in internal/registry
// instead, since they span every session rather than one).
//
// Grounded on RdmaConnectedSessionBase::GetProperty.
func (s *Session) GetProperty(id props.ID) (props.Data, error) {
	if err := props.Validate(id, false); err != nil {
		return props.Data{}, err
	}
	switch id {
	case props.QueuedBuffers:
		return s.queuedBuffersProperty()
	case props.UserBuffers:
		return s.userBuffersProperty()
	case props.Connected:
		return props.FromBool(s.connected.Load()), nil
	case props.UseRxPolling:
		return props.FromBool(s.usePolling), nil
	default:
		return props.Data{}, rdmaerr.New(rdmaerr.InvalidProperty, 0)
	}
}

// SetProperty implements the writable half of the property surface:
// ConnectionData (pre-connect outbound private data override) and
// UseRxPolling (post-connect, pre-configure polling opt-in).
//
// Grounded on RdmaConnectedSessionBase::SetProperty.
func (s *Session) SetProperty(id props.ID, data props.Data) error {
	if err := props.Validate(id, true); err != nil {
		return err
	}
	switch id {
	case props.ConnectionData:
		s.mu.Lock()
		s.explicitConnectionData = append([]byte(nil), data.Bytes()...)
		s.mu.Unlock()
		return nil
	case props.UseRxPolling:
		return s.setUseRxPolling(data)
	default:
		return rdmaerr.New(rdmaerr.InvalidProperty, 0)
	}
}

// setUseRxPolling only permits enabling polling once connected but
// before configure_buffers, and only for a Receive-direction session
// on a platform where props.UseRxPollingSupported reports true (spec
// §4.9; non-Linux builds, Windows included, always reject a true value
// here, matching the original's compile-time Windows rejection). The
// provider is not consulted: a loopback session on Linux accepts true.
func (s *Session) setUseRxPolling(data props.Data) error {
	val, err := data.Bool()
	if err != nil {
		return err
	}
	s.configureMu.Lock()
	defer s.configureMu.Unlock()
	if !s.connected.Load() || s.xferPtr.Load() != nil {
		return rdmaerr.New(rdmaerr.AlreadyConfigured, 0)
	}
	if val {
		if !props.UseRxPollingSupported() {
			return rdmaerr.New(rdmaerr.OperationNotSupported, 0)
		}
		if s.direction != bufferqueue.Receive {
			return rdmaerr.New(rdmaerr.OperationNotSupported, 0)
		}
	}
	s.usePolling = val
	return nil
}
