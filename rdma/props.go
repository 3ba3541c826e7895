// File: rdma/props.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package rdma

import (
	"github.com/momentics/easyrdma-go/internal/accessmgr"
	"github.com/momentics/easyrdma-go/internal/props"
	"github.com/momentics/easyrdma-go/internal/session"
)

// PropertyID re-exports the fixed session-scoped property identifiers
// of spec §6 (the two global counters are exposed directly as Engine
// methods instead — see NumOpenedSessions/NumPendingDestructionSessions
// — since neither names a session handle).
type PropertyID = props.ID

const (
	QueuedBuffers  = props.QueuedBuffers
	Connected      = props.Connected
	UserBuffers    = props.UserBuffers
	UseRxPolling   = props.UseRxPolling
	ConnectionData = props.ConnectionData
)

// PropertyData is the self-describing payload GetProperty/SetProperty
// exchange (spec §4.9).
type PropertyData = props.Data

// GetProperty reads one of h's session-scoped properties (spec §6
// get_property).
func (e *Engine) GetProperty(h Handle, id PropertyID) (PropertyData, error) {
	var data PropertyData
	err := e.withSession(h, true, false, func(sess *session.Session, _ accessmgr.Token) error {
		var gerr error
		data, gerr = sess.GetProperty(id)
		return gerr
	})
	return data, err
}

// SetProperty writes one of h's session-scoped properties (spec §6
// set_property).
func (e *Engine) SetProperty(h Handle, id PropertyID, data PropertyData) error {
	return e.withSession(h, true, false, func(sess *session.Session, _ accessmgr.Token) error {
		return sess.SetProperty(id, data)
	})
}
