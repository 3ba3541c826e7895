// File: rdma/engine.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package rdma

import (
	"github.com/momentics/easyrdma-go/internal/accessmgr"
	"github.com/momentics/easyrdma-go/internal/registry"
	"github.com/momentics/easyrdma-go/internal/session"
)

// Engine is the process-wide session table plus the provider factory
// that backs every session it creates (spec §3's overall system:
// "Handle -> Session" table plus the out-of-scope provider
// collaborator). Safe for concurrent use by multiple goroutines.
type Engine struct {
	reg     *registry.Registry
	factory ProviderFactory
}

// NewEngine builds an empty engine backed by factory.
func NewEngine(factory ProviderFactory) *Engine {
	return &Engine{reg: registry.New(), factory: factory}
}

// withSession resolves h, acquires its access gate, runs fn, and
// releases the gate before returning — the wrapper-scope acquire/
// release pattern the original expressed via tAccessManagedRef's RAII
// lifetime (spec §4.2). allowDeferred lets the call resolve a handle
// whose destruction is pending, the same table CheckDeferredReady
// consults.
func (e *Engine) withSession(h Handle, exclusive, allowDeferred bool, fn func(*session.Session, accessmgr.Token) error) error {
	sess, tok, err := e.reg.Acquire(h, exclusive, allowDeferred)
	if err != nil {
		return err
	}
	defer sess.Access().Release(tok)
	return fn(sess, tok)
}

// Enumerate lists local addresses matching familyFilter (spec §6
// enumerate), delegating to the provider factory's Enumerator.
func (e *Engine) Enumerate(familyFilter int) ([]string, error) {
	return e.factory.Enumerator().Enumerate(familyFilter)
}

// CreateConnectorSession registers a new pre-connect Connector-variant
// session bound to local (spec §6 create_connector_session). The
// session's direction is not fixed until Connect.
func (e *Engine) CreateConnectorSession(local Address) (Handle, error) {
	sess := session.NewConnector(session.ConnectorConfig{
		LocalAddr: local,
		Connector: e.factory.NewConnector(local),
		Registrar: e.factory.Registrar(),
	})
	return e.reg.Register(sess), nil
}

// CreateListenerSession registers a new Listener-variant session bound
// to local (spec §6 create_listener_session). A Listener never itself
// becomes Connected; Accept produces a fresh session for that.
func (e *Engine) CreateListenerSession(local Address) (Handle, error) {
	sess := session.NewListener(session.ListenerConfig{
		LocalAddr: local,
		Listener:  e.factory.NewListener(local),
		Registrar: e.factory.Registrar(),
	})
	return e.reg.Register(sess), nil
}

// Connect drives h's one-shot Connector handshake toward remote (spec
// §6 connect). A second call on the same handle, whether or not the
// first succeeded, fails with AlreadyConnected.
func (e *Engine) Connect(h Handle, direction Direction, remote Address, timeoutMs int) error {
	return e.withSession(h, true, false, func(sess *session.Session, tok accessmgr.Token) error {
		return sess.Connect(tok, direction, remote, timeoutMs)
	})
}

// Accept blocks for one inbound connection attempt on listener h and
// registers the resulting Connected session under a fresh handle
// (spec §6 accept), matching easyrdma_Accept's
// listener.Accept-then-RegisterSession composition.
func (e *Engine) Accept(h Handle, direction Direction, timeoutMs int) (Handle, error) {
	var child *session.Session
	err := e.withSession(h, true, false, func(sess *session.Session, tok accessmgr.Token) error {
		var aerr error
		child, aerr = sess.Accept(tok, direction, timeoutMs)
		return aerr
	})
	if err != nil {
		return InvalidHandle, err
	}
	return e.reg.Register(child), nil
}

// AbortSession cancels h in place without removing it from the
// registry (spec §6 abort_session), a lighter operation than
// CloseSession: the caller may still CloseSession afterward to
// actually reclaim the handle.
//
// Grounded on easyrdma_AbortSession.
func (e *Engine) AbortSession(h Handle) error {
	return e.withSession(h, true, false, func(sess *session.Session, _ accessmgr.Token) error {
		return sess.Cancel()
	})
}

// CloseSession destroys h (spec §6 close_session), silently
// succeeding if h is InvalidHandle rather than reporting InvalidSession
// — the one deliberate exception to every other call's handle
// validation, matching easyrdma_CloseSession's `if (session != 0)`
// guard.
func (e *Engine) CloseSession(h Handle, flags CloseFlags) error {
	if h == InvalidHandle {
		return nil
	}
	return e.reg.Destroy(h, flags)
}

// GetLocalAddress returns h's bound or negotiated local address (spec
// §6 get_local_address).
func (e *Engine) GetLocalAddress(h Handle) (Address, error) {
	var addr Address
	err := e.withSession(h, true, false, func(sess *session.Session, _ accessmgr.Token) error {
		addr = sess.LocalAddress()
		return nil
	})
	return addr, err
}

// GetRemoteAddress returns h's negotiated peer address (spec §6
// get_remote_address), valid only once Connected.
func (e *Engine) GetRemoteAddress(h Handle) (Address, error) {
	var addr Address
	err := e.withSession(h, true, false, func(sess *session.Session, _ accessmgr.Token) error {
		var aerr error
		addr, aerr = sess.RemoteAddress()
		return aerr
	})
	return addr, err
}

// NumOpenedSessions is the global count of live (non-destroyed)
// sessions (spec §6 property NumOpenedSessions), exposed directly as
// a typed accessor rather than round-tripped through the per-session
// property payload encoding, since it never names a session handle.
func (e *Engine) NumOpenedSessions() uint64 { return e.reg.NumOpenedSessions() }

// NumPendingDestructionSessions is the global count of sessions
// destroyed but awaiting their last outstanding user buffer (spec §6
// property NumPendingDestructionSessions).
func (e *Engine) NumPendingDestructionSessions() uint64 {
	return e.reg.NumPendingDestructionSessions()
}
