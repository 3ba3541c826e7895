// File: internal/session/construct.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package session

import (
	"context"

	"github.com/momentics/easyrdma-go/internal/accessmgr"
	"github.com/momentics/easyrdma-go/internal/membuf"
	"github.com/momentics/easyrdma-go/internal/provider"
)

// registrarAdapter bridges the provider boundary's MemoryRegistrar to
// the engine-facing membuf.Registrar: both declare the identical
// Register/Deregister shape over an opaque any-backed token, kept as
// two distinct named types so provider.go never has to import
// internal/membuf (see provider.RegistrationToken's doc comment); this
// is the one place that reconciles them.
type registrarAdapter struct{ inner provider.MemoryRegistrar }

func (a registrarAdapter) Register(buf []byte) (membuf.RegistrationToken, error) {
	tok, err := a.inner.Register(buf)
	return membuf.RegistrationToken(tok), err
}

func (a registrarAdapter) Deregister(tok membuf.RegistrationToken) error {
	return a.inner.Deregister(provider.RegistrationToken(tok))
}

// ConnectorConfig parameterises create_connector (spec §6).
type ConnectorConfig struct {
	LocalAddr provider.Address
	Connector provider.Connector
	Registrar provider.MemoryRegistrar
}

// NewConnector builds a pre-connect Connector-variant session (spec
// §4.7 item 1 runs lazily, on the first Connect call, once the
// direction is known).
func NewConnector(cfg ConnectorConfig) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		variant:   VariantConnector,
		access:    accessmgr.New(),
		localAddr: cfg.LocalAddr,
		connector: cfg.Connector,
		registrar: registrarAdapter{cfg.Registrar},
		ctx:       ctx,
		cancel:    cancel,
		logger:    newLogger("connector"),
	}
}

// ListenerConfig parameterises create_listener (spec §6).
type ListenerConfig struct {
	LocalAddr provider.Address
	Listener  provider.Listener
	Registrar provider.MemoryRegistrar
}

// NewListener builds a Listener-variant session. A Listener never
// transitions into Connected itself (spec §3 invariant); Accept
// produces a fresh Connected Session for the caller to register.
func NewListener(cfg ListenerConfig) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		variant:   VariantListener,
		access:    accessmgr.New(),
		localAddr: cfg.LocalAddr,
		listener:  cfg.Listener,
		registrar: registrarAdapter{cfg.Registrar},
		ctx:       ctx,
		cancel:    cancel,
		logger:    newLogger("listener"),
	}
}
